package domain

import (
	"sort"
	"time"
)

// AllocationSuggestion is one full lot proposed for consumption. The planner
// never proposes partial lots; operators confirm actual amounts at the
// station scale.
type AllocationSuggestion struct {
	LotID       string     `json:"lot_id"`
	DisplayCode string     `json:"display_code"`
	Quantity    float64    `json:"quantity"`
	Location    string     `json:"location"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
}

// SuggestAllocation ranks the eligible lots of a material first-expired-first-
// out and greedily takes whole lots until the cumulative quantity covers the
// need. Eligible means: matching material, status available, not blocked as
// of now, positive quantity, sitting at a real location and not in the
// reserved set. Lots without an expiry date rank after all dated lots; ties
// break on lot id, so older lots go first.
//
// The returned suggestions may cover less than needed when stock is short;
// callers surface the shortfall rather than failing.
func SuggestAllocation(lots []*Lot, materialName string, needed float64, reserved map[string]bool, now time.Time) []AllocationSuggestion {
	var eligible []*Lot
	for _, lot := range lots {
		if lot.MaterialName != materialName || lot.Status != StatusAvailable {
			continue
		}
		if lot.Quantity <= 0 || lot.IsConsumed() {
			continue
		}
		if lot.AtLocation(LocationArchived) || lot.AtLocation(LocationMissing) {
			continue
		}
		if reserved[lot.ID] {
			continue
		}
		if EvaluateBlockAt(lot, now).IsBlocked {
			continue
		}
		eligible = append(eligible, lot)
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		switch {
		case a.ExpiryDate == nil && b.ExpiryDate == nil:
			return a.ID < b.ID
		case a.ExpiryDate == nil:
			return false
		case b.ExpiryDate == nil:
			return true
		case !a.ExpiryDate.Equal(*b.ExpiryDate):
			return a.ExpiryDate.Before(*b.ExpiryDate)
		default:
			return a.ID < b.ID
		}
	})

	var suggestions []AllocationSuggestion
	covered := 0.0
	for _, lot := range eligible {
		if covered >= needed {
			break
		}
		suggestions = append(suggestions, AllocationSuggestion{
			LotID:       lot.ID,
			DisplayCode: lot.DisplayCode,
			Quantity:    lot.Quantity,
			Location:    lot.Location(),
			ExpiryDate:  lot.ExpiryDate,
		})
		covered += lot.Quantity
	}
	return suggestions
}
