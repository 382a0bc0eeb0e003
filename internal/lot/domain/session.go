package domain

import (
	"fmt"
	"time"

	apperrors "github.com/stocktrace/stocktrace-backend/pkg/errors"

	"github.com/google/uuid"
)

// SessionStatus is the inventory count session lifecycle.
type SessionStatus string

const (
	SessionOngoing   SessionStatus = "ongoing"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// ScanStatus tracks per-location counting progress within a session.
type ScanStatus string

const (
	ScanPending ScanStatus = "pending"
	ScanScanned ScanStatus = "scanned"
)

// SnapshotEntry is the expected state of one lot at session creation time.
// The snapshot is frozen: lifecycle operations elsewhere never rewrite it.
type SnapshotEntry struct {
	LotID            string  `json:"lot_id"`
	MaterialName     string  `json:"material_name"`
	ExpectedQuantity float64 `json:"expected_quantity"`
	LocationID       string  `json:"location_id"`
}

// ScannedPallet is one physical count recorded by an operator at a location.
type ScannedPallet struct {
	LotID           string    `json:"lot_id"`
	CountedQuantity float64   `json:"counted_quantity"`
	MaterialName    string    `json:"material_name,omitempty"`
	ScannedAt       time.Time `json:"scanned_at"`
	ScannedBy       string    `json:"scanned_by"`
}

// SessionLocation is one location in the session's scope with its scans.
type SessionLocation struct {
	LocationID     string          `json:"location_id"`
	ScanStatus     ScanStatus      `json:"scan_status"`
	ScannedPallets []ScannedPallet `json:"scanned_pallets"`
}

// ResolutionKind names the two resolution paths for a discrepancy.
type ResolutionKind string

const (
	ResolutionMissing  ResolutionKind = "confirm_missing"
	ResolutionNewState ResolutionKind = "accept_new_state"
)

// ResolvedDiscrepancy is a staged decision about one discrepant lot. Staged
// state only reaches the lot store when the session is finalized; cancelling
// the session discards it.
type ResolvedDiscrepancy struct {
	LotID        string         `json:"lot_id"`
	Kind         ResolutionKind `json:"kind"`
	NewQuantity  *float64       `json:"new_quantity,omitempty"`
	NewLocation  *string        `json:"new_location,omitempty"`
	MaterialName string         `json:"material_name,omitempty"`
	ResolvedBy   string         `json:"resolved_by"`
	ResolvedAt   time.Time      `json:"resolved_at"`
}

// InventorySession is a physical count over a fixed set of locations. While
// it is ongoing those locations are locked: consume and move operations
// sourcing from them fail, so the physical count stays comparable to the
// snapshot taken at creation.
type InventorySession struct {
	ID        string                `db:"id" json:"id"`
	Name      string                `db:"name" json:"name"`
	Status    SessionStatus         `db:"status" json:"status"`
	CreatedBy string                `db:"created_by" json:"created_by"`
	CreatedAt time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt time.Time             `db:"updated_at" json:"updated_at"`
	Locations []SessionLocation     `db:"-" json:"locations"`
	Snapshot  []SnapshotEntry       `db:"-" json:"snapshot"`
	Resolved  []ResolvedDiscrepancy `db:"-" json:"resolved"`
}

// NewInventorySession freezes a snapshot of the given lots and opens a
// session over the given locations, all starting in pending scan state.
func NewInventorySession(name, createdBy string, locationIDs []string, lots []*Lot, now time.Time) *InventorySession {
	session := &InventorySession{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    SessionOngoing,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	inScope := make(map[string]bool, len(locationIDs))
	for _, loc := range locationIDs {
		if inScope[loc] {
			continue
		}
		inScope[loc] = true
		session.Locations = append(session.Locations, SessionLocation{
			LocationID: loc,
			ScanStatus: ScanPending,
		})
	}
	for _, lot := range lots {
		if lot.CurrentLocation == nil || !inScope[*lot.CurrentLocation] {
			continue
		}
		session.Snapshot = append(session.Snapshot, SnapshotEntry{
			LotID:            lot.ID,
			MaterialName:     lot.MaterialName,
			ExpectedQuantity: lot.Quantity,
			LocationID:       *lot.CurrentLocation,
		})
	}
	return session
}

// Location returns the in-scope location entry, or nil if out of scope.
func (s *InventorySession) Location(locationID string) *SessionLocation {
	for i := range s.Locations {
		if s.Locations[i].LocationID == locationID {
			return &s.Locations[i]
		}
	}
	return nil
}

// IsOngoing reports whether the session still accepts scans and resolutions.
func (s *InventorySession) IsOngoing() bool {
	return s.Status == SessionOngoing
}

// Covers reports whether the location is part of this session's scope.
func (s *InventorySession) Covers(locationID string) bool {
	return s.Location(locationID) != nil
}

// RecordScan records a counted pallet at a location. A repeated scan of the
// same lot with a different count is a conflict unless force is set, in which
// case the new count replaces the old one. Scanning an equal count is a no-op
// refresh of the scan metadata.
func (s *InventorySession) RecordScan(locationID string, scan ScannedPallet, force bool) error {
	if !s.IsOngoing() {
		return apperrors.Conflict("session is not ongoing")
	}
	loc := s.Location(locationID)
	if loc == nil {
		return apperrors.BadRequest("location is not part of this session")
	}
	if loc.ScanStatus == ScanScanned {
		return apperrors.Conflict("location is marked as scanned; reset it to pending to re-count")
	}
	for i := range loc.ScannedPallets {
		existing := &loc.ScannedPallets[i]
		if existing.LotID != scan.LotID {
			continue
		}
		if !QuantitiesEqual(existing.CountedQuantity, scan.CountedQuantity) && !force {
			return apperrors.ScanConflict(fmt.Sprintf(
				"lot %s was already counted at %.2f, new count is %.2f; repeat with force to overwrite",
				scan.LotID, existing.CountedQuantity, scan.CountedQuantity))
		}
		*existing = scan
		s.UpdatedAt = scan.ScannedAt
		return nil
	}
	loc.ScannedPallets = append(loc.ScannedPallets, scan)
	s.UpdatedAt = scan.ScannedAt
	return nil
}

// SetLocationScanStatus flips a location between pending and scanned.
// Resetting to pending re-opens the location for re-counting.
func (s *InventorySession) SetLocationScanStatus(locationID string, status ScanStatus, now time.Time) error {
	if !s.IsOngoing() {
		return apperrors.Conflict("session is not ongoing")
	}
	loc := s.Location(locationID)
	if loc == nil {
		return apperrors.BadRequest("location is not part of this session")
	}
	if status != ScanPending && status != ScanScanned {
		return apperrors.BadRequest("invalid scan status")
	}
	loc.ScanStatus = status
	s.UpdatedAt = now
	return nil
}

// Resolve stages a decision for a discrepant lot. Resolving the same lot
// again replaces the earlier decision.
func (s *InventorySession) Resolve(resolution ResolvedDiscrepancy) {
	for i := range s.Resolved {
		if s.Resolved[i].LotID == resolution.LotID {
			s.Resolved[i] = resolution
			s.UpdatedAt = resolution.ResolvedAt
			return
		}
	}
	s.Resolved = append(s.Resolved, resolution)
	s.UpdatedAt = resolution.ResolvedAt
}

// Resolution returns the staged decision for a lot, if any.
func (s *InventorySession) Resolution(lotID string) *ResolvedDiscrepancy {
	for i := range s.Resolved {
		if s.Resolved[i].LotID == lotID {
			return &s.Resolved[i]
		}
	}
	return nil
}

// LocationIDs returns the session's scope in order.
func (s *InventorySession) LocationIDs() []string {
	ids := make([]string, len(s.Locations))
	for i, loc := range s.Locations {
		ids[i] = loc.LocationID
	}
	return ids
}
