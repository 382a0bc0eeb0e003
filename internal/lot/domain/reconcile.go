package domain

// DiscrepancyType classifies one reconciliation finding.
type DiscrepancyType string

const (
	DiscrepancyMissing          DiscrepancyType = "missing"
	DiscrepancyQuantityMismatch DiscrepancyType = "quantity_mismatch"
	DiscrepancyMoved            DiscrepancyType = "moved"
	DiscrepancyUnexpected       DiscrepancyType = "unexpected"
)

// ReconciliationMatch is a lot whose count agrees with expectations.
type ReconciliationMatch struct {
	LotID        string  `json:"lot_id"`
	MaterialName string  `json:"material_name"`
	Quantity     float64 `json:"quantity"`
	LocationID   string  `json:"location_id"`
}

// Discrepancy is one disagreement between the frozen snapshot and the scans.
// Diff is counted minus expected, so shortages are negative.
type Discrepancy struct {
	Type             DiscrepancyType `json:"type"`
	LotID            string          `json:"lot_id"`
	MaterialName     string          `json:"material_name,omitempty"`
	ExpectedQuantity float64         `json:"expected_quantity"`
	CountedQuantity  float64         `json:"counted_quantity"`
	Diff             float64         `json:"diff"`
	LocationID       string          `json:"location_id"`
	PreviousLocation string          `json:"previous_location,omitempty"`
}

// ReconciliationReport is the classifier output: every snapshot entry lands
// in exactly one of matches or discrepancies, and every scan not explained by
// the snapshot produces exactly one discrepancy.
type ReconciliationReport struct {
	Matches       []ReconciliationMatch `json:"matches"`
	Discrepancies []Discrepancy         `json:"discrepancies"`
}

// Unresolved counts discrepancies without a staged resolution in resolved.
func (r *ReconciliationReport) Unresolved(resolved []ResolvedDiscrepancy) int {
	staged := make(map[string]bool, len(resolved))
	for _, res := range resolved {
		staged[res.LotID] = true
	}
	n := 0
	for _, d := range r.Discrepancies {
		if !staged[d.LotID] {
			n++
		}
	}
	return n
}

// Discrepancy returns the finding for a lot id, if any.
func (r *ReconciliationReport) Discrepancy(lotID string) *Discrepancy {
	for i := range r.Discrepancies {
		if r.Discrepancies[i].LotID == lotID {
			return &r.Discrepancies[i]
		}
	}
	return nil
}

// Reconcile compares a session's frozen snapshot against its recorded scans
// and classifies every lot. lookup resolves a lot id against the global lot
// store for scans of lots the snapshot never expected.
//
// Classification runs in two passes with a fixed priority. First every
// snapshot entry: no scan anywhere in scope means missing; a scan with a
// quantity differing beyond tolerance means quantity_mismatch (quantity wins
// over location, so a pallet that both moved and shrank reports as a
// mismatch with the found location attached); an equal count at a different
// location means moved; otherwise a match. Then every scan whose lot the
// snapshot pass did not consume: if the lot exists globally it is compared
// against the global quantity (mismatch, moved, or match), and an unknown
// lot id is unexpected stock.
func Reconcile(session *InventorySession, lookup func(lotID string) (*Lot, bool)) *ReconciliationReport {
	report := &ReconciliationReport{}

	type foundScan struct {
		scan       ScannedPallet
		locationID string
	}
	scansByLot := make(map[string][]foundScan)
	for _, loc := range session.Locations {
		for _, scan := range loc.ScannedPallets {
			scansByLot[scan.LotID] = append(scansByLot[scan.LotID], foundScan{scan: scan, locationID: loc.LocationID})
		}
	}

	consumed := make(map[string]bool, len(session.Snapshot))
	for _, entry := range session.Snapshot {
		consumed[entry.LotID] = true

		found, ok := scansByLot[entry.LotID]
		if !ok {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Type:             DiscrepancyMissing,
				LotID:            entry.LotID,
				MaterialName:     entry.MaterialName,
				ExpectedQuantity: entry.ExpectedQuantity,
				CountedQuantity:  0,
				Diff:             -entry.ExpectedQuantity,
				LocationID:       entry.LocationID,
			})
			continue
		}

		scan := found[0]
		diff := scan.scan.CountedQuantity - entry.ExpectedQuantity
		switch {
		case !QuantitiesEqual(scan.scan.CountedQuantity, entry.ExpectedQuantity):
			d := Discrepancy{
				Type:             DiscrepancyQuantityMismatch,
				LotID:            entry.LotID,
				MaterialName:     entry.MaterialName,
				ExpectedQuantity: entry.ExpectedQuantity,
				CountedQuantity:  scan.scan.CountedQuantity,
				Diff:             diff,
				LocationID:       scan.locationID,
			}
			if scan.locationID != entry.LocationID {
				d.PreviousLocation = entry.LocationID
			}
			report.Discrepancies = append(report.Discrepancies, d)
		case scan.locationID != entry.LocationID:
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Type:             DiscrepancyMoved,
				LotID:            entry.LotID,
				MaterialName:     entry.MaterialName,
				ExpectedQuantity: entry.ExpectedQuantity,
				CountedQuantity:  scan.scan.CountedQuantity,
				Diff:             0,
				LocationID:       scan.locationID,
				PreviousLocation: entry.LocationID,
			})
		default:
			report.Matches = append(report.Matches, ReconciliationMatch{
				LotID:        entry.LotID,
				MaterialName: entry.MaterialName,
				Quantity:     scan.scan.CountedQuantity,
				LocationID:   entry.LocationID,
			})
		}
	}

	for _, loc := range session.Locations {
		for _, scan := range loc.ScannedPallets {
			if consumed[scan.LotID] {
				continue
			}
			consumed[scan.LotID] = true

			lot, ok := lookup(scan.LotID)
			if !ok {
				report.Discrepancies = append(report.Discrepancies, Discrepancy{
					Type:            DiscrepancyUnexpected,
					LotID:           scan.LotID,
					MaterialName:    scan.MaterialName,
					CountedQuantity: scan.CountedQuantity,
					Diff:            scan.CountedQuantity,
					LocationID:      loc.LocationID,
				})
				continue
			}

			// A scanned lot the snapshot never expected is at best a move
			// into this session's scope, never a plain match.
			diff := scan.CountedQuantity - lot.Quantity
			if !QuantitiesEqual(scan.CountedQuantity, lot.Quantity) {
				report.Discrepancies = append(report.Discrepancies, Discrepancy{
					Type:             DiscrepancyQuantityMismatch,
					LotID:            lot.ID,
					MaterialName:     lot.MaterialName,
					ExpectedQuantity: lot.Quantity,
					CountedQuantity:  scan.CountedQuantity,
					Diff:             diff,
					LocationID:       loc.LocationID,
					PreviousLocation: lot.Location(),
				})
			} else {
				report.Discrepancies = append(report.Discrepancies, Discrepancy{
					Type:             DiscrepancyMoved,
					LotID:            lot.ID,
					MaterialName:     lot.MaterialName,
					ExpectedQuantity: lot.Quantity,
					CountedQuantity:  scan.CountedQuantity,
					Diff:             0,
					LocationID:       loc.LocationID,
					PreviousLocation: lot.Location(),
				})
			}
		}
	}

	return report
}
