package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reconcileFixture(t *testing.T, locations []string, lots []*Lot) (*InventorySession, func(string) (*Lot, bool)) {
	t.Helper()
	now := time.Now()
	session := NewInventorySession("count", "maria", locations, lots, now)
	byID := make(map[string]*Lot, len(lots))
	for _, lot := range lots {
		byID[lot.ID] = lot
	}
	lookup := func(id string) (*Lot, bool) {
		lot, ok := byID[id]
		return lot, ok
	}
	return session, lookup
}

func mustScan(t *testing.T, s *InventorySession, location, lotID string, qty float64) {
	t.Helper()
	require.NoError(t, s.RecordScan(location, ScannedPallet{
		LotID:           lotID,
		CountedQuantity: qty,
		ScannedAt:       time.Now(),
		ScannedBy:       "maria",
	}, false))
}

func TestReconcile(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		session, lookup := reconcileFixture(t, []string{"R01"},
			[]*Lot{allocLot("1", "rye flour", 100, "R01", nil)})
		mustScan(t, session, "R01", "1", 100)

		report := Reconcile(session, lookup)
		require.Len(t, report.Matches, 1)
		assert.Empty(t, report.Discrepancies)
	})

	t.Run("missing lot", func(t *testing.T) {
		session, lookup := reconcileFixture(t, []string{"R01"},
			[]*Lot{allocLot("1", "rye flour", 100, "R01", nil)})

		report := Reconcile(session, lookup)
		require.Len(t, report.Discrepancies, 1)
		d := report.Discrepancies[0]
		assert.Equal(t, DiscrepancyMissing, d.Type)
		assert.Equal(t, "1", d.LotID)
		assert.InDelta(t, -100, d.Diff, QuantityTolerance)
		assert.Equal(t, "R01", d.LocationID)
	})

	t.Run("quantity mismatch reports the shortfall", func(t *testing.T) {
		session, lookup := reconcileFixture(t, []string{"R01"},
			[]*Lot{allocLot("1", "rye flour", 100, "R01", nil)})
		mustScan(t, session, "R01", "1", 95)

		report := Reconcile(session, lookup)
		require.Len(t, report.Discrepancies, 1)
		d := report.Discrepancies[0]
		assert.Equal(t, DiscrepancyQuantityMismatch, d.Type)
		assert.InDelta(t, 100, d.ExpectedQuantity, QuantityTolerance)
		assert.InDelta(t, 95, d.CountedQuantity, QuantityTolerance)
		assert.InDelta(t, -5, d.Diff, QuantityTolerance)
	})

	t.Run("count within tolerance is a match", func(t *testing.T) {
		session, lookup := reconcileFixture(t, []string{"R01"},
			[]*Lot{allocLot("1", "rye flour", 100, "R01", nil)})
		mustScan(t, session, "R01", "1", 100.005)

		report := Reconcile(session, lookup)
		assert.Len(t, report.Matches, 1)
		assert.Empty(t, report.Discrepancies)
	})

	t.Run("moved within scope", func(t *testing.T) {
		session, lookup := reconcileFixture(t, []string{"R01", "R02"},
			[]*Lot{allocLot("1", "rye flour", 100, "R01", nil)})
		mustScan(t, session, "R02", "1", 100)

		report := Reconcile(session, lookup)
		require.Len(t, report.Discrepancies, 1)
		d := report.Discrepancies[0]
		assert.Equal(t, DiscrepancyMoved, d.Type)
		assert.Equal(t, "R02", d.LocationID)
		assert.Equal(t, "R01", d.PreviousLocation)
		assert.Zero(t, d.Diff)
	})

	t.Run("quantity difference wins over movement", func(t *testing.T) {
		session, lookup := reconcileFixture(t, []string{"R01", "R02"},
			[]*Lot{allocLot("1", "rye flour", 100, "R01", nil)})
		mustScan(t, session, "R02", "1", 90)

		report := Reconcile(session, lookup)
		require.Len(t, report.Discrepancies, 1)
		d := report.Discrepancies[0]
		assert.Equal(t, DiscrepancyQuantityMismatch, d.Type)
		assert.Equal(t, "R02", d.LocationID)
		assert.Equal(t, "R01", d.PreviousLocation)
		assert.InDelta(t, -10, d.Diff, QuantityTolerance)
	})

	t.Run("unknown lot id is unexpected stock", func(t *testing.T) {
		session, lookup := reconcileFixture(t, []string{"R01"}, nil)
		require.NoError(t, session.RecordScan("R01", ScannedPallet{
			LotID:           "999999999999999999",
			CountedQuantity: 20,
			MaterialName:    "spelt flour",
			ScannedAt:       time.Now(),
			ScannedBy:       "maria",
		}, false))

		report := Reconcile(session, lookup)
		require.Len(t, report.Discrepancies, 1)
		d := report.Discrepancies[0]
		assert.Equal(t, DiscrepancyUnexpected, d.Type)
		assert.InDelta(t, 20, d.Diff, QuantityTolerance)
		assert.Equal(t, "spelt flour", d.MaterialName)
	})

	t.Run("known lot from outside the scope compares against global state", func(t *testing.T) {
		outside := allocLot("2", "rye flour", 60, "R09", nil)
		session, lookup := reconcileFixture(t, []string{"R01"}, []*Lot{outside})
		mustScan(t, session, "R01", "2", 60)

		report := Reconcile(session, lookup)
		require.Len(t, report.Discrepancies, 1)
		d := report.Discrepancies[0]
		assert.Equal(t, DiscrepancyMoved, d.Type)
		assert.Equal(t, "R01", d.LocationID)
		assert.Equal(t, "R09", d.PreviousLocation)
	})

	t.Run("lot absent from the snapshot never matches, even at its global location", func(t *testing.T) {
		// Lot 7 arrived at R01 after the snapshot froze, so the session
		// does not expect it even though it globally sits at the scanned
		// location with the counted quantity.
		arrived := allocLot("7", "rye flour", 50, "R01", nil)
		session, _ := reconcileFixture(t, []string{"R01"}, nil)
		lookup := func(id string) (*Lot, bool) {
			if id == "7" {
				return arrived, true
			}
			return nil, false
		}
		mustScan(t, session, "R01", "7", 50)

		report := Reconcile(session, lookup)
		assert.Empty(t, report.Matches)
		require.Len(t, report.Discrepancies, 1)
		d := report.Discrepancies[0]
		assert.Equal(t, DiscrepancyMoved, d.Type)
		assert.Equal(t, "R01", d.LocationID)
		assert.InDelta(t, 0, d.Diff, QuantityTolerance)
	})

	t.Run("known lot from outside with differing quantity is a mismatch", func(t *testing.T) {
		outside := allocLot("2", "rye flour", 60, "R09", nil)
		session, lookup := reconcileFixture(t, []string{"R01"}, []*Lot{outside})
		mustScan(t, session, "R01", "2", 55)

		report := Reconcile(session, lookup)
		require.Len(t, report.Discrepancies, 1)
		assert.Equal(t, DiscrepancyQuantityMismatch, report.Discrepancies[0].Type)
		assert.InDelta(t, -5, report.Discrepancies[0].Diff, QuantityTolerance)
	})

	t.Run("every snapshot entry and scan lands in exactly one bucket", func(t *testing.T) {
		lots := []*Lot{
			allocLot("1", "rye flour", 100, "R01", nil),
			allocLot("2", "rye flour", 50, "R01", nil),
			allocLot("3", "spelt flour", 70, "R02", nil),
			allocLot("4", "spelt flour", 30, "R02", nil),
			allocLot("5", "rye flour", 40, "R09", nil),
		}
		session, lookup := reconcileFixture(t, []string{"R01", "R02"}, lots)
		mustScan(t, session, "R01", "1", 100) // match
		mustScan(t, session, "R01", "3", 70)  // moved R02 -> R01
		mustScan(t, session, "R02", "2", 45)  // mismatch and moved; quantity wins
		// lot 4: missing
		mustScan(t, session, "R02", "5", 40)  // moved in from outside scope
		mustScan(t, session, "R02", "888888888888888888", 20) // unexpected

		report := Reconcile(session, lookup)

		seen := make(map[string]int)
		for _, m := range report.Matches {
			seen[m.LotID]++
		}
		for _, d := range report.Discrepancies {
			seen[d.LotID]++
		}
		for _, id := range []string{"1", "2", "3", "4", "5", "888888888888888888"} {
			assert.Equal(t, 1, seen[id], "lot %s must appear exactly once", id)
		}

		byID := make(map[string]*Discrepancy)
		for i := range report.Discrepancies {
			byID[report.Discrepancies[i].LotID] = &report.Discrepancies[i]
		}
		assert.Equal(t, DiscrepancyMoved, byID["3"].Type)
		assert.Equal(t, DiscrepancyQuantityMismatch, byID["2"].Type)
		assert.Equal(t, DiscrepancyMissing, byID["4"].Type)
		assert.Equal(t, DiscrepancyMoved, byID["5"].Type)
		assert.Equal(t, DiscrepancyUnexpected, byID["888888888888888888"].Type)
	})
}

func TestReportUnresolved(t *testing.T) {
	report := &ReconciliationReport{Discrepancies: []Discrepancy{
		{LotID: "1", Type: DiscrepancyMissing},
		{LotID: "2", Type: DiscrepancyMoved},
	}}

	assert.Equal(t, 2, report.Unresolved(nil))
	assert.Equal(t, 1, report.Unresolved([]ResolvedDiscrepancy{{LotID: "1"}}))
	assert.Zero(t, report.Unresolved([]ResolvedDiscrepancy{{LotID: "1"}, {LotID: "2"}}))

	require.NotNil(t, report.Discrepancy("2"))
	assert.Nil(t, report.Discrepancy("3"))
}
