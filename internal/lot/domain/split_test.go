package domain

import (
	"math/rand"
	"testing"
	"time"

	apperrors "github.com/stocktrace/stocktrace-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLot(id string, qty float64) *Lot {
	return &Lot{
		ID:              id,
		DisplayCode:     DisplayCodeFor(KindRawMaterial, id),
		Kind:            KindRawMaterial,
		MaterialName:    "wheat flour T550",
		Quantity:        qty,
		CurrentLocation: strPtr("MS01"),
		BatchNumber:     "B-2026-117",
		Status:          StatusAvailable,
	}
}

func TestSplitLot(t *testing.T) {
	now := time.Now()

	t.Run("partial split keeps source available", func(t *testing.T) {
		source := testLot("100000000000000001", 1000)
		outcome, err := SplitLot(source, []float64{300, 300}, "anna", now)
		require.NoError(t, err)

		require.Len(t, outcome.NewLots, 2)
		assert.False(t, outcome.SourceConsumed)
		assert.InDelta(t, 400, source.Quantity, QuantityTolerance)
		assert.Equal(t, StatusAvailable, source.Status)
		assert.Equal(t, "MS01", source.Location())

		for _, child := range outcome.NewLots {
			assert.InDelta(t, 300, child.Quantity, QuantityTolerance)
			assert.Equal(t, "MS01", child.Location())
			assert.Equal(t, "wheat flour T550", child.MaterialName)
			assert.Equal(t, "B-2026-117", child.BatchNumber)
			assert.Equal(t, StatusAvailable, child.Status)
			assert.NotEqual(t, source.ID, child.ID)
		}

		// one record per new lot plus one on the source
		assert.Len(t, outcome.Movements, 3)
	})

	t.Run("full split consumes the source", func(t *testing.T) {
		source := testLot("100000000000000002", 50)
		outcome, err := SplitLot(source, []float64{50}, "anna", now)
		require.NoError(t, err)

		require.Len(t, outcome.NewLots, 1)
		assert.True(t, outcome.SourceConsumed)
		assert.Zero(t, source.Quantity)
		assert.Nil(t, source.CurrentLocation)
		assert.Equal(t, StatusConsumedInSplit, source.Status)
		assert.InDelta(t, 50, outcome.NewLots[0].Quantity, QuantityTolerance)
	})

	t.Run("over capacity is rejected", func(t *testing.T) {
		source := testLot("100000000000000003", 100)
		_, err := SplitLot(source, []float64{80, 30}, "anna", now)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrOverCapacity)
		assert.InDelta(t, 100, source.Quantity, QuantityTolerance)
	})

	t.Run("exact total within tolerance consumes the source", func(t *testing.T) {
		source := testLot("100000000000000004", 100)
		_, err := SplitLot(source, []float64{100.005}, "anna", now)
		require.NoError(t, err)
		assert.Nil(t, source.CurrentLocation)
	})

	t.Run("non-positive quantities are skipped", func(t *testing.T) {
		source := testLot("100000000000000005", 100)
		outcome, err := SplitLot(source, []float64{-5, 0, 40}, "anna", now)
		require.NoError(t, err)
		assert.Len(t, outcome.NewLots, 1)
		assert.InDelta(t, 60, source.Quantity, QuantityTolerance)
	})

	t.Run("only non-positive quantities is an error", func(t *testing.T) {
		source := testLot("100000000000000006", 100)
		_, err := SplitLot(source, []float64{0, -1}, "anna", now)
		require.Error(t, err)
	})

	t.Run("blocked source still splits into available children", func(t *testing.T) {
		source := testLot("100000000000000007", 100)
		source.ManualBlocked = true
		outcome, err := SplitLot(source, []float64{40}, "anna", now)
		require.NoError(t, err)
		assert.False(t, outcome.NewLots[0].ManualBlocked)
		assert.False(t, EvaluateBlockAt(outcome.NewLots[0], now).IsBlocked)
	})

	t.Run("finished good tare splits proportionally", func(t *testing.T) {
		source := testLot("100000000000000008", 1000)
		source.Kind = KindFinishedGood
		source.GrossQuantity = floatPtr(1050) // 50 tare

		outcome, err := SplitLot(source, []float64{250}, "anna", now)
		require.NoError(t, err)

		child := outcome.NewLots[0]
		require.NotNil(t, child.GrossQuantity)
		assert.InDelta(t, 262.5, *child.GrossQuantity, QuantityTolerance)
		require.NotNil(t, source.GrossQuantity)
		assert.InDelta(t, 787.5, *source.GrossQuantity, QuantityTolerance)
	})
}

func TestSplitLotMassConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	now := time.Now()

	for i := 0; i < 200; i++ {
		original := 10 + rng.Float64()*990
		source := testLot("100000000000000010", original)

		n := 1 + rng.Intn(4)
		var quantities []float64
		budget := original
		for j := 0; j < n; j++ {
			q := rng.Float64() * budget / float64(n)
			quantities = append(quantities, q)
		}

		outcome, err := SplitLot(source, quantities, "anna", now)
		if err != nil {
			continue
		}
		total := source.Quantity
		for _, child := range outcome.NewLots {
			total += child.Quantity
		}
		assert.InDelta(t, original, total, QuantityTolerance, "mass must be conserved across splits")
	}
}
