package domain

import (
	"testing"
	"time"

	apperrors "github.com/stocktrace/stocktrace-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeLot(t *testing.T) {
	now := time.Now()

	t.Run("partial consumption reduces quantity", func(t *testing.T) {
		lot := testLot("100000000000000020", 500)
		outcome, err := ConsumeLot(lot, 120, "mixing run 77", "jonas", now)
		require.NoError(t, err)

		assert.InDelta(t, 380, lot.Quantity, QuantityTolerance)
		assert.Equal(t, "MS01", lot.Location())
		assert.InDelta(t, 120, outcome.Record.Amount, QuantityTolerance)
		assert.Equal(t, "mixing run 77", outcome.Record.Context)
		assert.False(t, outcome.Record.ArchivedLot)
		assert.Equal(t, ActionConsume, outcome.Movement.ActionKind)
	})

	t.Run("consuming to zero archives the lot", func(t *testing.T) {
		lot := testLot("100000000000000021", 80)
		outcome, err := ConsumeLot(lot, 80, "mixing run 78", "jonas", now)
		require.NoError(t, err)

		assert.Zero(t, lot.Quantity)
		assert.Equal(t, LocationArchived, lot.Location())
		assert.Equal(t, StatusArchived, lot.Status)
		assert.True(t, outcome.Record.ArchivedLot)
		assert.Equal(t, ActionConsumeArchived, outcome.Movement.ActionKind)
		require.NotNil(t, outcome.Movement.PreviousLocation)
		assert.Equal(t, "MS01", *outcome.Movement.PreviousLocation)
	})

	t.Run("remainder below tolerance also archives", func(t *testing.T) {
		lot := testLot("100000000000000022", 80.005)
		_, err := ConsumeLot(lot, 80, "mixing run 79", "jonas", now)
		require.NoError(t, err)
		assert.Equal(t, LocationArchived, lot.Location())
	})

	t.Run("over consumption is rejected", func(t *testing.T) {
		lot := testLot("100000000000000023", 50)
		_, err := ConsumeLot(lot, 50.5, "mixing run 80", "jonas", now)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrInsufficientQuantity)
		assert.InDelta(t, 50, lot.Quantity, QuantityTolerance)
	})

	t.Run("non-positive amount is rejected", func(t *testing.T) {
		lot := testLot("100000000000000024", 50)
		_, err := ConsumeLot(lot, 0, "mixing run 81", "jonas", now)
		require.Error(t, err)
	})

	t.Run("finished good gross follows net", func(t *testing.T) {
		lot := testLot("100000000000000025", 400)
		lot.Kind = KindFinishedGood
		lot.GrossQuantity = floatPtr(425)
		_, err := ConsumeLot(lot, 100, "order 12", "jonas", now)
		require.NoError(t, err)
		require.NotNil(t, lot.GrossQuantity)
		assert.InDelta(t, 325, *lot.GrossQuantity, QuantityTolerance)
	})
}

func TestAnnulConsumption(t *testing.T) {
	now := time.Now()

	t.Run("round trip restores the original state", func(t *testing.T) {
		lot := testLot("100000000000000030", 500)
		outcome, err := ConsumeLot(lot, 200, "mixing run 90", "jonas", now)
		require.NoError(t, err)

		_, err = AnnulConsumption(lot, outcome.Record, nil, nil, "jonas", now)
		require.NoError(t, err)

		assert.InDelta(t, 500, lot.Quantity, QuantityTolerance)
		assert.Equal(t, "MS01", lot.Location())
		assert.True(t, outcome.Record.IsAnnulled)
	})

	t.Run("annulling an archiving consumption restores from history", func(t *testing.T) {
		lot := testLot("100000000000000031", 100)
		outcome, err := ConsumeLot(lot, 100, "mixing run 91", "jonas", now)
		require.NoError(t, err)
		require.Equal(t, LocationArchived, lot.Location())

		history := []MovementRecord{*outcome.Movement}
		movement, err := AnnulConsumption(lot, outcome.Record, history, nil, "jonas", now)
		require.NoError(t, err)

		assert.Equal(t, "MS01", lot.Location())
		assert.Equal(t, StatusAvailable, lot.Status)
		assert.InDelta(t, 100, lot.Quantity, QuantityTolerance)
		assert.Equal(t, "MS01", movement.TargetLocation)
	})

	t.Run("round trip keeps the finished good tare", func(t *testing.T) {
		lot := testLot("100000000000000036", 100)
		lot.Kind = KindFinishedGood
		lot.GrossQuantity = floatPtr(110)

		outcome, err := ConsumeLot(lot, 100, "order 95", "jonas", now)
		require.NoError(t, err)
		require.Equal(t, LocationArchived, lot.Location())
		require.NotNil(t, lot.GrossQuantity)
		assert.InDelta(t, 10, *lot.GrossQuantity, QuantityTolerance, "tare stays in gross while archived")

		history := []MovementRecord{*outcome.Movement}
		_, err = AnnulConsumption(lot, outcome.Record, history, nil, "jonas", now)
		require.NoError(t, err)

		assert.InDelta(t, 100, lot.Quantity, QuantityTolerance)
		require.NotNil(t, lot.GrossQuantity)
		assert.InDelta(t, 110, *lot.GrossQuantity, QuantityTolerance)
		assert.InDelta(t, 10, lot.Tare(), QuantityTolerance)
	})

	t.Run("explicit restore location overrides history", func(t *testing.T) {
		lot := testLot("100000000000000032", 100)
		outcome, err := ConsumeLot(lot, 100, "mixing run 92", "jonas", now)
		require.NoError(t, err)

		history := []MovementRecord{*outcome.Movement}
		_, err = AnnulConsumption(lot, outcome.Record, history, strPtr("R07"), "jonas", now)
		require.NoError(t, err)
		assert.Equal(t, "R07", lot.Location())
	})

	t.Run("no usable history falls back to the default location", func(t *testing.T) {
		lot := testLot("100000000000000033", 100)
		outcome, err := ConsumeLot(lot, 100, "mixing run 93", "jonas", now)
		require.NoError(t, err)

		_, err = AnnulConsumption(lot, outcome.Record, nil, nil, "jonas", now)
		require.NoError(t, err)
		assert.Equal(t, DefaultRestoreLocation, lot.Location())
	})

	t.Run("locked consumption cannot be annulled", func(t *testing.T) {
		lot := testLot("100000000000000034", 100)
		outcome, err := ConsumeLot(lot, 40, "mixing run 94", "jonas", now)
		require.NoError(t, err)
		outcome.Record.Locked = true

		_, err = AnnulConsumption(lot, outcome.Record, nil, nil, "jonas", now)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrLockedForEditing)
		assert.InDelta(t, 60, lot.Quantity, QuantityTolerance)
	})

	t.Run("double annulment is rejected", func(t *testing.T) {
		lot := testLot("100000000000000035", 100)
		outcome, err := ConsumeLot(lot, 40, "mixing run 95", "jonas", now)
		require.NoError(t, err)

		_, err = AnnulConsumption(lot, outcome.Record, nil, nil, "jonas", now)
		require.NoError(t, err)
		_, err = AnnulConsumption(lot, outcome.Record, nil, nil, "jonas", now)
		require.Error(t, err)
		assert.InDelta(t, 100, lot.Quantity, QuantityTolerance)
	})

	t.Run("record from another lot is rejected", func(t *testing.T) {
		lot := testLot("100000000000000036", 100)
		record := &ConsumptionRecord{ID: NewConsumptionID(), LotID: "other", Amount: 10}
		_, err := AnnulConsumption(lot, record, nil, nil, "jonas", now)
		require.Error(t, err)
	})
}
