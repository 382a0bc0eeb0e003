package service

import (
	"context"
	"testing"

	"github.com/stocktrace/stocktrace-backend/internal/lot/domain"
	"github.com/stocktrace/stocktrace-backend/internal/lot/repository"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
	"github.com/stocktrace/stocktrace-backend/pkg/logger"
	"github.com/stocktrace/stocktrace-backend/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionService(t *testing.T) (*SessionService, *repository.MemoryLotStore, *repository.MemorySessionStore) {
	t.Helper()
	lots := repository.NewMemoryLotStore()
	sessions := repository.NewMemorySessionStore()
	svc := NewSessionService(lots, sessions, nil, nil, logger.New("session-service-test", "test"))
	return svc, lots, sessions
}

func TestCreateSession(t *testing.T) {
	ctx := context.Background()
	fixtures := testutil.NewFixtureFactory()
	svc, lots, _ := newTestSessionService(t)

	inScope := seedLot(t, lots, fixtures, testutil.WithLocation("R01"))
	seedLot(t, lots, fixtures, testutil.WithLocation("R09"))

	session, err := svc.CreateSession(ctx, "march count", []string{"R01", "R02"})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionOngoing, session.Status)
	require.Len(t, session.Snapshot, 1)
	assert.Equal(t, inScope.ID, session.Snapshot[0].LotID)

	t.Run("overlapping locations conflict", func(t *testing.T) {
		_, err := svc.CreateSession(ctx, "second count", []string{"R02", "R03"})
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrConflict)
	})

	t.Run("disjoint locations run in parallel", func(t *testing.T) {
		_, err := svc.CreateSession(ctx, "cellar count", []string{"K01"})
		require.NoError(t, err)
	})

	t.Run("input validation", func(t *testing.T) {
		_, err := svc.CreateSession(ctx, "", []string{"R05"})
		require.Error(t, err)
		_, err = svc.CreateSession(ctx, "count", nil)
		require.Error(t, err)
	})
}

func TestSnapshotIsFrozen(t *testing.T) {
	ctx := context.Background()
	fixtures := testutil.NewFixtureFactory()
	sessionSvc, lots, sessions := newTestSessionService(t)
	lotSvc := NewLotService(lots, sessions, nil, nil, logger.New("lot-service-test", "test"))

	lot := seedLot(t, lots, fixtures, testutil.WithLocation("R01"), testutil.WithQuantity(100))
	session, err := sessionSvc.CreateSession(ctx, "count", []string{"R01"})
	require.NoError(t, err)

	// blocking is still allowed while the location is locked, and must not
	// rewrite the frozen snapshot
	_, err = lotSvc.Block(ctx, lot.ID, "hold during count")
	require.NoError(t, err)

	reloaded, err := sessionSvc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100, reloaded.Snapshot[0].ExpectedQuantity, domain.QuantityTolerance)
}

func TestRecordScanService(t *testing.T) {
	ctx := context.Background()
	fixtures := testutil.NewFixtureFactory()
	svc, lots, _ := newTestSessionService(t)

	lot := seedLot(t, lots, fixtures, testutil.WithLocation("R01"), testutil.WithQuantity(100))
	session, err := svc.CreateSession(ctx, "count", []string{"R01"})
	require.NoError(t, err)

	_, err = svc.RecordScan(ctx, session.ID, "R01", lot.ID, 100, "", false)
	require.NoError(t, err)

	// conflicting re-scan without force
	_, err = svc.RecordScan(ctx, session.ID, "R01", lot.ID, 95, "", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrScanConflict)

	// with force the new count wins and is persisted
	updated, err := svc.RecordScan(ctx, session.ID, "R01", lot.ID, 95, "", true)
	require.NoError(t, err)
	assert.InDelta(t, 95, updated.Locations[0].ScannedPallets[0].CountedQuantity, domain.QuantityTolerance)

	reloaded, err := svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.InDelta(t, 95, reloaded.Locations[0].ScannedPallets[0].CountedQuantity, domain.QuantityTolerance)

	_, err = svc.RecordScan(ctx, session.ID, "R01", "", 10, "", false)
	require.Error(t, err)
	_, err = svc.RecordScan(ctx, session.ID, "R01", lot.ID, -1, "", false)
	require.Error(t, err)
}

func TestReconcileService(t *testing.T) {
	ctx := context.Background()
	fixtures := testutil.NewFixtureFactory()
	svc, lots, _ := newTestSessionService(t)

	expected := seedLot(t, lots, fixtures, testutil.WithLocation("R01"), testutil.WithQuantity(100))
	outside := seedLot(t, lots, fixtures, testutil.WithLocation("R09"), testutil.WithQuantity(40))

	session, err := svc.CreateSession(ctx, "count", []string{"R01"})
	require.NoError(t, err)

	_, err = svc.RecordScan(ctx, session.ID, "R01", expected.ID, 100, "", false)
	require.NoError(t, err)
	_, err = svc.RecordScan(ctx, session.ID, "R01", outside.ID, 40, "", false)
	require.NoError(t, err)

	report, err := svc.Reconcile(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, report.Matches, 1)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, domain.DiscrepancyMoved, report.Discrepancies[0].Type)

	// reconciliation is a pure read: lots and session stay untouched
	unchanged, err := lots.GetByID(ctx, outside.ID)
	require.NoError(t, err)
	assert.Equal(t, "R09", unchanged.Location())

	cancelled, err := svc.Cancel(ctx, session.ID)
	require.NoError(t, err)
	_, err = svc.Reconcile(ctx, cancelled.ID)
	require.Error(t, err)
}

func TestResolutionsAndFinalize(t *testing.T) {
	ctx := context.Background()
	fixtures := testutil.NewFixtureFactory()
	svc, lots, _ := newTestSessionService(t)

	missing := seedLot(t, lots, fixtures, testutil.WithLocation("R01"), testutil.WithQuantity(100))
	short := seedLot(t, lots, fixtures, testutil.WithLocation("R01"), testutil.WithQuantity(50))

	session, err := svc.CreateSession(ctx, "count", []string{"R01", "R02"})
	require.NoError(t, err)
	_, err = svc.RecordScan(ctx, session.ID, "R02", short.ID, 45, "", false)
	require.NoError(t, err)

	// finalize refuses while discrepancies are unresolved
	_, err = svc.Finalize(ctx, session.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnresolvedDiscrepancies)

	// wrong resolution kind for a missing lot
	_, err = svc.ResolveAcceptNewState(ctx, session.ID, missing.ID)
	require.Error(t, err)
	_, err = svc.ResolveMissing(ctx, session.ID, short.ID)
	require.Error(t, err)

	_, err = svc.ResolveMissing(ctx, session.ID, missing.ID)
	require.NoError(t, err)
	_, err = svc.ResolveAcceptNewState(ctx, session.ID, short.ID)
	require.NoError(t, err)

	finalized, err := svc.Finalize(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, finalized.Status)

	// confirmed missing: zero quantity at the missing location
	gone, err := lots.GetByID(ctx, missing.ID)
	require.NoError(t, err)
	assert.Zero(t, gone.Quantity)
	assert.Equal(t, domain.LocationMissing, gone.Location())

	// accepted new state: counted quantity at the found location
	corrected, err := lots.GetByID(ctx, short.ID)
	require.NoError(t, err)
	assert.InDelta(t, 45, corrected.Quantity, domain.QuantityTolerance)
	assert.Equal(t, "R02", corrected.Location())

	history, err := lots.History(ctx, corrected.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.ActionCountCorrected, history[0].ActionKind)

	// finalize is not repeatable
	_, err = svc.Finalize(ctx, session.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConflict)

	// the location locks lifted with completion
	locked, err := svc.sessions.LockedLocations(ctx)
	require.NoError(t, err)
	assert.Empty(t, locked)
}

func TestFinalizeCreatesUnexpectedStock(t *testing.T) {
	ctx := context.Background()
	svc, lots, _ := newTestSessionService(t)

	session, err := svc.CreateSession(ctx, "count", []string{"R01"})
	require.NoError(t, err)

	unknownID := domain.NewLotID()
	_, err = svc.RecordScan(ctx, session.ID, "R01", unknownID, 20, "spelt flour", false)
	require.NoError(t, err)

	_, err = svc.ResolveAcceptNewState(ctx, session.ID, unknownID)
	require.NoError(t, err)
	_, err = svc.Finalize(ctx, session.ID)
	require.NoError(t, err)

	created, err := lots.GetByID(ctx, unknownID)
	require.NoError(t, err)
	assert.Equal(t, "spelt flour", created.MaterialName)
	assert.InDelta(t, 20, created.Quantity, domain.QuantityTolerance)
	assert.Equal(t, "R01", created.Location())
	assert.Equal(t, domain.StatusAvailable, created.Status)
}

func TestCancelDiscardsStagedResolutions(t *testing.T) {
	ctx := context.Background()
	fixtures := testutil.NewFixtureFactory()
	svc, lots, _ := newTestSessionService(t)

	lot := seedLot(t, lots, fixtures, testutil.WithLocation("R01"), testutil.WithQuantity(100))
	session, err := svc.CreateSession(ctx, "count", []string{"R01"})
	require.NoError(t, err)

	// lot never scanned: confirm it missing, then cancel instead of finalize
	_, err = svc.ResolveMissing(ctx, session.ID, lot.ID)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, session.ID)
	require.NoError(t, err)

	untouched, err := lots.GetByID(ctx, lot.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100, untouched.Quantity, domain.QuantityTolerance)
	assert.Equal(t, "R01", untouched.Location())

	_, err = svc.Cancel(ctx, session.ID)
	require.Error(t, err, "double cancel is a conflict")
}
