package repository_test

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stocktrace/stocktrace-backend/internal/lot/domain"
	"github.com/stocktrace/stocktrace-backend/internal/lot/repository"
	"github.com/stocktrace/stocktrace-backend/pkg/database"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
	"github.com/stocktrace/stocktrace-backend/pkg/logger"
	"github.com/stocktrace/stocktrace-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lotTestColumns = []string{
	"id", "display_code", "kind", "material_name", "quantity", "gross_quantity",
	"current_location", "expiry_date", "production_date", "batch_number",
	"manual_blocked", "block_reason", "status", "lab_notes", "documents",
	"analysis_results", "version", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*repository.LotRepository, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })
	log := logger.New("repository-test", "test")
	return repository.NewLotRepository(database.FromSqlx(mockDB.DB, log)), mockDB
}

func mockLotRow(id string, version int) []driverValue {
	now := time.Now()
	return []driverValue{
		id, "RAW-" + id[len(id)-8:], "raw_material", "Sodium Chloride", 500.0, nil,
		"A01", nil, nil, "BATCH-7", false, nil, "available", "{}", "{}", "{}",
		version, now, now,
	}
}

type driverValue = driver.Value

func TestGetByID_Found(t *testing.T) {
	repo, mockDB := newMockRepo(t)

	mockDB.ExpectQuery("SELECT").
		WithArgs("100000000000000001").
		WillReturnRows(testutil.MockRows(lotTestColumns...).AddRow(mockLotRow("100000000000000001", 3)...))

	lot, err := repo.GetByID(context.Background(), "100000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "100000000000000001", lot.ID)
	assert.Equal(t, "Sodium Chloride", lot.MaterialName)
	assert.Equal(t, 500.0, lot.Quantity)
	assert.Equal(t, 3, lot.Version)
	require.NotNil(t, lot.CurrentLocation)
	assert.Equal(t, "A01", *lot.CurrentLocation)

	mockDB.ExpectationsWereMet(t)
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mockDB := newMockRepo(t)

	mockDB.ExpectQuery("SELECT").
		WithArgs("100000000000000009").
		WillReturnRows(testutil.MockRows(lotTestColumns...))

	lot, err := repo.GetByID(context.Background(), "100000000000000009")
	assert.Nil(t, lot)
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T", err)
	assert.Equal(t, "NOT_FOUND", appErr.Code)

	mockDB.ExpectationsWereMet(t)
}

func TestGetByAnyID_MatchesDisplayCode(t *testing.T) {
	repo, mockDB := newMockRepo(t)

	mockDB.ExpectQuery("SELECT").
		WithArgs("RAW-00000001").
		WillReturnRows(testutil.MockRows(lotTestColumns...).AddRow(mockLotRow("100000000000000001", 1)...))

	lot, err := repo.GetByAnyID(context.Background(), "RAW-00000001")
	require.NoError(t, err)
	assert.Equal(t, "100000000000000001", lot.ID)

	mockDB.ExpectationsWereMet(t)
}

func TestCreate_InsertsLotAndMovement(t *testing.T) {
	repo, mockDB := newMockRepo(t)

	lot := &domain.Lot{
		ID:              "100000000000000001",
		DisplayCode:     "RAW-00000001",
		Kind:            domain.KindRawMaterial,
		MaterialName:    "Sodium Chloride",
		Quantity:        500,
		CurrentLocation: strPtr("A01"),
		BatchNumber:     "BATCH-7",
		Status:          domain.StatusAvailable,
		Version:         1,
	}
	movement := &domain.MovementRecord{
		ID:             "mv-1",
		LotID:          lot.ID,
		Timestamp:      time.Now(),
		Actor:          "tester",
		TargetLocation: "A01",
		ActionKind:     domain.ActionCreated,
	}

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("INSERT INTO lots").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(time.Now(), time.Now()))
	mockDB.ExpectExec("INSERT INTO lot_movements").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	err := repo.Create(context.Background(), lot, movement)
	require.NoError(t, err)
	assert.False(t, lot.CreatedAt.IsZero())

	mockDB.ExpectationsWereMet(t)
}

func TestUpdate_IncrementsVersion(t *testing.T) {
	repo, mockDB := newMockRepo(t)

	lot := &domain.Lot{
		ID:              "100000000000000001",
		Quantity:        450,
		CurrentLocation: strPtr("B02"),
		Status:          domain.StatusAvailable,
		Version:         2,
	}
	movement := &domain.MovementRecord{
		ID:             "mv-2",
		LotID:          lot.ID,
		Timestamp:      time.Now(),
		Actor:          "tester",
		TargetLocation: "B02",
		ActionKind:     domain.ActionMove,
	}

	mockDB.ExpectBegin()
	mockDB.ExpectExec("UPDATE lots").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec("INSERT INTO lot_movements").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	err := repo.Update(context.Background(), lot, movement)
	require.NoError(t, err)
	assert.Equal(t, 3, lot.Version)

	mockDB.ExpectationsWereMet(t)
}

func TestUpdate_StaleVersionConflicts(t *testing.T) {
	repo, mockDB := newMockRepo(t)

	lot := &domain.Lot{
		ID:      "100000000000000001",
		Status:  domain.StatusAvailable,
		Version: 2,
	}

	mockDB.ExpectBegin()
	mockDB.ExpectExec("UPDATE lots").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.ExpectRollback()

	err := repo.Update(context.Background(), lot)
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "CONFLICT", appErr.Code)
	assert.Equal(t, 2, lot.Version, "version must not advance on conflict")

	mockDB.ExpectationsWereMet(t)
}

func TestApplySplit_RollsBackOnChildInsertFailure(t *testing.T) {
	repo, mockDB := newMockRepo(t)

	source := &domain.Lot{ID: "100000000000000001", Status: domain.StatusConsumedInSplit, Version: 1}
	child := &domain.Lot{
		ID:              "100000000000000002",
		DisplayCode:     "RAW-00000002",
		Kind:            domain.KindRawMaterial,
		MaterialName:    "Sodium Chloride",
		Quantity:        200,
		CurrentLocation: strPtr("A01"),
		Status:          domain.StatusAvailable,
		Version:         1,
	}

	mockDB.ExpectBegin()
	mockDB.ExpectExec("UPDATE lots").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO lots").
		WillReturnError(assert.AnError)
	mockDB.ExpectRollback()

	err := repo.ApplySplit(context.Background(), source, []*domain.Lot{child}, nil)
	require.Error(t, err)

	mockDB.ExpectationsWereMet(t)
}

func TestUpdateConsumption_MissingRecord(t *testing.T) {
	repo, mockDB := newMockRepo(t)

	lot := &domain.Lot{ID: "100000000000000001", Status: domain.StatusAvailable, Version: 1}
	record := &domain.ConsumptionRecord{ID: "cons-404", LotID: lot.ID, IsAnnulled: true}

	mockDB.ExpectBegin()
	mockDB.ExpectExec("UPDATE lots").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec("UPDATE consumptions").
		WithArgs(record.ID, true, false).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.ExpectRollback()

	err := repo.UpdateConsumption(context.Background(), lot, record, nil)
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "NOT_FOUND", appErr.Code)

	mockDB.ExpectationsWereMet(t)
}

func strPtr(s string) *string {
	return &s
}
