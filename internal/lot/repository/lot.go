package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stocktrace/stocktrace-backend/internal/lot/domain"
	"github.com/stocktrace/stocktrace-backend/pkg/database"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
)

// LotRepository handles lot persistence. Lifecycle operations that touch a
// lot, its movement history and its consumptions at once run in a single
// transaction; the movement table is append-only.
type LotRepository struct {
	db *database.DB
}

// NewLotRepository creates a new lot repository
func NewLotRepository(db *database.DB) *LotRepository {
	return &LotRepository{db: db}
}

const lotColumns = `
	id, display_code, kind, material_name, quantity, gross_quantity,
	current_location, expiry_date, production_date, batch_number,
	manual_blocked, block_reason, status, lab_notes, documents,
	analysis_results, version, created_at, updated_at
`

// Create inserts a new lot together with its initial movement records.
func (r *LotRepository) Create(ctx context.Context, lot *domain.Lot, movements ...*domain.MovementRecord) error {
	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := insertLotTx(tx, lot); err != nil {
			return database.MapPQError(err)
		}
		return insertMovementsTx(tx, movements)
	})
}

// GetByID gets a lot by its numeric id.
func (r *LotRepository) GetByID(ctx context.Context, id string) (*domain.Lot, error) {
	var lot domain.Lot
	query := fmt.Sprintf(`SELECT %s FROM lots WHERE id = $1`, lotColumns)
	if err := r.db.GetContext(ctx, &lot, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("lot")
		}
		return nil, err
	}
	return &lot, nil
}

// GetByAnyID gets a lot by numeric id or display code, whichever matches.
func (r *LotRepository) GetByAnyID(ctx context.Context, identifier string) (*domain.Lot, error) {
	var lot domain.Lot
	query := fmt.Sprintf(`SELECT %s FROM lots WHERE id = $1 OR display_code = $1`, lotColumns)
	if err := r.db.GetContext(ctx, &lot, query, identifier); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("lot")
		}
		return nil, err
	}
	return &lot, nil
}

// List lists all lots, newest first.
func (r *LotRepository) List(ctx context.Context) ([]*domain.Lot, error) {
	var lots []*domain.Lot
	query := fmt.Sprintf(`SELECT %s FROM lots ORDER BY id DESC`, lotColumns)
	if err := r.db.SelectContext(ctx, &lots, query); err != nil {
		return nil, err
	}
	return lots, nil
}

// ListByMaterial lists lots of a material, oldest first for FEFO ranking.
func (r *LotRepository) ListByMaterial(ctx context.Context, materialName string) ([]*domain.Lot, error) {
	var lots []*domain.Lot
	query := fmt.Sprintf(`
		SELECT %s FROM lots
		WHERE material_name = $1
		ORDER BY expiry_date NULLS LAST, id
	`, lotColumns)
	if err := r.db.SelectContext(ctx, &lots, query, materialName); err != nil {
		return nil, err
	}
	return lots, nil
}

// ListByLocations lists lots currently sitting at any of the given locations.
func (r *LotRepository) ListByLocations(ctx context.Context, locations []string) ([]*domain.Lot, error) {
	var lots []*domain.Lot
	query := fmt.Sprintf(`
		SELECT %s FROM lots
		WHERE current_location = ANY($1)
		ORDER BY current_location, id
	`, lotColumns)
	if err := r.db.SelectContext(ctx, &lots, query, pq.Array(locations)); err != nil {
		return nil, err
	}
	return lots, nil
}

// ListExpiring lists located lots whose expiry falls within the given number
// of days, soonest first. Already expired lots are included.
func (r *LotRepository) ListExpiring(ctx context.Context, withinDays int) ([]*domain.Lot, error) {
	var lots []*domain.Lot
	query := fmt.Sprintf(`
		SELECT %s FROM lots
		WHERE expiry_date IS NOT NULL
		  AND expiry_date < NOW() + ($1 * INTERVAL '1 day')
		  AND current_location IS NOT NULL
		  AND status NOT IN ('archived', 'consumed_in_split', 'consumed_in_mixing')
		ORDER BY expiry_date, id
	`, lotColumns)
	if err := r.db.SelectContext(ctx, &lots, query, withinDays); err != nil {
		return nil, err
	}
	return lots, nil
}

// Update persists a mutated lot and appends the given movement records in one
// transaction. The update is guarded by the version the lot was read at; a
// concurrent writer in between surfaces as a conflict.
func (r *LotRepository) Update(ctx context.Context, lot *domain.Lot, movements ...*domain.MovementRecord) error {
	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := updateLotTx(tx, lot); err != nil {
			return err
		}
		return insertMovementsTx(tx, movements)
	})
}

// ApplySplit atomically persists a split: the mutated source, the new child
// lots and all movement records.
func (r *LotRepository) ApplySplit(ctx context.Context, source *domain.Lot, children []*domain.Lot, movements []domain.MovementRecord) error {
	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := updateLotTx(tx, source); err != nil {
			return err
		}
		for _, child := range children {
			if err := insertLotTx(tx, child); err != nil {
				return database.MapPQError(err)
			}
		}
		for i := range movements {
			if err := insertMovementTx(tx, &movements[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyCountResults atomically commits a finalized inventory session: lot
// corrections, lots created for unexpected stock and the audit movements.
func (r *LotRepository) ApplyCountResults(ctx context.Context, updated, created []*domain.Lot, movements []domain.MovementRecord) error {
	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		for _, lot := range updated {
			if err := updateLotTx(tx, lot); err != nil {
				return err
			}
		}
		for _, lot := range created {
			if err := insertLotTx(tx, lot); err != nil {
				return database.MapPQError(err)
			}
		}
		for i := range movements {
			if err := insertMovementTx(tx, &movements[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// History returns a lot's movement records in causal order.
func (r *LotRepository) History(ctx context.Context, lotID string) ([]domain.MovementRecord, error) {
	var records []domain.MovementRecord
	query := `
		SELECT id, lot_id, timestamp, actor, previous_location, target_location, action_kind, notes
		FROM lot_movements
		WHERE lot_id = $1
		ORDER BY timestamp, id
	`
	if err := r.db.SelectContext(ctx, &records, query, lotID); err != nil {
		return nil, err
	}
	return records, nil
}

// SaveConsumption atomically persists a consumption: the reduced lot, the new
// consumption record and the movement record.
func (r *LotRepository) SaveConsumption(ctx context.Context, lot *domain.Lot, record *domain.ConsumptionRecord, movement *domain.MovementRecord) error {
	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := updateLotTx(tx, lot); err != nil {
			return err
		}
		query := `
			INSERT INTO consumptions (
				id, lot_id, amount, context, actor, consumed_at, is_annulled, locked, archived_lot
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		if _, err := tx.ExecContext(ctx, query,
			record.ID, record.LotID, record.Amount, record.Context, record.Actor,
			record.ConsumedAt, record.IsAnnulled, record.Locked, record.ArchivedLot,
		); err != nil {
			return database.MapPQError(err)
		}
		return insertMovementTx(tx, movement)
	})
}

// UpdateConsumption atomically persists an annulment: the restored lot, the
// annulled consumption record and the movement record.
func (r *LotRepository) UpdateConsumption(ctx context.Context, lot *domain.Lot, record *domain.ConsumptionRecord, movement *domain.MovementRecord) error {
	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := updateLotTx(tx, lot); err != nil {
			return err
		}
		query := `UPDATE consumptions SET is_annulled = $2, locked = $3 WHERE id = $1`
		result, err := tx.ExecContext(ctx, query, record.ID, record.IsAnnulled, record.Locked)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFound("consumption")
		}
		return insertMovementTx(tx, movement)
	})
}

// SetConsumptionLock marks a consumption record as finalized (or reopened)
// by its owning workflow. Locked records cannot be annulled.
func (r *LotRepository) SetConsumptionLock(ctx context.Context, id string, locked bool) error {
	query := `UPDATE consumptions SET locked = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, locked)
	if err != nil {
		return database.MapPQError(err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("consumption")
	}
	return nil
}

// GetConsumption gets a consumption record by id.
func (r *LotRepository) GetConsumption(ctx context.Context, id string) (*domain.ConsumptionRecord, error) {
	var record domain.ConsumptionRecord
	query := `SELECT * FROM consumptions WHERE id = $1`
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("consumption")
		}
		return nil, err
	}
	return &record, nil
}

// ListConsumptions lists a lot's consumption records, newest first.
func (r *LotRepository) ListConsumptions(ctx context.Context, lotID string) ([]*domain.ConsumptionRecord, error) {
	var records []*domain.ConsumptionRecord
	query := `SELECT * FROM consumptions WHERE lot_id = $1 ORDER BY id DESC`
	if err := r.db.SelectContext(ctx, &records, query, lotID); err != nil {
		return nil, err
	}
	return records, nil
}

func insertLotTx(tx *sqlx.Tx, lot *domain.Lot) error {
	query := `
		INSERT INTO lots (
			id, display_code, kind, material_name, quantity, gross_quantity,
			current_location, expiry_date, production_date, batch_number,
			manual_blocked, block_reason, status, lab_notes, documents,
			analysis_results, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at
	`
	return tx.QueryRowx(query,
		lot.ID, lot.DisplayCode, lot.Kind, lot.MaterialName, lot.Quantity,
		lot.GrossQuantity, lot.CurrentLocation, lot.ExpiryDate, lot.ProductionDate,
		lot.BatchNumber, lot.ManualBlocked, lot.BlockReason, lot.Status,
		lot.LabNotes, lot.Documents, lot.AnalysisResults, lot.Version,
	).Scan(&lot.CreatedAt, &lot.UpdatedAt)
}

func updateLotTx(tx *sqlx.Tx, lot *domain.Lot) error {
	query := `
		UPDATE lots SET
			quantity = $3, gross_quantity = $4, current_location = $5,
			expiry_date = $6, manual_blocked = $7, block_reason = $8,
			status = $9, lab_notes = $10, documents = $11, analysis_results = $12,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`
	result, err := tx.Exec(query,
		lot.ID, lot.Version, lot.Quantity, lot.GrossQuantity, lot.CurrentLocation,
		lot.ExpiryDate, lot.ManualBlocked, lot.BlockReason, lot.Status,
		lot.LabNotes, lot.Documents, lot.AnalysisResults,
	)
	if err != nil {
		return database.MapPQError(err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Conflict("lot was modified concurrently, retry with fresh state")
	}
	lot.Version++
	return nil
}

func insertMovementTx(tx *sqlx.Tx, movement *domain.MovementRecord) error {
	if movement == nil {
		return nil
	}
	query := `
		INSERT INTO lot_movements (
			id, lot_id, timestamp, actor, previous_location, target_location, action_kind, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.Exec(query,
		movement.ID, movement.LotID, movement.Timestamp, movement.Actor,
		movement.PreviousLocation, movement.TargetLocation, movement.ActionKind, movement.Notes,
	)
	if err != nil {
		return database.MapPQError(err)
	}
	return nil
}

func insertMovementsTx(tx *sqlx.Tx, movements []*domain.MovementRecord) error {
	for _, m := range movements {
		if err := insertMovementTx(tx, m); err != nil {
			return err
		}
	}
	return nil
}
