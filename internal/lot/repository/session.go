package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/stocktrace/stocktrace-backend/internal/lot/domain"
	"github.com/stocktrace/stocktrace-backend/pkg/database"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
)

// SessionRepository handles inventory session persistence. A session is a
// document-shaped aggregate (snapshot, per-location scans, staged
// resolutions) so the nested parts are stored as jsonb alongside the flat
// session row.
type SessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

type sessionRow struct {
	ID        string               `db:"id"`
	Name      string               `db:"name"`
	Status    domain.SessionStatus `db:"status"`
	CreatedBy string               `db:"created_by"`
	CreatedAt sql.NullTime         `db:"created_at"`
	UpdatedAt sql.NullTime         `db:"updated_at"`
	Locations []byte               `db:"locations"`
	Snapshot  []byte               `db:"snapshot"`
	Resolved  []byte               `db:"resolved"`
}

func (row *sessionRow) toDomain() (*domain.InventorySession, error) {
	session := &domain.InventorySession{
		ID:        row.ID,
		Name:      row.Name,
		Status:    row.Status,
		CreatedBy: row.CreatedBy,
		CreatedAt: row.CreatedAt.Time,
		UpdatedAt: row.UpdatedAt.Time,
	}
	if err := json.Unmarshal(row.Locations, &session.Locations); err != nil {
		return nil, fmt.Errorf("failed to decode session locations: %w", err)
	}
	if err := json.Unmarshal(row.Snapshot, &session.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode session snapshot: %w", err)
	}
	if err := json.Unmarshal(row.Resolved, &session.Resolved); err != nil {
		return nil, fmt.Errorf("failed to decode session resolutions: %w", err)
	}
	return session, nil
}

func marshalSession(session *domain.InventorySession) (locations, snapshot, resolved []byte, err error) {
	if locations, err = json.Marshal(session.Locations); err != nil {
		return
	}
	if session.Snapshot == nil {
		session.Snapshot = []domain.SnapshotEntry{}
	}
	if snapshot, err = json.Marshal(session.Snapshot); err != nil {
		return
	}
	if session.Resolved == nil {
		session.Resolved = []domain.ResolvedDiscrepancy{}
	}
	resolved, err = json.Marshal(session.Resolved)
	return
}

// Create inserts a new inventory session.
func (r *SessionRepository) Create(ctx context.Context, session *domain.InventorySession) error {
	locations, snapshot, resolved, err := marshalSession(session)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO inventory_sessions (
			id, name, status, created_by, created_at, updated_at, locations, snapshot, resolved
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := r.db.ExecContext(ctx, query,
		session.ID, session.Name, session.Status, session.CreatedBy,
		session.CreatedAt, session.UpdatedAt, locations, snapshot, resolved,
	); err != nil {
		return database.MapPQError(err)
	}
	return nil
}

// GetByID gets a session by id.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*domain.InventorySession, error) {
	var row sessionRow
	query := `SELECT * FROM inventory_sessions WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("inventory session")
		}
		return nil, err
	}
	return row.toDomain()
}

// List lists sessions, newest first.
func (r *SessionRepository) List(ctx context.Context) ([]*domain.InventorySession, error) {
	var rows []sessionRow
	query := `SELECT * FROM inventory_sessions ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	sessions := make([]*domain.InventorySession, 0, len(rows))
	for i := range rows {
		session, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// Update persists a session's scans, scan statuses, resolutions and status.
func (r *SessionRepository) Update(ctx context.Context, session *domain.InventorySession) error {
	locations, snapshot, resolved, err := marshalSession(session)
	if err != nil {
		return err
	}
	query := `
		UPDATE inventory_sessions SET
			status = $2, updated_at = $3, locations = $4, snapshot = $5, resolved = $6
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		session.ID, session.Status, session.UpdatedAt, locations, snapshot, resolved,
	)
	if err != nil {
		return database.MapPQError(err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("inventory session")
	}
	return nil
}

// LockedLocations returns the locations locked by ongoing sessions, mapped to
// the session holding the lock.
func (r *SessionRepository) LockedLocations(ctx context.Context) (map[string]string, error) {
	var rows []sessionRow
	query := `SELECT id, locations FROM inventory_sessions WHERE status = $1`
	if err := r.db.SelectContext(ctx, &rows, query, domain.SessionOngoing); err != nil {
		return nil, err
	}
	locked := make(map[string]string)
	for i := range rows {
		var locations []domain.SessionLocation
		if err := json.Unmarshal(rows[i].Locations, &locations); err != nil {
			return nil, fmt.Errorf("failed to decode session locations: %w", err)
		}
		for _, loc := range locations {
			locked[loc.LocationID] = rows[i].ID
		}
	}
	return locked, nil
}
