package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/stocktrace/stocktrace-backend/internal/lot/domain"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
)

// MemoryLotStore is an in-memory lot store with the same semantics as the
// Postgres repository, including version checks on update. It backs service
// tests and small single-node deployments.
type MemoryLotStore struct {
	mu           sync.RWMutex
	lots         map[string]*domain.Lot
	movements    map[string][]domain.MovementRecord
	consumptions map[string]*domain.ConsumptionRecord
}

// NewMemoryLotStore creates an empty in-memory lot store.
func NewMemoryLotStore() *MemoryLotStore {
	return &MemoryLotStore{
		lots:         make(map[string]*domain.Lot),
		movements:    make(map[string][]domain.MovementRecord),
		consumptions: make(map[string]*domain.ConsumptionRecord),
	}
}

func cloneLot(lot *domain.Lot) *domain.Lot {
	clone := *lot
	clone.History = nil
	if lot.GrossQuantity != nil {
		v := *lot.GrossQuantity
		clone.GrossQuantity = &v
	}
	if lot.CurrentLocation != nil {
		v := *lot.CurrentLocation
		clone.CurrentLocation = &v
	}
	if lot.BlockReason != nil {
		v := *lot.BlockReason
		clone.BlockReason = &v
	}
	clone.LabNotes = append(pq.StringArray(nil), lot.LabNotes...)
	clone.Documents = append(pq.StringArray(nil), lot.Documents...)
	clone.AnalysisResults = append(pq.StringArray(nil), lot.AnalysisResults...)
	return &clone
}

func (s *MemoryLotStore) insertLocked(lot *domain.Lot) error {
	if _, exists := s.lots[lot.ID]; exists {
		return errors.Conflict("lot already exists")
	}
	now := time.Now()
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = now
	}
	lot.UpdatedAt = now
	s.lots[lot.ID] = cloneLot(lot)
	return nil
}

func (s *MemoryLotStore) updateLocked(lot *domain.Lot) error {
	current, ok := s.lots[lot.ID]
	if !ok {
		return errors.NotFound("lot")
	}
	if current.Version != lot.Version {
		return errors.Conflict("lot was modified concurrently, retry with fresh state")
	}
	lot.Version++
	lot.UpdatedAt = time.Now()
	s.lots[lot.ID] = cloneLot(lot)
	return nil
}

func (s *MemoryLotStore) appendMovementsLocked(movements []*domain.MovementRecord) {
	for _, m := range movements {
		if m == nil {
			continue
		}
		s.movements[m.LotID] = append(s.movements[m.LotID], *m)
	}
}

// Create inserts a new lot together with its initial movement records.
func (s *MemoryLotStore) Create(ctx context.Context, lot *domain.Lot, movements ...*domain.MovementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertLocked(lot); err != nil {
		return err
	}
	s.appendMovementsLocked(movements)
	return nil
}

// GetByID gets a lot by its numeric id.
func (s *MemoryLotStore) GetByID(ctx context.Context, id string) (*domain.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lot, ok := s.lots[id]
	if !ok {
		return nil, errors.NotFound("lot")
	}
	return cloneLot(lot), nil
}

// GetByAnyID gets a lot by numeric id or display code.
func (s *MemoryLotStore) GetByAnyID(ctx context.Context, identifier string) (*domain.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if lot, ok := s.lots[identifier]; ok {
		return cloneLot(lot), nil
	}
	for _, lot := range s.lots {
		if lot.DisplayCode == identifier {
			return cloneLot(lot), nil
		}
	}
	return nil, errors.NotFound("lot")
}

func (s *MemoryLotStore) selectLocked(match func(*domain.Lot) bool) []*domain.Lot {
	var out []*domain.Lot
	for _, lot := range s.lots {
		if match(lot) {
			out = append(out, cloneLot(lot))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// List lists all lots.
func (s *MemoryLotStore) List(ctx context.Context) ([]*domain.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectLocked(func(*domain.Lot) bool { return true }), nil
}

// ListByMaterial lists lots of a material.
func (s *MemoryLotStore) ListByMaterial(ctx context.Context, materialName string) ([]*domain.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectLocked(func(lot *domain.Lot) bool {
		return lot.MaterialName == materialName
	}), nil
}

// ListByLocations lists lots currently sitting at any of the given locations.
func (s *MemoryLotStore) ListByLocations(ctx context.Context, locations []string) ([]*domain.Lot, error) {
	inScope := make(map[string]bool, len(locations))
	for _, loc := range locations {
		inScope[loc] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectLocked(func(lot *domain.Lot) bool {
		return lot.CurrentLocation != nil && inScope[*lot.CurrentLocation]
	}), nil
}

// ListExpiring lists located lots expiring within the given number of days.
func (s *MemoryLotStore) ListExpiring(ctx context.Context, withinDays int) ([]*domain.Lot, error) {
	cutoff := time.Now().AddDate(0, 0, withinDays)
	s.mu.RLock()
	defer s.mu.RUnlock()
	lots := s.selectLocked(func(lot *domain.Lot) bool {
		if lot.ExpiryDate == nil || lot.CurrentLocation == nil {
			return false
		}
		switch lot.Status {
		case domain.StatusArchived, domain.StatusConsumedInSplit, domain.StatusConsumedInMixing:
			return false
		}
		return lot.ExpiryDate.Before(cutoff)
	})
	sort.Slice(lots, func(i, j int) bool {
		if !lots[i].ExpiryDate.Equal(*lots[j].ExpiryDate) {
			return lots[i].ExpiryDate.Before(*lots[j].ExpiryDate)
		}
		return lots[i].ID < lots[j].ID
	})
	return lots, nil
}

// Update persists a mutated lot and appends movement records atomically.
func (s *MemoryLotStore) Update(ctx context.Context, lot *domain.Lot, movements ...*domain.MovementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateLocked(lot); err != nil {
		return err
	}
	s.appendMovementsLocked(movements)
	return nil
}

// ApplySplit atomically persists a split.
func (s *MemoryLotStore) ApplySplit(ctx context.Context, source *domain.Lot, children []*domain.Lot, movements []domain.MovementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateLocked(source); err != nil {
		return err
	}
	for _, child := range children {
		if err := s.insertLocked(child); err != nil {
			return err
		}
	}
	for i := range movements {
		m := movements[i]
		s.movements[m.LotID] = append(s.movements[m.LotID], m)
	}
	return nil
}

// ApplyCountResults atomically commits a finalized inventory session.
func (s *MemoryLotStore) ApplyCountResults(ctx context.Context, updated, created []*domain.Lot, movements []domain.MovementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lot := range updated {
		if err := s.updateLocked(lot); err != nil {
			return err
		}
	}
	for _, lot := range created {
		if err := s.insertLocked(lot); err != nil {
			return err
		}
	}
	for i := range movements {
		m := movements[i]
		s.movements[m.LotID] = append(s.movements[m.LotID], m)
	}
	return nil
}

// History returns a lot's movement records in causal order.
func (s *MemoryLotStore) History(ctx context.Context, lotID string) ([]domain.MovementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.MovementRecord(nil), s.movements[lotID]...), nil
}

// SaveConsumption atomically persists a consumption.
func (s *MemoryLotStore) SaveConsumption(ctx context.Context, lot *domain.Lot, record *domain.ConsumptionRecord, movement *domain.MovementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateLocked(lot); err != nil {
		return err
	}
	clone := *record
	s.consumptions[record.ID] = &clone
	s.appendMovementsLocked([]*domain.MovementRecord{movement})
	return nil
}

// UpdateConsumption atomically persists an annulment.
func (s *MemoryLotStore) UpdateConsumption(ctx context.Context, lot *domain.Lot, record *domain.ConsumptionRecord, movement *domain.MovementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consumptions[record.ID]; !ok {
		return errors.NotFound("consumption")
	}
	if err := s.updateLocked(lot); err != nil {
		return err
	}
	clone := *record
	s.consumptions[record.ID] = &clone
	s.appendMovementsLocked([]*domain.MovementRecord{movement})
	return nil
}

// SetConsumptionLock marks a consumption record as finalized or reopened.
func (s *MemoryLotStore) SetConsumptionLock(ctx context.Context, id string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.consumptions[id]
	if !ok {
		return errors.NotFound("consumption")
	}
	record.Locked = locked
	return nil
}

// GetConsumption gets a consumption record by id.
func (s *MemoryLotStore) GetConsumption(ctx context.Context, id string) (*domain.ConsumptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.consumptions[id]
	if !ok {
		return nil, errors.NotFound("consumption")
	}
	clone := *record
	return &clone, nil
}

// ListConsumptions lists a lot's consumption records, newest first.
func (s *MemoryLotStore) ListConsumptions(ctx context.Context, lotID string) ([]*domain.ConsumptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []*domain.ConsumptionRecord
	for _, record := range s.consumptions {
		if record.LotID == lotID {
			clone := *record
			records = append(records, &clone)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID > records[j].ID })
	return records, nil
}

// MemorySessionStore is an in-memory inventory session store.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.InventorySession
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*domain.InventorySession)}
}

func cloneSession(session *domain.InventorySession) *domain.InventorySession {
	// sessions nest slices several levels deep; a json round trip keeps the
	// copy honest without a hand-maintained deep copy
	raw, _ := json.Marshal(session)
	var clone domain.InventorySession
	_ = json.Unmarshal(raw, &clone)
	return &clone
}

// Create inserts a new session.
func (s *MemorySessionStore) Create(ctx context.Context, session *domain.InventorySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return errors.Conflict("session already exists")
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

// GetByID gets a session by id.
func (s *MemorySessionStore) GetByID(ctx context.Context, id string) (*domain.InventorySession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, errors.NotFound("inventory session")
	}
	return cloneSession(session), nil
}

// List lists sessions, newest first.
func (s *MemorySessionStore) List(ctx context.Context) ([]*domain.InventorySession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sessions []*domain.InventorySession
	for _, session := range s.sessions {
		sessions = append(sessions, cloneSession(session))
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Update replaces a session.
func (s *MemorySessionStore) Update(ctx context.Context, session *domain.InventorySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return errors.NotFound("inventory session")
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

// LockedLocations returns the locations locked by ongoing sessions.
func (s *MemorySessionStore) LockedLocations(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	locked := make(map[string]string)
	for _, session := range s.sessions {
		if session.Status != domain.SessionOngoing {
			continue
		}
		for _, loc := range session.Locations {
			locked[loc.LocationID] = session.ID
		}
	}
	return locked, nil
}
