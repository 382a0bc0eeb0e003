package testutil

import (
	"fmt"
	"time"

	"github.com/stocktrace/stocktrace-backend/internal/lot/domain"
)

// FixtureFactory builds realistic domain objects for tests. Generated lots
// get deterministic, sequence-based ids so failures are easy to read.
type FixtureFactory struct {
	seq int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{}
}

// LotOption mutates a fixture lot before it is returned.
type LotOption func(*domain.Lot)

// WithKind sets the lot kind; finished goods get a gross quantity with a
// default 5% tare.
func WithKind(kind domain.LotKind) LotOption {
	return func(l *domain.Lot) {
		l.Kind = kind
		l.DisplayCode = domain.DisplayCodeFor(kind, l.ID)
		if kind == domain.KindFinishedGood {
			gross := l.Quantity * 1.05
			l.GrossQuantity = &gross
		}
	}
}

// WithQuantity sets the net quantity.
func WithQuantity(qty float64) LotOption {
	return func(l *domain.Lot) { l.Quantity = qty }
}

// WithMaterial sets the material name.
func WithMaterial(name string) LotOption {
	return func(l *domain.Lot) { l.MaterialName = name }
}

// WithLocation sets the current location.
func WithLocation(location string) LotOption {
	return func(l *domain.Lot) { l.CurrentLocation = &location }
}

// WithExpiry sets the expiry date.
func WithExpiry(expiry time.Time) LotOption {
	return func(l *domain.Lot) { l.ExpiryDate = &expiry }
}

// WithStatus sets the lifecycle status.
func WithStatus(status domain.LotStatus) LotOption {
	return func(l *domain.Lot) { l.Status = status }
}

// WithManualBlock sets the manual block flag with a reason.
func WithManualBlock(reason string) LotOption {
	return func(l *domain.Lot) {
		l.ManualBlocked = true
		l.BlockReason = &reason
	}
}

// Lot builds a raw material lot with sensible defaults, then applies the
// given options.
func (f *FixtureFactory) Lot(opts ...LotOption) *domain.Lot {
	f.seq++
	id := fmt.Sprintf("%018d", f.seq)
	location := "MS01"
	lot := &domain.Lot{
		ID:              id,
		DisplayCode:     domain.DisplayCodeFor(domain.KindRawMaterial, id),
		Kind:            domain.KindRawMaterial,
		MaterialName:    "wheat flour T550",
		Quantity:        1000,
		CurrentLocation: &location,
		BatchNumber:     fmt.Sprintf("B-2026-%03d", f.seq),
		Status:          domain.StatusAvailable,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	for _, opt := range opts {
		opt(lot)
	}
	return lot
}

// Session builds an ongoing inventory session over the given locations,
// snapshotting the given lots.
func (f *FixtureFactory) Session(name string, locations []string, lots []*domain.Lot) *domain.InventorySession {
	return domain.NewInventorySession(name, "test operator", locations, lots, time.Now())
}
