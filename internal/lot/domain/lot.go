// Package domain holds the lot lifecycle rules: the lot model itself, block
// evaluation, split/consume arithmetic, FEFO ranking and the count
// reconciliation algorithm. Everything here is pure computation; persistence
// and transport live in the surrounding packages.
package domain

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/lib/pq"
)

// QuantityTolerance is the epsilon used for every quantity equality check.
// Scale weights jitter by a few grams, so exact float comparison is never used.
const QuantityTolerance = 0.01

// LotKind discriminates the three physical lot variants.
type LotKind string

const (
	KindRawMaterial  LotKind = "raw_material"
	KindFinishedGood LotKind = "finished_good"
	KindPackaging    LotKind = "packaging"
)

// LotStatus is the stored lifecycle status. It is only ever a lifecycle
// marker; availability (blocked or not) is always derived via EvaluateBlock
// and never stored.
type LotStatus string

const (
	StatusPendingLabel     LotStatus = "pending_label"
	StatusAvailable        LotStatus = "available"
	StatusBlocked          LotStatus = "blocked"
	StatusConsumedInSplit  LotStatus = "consumed_in_split"
	StatusConsumedInMixing LotStatus = "consumed_in_mixing"
	StatusArchived         LotStatus = "archived"
)

// Virtual locations. Real locations are facility slot codes ("MS01", "R02");
// these sentinels mark lots that are physically gone from the floor.
const (
	LocationArchived = "ARCHIVE"
	LocationMissing  = "MISSING"

	// DefaultRestoreLocation receives lots restored from the archive when no
	// better location can be determined.
	DefaultRestoreLocation = "RECEIVING"
)

// MovementRecord is one immutable entry in a lot's location history. Records
// are append-only and their order is the causal order of the operations that
// produced them.
type MovementRecord struct {
	ID               string    `db:"id" json:"id"`
	LotID            string    `db:"lot_id" json:"lot_id"`
	Timestamp        time.Time `db:"timestamp" json:"timestamp"`
	Actor            string    `db:"actor" json:"actor"`
	PreviousLocation *string   `db:"previous_location" json:"previous_location,omitempty"`
	TargetLocation   string    `db:"target_location" json:"target_location"`
	ActionKind       string    `db:"action_kind" json:"action_kind"`
	Notes            *string   `db:"notes" json:"notes,omitempty"`
}

// Movement action kinds
const (
	ActionCreated         = "created"
	ActionMove            = "move"
	ActionBlock           = "block"
	ActionUnblock         = "unblock"
	ActionSplit           = "split"
	ActionSplitConsumed   = "split_consumed"
	ActionSplitCreated    = "split_created"
	ActionConsume         = "consume"
	ActionConsumeArchived = "consume_archived"
	ActionAnnul           = "annul_consumption"
	ActionArchive         = "archive"
	ActionRestore         = "restore"
	ActionCountCorrected  = "count_corrected"
	ActionCountMissing    = "count_missing"
)

// Lot is a physical, trackable unit of material: a raw-material pallet, a
// finished-good pallet or a packaging unit. The kind-specific payload (gross
// quantity including tare) is pointer-typed and nil for kinds it does not
// apply to.
type Lot struct {
	ID           string  `db:"id" json:"id"`
	DisplayCode  string  `db:"display_code" json:"display_code"`
	Kind         LotKind `db:"kind" json:"kind"`
	MaterialName string  `db:"material_name" json:"material_name"`

	// Quantity is the current net quantity in kg or count units. Never negative.
	Quantity float64 `db:"quantity" json:"quantity"`

	// GrossQuantity is quantity plus pallet tare. Finished goods only.
	GrossQuantity *float64 `db:"gross_quantity" json:"gross_quantity,omitempty"`

	// CurrentLocation is the single location holding this lot, one of the
	// virtual locations above, or nil once the lot is fully consumed.
	CurrentLocation *string `db:"current_location" json:"current_location"`

	ExpiryDate     *time.Time `db:"expiry_date" json:"expiry_date,omitempty"`
	ProductionDate *time.Time `db:"production_date" json:"production_date,omitempty"`
	BatchNumber    string     `db:"batch_number" json:"batch_number"`

	// ManualBlocked and BlockReason form the manual block flag, set and
	// cleared only by the Block/Unblock operations.
	ManualBlocked bool    `db:"manual_blocked" json:"manual_blocked"`
	BlockReason   *string `db:"block_reason" json:"block_reason,omitempty"`

	Status LotStatus `db:"status" json:"status"`

	// Ancillary records attached by external collaborators. Append-only.
	LabNotes        pq.StringArray `db:"lab_notes" json:"lab_notes,omitempty"`
	Documents       pq.StringArray `db:"documents" json:"documents,omitempty"`
	AnalysisResults pq.StringArray `db:"analysis_results" json:"analysis_results,omitempty"`

	// Version guards atomic updates: a store update only succeeds against the
	// version it read, so the last concurrent writer loses cleanly.
	Version int `db:"version" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	// History is loaded on demand; it is not part of the lot row itself.
	History []MovementRecord `db:"-" json:"history,omitempty"`
}

// Tare returns the fixed pallet tare for finished goods, zero otherwise.
func (l *Lot) Tare() float64 {
	if l.GrossQuantity == nil {
		return 0
	}
	return *l.GrossQuantity - l.Quantity
}

// Location returns the current location or the empty string if consumed.
func (l *Lot) Location() string {
	if l.CurrentLocation == nil {
		return ""
	}
	return *l.CurrentLocation
}

// AtLocation reports whether the lot currently sits at the given location.
func (l *Lot) AtLocation(location string) bool {
	return l.CurrentLocation != nil && *l.CurrentLocation == location
}

// IsConsumed reports whether the lot has been fully consumed (no location).
func (l *Lot) IsConsumed() bool {
	return l.CurrentLocation == nil
}

// NewLotID generates an 18-digit numeric lot id: a 13-digit millisecond
// timestamp followed by a 5-digit random suffix. Ids created later always
// sort higher; the suffix avoids collisions within the same millisecond.
func NewLotID() string {
	return fmt.Sprintf("%013d%05d", time.Now().UnixMilli(), rand.Intn(100000))
}

// NewConsumptionID generates a time-ordered consumption id, used by the
// owning workflow for lookup and chronological sorting.
func NewConsumptionID() string {
	return fmt.Sprintf("%013d%05d", time.Now().UnixMilli(), rand.Intn(100000))
}

// DisplayCodeFor derives the human-facing label code printed on the pallet.
func DisplayCodeFor(kind LotKind, id string) string {
	prefix := "PAL"
	switch kind {
	case KindRawMaterial:
		prefix = "RAW"
	case KindPackaging:
		prefix = "PKG"
	}
	tail := id
	if len(tail) > 8 {
		tail = tail[len(tail)-8:]
	}
	return fmt.Sprintf("%s-%s", prefix, tail)
}

// QuantitiesEqual reports equality within the global tolerance.
func QuantitiesEqual(a, b float64) bool {
	return math.Abs(a-b) <= QuantityTolerance
}

// BelowTolerance reports whether a remainder is effectively zero.
func BelowTolerance(q float64) bool {
	return q < QuantityTolerance
}

// ExceedsAvailable reports whether a requested amount is more than the
// available quantity, allowing for the tolerance.
func ExceedsAvailable(requested, available float64) bool {
	return requested > available+QuantityTolerance
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }
