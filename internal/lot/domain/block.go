package domain

import (
	"fmt"
	"time"
)

// BlockKind identifies what produced a block verdict.
type BlockKind string

const (
	BlockNone      BlockKind = ""
	BlockManual    BlockKind = "manual"
	BlockAutomatic BlockKind = "automatic"
)

// BlockState is the derived availability verdict for a lot. It is computed
// on demand and never persisted, so an expiry passing at midnight takes
// effect without any background job touching the lot.
type BlockState struct {
	IsBlocked bool      `json:"is_blocked"`
	Kind      BlockKind `json:"kind,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// EvaluateBlock computes the block state of a lot as of now.
func EvaluateBlock(lot *Lot) BlockState {
	return EvaluateBlockAt(lot, time.Now())
}

// EvaluateBlockAt computes the block state as of the given instant. A manual
// block always wins over expiry so that an operator-recorded reason (a
// quality hold, say) is never masked by the generic expiry message.
func EvaluateBlockAt(lot *Lot, now time.Time) BlockState {
	if lot.ManualBlocked {
		reason := "manual block"
		if lot.BlockReason != nil && *lot.BlockReason != "" {
			reason = *lot.BlockReason
		}
		return BlockState{IsBlocked: true, Kind: BlockManual, Reason: reason}
	}
	if lot.ExpiryDate != nil && dateBefore(*lot.ExpiryDate, now) {
		return BlockState{
			IsBlocked: true,
			Kind:      BlockAutomatic,
			Reason:    fmt.Sprintf("expired (%s)", lot.ExpiryDate.Format("2006-01-02")),
		}
	}
	return BlockState{}
}

// dateBefore compares calendar days in local time. A lot expiring today is
// still usable today; it blocks starting the next local day.
func dateBefore(expiry, now time.Time) bool {
	ey, em, ed := expiry.Local().Date()
	ny, nm, nd := now.Local().Date()
	e := time.Date(ey, em, ed, 0, 0, 0, 0, time.Local)
	n := time.Date(ny, nm, nd, 0, 0, 0, 0, time.Local)
	return e.Before(n)
}
