// Package lifecycle derives the lifecycle status of a scheduled request from
// chain coordinates. Evaluation keeps no history: the status is recomputed
// from the request's window boundaries on every call.
package lifecycle

import (
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
)

const (
	// SettlementBlocks is how long past the execution window a block-scheduled
	// request stays Executed before it is considered settled
	SettlementBlocks uint64 = 10
	// SettlementSeconds is the timestamp-scheduled equivalent of SettlementBlocks
	SettlementSeconds uint64 = 150
)

// SettlementDelay returns the settlement delay for a temporal unit
func SettlementDelay(unit models.TemporalUnit) uint64 {
	if unit == models.UnitTimestamp {
		return SettlementSeconds
	}
	return SettlementBlocks
}

// Evaluate returns the status of a request at the given chain head.
// Requests already resolved on chain (called or cancelled) are Done regardless
// of where the head sits relative to the windows.
func Evaluate(r *models.TxRequest, head models.Head) models.TxStatus {
	if IsResolved(r) {
		return models.Done
	}

	now := r.Now(head)
	settledAt := r.ExecutionWindowEnd + SettlementDelay(r.Unit)

	if r.ExecuteSubmitted {
		if now > settledAt {
			return models.Done
		}
		return models.Executed
	}

	switch {
	case now < r.ClaimWindowStart:
		return models.BeforeClaimWindow
	case now < r.FreezeStart:
		return models.ClaimWindow
	case now < r.ExecutionWindowStart:
		return models.FreezePeriod
	case now <= r.ExecutionWindowEnd:
		return models.ExecutionWindow
	case now <= settledAt:
		return models.Executed
	default:
		return models.Done
	}
}

// IsResolved reports whether the request was already executed or cancelled by any actor
func IsResolved(r *models.TxRequest) bool {
	return r.WasCalled || r.WasCancelled
}

// ActionableAt returns the coordinate at which the request next needs attention
func ActionableAt(r *models.TxRequest, status models.TxStatus) uint64 {
	switch status {
	case models.BeforeClaimWindow:
		return r.ClaimWindowStart
	case models.ClaimWindow, models.FreezePeriod:
		return r.ExecutionWindowStart
	default:
		return r.ExecutionWindowEnd
	}
}
