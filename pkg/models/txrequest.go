package models

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TemporalUnit selects the coordinate space a request is scheduled in
type TemporalUnit int

const (
	// UnitBlocks schedules a request against block numbers
	UnitBlocks TemporalUnit = 1
	// UnitTimestamp schedules a request against unix timestamps
	UnitTimestamp TemporalUnit = 2
)

func (u TemporalUnit) String() string {
	switch u {
	case UnitBlocks:
		return "blocks"
	case UnitTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("unit(%d)", int(u))
	}
}

// Valid reports whether the unit is one of the known scheduling spaces
func (u TemporalUnit) Valid() bool {
	return u == UnitBlocks || u == UnitTimestamp
}

var (
	// ErrInvalidTemporalUnit is returned for requests with an unknown scheduling space
	ErrInvalidTemporalUnit = errors.New("invalid temporal unit")
	// ErrInvalidWindows is returned when the window boundaries of a request are not ordered
	ErrInvalidWindows = errors.New("invalid request windows")
	// ErrZeroAddress is returned for requests without an address
	ErrZeroAddress = errors.New("request address is zero")
	// ErrRequestNotFound is returned when an address no longer resolves to a request on chain
	ErrRequestNotFound = errors.New("request not found")
)

// IsIntegrityError reports whether err marks request data as structurally invalid
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrInvalidWindows) ||
		errors.Is(err, ErrInvalidTemporalUnit) ||
		errors.Is(err, ErrZeroAddress)
}

// Head is a chain coordinate: a block number and that block's timestamp
type Head struct {
	Block     uint64
	Timestamp uint64
}

// TxRequest is one scheduled transaction known to the agent
type TxRequest struct {
	Address common.Address
	Unit    TemporalUnit

	// Window boundaries, all expressed in Unit
	ClaimWindowStart     uint64
	FreezeStart          uint64
	ExecutionWindowStart uint64
	ExecutionWindowEnd   uint64
	ReservedWindowEnd    uint64

	// Economic parameters
	Bounty          *big.Int
	Fee             *big.Int
	ClaimDeposit    *big.Int
	RequiredDeposit *big.Int
	CallValue       *big.Int
	CallGas         uint64
	GasPrice        *big.Int

	// On-chain claim and resolution state
	Claimed      bool
	ClaimedBy    common.Address
	ClaimPending bool
	WasCancelled bool
	WasCalled    bool

	// Locally observed state
	ClaimSubmitted   bool
	ExecuteSubmitted bool
	Status           TxStatus
}

// Now returns the coordinate of head in the request's temporal unit
func (r *TxRequest) Now(head Head) uint64 {
	if r.Unit == UnitTimestamp {
		return head.Timestamp
	}
	return head.Block
}

// InReservedWindow reports whether now falls in the claimer-priority sub-window
func (r *TxRequest) InReservedWindow(now uint64) bool {
	return now >= r.ExecutionWindowStart && now < r.ReservedWindowEnd
}

// IsClaimedBy reports whether the request is claimed by the given account
func (r *TxRequest) IsClaimedBy(account common.Address) bool {
	return r.Claimed && r.ClaimedBy == account
}

// Validate checks the structural integrity of a request
func (r *TxRequest) Validate() error {
	if r.Address == (common.Address{}) {
		return ErrZeroAddress
	}
	if !r.Unit.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidTemporalUnit, int(r.Unit))
	}
	if r.ClaimWindowStart > r.FreezeStart ||
		r.FreezeStart > r.ExecutionWindowStart ||
		r.ExecutionWindowStart > r.ExecutionWindowEnd {
		return fmt.Errorf("%w: claim %d, freeze %d, execution %d-%d", ErrInvalidWindows,
			r.ClaimWindowStart, r.FreezeStart, r.ExecutionWindowStart, r.ExecutionWindowEnd)
	}
	if r.ReservedWindowEnd != 0 &&
		(r.ReservedWindowEnd < r.ExecutionWindowStart || r.ReservedWindowEnd > r.ExecutionWindowEnd+1) {
		return fmt.Errorf("%w: reserved window end %d outside execution window", ErrInvalidWindows, r.ReservedWindowEnd)
	}
	return nil
}

// Clone returns a deep copy safe to hand out of the cache
func (r *TxRequest) Clone() TxRequest {
	c := *r
	c.Bounty = cloneInt(r.Bounty)
	c.Fee = cloneInt(r.Fee)
	c.ClaimDeposit = cloneInt(r.ClaimDeposit)
	c.RequiredDeposit = cloneInt(r.RequiredDeposit)
	c.CallValue = cloneInt(r.CallValue)
	c.GasPrice = cloneInt(r.GasPrice)
	return c
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
