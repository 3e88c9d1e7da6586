package actions

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/logger"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/wallet"
)

// ClaimingPolicy decides whether to claim a request in its claim window
type ClaimingPolicy struct {
	cfg      Config
	wallet   Wallet
	gas      GasPriceSource
	attempts *attempts
	logger   logger.Logger
}

// NewClaimingPolicy creates a claiming policy. gas may be nil.
func NewClaimingPolicy(cfg Config, w Wallet, gas GasPriceSource, log logger.Logger) *ClaimingPolicy {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &ClaimingPolicy{
		cfg:      cfg.withDefaults(),
		wallet:   w,
		gas:      gas,
		attempts: newAttempts(),
		logger:   log,
	}
}

// Claim evaluates the claim conditions in order and dispatches a claim when
// none of them disqualifies the request. The first matching condition wins.
func (p *ClaimingPolicy) Claim(ctx context.Context, r models.TxRequest, head models.Head) models.ActionOutcome {
	out := outcomeFor(&r, head, models.ActionClaim)
	tick := head.Block

	if !p.cfg.ClaimingEnabled {
		out.Claim = models.ClaimNotEnabled
		return out
	}

	dispatchedThisTick := p.attempts.inTick(r.Address, models.ActionClaim, tick)
	if !dispatchedThisTick && (r.ClaimPending || p.wallet.HasPending(r.Address, models.ActionClaim)) {
		out.Claim = models.ClaimPending
		return out
	}

	account, ok := p.wallet.NextAvailableAccount()
	if !ok {
		out.Claim = models.ClaimWalletBusy
		return out
	}

	if r.Claimed {
		out.Claim = models.ClaimFailed
		return out
	}

	if dispatchedThisTick {
		out.Claim = models.ClaimInProgress
		return out
	}

	if isAbove(r.RequiredDeposit, p.cfg.MaxDeposit) || isBelow(r.Bounty, p.cfg.MinBounty) {
		p.logger.DebugWithRequest(r.Address, "Not claiming: deposit %v, bounty %v", r.RequiredDeposit, r.Bounty)
		out.Claim = models.ClaimNotProfitable
		return out
	}

	if !p.attempts.begin(r.Address, models.ActionClaim, tick) {
		out.Claim = models.ClaimInProgress
		return out
	}

	action := wallet.Action{
		Kind:     models.ActionClaim,
		Request:  r.Address,
		Value:    r.RequiredDeposit,
		GasLimit: p.cfg.ClaimGasLimit,
	}
	if p.gas != nil {
		action.GasPrice = p.gas.GasPrice()
	}

	res, err := p.wallet.Dispatch(ctx, account, action)
	out.Account = account
	if err != nil {
		p.attempts.clear(r.Address, models.ActionClaim)
		var aborted *wallet.AbortedError
		switch {
		case errors.Is(err, wallet.ErrWalletBusy):
			out.Claim = models.ClaimWalletBusy
		case errors.As(err, &aborted):
			// Usually another agent claimed first.
			p.logger.DebugWithRequest(r.Address, "Claim refused by the request: %v", err)
			out.Claim = models.ClaimFailed
		default:
			out.Claim = models.ClaimFailed
			out.Err = err
		}
		return out
	}

	out.Claim = models.ClaimSuccess
	out.TxHash = res.TxHash
	return out
}

// Forget drops the attempt bookkeeping of a request that is no longer tracked
func (p *ClaimingPolicy) Forget(request common.Address) {
	p.attempts.forget(request)
}
