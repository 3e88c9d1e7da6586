package actions

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/logger"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/wallet"
)

// ExecutionPolicy decides whether to execute a request in its execution window
type ExecutionPolicy struct {
	cfg      Config
	wallet   Wallet
	gas      GasPriceSource
	attempts *attempts
	logger   logger.Logger
}

// NewExecutionPolicy creates an execution policy. gas may be nil.
func NewExecutionPolicy(cfg Config, w Wallet, gas GasPriceSource, log logger.Logger) *ExecutionPolicy {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &ExecutionPolicy{
		cfg:      cfg.withDefaults(),
		wallet:   w,
		gas:      gas,
		attempts: newAttempts(),
		logger:   log,
	}
}

// abortReason runs the abort checks in their fixed order
func (p *ExecutionPolicy) abortReason(r *models.TxRequest, now uint64) (models.ExecuteStatus, bool) {
	switch {
	case now > r.ExecutionWindowEnd:
		return models.ExecuteAbortedAfterCallWindow, true
	case now < r.ExecutionWindowStart:
		return models.ExecuteAbortedBeforeCallWindow, true
	case r.WasCalled:
		return models.ExecuteAbortedAlreadyCalled, true
	case r.WasCancelled:
		return models.ExecuteAbortedWasCancelled, true
	case r.InReservedWindow(now) && r.Claimed && !p.wallet.IsOwnAccount(r.ClaimedBy):
		return models.ExecuteAbortedReservedForClaimer, true
	case p.cfg.MaxExecutionGas > 0 && r.CallGas+p.cfg.ExecutionOverhead > p.cfg.MaxExecutionGas:
		return models.ExecuteAbortedInsufficientGas, true
	case isBelow(r.GasPrice, p.cfg.MinGasPrice) || isBelow(r.GasPrice, p.chainGasPrice()):
		return models.ExecuteAbortedTooLowGasPrice, true
	}
	return models.ExecuteSuccess, false
}

func (p *ExecutionPolicy) chainGasPrice() *big.Int {
	if p.gas == nil {
		return nil
	}
	return p.gas.NetworkGasPrice()
}

// pickAccount returns the account to execute from. While the claimer's
// priority window is open, a request claimed by one of our accounts must be
// executed from that account.
func (p *ExecutionPolicy) pickAccount(r *models.TxRequest, now uint64) (common.Address, bool) {
	if r.InReservedWindow(now) && r.Claimed && p.wallet.IsOwnAccount(r.ClaimedBy) {
		if p.wallet.IsBusy(r.ClaimedBy) {
			return common.Address{}, false
		}
		return r.ClaimedBy, true
	}
	return p.wallet.NextAvailableAccount()
}

// Execute checks every abort condition and dispatches an execute transaction
// when none applies. SUCCESS means the transaction was accepted for submission.
func (p *ExecutionPolicy) Execute(ctx context.Context, r models.TxRequest, head models.Head) models.ActionOutcome {
	out := outcomeFor(&r, head, models.ActionExecute)
	now := r.Now(head)

	if reason, abort := p.abortReason(&r, now); abort {
		p.logger.InfoWithRequest(r.Address, "Not executing: %s", reason)
		out.Execute = reason
		return out
	}

	account, ok := p.pickAccount(&r, now)
	if !ok {
		out.Execute = models.ExecuteWalletBusy
		return out
	}

	if !p.attempts.begin(r.Address, models.ActionExecute, head.Block) {
		out.Execute = models.ExecuteInProgress
		return out
	}

	action := wallet.Action{
		Kind:     models.ActionExecute,
		Request:  r.Address,
		GasLimit: r.CallGas + p.cfg.ExecutionOverhead,
		GasPrice: r.GasPrice,
	}

	res, err := p.wallet.Dispatch(ctx, account, action)
	out.Account = account
	if err != nil {
		p.attempts.clear(r.Address, models.ActionExecute)
		out.Execute, out.Err = classifyExecuteError(err)
		return out
	}

	out.Execute = models.ExecuteSuccess
	out.TxHash = res.TxHash
	return out
}

// classifyExecuteError maps a dispatch error onto an execute outcome. Aborts
// reported by the request are expected and carry no error.
func classifyExecuteError(err error) (models.ExecuteStatus, error) {
	var aborted *wallet.AbortedError
	switch {
	case errors.As(err, &aborted):
		if aborted.Reason.IsAbort() {
			return aborted.Reason, nil
		}
		return models.ExecuteAbortedUnknown, nil
	case errors.Is(err, wallet.ErrWalletBusy):
		return models.ExecuteWalletBusy, nil
	default:
		return models.ExecuteUnknownError, err
	}
}

// Forget drops the attempt bookkeeping of a request that is no longer tracked
func (p *ExecutionPolicy) Forget(request common.Address) {
	p.attempts.forget(request)
}
