package models

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// TxStatus is the lifecycle stage of a scheduled request
type TxStatus int

const (
	BeforeClaimWindow TxStatus = iota
	ClaimWindow
	FreezePeriod
	ExecutionWindow
	Executed
	Done
)

var txStatusNames = map[TxStatus]string{
	BeforeClaimWindow: "BeforeClaimWindow",
	ClaimWindow:       "ClaimWindow",
	FreezePeriod:      "FreezePeriod",
	ExecutionWindow:   "ExecutionWindow",
	Executed:          "Executed",
	Done:              "Done",
}

func (s TxStatus) String() string {
	if name, ok := txStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TxStatus(%d)", int(s))
}

// IsTerminal reports whether the state machine never leaves this status on its own
func (s TxStatus) IsTerminal() bool {
	return s == Executed || s == Done
}

// ActionKind identifies which action, if any, an outcome reports on
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionClaim
	ActionExecute
)

func (k ActionKind) String() string {
	switch k {
	case ActionNone:
		return "none"
	case ActionClaim:
		return "claim"
	case ActionExecute:
		return "execute"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// ClaimStatus is the outcome code of a claim attempt
type ClaimStatus int

const (
	ClaimSuccess ClaimStatus = iota
	ClaimNotEnabled
	ClaimPending
	ClaimWalletBusy
	ClaimFailed
	ClaimInProgress
	ClaimNotProfitable
)

// Display text is kept apart from the tag; policy code never matches on it.
var claimStatusText = map[ClaimStatus]string{
	ClaimSuccess:       "claimed",
	ClaimNotEnabled:    "claiming is not enabled",
	ClaimPending:       "another claim is pending for this request",
	ClaimWalletBusy:    "no idle account available to claim",
	ClaimFailed:        "claim failed",
	ClaimInProgress:    "claim already in progress",
	ClaimNotProfitable: "claim not profitable",
}

var claimStatusCodes = map[ClaimStatus]string{
	ClaimSuccess:       "SUCCESS",
	ClaimNotEnabled:    "NOT_ENABLED",
	ClaimPending:       "PENDING",
	ClaimWalletBusy:    "WALLET_BUSY",
	ClaimFailed:        "FAILED",
	ClaimInProgress:    "IN_PROGRESS",
	ClaimNotProfitable: "NOT_PROFITABLE",
}

// Code returns the stable identifier of the status, used for metrics labels
func (s ClaimStatus) Code() string {
	if code, ok := claimStatusCodes[s]; ok {
		return code
	}
	return "UNKNOWN"
}

func (s ClaimStatus) String() string {
	if text, ok := claimStatusText[s]; ok {
		return text
	}
	return fmt.Sprintf("ClaimStatus(%d)", int(s))
}

// ExecuteStatus is the outcome code of an execute attempt
type ExecuteStatus int

const (
	ExecuteSuccess ExecuteStatus = iota
	ExecuteAbortedAfterCallWindow
	ExecuteAbortedAlreadyCalled
	ExecuteAbortedWasCancelled
	ExecuteAbortedReservedForClaimer
	ExecuteAbortedInsufficientGas
	ExecuteAbortedTooLowGasPrice
	ExecuteAbortedBeforeCallWindow
	ExecuteAbortedUnknown
	ExecuteWalletBusy
	ExecuteInProgress
	ExecuteUnknownError
)

var executeStatusText = map[ExecuteStatus]string{
	ExecuteSuccess:                   "executed",
	ExecuteAbortedAfterCallWindow:    "aborted: execution window already ended",
	ExecuteAbortedAlreadyCalled:      "aborted: request already called",
	ExecuteAbortedWasCancelled:       "aborted: request was cancelled",
	ExecuteAbortedReservedForClaimer: "aborted: reserved for claimer",
	ExecuteAbortedInsufficientGas:    "aborted: insufficient gas",
	ExecuteAbortedTooLowGasPrice:     "aborted: too low gas price",
	ExecuteAbortedBeforeCallWindow:   "aborted: before call window",
	ExecuteAbortedUnknown:            "aborted: unknown reason",
	ExecuteWalletBusy:                "no idle account available to execute",
	ExecuteInProgress:                "execution already in progress",
	ExecuteUnknownError:              "unknown error",
}

var executeStatusCodes = map[ExecuteStatus]string{
	ExecuteSuccess:                   "SUCCESS",
	ExecuteAbortedAfterCallWindow:    "ABORTED_AFTER_CALL_WINDOW",
	ExecuteAbortedAlreadyCalled:      "ABORTED_ALREADY_CALLED",
	ExecuteAbortedWasCancelled:       "ABORTED_WAS_CANCELLED",
	ExecuteAbortedReservedForClaimer: "ABORTED_RESERVED_FOR_CLAIMER",
	ExecuteAbortedInsufficientGas:    "ABORTED_INSUFFICIENT_GAS",
	ExecuteAbortedTooLowGasPrice:     "ABORTED_TOO_LOW_GAS_PRICE",
	ExecuteAbortedBeforeCallWindow:   "ABORTED_BEFORE_CALL_WINDOW",
	ExecuteAbortedUnknown:            "ABORTED_UNKNOWN",
	ExecuteWalletBusy:                "WALLET_BUSY",
	ExecuteInProgress:                "IN_PROGRESS",
	ExecuteUnknownError:              "UNKNOWN_ERROR",
}

// Code returns the stable identifier of the status, used for metrics labels
func (s ExecuteStatus) Code() string {
	if code, ok := executeStatusCodes[s]; ok {
		return code
	}
	return "UNKNOWN"
}

func (s ExecuteStatus) String() string {
	if text, ok := executeStatusText[s]; ok {
		return text
	}
	return fmt.Sprintf("ExecuteStatus(%d)", int(s))
}

// IsAbort reports whether the status is one of the enumerated policy aborts
func (s ExecuteStatus) IsAbort() bool {
	switch s {
	case ExecuteAbortedAfterCallWindow,
		ExecuteAbortedAlreadyCalled,
		ExecuteAbortedWasCancelled,
		ExecuteAbortedReservedForClaimer,
		ExecuteAbortedInsufficientGas,
		ExecuteAbortedTooLowGasPrice,
		ExecuteAbortedBeforeCallWindow,
		ExecuteAbortedUnknown:
		return true
	}
	return false
}

// ActionOutcome is the result of processing one request during one tick
type ActionOutcome struct {
	Request common.Address
	Kind    ActionKind
	Claim   ClaimStatus
	Execute ExecuteStatus
	State   TxStatus
	Head    Head
	Account common.Address
	TxHash  common.Hash
	Err     error
}

// Code returns the outcome code of the action the outcome carries
func (o ActionOutcome) Code() string {
	switch o.Kind {
	case ActionClaim:
		return o.Claim.Code()
	case ActionExecute:
		return o.Execute.Code()
	default:
		return "NO_ACTION"
	}
}

func (o ActionOutcome) String() string {
	switch o.Kind {
	case ActionClaim:
		return fmt.Sprintf("%s claim: %s", o.Request.Hex(), o.Claim)
	case ActionExecute:
		return fmt.Sprintf("%s execute: %s", o.Request.Hex(), o.Execute)
	default:
		return fmt.Sprintf("%s %s: no action", o.Request.Hex(), o.State)
	}
}
