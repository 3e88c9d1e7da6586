package chainclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/contracts"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
)

// RequestReader reads TransactionRequest contracts
type RequestReader struct {
	caller bind.ContractCaller
}

// NewRequestReader creates a reader on top of a contract caller
func NewRequestReader(caller bind.ContractCaller) *RequestReader {
	return &RequestReader{caller: caller}
}

// ReadRequest returns the current on-chain state of the request at address.
// An address without code yields models.ErrRequestNotFound.
func (r *RequestReader) ReadRequest(ctx context.Context, address common.Address) (models.TxRequest, error) {
	binding, err := contracts.NewTransactionRequestCaller(address, r.caller)
	if err != nil {
		return models.TxRequest{}, fmt.Errorf("failed to bind request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	data, err := binding.RequestData(&bind.CallOpts{Context: timeoutCtx})
	if errors.Is(err, bind.ErrNoCode) {
		return models.TxRequest{}, fmt.Errorf("%w: %s", models.ErrRequestNotFound, address.Hex())
	}
	if err != nil {
		return models.TxRequest{}, fmt.Errorf("failed to read request data: %w", err)
	}

	request, err := data.ToTxRequest(address)
	if err != nil || request.Claimed {
		return request, err
	}
	request.ClaimPending = r.claimInPending(timeoutCtx, binding)
	return request, nil
}

// claimInPending reports whether the node's pending state shows a claim that
// is not mined yet. Backends without pending state report none.
func (r *RequestReader) claimInPending(ctx context.Context, binding *contracts.TransactionRequestCaller) bool {
	if _, ok := r.caller.(bind.PendingContractCaller); !ok {
		return false
	}
	pending, err := binding.RequestData(&bind.CallOpts{Context: ctx, Pending: true})
	if err != nil {
		return false
	}
	return pending.ClaimedBy != (common.Address{})
}
