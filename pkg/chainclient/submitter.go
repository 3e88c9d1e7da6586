package chainclient

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/contracts"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/wallet"
)

// Submitter signs and sends claim and execute transactions for a set of keys
type Submitter struct {
	backend  bind.ContractTransactor
	signers  map[common.Address]*bind.TransactOpts
	accounts []common.Address
}

// NewSubmitter creates a keyed transactor per private key
func NewSubmitter(backend bind.ContractTransactor, chainID *big.Int, keys []*ecdsa.PrivateKey) (*Submitter, error) {
	if len(keys) == 0 {
		return nil, errors.New("no private keys configured")
	}
	s := &Submitter{
		backend: backend,
		signers: make(map[common.Address]*bind.TransactOpts, len(keys)),
	}
	for _, key := range keys {
		auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return nil, fmt.Errorf("failed to create transactor: %w", err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if _, dup := s.signers[addr]; dup {
			return nil, fmt.Errorf("duplicate account %s", addr.Hex())
		}
		s.signers[addr] = auth
		s.accounts = append(s.accounts, addr)
	}
	return s, nil
}

// Accounts returns the signing accounts in key order
func (s *Submitter) Accounts() []common.Address {
	out := make([]common.Address, len(s.accounts))
	copy(out, s.accounts)
	return out
}

// Submit simulates the action and sends it with the given nonce. A call that
// would revert is reported as *wallet.AbortedError and nothing is sent.
func (s *Submitter) Submit(ctx context.Context, account common.Address, nonce uint64, action wallet.Action) (common.Hash, error) {
	auth, ok := s.signers[account]
	if !ok {
		return common.Hash{}, fmt.Errorf("no key for account %s", account.Hex())
	}

	var data []byte
	var err error
	switch action.Kind {
	case models.ActionClaim:
		data, err = contracts.PackClaim()
	case models.ActionExecute:
		data, err = contracts.PackExecute()
	default:
		return common.Hash{}, fmt.Errorf("unsupported action %s", action.Kind)
	}
	if err != nil {
		return common.Hash{}, err
	}

	to := action.Request
	estimated, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     account,
		To:       &to,
		Value:    action.Value,
		GasPrice: action.GasPrice,
		Data:     data,
	})
	if err != nil {
		if isRevert(err) {
			return common.Hash{}, &wallet.AbortedError{Reason: models.ExecuteAbortedUnknown, Err: err}
		}
		return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
	}

	opts := *auth
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(nonce)
	opts.Value = action.Value
	opts.GasPrice = action.GasPrice
	opts.GasLimit = action.GasLimit
	if opts.GasLimit < estimated {
		opts.GasLimit = estimated
	}

	binding, err := contracts.NewTransactionRequestTransactor(action.Request, s.backend)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to bind request: %w", err)
	}

	switch action.Kind {
	case models.ActionClaim:
		tx, err := binding.Claim(&opts)
		if err != nil {
			return common.Hash{}, err
		}
		return tx.Hash(), nil
	default:
		tx, err := binding.Execute(&opts)
		if err != nil {
			return common.Hash{}, err
		}
		return tx.Hash(), nil
	}
}

// isRevert reports whether an estimation error is the contract reverting
// rather than a transport failure
func isRevert(err error) bool {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
