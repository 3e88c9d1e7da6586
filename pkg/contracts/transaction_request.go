package contracts

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
)

// TransactionRequestABI is the subset of the TransactionRequest contract ABI used by the agent
const TransactionRequestABI = `[
	{
		"constant": true,
		"inputs": [],
		"name": "requestData",
		"outputs": [
			{"name": "", "type": "address[6]"},
			{"name": "", "type": "bool[3]"},
			{"name": "", "type": "uint256[15]"},
			{"name": "", "type": "uint8[1]"}
		],
		"payable": false,
		"stateMutability": "view",
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [],
		"name": "claim",
		"outputs": [],
		"payable": true,
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [],
		"name": "execute",
		"outputs": [{"name": "", "type": "bool"}],
		"payable": false,
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [],
		"name": "cancel",
		"outputs": [],
		"payable": false,
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// TransactionRequestMetaData contains the parsed form of TransactionRequestABI
var TransactionRequestMetaData = &bind.MetaData{
	ABI: TransactionRequestABI,
}

// Temporal unit values stored in the request's schedule
const (
	temporalUnitBlocks    = 1
	temporalUnitTimestamp = 2
)

// RequestData is the decoded result of requestData()
type RequestData struct {
	ClaimedBy        common.Address
	CreatedBy        common.Address
	Owner            common.Address
	FeeRecipient     common.Address
	BountyBenefactor common.Address
	ToAddress        common.Address

	IsCancelled   bool
	WasCalled     bool
	WasSuccessful bool

	ClaimDeposit       *big.Int
	Fee                *big.Int
	FeeOwed            *big.Int
	Bounty             *big.Int
	BountyOwed         *big.Int
	ClaimWindowSize    *big.Int
	FreezePeriod       *big.Int
	ReservedWindowSize *big.Int
	TemporalUnit       *big.Int
	WindowSize         *big.Int
	WindowStart        *big.Int
	CallGas            *big.Int
	CallValue          *big.Int
	GasPrice           *big.Int
	RequiredDeposit    *big.Int
}

// NewRequestData maps the raw requestData() arrays onto named fields
func NewRequestData(addresses [6]common.Address, bools [3]bool, uints [15]*big.Int) RequestData {
	return RequestData{
		ClaimedBy:          addresses[0],
		CreatedBy:          addresses[1],
		Owner:              addresses[2],
		FeeRecipient:       addresses[3],
		BountyBenefactor:   addresses[4],
		ToAddress:          addresses[5],
		IsCancelled:        bools[0],
		WasCalled:          bools[1],
		WasSuccessful:      bools[2],
		ClaimDeposit:       uints[0],
		Fee:                uints[1],
		FeeOwed:            uints[2],
		Bounty:             uints[3],
		BountyOwed:         uints[4],
		ClaimWindowSize:    uints[5],
		FreezePeriod:       uints[6],
		ReservedWindowSize: uints[7],
		TemporalUnit:       uints[8],
		WindowSize:         uints[9],
		WindowStart:        uints[10],
		CallGas:            uints[11],
		CallValue:          uints[12],
		GasPrice:           uints[13],
		RequiredDeposit:    uints[14],
	}
}

// ToTxRequest derives the request windows from the on-chain schedule:
//
//	claim window:     [windowStart - freezePeriod - claimWindowSize, windowStart - freezePeriod)
//	freeze period:    [windowStart - freezePeriod, windowStart)
//	execution window: [windowStart, windowStart + windowSize]
//	reserved window:  [windowStart, windowStart + reservedWindowSize)
func (d RequestData) ToTxRequest(address common.Address) (models.TxRequest, error) {
	r := models.TxRequest{
		Address:         address,
		Bounty:          d.Bounty,
		Fee:             d.Fee,
		ClaimDeposit:    d.ClaimDeposit,
		RequiredDeposit: d.RequiredDeposit,
		CallValue:       d.CallValue,
		GasPrice:        d.GasPrice,
		Claimed:         d.ClaimedBy != (common.Address{}),
		ClaimedBy:       d.ClaimedBy,
		WasCancelled:    d.IsCancelled,
		WasCalled:       d.WasCalled,
	}

	switch uint64Of(d.TemporalUnit) {
	case temporalUnitBlocks:
		r.Unit = models.UnitBlocks
	case temporalUnitTimestamp:
		r.Unit = models.UnitTimestamp
	default:
		return r, fmt.Errorf("%w: %v", models.ErrInvalidTemporalUnit, d.TemporalUnit)
	}

	for _, v := range []*big.Int{d.WindowStart, d.WindowSize, d.FreezePeriod, d.ClaimWindowSize, d.ReservedWindowSize, d.CallGas} {
		if v != nil && !v.IsUint64() {
			return r, fmt.Errorf("%w: schedule value %v out of range", models.ErrInvalidWindows, v)
		}
	}

	windowStart := uint64Of(d.WindowStart)
	freeze := uint64Of(d.FreezePeriod)
	claimSize := uint64Of(d.ClaimWindowSize)
	if windowStart < freeze+claimSize {
		return r, fmt.Errorf("%w: window start %d before freeze %d and claim window %d",
			models.ErrInvalidWindows, windowStart, freeze, claimSize)
	}

	r.ClaimWindowStart = windowStart - freeze - claimSize
	r.FreezeStart = windowStart - freeze
	r.ExecutionWindowStart = windowStart
	r.ExecutionWindowEnd = windowStart + uint64Of(d.WindowSize)
	r.ReservedWindowEnd = windowStart + uint64Of(d.ReservedWindowSize)
	r.CallGas = uint64Of(d.CallGas)

	return r, r.Validate()
}

func uint64Of(v *big.Int) uint64 {
	if v == nil {
		return 0
	}
	return v.Uint64()
}

// TransactionRequest is a binding around a deployed TransactionRequest contract
type TransactionRequest struct {
	TransactionRequestCaller
	TransactionRequestTransactor
}

// TransactionRequestCaller is a read-only binding
type TransactionRequestCaller struct {
	contract *bind.BoundContract
}

// TransactionRequestTransactor is a write-only binding
type TransactionRequestTransactor struct {
	contract *bind.BoundContract
}

// NewTransactionRequest creates a binding of a deployed contract
func NewTransactionRequest(address common.Address, backend bind.ContractBackend) (*TransactionRequest, error) {
	contract, err := bindTransactionRequest(address, backend, backend)
	if err != nil {
		return nil, err
	}
	return &TransactionRequest{
		TransactionRequestCaller:     TransactionRequestCaller{contract: contract},
		TransactionRequestTransactor: TransactionRequestTransactor{contract: contract},
	}, nil
}

// NewTransactionRequestCaller creates a read-only binding of a deployed contract
func NewTransactionRequestCaller(address common.Address, caller bind.ContractCaller) (*TransactionRequestCaller, error) {
	contract, err := bindTransactionRequest(address, caller, nil)
	if err != nil {
		return nil, err
	}
	return &TransactionRequestCaller{contract: contract}, nil
}

// NewTransactionRequestTransactor creates a write-only binding of a deployed contract
func NewTransactionRequestTransactor(address common.Address, transactor bind.ContractTransactor) (*TransactionRequestTransactor, error) {
	contract, err := bindTransactionRequest(address, nil, transactor)
	if err != nil {
		return nil, err
	}
	return &TransactionRequestTransactor{contract: contract}, nil
}

func bindTransactionRequest(address common.Address, caller bind.ContractCaller, transactor bind.ContractTransactor) (*bind.BoundContract, error) {
	parsed, err := TransactionRequestMetaData.GetAbi()
	if err != nil {
		return nil, err
	}
	if parsed == nil {
		return nil, errors.New("GetABI returned nil")
	}
	return bind.NewBoundContract(address, *parsed, caller, transactor, nil), nil
}

// RequestData calls requestData() and decodes the result
func (c *TransactionRequestCaller) RequestData(opts *bind.CallOpts) (RequestData, error) {
	var out []interface{}
	if err := c.contract.Call(opts, &out, "requestData"); err != nil {
		return RequestData{}, err
	}
	if len(out) != 4 {
		return RequestData{}, fmt.Errorf("requestData returned %d values", len(out))
	}

	addresses := *abi.ConvertType(out[0], new([6]common.Address)).(*[6]common.Address)
	bools := *abi.ConvertType(out[1], new([3]bool)).(*[3]bool)
	uints := *abi.ConvertType(out[2], new([15]*big.Int)).(*[15]*big.Int)
	return NewRequestData(addresses, bools, uints), nil
}

// Claim submits claim() with the deposit set in opts.Value
func (t *TransactionRequestTransactor) Claim(opts *bind.TransactOpts) (*types.Transaction, error) {
	return t.contract.Transact(opts, "claim")
}

// Execute submits execute()
func (t *TransactionRequestTransactor) Execute(opts *bind.TransactOpts) (*types.Transaction, error) {
	return t.contract.Transact(opts, "execute")
}

// Cancel submits cancel()
func (t *TransactionRequestTransactor) Cancel(opts *bind.TransactOpts) (*types.Transaction, error) {
	return t.contract.Transact(opts, "cancel")
}

// PackClaim returns the calldata of claim()
func PackClaim() ([]byte, error) {
	return pack("claim")
}

// PackExecute returns the calldata of execute()
func PackExecute() ([]byte, error) {
	return pack("execute")
}

func pack(method string) ([]byte, error) {
	parsed, err := TransactionRequestMetaData.GetAbi()
	if err != nil {
		return nil, err
	}
	return parsed.Pack(method)
}
