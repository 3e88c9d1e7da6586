package contracts

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
)

var (
	requestAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	claimer     = common.HexToAddress("0x000000000000000000000000000000000000a001")
)

// blockSchedule: window start 1120, freeze 20, claim window 100, execution 80, reserved 16
func blockSchedule() [15]*big.Int {
	var u [15]*big.Int
	for i := range u {
		u[i] = big.NewInt(0)
	}
	u[0] = big.NewInt(1e16)   // claim deposit
	u[1] = big.NewInt(1e14)   // fee
	u[3] = big.NewInt(1e15)   // bounty
	u[5] = big.NewInt(100)    // claim window size
	u[6] = big.NewInt(20)     // freeze period
	u[7] = big.NewInt(16)     // reserved window size
	u[8] = big.NewInt(1)      // temporal unit
	u[9] = big.NewInt(80)     // window size
	u[10] = big.NewInt(1120)  // window start
	u[11] = big.NewInt(90000) // call gas
	u[12] = big.NewInt(0)     // call value
	u[13] = big.NewInt(20e9)  // gas price
	u[14] = big.NewInt(2e16)  // required deposit
	return u
}

func TestToTxRequest(t *testing.T) {
	data := NewRequestData([6]common.Address{claimer}, [3]bool{}, blockSchedule())

	r, err := data.ToTxRequest(requestAddr)
	require.NoError(t, err)
	assert.Equal(t, models.UnitBlocks, r.Unit)
	assert.Equal(t, uint64(1000), r.ClaimWindowStart)
	assert.Equal(t, uint64(1100), r.FreezeStart)
	assert.Equal(t, uint64(1120), r.ExecutionWindowStart)
	assert.Equal(t, uint64(1200), r.ExecutionWindowEnd)
	assert.Equal(t, uint64(1136), r.ReservedWindowEnd)
	assert.Equal(t, uint64(90000), r.CallGas)
	assert.True(t, r.IsClaimedBy(claimer))
	assert.Equal(t, big.NewInt(2e16), r.RequiredDeposit)
	assert.Equal(t, big.NewInt(1e15), r.Bounty)
}

func TestToTxRequestRejectsBadSchedules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(u *[15]*big.Int)
		want   error
	}{
		{"unknown unit", func(u *[15]*big.Int) { u[8] = big.NewInt(3) }, models.ErrInvalidTemporalUnit},
		{"window start too early", func(u *[15]*big.Int) { u[10] = big.NewInt(50) }, models.ErrInvalidWindows},
		{"reserved window too long", func(u *[15]*big.Int) { u[7] = big.NewInt(500) }, models.ErrInvalidWindows},
		{"oversized value", func(u *[15]*big.Int) { u[9] = new(big.Int).Lsh(big.NewInt(1), 70) }, models.ErrInvalidWindows},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := blockSchedule()
			tt.mutate(&u)
			_, err := NewRequestData([6]common.Address{}, [3]bool{}, u).ToTxRequest(requestAddr)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

type fakeCaller struct {
	output []byte
	code   []byte
}

func (f *fakeCaller) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return f.code, nil
}

func (f *fakeCaller) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return f.output, nil
}

func TestRequestDataCall(t *testing.T) {
	parsed, err := TransactionRequestMetaData.GetAbi()
	require.NoError(t, err)

	packed, err := parsed.Methods["requestData"].Outputs.Pack(
		[6]common.Address{claimer},
		[3]bool{false, true, true},
		blockSchedule(),
		[1]uint8{0},
	)
	require.NoError(t, err)

	caller, err := NewTransactionRequestCaller(requestAddr, &fakeCaller{output: packed, code: []byte{1}})
	require.NoError(t, err)

	data, err := caller.RequestData(&bind.CallOpts{Context: context.Background()})
	require.NoError(t, err)
	assert.Equal(t, claimer, data.ClaimedBy)
	assert.True(t, data.WasCalled)
	assert.True(t, data.WasSuccessful)
	assert.Equal(t, big.NewInt(1120), data.WindowStart)

	r, err := data.ToTxRequest(requestAddr)
	require.NoError(t, err)
	assert.True(t, r.WasCalled)
}

func TestRequestDataWithoutCode(t *testing.T) {
	caller, err := NewTransactionRequestCaller(requestAddr, &fakeCaller{})
	require.NoError(t, err)

	_, err = caller.RequestData(&bind.CallOpts{Context: context.Background()})
	assert.ErrorIs(t, err, bind.ErrNoCode)
}

func TestPackedCalldata(t *testing.T) {
	claim, err := PackClaim()
	require.NoError(t, err)
	execute, err := PackExecute()
	require.NoError(t, err)

	assert.Len(t, claim, 4)
	assert.Len(t, execute, 4)
	assert.NotEqual(t, claim, execute)
}
