package timenode

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/config"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/contracts"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/models"
	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/wallet"
)

var (
	account     = common.HexToAddress("0x000000000000000000000000000000000000a001")
	requestAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

// fakeChain serves one block-scheduled request: claim window 1000-1099,
// execution window 1120-1200
type fakeChain struct {
	mu       sync.Mutex
	block    uint64
	contract []byte
}

func newFakeChain(t *testing.T, block uint64) *fakeChain {
	t.Helper()
	parsed, err := contracts.TransactionRequestMetaData.GetAbi()
	require.NoError(t, err)

	var u [15]*big.Int
	for i := range u {
		u[i] = big.NewInt(0)
	}
	u[3] = big.NewInt(1e15)   // bounty
	u[5] = big.NewInt(100)    // claim window size
	u[6] = big.NewInt(20)     // freeze period
	u[7] = big.NewInt(16)     // reserved window size
	u[8] = big.NewInt(1)      // blocks
	u[9] = big.NewInt(80)     // window size
	u[10] = big.NewInt(1120)  // window start
	u[11] = big.NewInt(90000) // call gas
	u[13] = big.NewInt(20e9)  // gas price
	u[14] = big.NewInt(1e16)  // required deposit

	packed, err := parsed.Methods["requestData"].Outputs.Pack([6]common.Address{}, [3]bool{}, u, [1]uint8{0})
	require.NoError(t, err)
	return &fakeChain{block: block, contract: packed}
}

func (f *fakeChain) setBlock(block uint64) {
	f.mu.Lock()
	f.block = block
	f.mu.Unlock()
}

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &types.Header{Number: new(big.Int).SetUint64(f.block), Time: f.block * 12}, nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(10e9), nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 4, nil
}

func (f *fakeChain) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (f *fakeChain) CodeAt(_ context.Context, addr common.Address, _ *big.Int) ([]byte, error) {
	if addr == requestAddr {
		return []byte{1}, nil
	}
	return nil, nil
}

func (f *fakeChain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if call.To != nil && *call.To == requestAddr {
		return f.contract, nil
	}
	return nil, nil
}

type recordingSubmitter struct {
	mu      sync.Mutex
	actions []wallet.Action
	nonces  []uint64
}

func (r *recordingSubmitter) Submit(_ context.Context, _ common.Address, nonce uint64, action wallet.Action) (common.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	r.nonces = append(r.nonces, nonce)
	return common.BigToHash(new(big.Int).SetUint64(nonce + 1)), nil
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("PRIVATE_KEYS", "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv("CLAIMING_ENABLED", "true")
	t.Setenv("METRICS_PORT", "0")
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	cfg.PollingInterval = 5 * time.Millisecond
	cfg.GasPriceInterval = time.Hour
	return cfg
}

func newService(t *testing.T, chain *fakeChain, sub *recordingSubmitter) *Service {
	t.Helper()
	s, err := New(testConfig(t), Deps{Backend: chain, Submitter: sub, Accounts: []common.Address{account}}, nil)
	require.NoError(t, err)
	return s
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(testConfig(t), Deps{}, nil)
	assert.Error(t, err)
}

func TestTrackAndClaim(t *testing.T) {
	chain := newFakeChain(t, 1000)
	sub := &recordingSubmitter{}
	s := newService(t, chain, sub)

	assert.Error(t, s.Ready())
	require.NoError(t, s.TrackAddress(context.Background(), requestAddr))
	require.Len(t, s.Requests(), 1)

	assert.Error(t, s.TrackAddress(context.Background(), common.HexToAddress("0xdead")))

	s.handleHead(context.Background(), models.Head{Block: 1000, Timestamp: 12000})
	assert.NoError(t, s.Ready())

	require.Equal(t, 1, sub.count())
	assert.Equal(t, models.ActionClaim, sub.actions[0].Kind)
	assert.Equal(t, big.NewInt(1e16), sub.actions[0].Value)
	assert.Equal(t, uint64(4), sub.nonces[0])

	head, ok := s.LastHead()
	assert.True(t, ok)
	assert.Equal(t, uint64(1000), head.Block)

	// Stale heads are skipped without side effects.
	s.handleHead(context.Background(), models.Head{Block: 999})
	assert.Equal(t, 1, sub.count())

	accounts := s.Accounts()
	require.Len(t, accounts, 1)
	assert.Equal(t, uint64(5), accounts[0].NextNonce)

	assert.True(t, s.UntrackRequest(requestAddr))
	assert.Empty(t, s.Requests())
}

func TestBreakerControls(t *testing.T) {
	s := newService(t, newFakeChain(t, 1), &recordingSubmitter{})
	state := s.BreakerState()
	assert.True(t, state.Enabled)
	assert.False(t, state.Tripped)
	s.ResetBreaker()
	assert.False(t, s.BreakerState().Tripped)
}

func TestStartRunsUntilCancelled(t *testing.T) {
	chain := newFakeChain(t, 990)
	sub := &recordingSubmitter{}
	cfg := testConfig(t)
	cfg.RequestAddresses = []common.Address{requestAddr}

	s, err := New(cfg, Deps{Backend: chain, Submitter: sub, Accounts: []common.Address{account}}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return len(s.Requests()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.Ready() == nil }, 2*time.Second, 5*time.Millisecond)

	chain.setBlock(1001)
	require.Eventually(t, func() bool { return sub.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return s.Stats().Total >= 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}
