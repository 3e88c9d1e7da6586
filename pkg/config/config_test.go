package config

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/logger"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("PRIVATE_KEYS", testKey)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, DefaultRPCURL, cfg.RPCURL)
	assert.Equal(t, []string{testKey}, cfg.PrivateKeys)
	assert.Equal(t, 5*time.Second, cfg.PollingInterval)
	assert.Equal(t, 30*time.Second, cfg.GasPriceInterval)
	assert.InDelta(t, 1.1, cfg.GasMultiplier, 1e-9)
	assert.Equal(t, "8080", cfg.MetricsPort)
	assert.Empty(t, cfg.RequestAddresses)
	assert.Equal(t, DefaultScanConcurrency, cfg.ScanConcurrency)
	assert.False(t, cfg.Claiming.Enabled)
	assert.Equal(t, big.NewInt(1e18), cfg.Claiming.MaxDeposit)
	assert.Equal(t, uint64(50), cfg.Cache.IntervalSpread)
	assert.Equal(t, 3, cfg.Cache.StaleThreshold)
	assert.Equal(t, DefaultActionTimeout, cfg.Wallet.ActionTimeout)
	assert.True(t, cfg.CircuitBreaker.Enabled)
	assert.Equal(t, logger.InfoLevel, cfg.LoggerConfig.Level)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("RPC_URL", "wss://node.example:8546")
	t.Setenv("PRIVATE_KEYS", testKey+", 0x"+testKey)
	t.Setenv("POLLING_INTERVAL", "12")
	t.Setenv("CLAIMING_ENABLED", "true")
	t.Setenv("MAX_DEPOSIT", "5000")
	t.Setenv("MIN_BOUNTY", "10")
	t.Setenv("MIN_GAS_PRICE", "1000000000")
	t.Setenv("MAX_EXECUTION_GAS", "500000")
	t.Setenv("INTERVAL_SPREAD", "25")
	t.Setenv("ACTION_TIMEOUT", "10s")
	t.Setenv("REQUEST_ADDRESSES", "0x00000000000000000000000000000000000000aa,0x00000000000000000000000000000000000000bb")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_COLORING", "false")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "wss://node.example:8546", cfg.RPCURL)
	assert.Len(t, cfg.PrivateKeys, 2)
	assert.Equal(t, 12*time.Second, cfg.PollingInterval)
	assert.True(t, cfg.Claiming.Enabled)
	assert.Equal(t, big.NewInt(5000), cfg.Claiming.MaxDeposit)
	assert.Equal(t, big.NewInt(10), cfg.Claiming.MinBounty)
	assert.Equal(t, big.NewInt(1e9), cfg.Execution.MinGasPrice)
	assert.Equal(t, uint64(500000), cfg.Execution.MaxExecutionGas)
	assert.Equal(t, uint64(25), cfg.Cache.IntervalSpread)
	assert.Equal(t, 10*time.Second, cfg.Wallet.ActionTimeout)
	assert.Equal(t, []common.Address{
		common.HexToAddress("0xaa"),
		common.HexToAddress("0xbb"),
	}, cfg.RequestAddresses)
	assert.Equal(t, logger.DebugLevel, cfg.LoggerConfig.Level)
	assert.False(t, cfg.LoggerConfig.Coloring)
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"polling interval", "POLLING_INTERVAL", "soon"},
		{"negative polling interval", "POLLING_INTERVAL", "-1"},
		{"gas multiplier", "GAS_MULTIPLIER", "0"},
		{"metrics port", "METRICS_PORT", "http"},
		{"request address", "REQUEST_ADDRESSES", "0x1234"},
		{"claiming flag", "CLAIMING_ENABLED", "yes"},
		{"deposit", "MAX_DEPOSIT", "1e18"},
		{"negative bounty", "MIN_BOUNTY", "-1"},
		{"execution gas", "MAX_EXECUTION_GAS", "-5"},
		{"spread", "INTERVAL_SPREAD", "150"},
		{"action timeout", "ACTION_TIMEOUT", "30"},
		{"breaker window", "CIRCUIT_BREAKER_WINDOW", "0s"},
		{"log level", "LOG_LEVEL", "verbose"},
		{"rpc scheme", "RPC_URL", "ftp://node"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PRIVATE_KEYS", testKey)
			t.Setenv(tt.key, tt.value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestValidateConfig(t *testing.T) {
	t.Run("missing keys", func(t *testing.T) {
		t.Setenv("PRIVATE_KEYS", "")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "PRIVATE_KEYS")
	})

	t.Run("zero deposit with claiming", func(t *testing.T) {
		t.Setenv("PRIVATE_KEYS", testKey)
		t.Setenv("CLAIMING_ENABLED", "true")
		t.Setenv("MAX_DEPOSIT", "0")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "MAX_DEPOSIT")
	})
}
