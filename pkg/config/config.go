package config

import (
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/logger"
)

// Config holds the configuration of the TimeNode
type Config struct {
	RPCURL           string
	PrivateKeys      []string
	PollingInterval  time.Duration
	GasPriceInterval time.Duration
	GasMultiplier    float64
	MetricsPort      string
	MetricsAPIKey    string
	RequestAddresses []common.Address
	ScanConcurrency  int
	Claiming         ClaimingConfig
	Execution        ExecutionConfig
	Cache            CacheConfig
	Wallet           WalletConfig
	CircuitBreaker   CircuitBreakerConfig
	LoggerConfig     LoggerConfig
}

// ClaimingConfig holds the claiming economics
type ClaimingConfig struct {
	Enabled    bool
	MaxDeposit *big.Int
	MinBounty  *big.Int
}

// ExecutionConfig holds the execution limits
type ExecutionConfig struct {
	MinGasPrice     *big.Int
	MaxExecutionGas uint64
}

// CacheConfig holds the request cache tuning
type CacheConfig struct {
	IntervalSpread uint64
	StaleThreshold int
}

// WalletConfig holds the wallet guard timeouts
type WalletConfig struct {
	ActionTimeout     time.Duration
	SubmissionTimeout time.Duration
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}
	return FromEnv()
}

// FromEnv builds the configuration from the current environment
func FromEnv() (*Config, error) {
	cfg := &Config{
		RPCURL:        GetEnvRPCURL(),
		PrivateKeys:   GetEnvPrivateKeys(),
		MetricsAPIKey: GetEnvMetricsAPIKey(),
	}
	var err error

	if cfg.PollingInterval, err = GetEnvPollingInterval(); err != nil {
		return nil, err
	}
	if cfg.GasPriceInterval, err = GetEnvGasPriceInterval(); err != nil {
		return nil, err
	}
	if cfg.GasMultiplier, err = GetEnvGasMultiplier(); err != nil {
		return nil, err
	}
	if cfg.MetricsPort, err = GetEnvMetricsPort(); err != nil {
		return nil, err
	}
	if cfg.RequestAddresses, err = GetEnvRequestAddresses(); err != nil {
		return nil, err
	}
	if cfg.ScanConcurrency, err = GetEnvScanConcurrency(); err != nil {
		return nil, err
	}

	if cfg.Claiming.Enabled, err = GetEnvClaimingEnabled(); err != nil {
		return nil, err
	}
	if cfg.Claiming.MaxDeposit, err = GetEnvMaxDeposit(); err != nil {
		return nil, err
	}
	if cfg.Claiming.MinBounty, err = GetEnvMinBounty(); err != nil {
		return nil, err
	}
	if cfg.Execution.MinGasPrice, err = GetEnvMinGasPrice(); err != nil {
		return nil, err
	}
	if cfg.Execution.MaxExecutionGas, err = GetEnvMaxExecutionGas(); err != nil {
		return nil, err
	}

	if cfg.Cache.IntervalSpread, err = GetEnvIntervalSpread(); err != nil {
		return nil, err
	}
	if cfg.Cache.StaleThreshold, err = GetEnvStaleThreshold(); err != nil {
		return nil, err
	}
	if cfg.Wallet.ActionTimeout, err = GetEnvActionTimeout(); err != nil {
		return nil, err
	}
	if cfg.Wallet.SubmissionTimeout, err = GetEnvSubmissionTimeout(); err != nil {
		return nil, err
	}

	if cfg.CircuitBreaker.Enabled, err = GetEnvCircuitBreakerEnabled(); err != nil {
		return nil, err
	}
	if cfg.CircuitBreaker.Threshold, err = GetEnvCircuitBreakerThreshold(); err != nil {
		return nil, err
	}
	if cfg.CircuitBreaker.WindowDuration, err = GetEnvCircuitBreakerWindow(); err != nil {
		return nil, err
	}
	if cfg.CircuitBreaker.ResetTimeout, err = GetEnvCircuitBreakerReset(); err != nil {
		return nil, err
	}

	if cfg.LoggerConfig.Level, err = GetEnvLogLevel(); err != nil {
		return nil, err
	}
	if cfg.LoggerConfig.Coloring, err = GetEnvLogColoring(); err != nil {
		return nil, err
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("RPC_URL environment variable is required")
	}
	if err := ValidateRPCURL(cfg.RPCURL); err != nil {
		return err
	}
	if len(cfg.PrivateKeys) == 0 {
		return fmt.Errorf("PRIVATE_KEYS environment variable is required")
	}
	if cfg.Claiming.Enabled && cfg.Claiming.MaxDeposit != nil && cfg.Claiming.MaxDeposit.Sign() == 0 {
		return fmt.Errorf("MAX_DEPOSIT must be greater than 0 when claiming is enabled")
	}
	return nil
}
