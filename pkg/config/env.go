package config

import (
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethereum-alarm-clock/timenode-core-sub001/pkg/logger"
)

const (
	// DefaultRPCURL defines the node the agent connects to
	DefaultRPCURL = "http://localhost:8545"

	// DefaultPollingInterval defines the head polling interval in seconds
	DefaultPollingInterval = 5

	// DefaultGasPriceInterval defines the gas price refresh interval in seconds
	DefaultGasPriceInterval = 30

	// DefaultGasMultiplier defines the padding applied to the suggested gas price
	DefaultGasMultiplier = 1.1

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultScanConcurrency defines how many requests are processed in parallel per tick
	DefaultScanConcurrency = 8

	// DefaultClaimingEnabled defines whether the agent claims requests
	DefaultClaimingEnabled = false

	// DefaultMaxDeposit defines the largest claim deposit in wei (1 ether)
	DefaultMaxDeposit = "1000000000000000000"

	// DefaultMinBounty defines the smallest bounty worth claiming for in wei
	DefaultMinBounty = "0"

	// DefaultMinGasPrice defines the lowest request gas price the agent executes at in wei
	DefaultMinGasPrice = "0"

	// DefaultMaxExecutionGas defines the gas cap of an execute transaction, 0 means no cap
	DefaultMaxExecutionGas = 0

	// DefaultIntervalSpread defines the percentage of a bucket width within which requests are refreshed
	DefaultIntervalSpread = 50

	// DefaultStaleThreshold defines the consecutive failed reads before a request is evicted
	DefaultStaleThreshold = 3

	// DefaultActionTimeout defines the time allowed for one submission
	DefaultActionTimeout = 30 * time.Second

	// DefaultSubmissionTimeout defines how long a submission waits for its receipt
	DefaultSubmissionTimeout = 5 * time.Minute

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5 * time.Minute

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15 * time.Minute

	// DefaultLogLevel defines the default logging level
	DefaultLogLevel = logger.InfoLevel

	// DefaultLogColoring defines whether log output is colorised
	DefaultLogColoring = true
)

// GetEnvRPCURL returns the node RPC URL from environment variables
func GetEnvRPCURL() string {
	rpcURL := os.Getenv("RPC_URL")
	if rpcURL == "" {
		return DefaultRPCURL
	}
	return rpcURL
}

// GetEnvPrivateKeys returns the comma separated private keys from environment variables
func GetEnvPrivateKeys() []string {
	return splitList(os.Getenv("PRIVATE_KEYS"))
}

// GetEnvMetricsAPIKey returns the bearer key protecting the HTTP endpoints, empty disables auth
func GetEnvMetricsAPIKey() string {
	return os.Getenv("METRICS_API_KEY")
}

// GetEnvPollingInterval returns the polling interval in seconds from environment variables
func GetEnvPollingInterval() (time.Duration, error) {
	return getEnvSeconds("POLLING_INTERVAL", DefaultPollingInterval)
}

// GetEnvGasPriceInterval returns the gas price refresh interval in seconds from environment variables
func GetEnvGasPriceInterval() (time.Duration, error) {
	return getEnvSeconds("GAS_PRICE_INTERVAL", DefaultGasPriceInterval)
}

// GetEnvGasMultiplier returns the gas price multiplier from environment variables
func GetEnvGasMultiplier() (float64, error) {
	multiplier := os.Getenv("GAS_MULTIPLIER")
	if multiplier == "" {
		return DefaultGasMultiplier, nil
	}

	parsed, err := strconv.ParseFloat(multiplier, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid GAS_MULTIPLIER value: %s, must be a number", multiplier)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("GAS_MULTIPLIER must be greater than 0")
	}
	return parsed, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvRequestAddresses returns the request addresses tracked from start-up
func GetEnvRequestAddresses() ([]common.Address, error) {
	var out []common.Address
	for _, item := range splitList(os.Getenv("REQUEST_ADDRESSES")) {
		if !common.IsHexAddress(item) {
			return nil, fmt.Errorf("invalid REQUEST_ADDRESSES entry: %s, must be a valid Ethereum address", item)
		}
		out = append(out, common.HexToAddress(item))
	}
	return out, nil
}

// GetEnvScanConcurrency returns the per tick concurrency from environment variables
func GetEnvScanConcurrency() (int, error) {
	return getEnvPositiveInt("SCAN_CONCURRENCY", DefaultScanConcurrency)
}

// GetEnvClaimingEnabled returns whether claiming is enabled from environment variables
func GetEnvClaimingEnabled() (bool, error) {
	return getEnvBool("CLAIMING_ENABLED", DefaultClaimingEnabled)
}

// GetEnvMaxDeposit returns the maximum claim deposit in wei from environment variables
func GetEnvMaxDeposit() (*big.Int, error) {
	return getEnvWei("MAX_DEPOSIT", DefaultMaxDeposit)
}

// GetEnvMinBounty returns the minimum bounty in wei from environment variables
func GetEnvMinBounty() (*big.Int, error) {
	return getEnvWei("MIN_BOUNTY", DefaultMinBounty)
}

// GetEnvMinGasPrice returns the minimum execution gas price in wei from environment variables
func GetEnvMinGasPrice() (*big.Int, error) {
	return getEnvWei("MIN_GAS_PRICE", DefaultMinGasPrice)
}

// GetEnvMaxExecutionGas returns the execution gas cap from environment variables
func GetEnvMaxExecutionGas() (uint64, error) {
	maxGas := os.Getenv("MAX_EXECUTION_GAS")
	if maxGas == "" {
		return DefaultMaxExecutionGas, nil
	}

	parsed, err := strconv.ParseUint(maxGas, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_EXECUTION_GAS value: %s, must be a non-negative integer", maxGas)
	}
	return parsed, nil
}

// GetEnvIntervalSpread returns the refresh spread percentage from environment variables
func GetEnvIntervalSpread() (uint64, error) {
	spread, err := getEnvPositiveInt("INTERVAL_SPREAD", DefaultIntervalSpread)
	if err != nil {
		return 0, err
	}
	if spread > 100 {
		return 0, fmt.Errorf("INTERVAL_SPREAD must be between 1 and 100")
	}
	return uint64(spread), nil
}

// GetEnvStaleThreshold returns the failed read threshold from environment variables
func GetEnvStaleThreshold() (int, error) {
	return getEnvPositiveInt("STALE_THRESHOLD", DefaultStaleThreshold)
}

// GetEnvActionTimeout returns the submission timeout from environment variables
func GetEnvActionTimeout() (time.Duration, error) {
	return getEnvDuration("ACTION_TIMEOUT", DefaultActionTimeout)
}

// GetEnvSubmissionTimeout returns the receipt timeout from environment variables
func GetEnvSubmissionTimeout() (time.Duration, error) {
	return getEnvDuration("SUBMISSION_TIMEOUT", DefaultSubmissionTimeout)
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	return getEnvBool("CIRCUIT_BREAKER_ENABLED", DefaultCircuitBreakerEnabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	return getEnvPositiveInt("CIRCUIT_BREAKER_THRESHOLD", DefaultCircuitBreakerThreshold)
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow)
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset)
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return DefaultLogLevel, nil
	}

	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL value: %s: %w", level, err)
	}
	return parsed, nil
}

// GetEnvLogColoring returns whether log coloring is enabled from environment variables
func GetEnvLogColoring() (bool, error) {
	return getEnvBool("LOG_COLORING", DefaultLogColoring)
}

// ValidateRPCURL checks that the RPC URL is an http(s) or ws(s) URL
func ValidateRPCURL(rpcURL string) error {
	u, err := url.ParseRequestURI(rpcURL)
	if err != nil {
		return fmt.Errorf("invalid RPC_URL value: %s, must be a valid URL", rpcURL)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		return nil
	default:
		return fmt.Errorf("invalid RPC_URL scheme: %s", u.Scheme)
	}
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvSeconds(name string, def int) (time.Duration, error) {
	seconds, err := getEnvPositiveInt(name, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds) * time.Second, nil
}

func getEnvPositiveInt(name string, def int) (int, error) {
	value := os.Getenv(name)
	if value == "" {
		return def, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", name, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", name)
	}
	return parsed, nil
}

func getEnvBool(name string, def bool) (bool, error) {
	value := os.Getenv(name)
	switch value {
	case "":
		return def, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s value: %s, must be 'true' or 'false'", name, value)
}

func getEnvDuration(name string, def time.Duration) (time.Duration, error) {
	value := os.Getenv(name)
	if value == "" {
		return def, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", name, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", name)
	}
	return parsed, nil
}

func getEnvWei(name, def string) (*big.Int, error) {
	value := os.Getenv(name)
	if value == "" {
		value = def
	}

	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s value: %s, must be a valid integer string", name, value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("%s must be greater than or equal to 0", name)
	}
	return parsed, nil
}
