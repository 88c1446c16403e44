package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"

	OracleFilfox = "filfox"
	OracleRPC    = "rpc"
)

type Config struct {
	RPCURL           string
	PrivateKey       string
	ChainID          uint64
	StoreDriver      string
	SQLitePath       string
	DBDSN            string
	RedisAddr        string
	ClickhouseDSN    string
	FeeOracle        string
	FilfoxURL        string
	StuckAfter       time.Duration
	SweepInterval    time.Duration
	SweepConcurrency int
	HTTPAddr         string
	OtelEndpoint     string
	KafkaBrokers     []string
	KafkaTopic       string
	LogLevel         string
	LogFile          string
	LogMaxSizeMB     int
	LogMaxBackups    int
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	rpcURL := lookupString(source, "RPC_URL", "")
	if rpcURL == "" {
		return Config{}, errors.New("RPC_URL is required")
	}

	chainID, err := parseUintEnv(source, "CHAIN_ID", 0)
	if err != nil {
		return Config{}, err
	}

	storeDriver := strings.ToLower(lookupString(source, "STORE_DRIVER", StoreSQLite))
	switch storeDriver {
	case StoreMemory, StoreSQLite, StoreMySQL:
	default:
		return Config{}, fmt.Errorf("invalid STORE_DRIVER %q: want memory, sqlite or mysql", storeDriver)
	}
	dbDSN := lookupString(source, "DB_DSN", "")
	if storeDriver == StoreMySQL && dbDSN == "" {
		return Config{}, errors.New("DB_DSN is required when STORE_DRIVER=mysql")
	}

	feeOracle := strings.ToLower(lookupString(source, "FEE_ORACLE", OracleFilfox))
	switch feeOracle {
	case OracleFilfox, OracleRPC:
	default:
		return Config{}, fmt.Errorf("invalid FEE_ORACLE %q: want filfox or rpc", feeOracle)
	}

	stuckAfter, err := parseDurationEnv(source, "STUCK_AFTER", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	if stuckAfter < 0 {
		return Config{}, errors.New("STUCK_AFTER must not be negative")
	}
	sweepInterval, err := parseDurationEnv(source, "SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return Config{}, err
	}
	if sweepInterval <= 0 {
		return Config{}, errors.New("SWEEP_INTERVAL must be positive")
	}
	concurrency, err := parseUintEnv(source, "SWEEP_CONCURRENCY", 50)
	if err != nil {
		return Config{}, err
	}
	if concurrency == 0 {
		return Config{}, errors.New("SWEEP_CONCURRENCY must be positive")
	}

	logMaxSize, err := parseUintEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseUintEnv(source, "LOG_MAX_BACKUPS", 3)
	if err != nil {
		return Config{}, err
	}

	return Config{
		RPCURL:           rpcURL,
		PrivateKey:       lookupString(source, "PRIVATE_KEY", ""),
		ChainID:          chainID,
		StoreDriver:      storeDriver,
		SQLitePath:       lookupString(source, "SQLITE_PATH", "txcanceller.db"),
		DBDSN:            dbDSN,
		RedisAddr:        lookupString(source, "REDIS_ADDR", ""),
		ClickhouseDSN:    lookupString(source, "CLICKHOUSE_DSN", ""),
		FeeOracle:        feeOracle,
		FilfoxURL:        lookupString(source, "FILFOX_URL", "https://filfox.info/api/v1"),
		StuckAfter:       stuckAfter,
		SweepInterval:    sweepInterval,
		SweepConcurrency: int(concurrency),
		HTTPAddr:         lookupString(source, "HTTP_ADDR", ":8080"),
		OtelEndpoint:     lookupString(source, "OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		KafkaBrokers:     parseList(source, "KAFKA_BROKERS"),
		KafkaTopic:       lookupString(source, "KAFKA_TOPIC", "txcanceller-replacements"),
		LogLevel:         lookupString(source, "LOG_LEVEL", "info"),
		LogFile:          lookupString(source, "LOG_FILE", ""),
		LogMaxSizeMB:     int(logMaxSize),
		LogMaxBackups:    int(logMaxBackups),
	}, nil
}

func lookupString(source EnvSource, key, defaultValue string) string {
	raw, ok := source.Lookup(key)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return defaultValue
	}
	return raw
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw := lookupString(source, key, "")
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw := lookupString(source, key, "")
	if raw == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseList(source EnvSource, key string) []string {
	var values []string
	for _, item := range strings.Split(lookupString(source, key, ""), ",") {
		if value := strings.TrimSpace(item); value != "" {
			values = append(values, value)
		}
	}
	return values
}
