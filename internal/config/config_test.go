package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(EnvMap{"RPC_URL": "https://api.node.glif.io/rpc/v1"})

	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
	assert.Equal(t, "txcanceller.db", cfg.SQLitePath)
	assert.Equal(t, OracleFilfox, cfg.FeeOracle)
	assert.Equal(t, 5*time.Minute, cfg.StuckAfter)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 50, cfg.SweepConcurrency)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 100, cfg.LogMaxSizeMB)
	assert.Equal(t, 3, cfg.LogMaxBackups)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(EnvMap{
		"RPC_URL":           "http://localhost:8545",
		"CHAIN_ID":          "314",
		"STORE_DRIVER":      "MySQL",
		"DB_DSN":            "root:@tcp(127.0.0.1:3306)/txcanceller",
		"FEE_ORACLE":        "rpc",
		"STUCK_AFTER":       "90s",
		"SWEEP_INTERVAL":    "10s",
		"SWEEP_CONCURRENCY": "4",
		"KAFKA_BROKERS":     "a:9092, b:9092,,",
		"LOG_FILE":          "/var/log/txcanceller.log",
	})

	require.NoError(t, err)
	assert.Equal(t, uint64(314), cfg.ChainID)
	assert.Equal(t, StoreMySQL, cfg.StoreDriver)
	assert.Equal(t, OracleRPC, cfg.FeeOracle)
	assert.Equal(t, 90*time.Second, cfg.StuckAfter)
	assert.Equal(t, 10*time.Second, cfg.SweepInterval)
	assert.Equal(t, 4, cfg.SweepConcurrency)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "/var/log/txcanceller.log", cfg.LogFile)
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]EnvMap{
		"missing rpc":       {},
		"bad driver":        {"RPC_URL": "x", "STORE_DRIVER": "postgres"},
		"mysql without dsn": {"RPC_URL": "x", "STORE_DRIVER": "mysql"},
		"bad oracle":        {"RPC_URL": "x", "FEE_ORACLE": "etherscan"},
		"bad duration":      {"RPC_URL": "x", "STUCK_AFTER": "soon"},
		"negative age":      {"RPC_URL": "x", "STUCK_AFTER": "-1m"},
		"zero interval":     {"RPC_URL": "x", "SWEEP_INTERVAL": "0s"},
		"zero concurrency":  {"RPC_URL": "x", "SWEEP_CONCURRENCY": "0"},
		"bad chain id":      {"RPC_URL": "x", "CHAIN_ID": "filecoin"},
		"bad log size":      {"RPC_URL": "x", "LOG_MAX_SIZE_MB": "-5"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(env)
			assert.Error(t, err)
		})
	}

	_, err := Load(nil)
	assert.Error(t, err)
}

func TestLoad_ZeroStuckAfterAllowed(t *testing.T) {
	cfg, err := Load(EnvMap{"RPC_URL": "x", "STUCK_AFTER": "0s"})
	require.NoError(t, err)
	assert.Zero(t, cfg.StuckAfter)
}
