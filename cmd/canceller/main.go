package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"txcanceller/internal/config"
	"txcanceller/internal/infrastructure/logging"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

var (
	cfg        config.Config
	logLevel   string
	logCloser  io.Closer
	storeFlag  string
	oracleFlag string
)

var rootCmd = &cobra.Command{
	Use:               "canceller",
	Short:             "Replace stuck transactions with same-nonce self transfers",
	Version:           fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildTime),
	SilenceUsage:      true,
	PersistentPreRunE: rootCmdPreRun,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Pending store driver (memory, sqlite, mysql); overrides STORE_DRIVER")
	rootCmd.PersistentFlags().StringVar(&oracleFlag, "fee-oracle", "", "Fee oracle (filfox, rpc); overrides FEE_ORACLE")
}

func rootCmdPreRun(cmd *cobra.Command, args []string) error {
	loaded, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if logLevel != "" {
		loaded.LogLevel = logLevel
	}
	if storeFlag != "" {
		loaded.StoreDriver = strings.ToLower(storeFlag)
	}
	if oracleFlag != "" {
		loaded.FeeOracle = strings.ToLower(oracleFlag)
	}
	cfg = loaded

	closer, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		return fmt.Errorf("logging error: %w", err)
	}
	logCloser = closer
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
