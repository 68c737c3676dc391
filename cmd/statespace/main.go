package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "statespace",
		Short:        "In-memory AMM pool state kept in sync with the chain",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Build the state space and follow the chain head",
		RunE:  runSync,
	}
	addCommonFlags(syncCmd.Flags())
	addBuildFlags(syncCmd.Flags())
	syncCmd.Flags().Duration("poll-interval", 2*time.Second, "head polling interval")
	syncCmd.Flags().String("metrics-addr", "", "listen address for Prometheus metrics, empty disables")

	root.AddCommand(syncCmd)

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Find factories by scanning pool creation events",
		RunE:  runDiscover,
	}
	addCommonFlags(discoverCmd.Flags())
	discoverCmd.Flags().Uint64("discovery-from", 0, "first block to scan")
	discoverCmd.Flags().Uint64("discovery-to", 0, "last block to scan, 0 means latest")
	discoverCmd.Flags().Uint64("discovery-step", 10000, "blocks per log query")
	discoverCmd.Flags().Uint64("discovery-threshold", 10, "minimum pools created for a factory to qualify")
	discoverCmd.Flags().Int("concurrency", 8, "in-flight log queries")

	root.AddCommand(discoverCmd)

	priceCmd := &cobra.Command{
		Use:   "price",
		Short: "Print the price of a pool from a saved snapshot",
		RunE:  runPrice,
	}
	addCommonFlags(priceCmd.Flags())
	addSnapshotFlags(priceCmd.Flags())
	priceCmd.Flags().String("pool", "", "pool address")
	priceCmd.Flags().String("base", "", "base token address")
	priceCmd.Flags().String("quote", "", "quote token address")
	priceCmd.Flags().String("amount-in", "", "optional base amount to simulate a swap with")

	root.AddCommand(priceCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "", "RPC URL")
	flags.Int("max-retries", 5, "maximum retry attempts")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func addSnapshotFlags(flags *pflag.FlagSet) {
	flags.String("snapshot", "", "JSONL snapshot path")
	flags.String("snapshot-name", "default", "snapshot name in Postgres")
	flags.String("pg-dsn", "", "Postgres DSN, takes precedence over --snapshot")
}

func addBuildFlags(flags *pflag.FlagSet) {
	flags.StringSlice("factories", nil, "factories as kind:address:creation_block[:fee] (comma-separated)")
	flags.Bool("discovery", false, "discover factories from pool creation events")
	flags.Uint64("discovery-from", 0, "first block to scan, 0 means the earliest configured factory")
	flags.Uint64("discovery-step", 10000, "blocks per discovery log query")
	flags.Uint64("discovery-threshold", 10, "minimum pools created for a factory to qualify")
	flags.Int("concurrency", 8, "in-flight batches")
	flags.Int("page-size", 766, "pair indexes read per batch")
	flags.Int("chunk-size", 127, "pools per state batch")
	flags.Uint64("log-step", 10000, "blocks per log query during backfill")
	flags.Bool("abort-on-chunk-failure", false, "fail the build on the first failed chunk")
	flags.StringSlice("whitelist-pools", nil, "only track these pools (comma-separated)")
	flags.StringSlice("whitelist-tokens", nil, "only track pools holding one of these tokens (comma-separated)")
	flags.StringSlice("blacklist-pools", nil, "never track these pools (comma-separated)")
	flags.StringSlice("blacklist-tokens", nil, "never track pools holding one of these tokens (comma-separated)")
	flags.String("value-token", "", "token pools are valued in")
	flags.Float64("value-threshold", 0, "minimum pool value in value-token units, 0 disables")
	addSnapshotFlags(flags)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
