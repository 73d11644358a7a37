package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	gnarkadapter "github.com/samirrijal/geoproof/internal/adapters/gnark"
	"github.com/samirrijal/geoproof/internal/adapters/starknet"
	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/core/usecases"
	"github.com/samirrijal/geoproof/internal/pkg/config"
	"github.com/samirrijal/geoproof/internal/pkg/logging"
)

// GlobalFlags override the values read from config.
type GlobalFlags struct {
	RPCURL   string
	KeyDir   string
	Timeout  time.Duration
	LogLevel string
}

var (
	globalFlags GlobalFlags
	cfg         *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "geoproof",
	Short: "Zero-knowledge geofence proofs",
	Long: `geoproof proves that a location lies inside (or outside) a four-vertex
geofence without revealing it, formats the proof as felt252 calldata and
checks it against a Starknet verifier contract.

Coordinates are given in degrees and converted to the circuit convention
x = lon * 10^6, y = lat * 10^6.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load("geoproof-cli")
		if err != nil {
			return err
		}
		if globalFlags.RPCURL != "" {
			cfg.Starknet.RPCURL = globalFlags.RPCURL
		}
		if globalFlags.KeyDir != "" {
			cfg.Circuit.KeyDir = globalFlags.KeyDir
		}
		if globalFlags.Timeout > 0 {
			cfg.Starknet.CallTimeout = globalFlags.Timeout
		}
		level := cfg.Log.Level
		if globalFlags.LogLevel != "" {
			level = globalFlags.LogLevel
		}
		// logs go to stderr; stdout carries the JSON result
		logger := logging.New(os.Stderr, level, "text")
		slog.SetDefault(logger)
		gnarkadapter.ConfigureLogs(os.Stderr, logging.Debug(level))
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if c := domain.CategoryOf(err); c != "" {
			fmt.Fprintf(os.Stderr, "category: %s, stage: %s\n", c, domain.StageOf(err))
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.RPCURL, "rpc-url", "", "Starknet JSON-RPC endpoint (default from config)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.KeyDir, "key-dir", "", "directory holding the circuit keys (default from config)")
	rootCmd.PersistentFlags().DurationVar(&globalFlags.Timeout, "timeout", 0, "contract call timeout (default from config)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogLevel, "log-level", "", "debug|info|warn|error")

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(proveCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(verticesCmd)
	rootCmd.AddCommand(calldataCmd)
	rootCmd.AddCommand(formatCmd)
}

// dialVerifier connects to the configured RPC endpoint.
func dialVerifier(ctx context.Context) (*usecases.OnChainVerifier, func(), error) {
	client, err := starknet.Dial(ctx, cfg.Starknet.RPCURL, cfg.Starknet.MaxRetries)
	if err != nil {
		return nil, nil, err
	}
	return usecases.NewOnChainVerifier(client, cfg.Starknet.CallTimeout), client.Close, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
