package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/babylon-finance/forkharness/config"
	"github.com/babylon-finance/forkharness/internal/logging"
)

var (
	// Global flags
	configPath string
	network    string
	verbose    bool
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "harness",
	Short: "Babylon fork test harness",
	Long: `harness runs the Babylon integration scenarios against a hardhat-compatible
node, normally a devnode forked from mainnet.

Every scenario runs inside a node snapshot that is reverted when it ends, so
scenarios can be run in any order and repeated against the same node.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
		} else {
			cfg, err = config.LoadDefault()
		}
		if err != nil {
			return err
		}
		if network != "" {
			cfg.Network = network
			if err := cfg.Validate(); err != nil {
				return err
			}
		}

		logger, err = logging.New(logging.Verbose(cfg.LogLevel, verbose))
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.json (default: config/config.json when present)")
	rootCmd.PersistentFlags().StringVarP(&network, "network", "n", "", "Network profile (overrides NETWORK)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Overall timeout")

	rootCmd.AddCommand(runCmd, listCmd, tokensCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
