package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/babylon-finance/forkharness/internal/contracts"
	"github.com/babylon-finance/forkharness/internal/evmctl"
	"github.com/babylon-finance/forkharness/internal/scenario"
	"github.com/babylon-finance/forkharness/internal/tokens"
)

var (
	runRPCURL      string
	runFast        bool
	runArtifact    string
	runIntegration string
	runPools       string
	runTokens      string
)

var runCmd = &cobra.Command{
	Use:   "run [scenario...]",
	Short: "Run integration scenarios",
	Long: `Runs the named scenarios, or all of them, one after another against the
node of the selected network profile. The command fails when any scenario
fails.`,
	RunE: runScenarios,
}

func init() {
	runCmd.Flags().StringVar(&runRPCURL, "rpc-url", "", "Node URL (default: the network profile URL)")
	runCmd.Flags().BoolVar(&runFast, "fast", false, "Only the first pool of each Balancer scenario (or set FAST)")
	runCmd.Flags().StringVar(&runArtifact, "artifact", "", "CustomIntegrationBalancerv2 artifact (overrides INTEGRATION_ARTIFACT)")
	runCmd.Flags().StringVar(&runIntegration, "integration", "", "Address of a deployed custom integration to attach to")
	runCmd.Flags().StringVar(&runPools, "pools", "", "Pool profiles YAML (default: built in)")
	runCmd.Flags().StringVar(&runTokens, "tokens", "", "Token registry YAML (default: built in)")
}

func runScenarios(cmd *cobra.Command, args []string) error {
	selected := scenario.All()
	if len(args) > 0 {
		var err error
		if selected, err = scenario.Lookup(args...); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	profile, err := cfg.ActiveProfile()
	if err != nil {
		return err
	}
	url := profile.URL
	if runRPCURL != "" {
		url = runRPCURL
	}

	client, err := evmctl.Dial(ctx, url, cfg.Upstream, cfg.Gas, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	reg := tokens.Default()
	if runTokens != "" {
		if reg, err = tokens.Load(runTokens); err != nil {
			return err
		}
	}
	pools := scenario.DefaultPools()
	if runPools != "" {
		if pools, err = scenario.LoadPools(runPools); err != nil {
			return err
		}
	}

	f := scenario.NewFixture(client, reg, pools, logger)
	f.Fast = runFast || cfg.Fast
	if runIntegration != "" {
		if !common.IsHexAddress(runIntegration) {
			return fmt.Errorf("invalid integration address %q", runIntegration)
		}
		f.IntegrationAddress = common.HexToAddress(runIntegration)
	}
	artifact := cfg.IntegrationArtifact
	if runArtifact != "" {
		artifact = runArtifact
	}
	if artifact != "" {
		if f.Integration, err = contracts.LoadArtifact(artifact); err != nil {
			return err
		}
	}

	logger.Info("running scenarios",
		zap.String("network", profile.Name),
		zap.String("url", url),
		zap.Int("count", len(selected)),
		zap.Bool("fast", f.Fast))

	reports := scenario.NewRunner(f, logger).Run(ctx, selected)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCENARIO\tRESULT\tTOOK\tDETAIL")
	for _, rep := range reports {
		if rep.Err != nil {
			fmt.Fprintf(w, "%s\tFAIL\t%s\t%v\n", rep.Scenario, rep.Duration.Round(1e6), rep.Err)
			continue
		}
		fmt.Fprintf(w, "%s\tPASS\t%s\t%s\n", rep.Scenario, rep.Duration.Round(1e6), rep.Result.Summary())
	}
	w.Flush()

	if failed := scenario.Failed(reports); failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(reports))
	}
	if len(reports) < len(selected) {
		return fmt.Errorf("interrupted after %d of %d scenarios: %w", len(reports), len(selected), ctx.Err())
	}
	return nil
}
