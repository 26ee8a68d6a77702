package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/babylon-finance/forkharness/config"
	"github.com/babylon-finance/forkharness/internal/accounts"
	"github.com/babylon-finance/forkharness/internal/logging"
	"github.com/babylon-finance/forkharness/internal/network"
	"github.com/babylon-finance/forkharness/internal/node"
)

func main() {
	configPath := flag.String("config", "", "Path to config.json (default: config/config.json when present)")
	addr := flag.String("addr", "127.0.0.1:8545", "HTTP listen address")
	forkURL := flag.String("fork-url", "", "Archive node to fork from (overrides FORK_URL)")
	forkBlock := flag.Uint64("fork-block", 0, "Block to fork at (0 = config)")
	blockTimeMs := flag.Int("block-time-ms", -1, "Interval mining period in ms (-1 = config, 0 = off)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if envAddr := os.Getenv("DEVNODE_ADDR"); envAddr != "" {
		*addr = envAddr
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *forkURL != "" {
		cfg.ForkURL = *forkURL
	}
	if *forkBlock != 0 {
		cfg.ForkBlock = *forkBlock
	}
	if *blockTimeMs >= 0 {
		cfg.BlockTimeMs = *blockTimeMs
	}

	logger, err := logging.New(logging.Verbose(cfg.LogLevel, *verbose))
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *addr, logger); err != nil {
		logger.Fatal("dev node failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, addr string, logger *zap.Logger) error {
	named, err := accounts.ParseKeys(cfg.NamedAccountKeys())
	if err != nil {
		return fmt.Errorf("named accounts: %w", err)
	}

	nodeCfg := node.Config{
		ChainID:       config.ChainIDs[config.HardhatNetwork],
		BlockGasLimit: cfg.BlockGasLimit,
		DefaultGas:    cfg.Gas,
		Accounts:      append(accounts.DevPrivateKeys(), named...),
		Logger:        logger,
	}

	if url := cfg.ResolvedForkURL(); url != "" {
		eth, err := network.DialEth(ctx, url, cfg.Upstream)
		if err != nil {
			return err
		}
		defer eth.Close()

		store := node.NewBytecodeStore(cfg.BytecodeStore, logger)
		defer store.Close()

		upstream := node.NewRPCUpstream(eth, cfg.ForkBlock, store, logger)
		chainID, err := upstream.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("upstream chain id: %w", err)
		}
		nodeCfg.Upstream = upstream
		nodeCfg.UpstreamChainID = chainID.Uint64()
		nodeCfg.ForkBlock = cfg.ForkBlock
		logger.Info("forking upstream",
			zap.Uint64("block", cfg.ForkBlock),
			zap.Uint64("upstream_chain_id", nodeCfg.UpstreamChainID))
	}

	n, err := node.New(ctx, nodeCfg)
	if err != nil {
		return err
	}
	srv := node.NewServer(n, time.Duration(cfg.BlockTimeMs)*time.Millisecond, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down dev node")
		srv.Close()
		return nil
	})
	return g.Wait()
}
