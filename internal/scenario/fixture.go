// Package scenario runs the Babylon integration scenarios against a forked
// node: gardens, strategies and Balancer custom integrations driven end to
// end through the deployed mainnet contracts.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/babylon-finance/forkharness/internal/accounts"
	"github.com/babylon-finance/forkharness/internal/contracts"
	"github.com/babylon-finance/forkharness/internal/evmctl"
	"github.com/babylon-finance/forkharness/internal/tokens"
)

// metadataCacheSize bounds the ERC-20 metadata cache.
const metadataCacheSize = 256

var (
	ErrAssertion     = errors.New("assertion failed")
	ErrNoIntegration = errors.New("no custom integration configured")
)

// Chain is the node-control surface the scenarios use. *evmctl.Client
// satisfies it.
type Chain interface {
	AdvanceDuration(ctx context.Context, d time.Duration) error
	Timestamp(ctx context.Context) (uint64, error)
	SetBalance(ctx context.Context, addr common.Address, wei *big.Int) error
	Impersonate(ctx context.Context, addr common.Address) (accounts.Signer, error)
	StopImpersonating(ctx context.Context, addr common.Address) error
	Snapshot(ctx context.Context) (evmctl.SnapshotID, error)
	Revert(ctx context.Context, id evmctl.SnapshotID) error
}

// Fixture is everything a scenario depends on.
type Fixture struct {
	Chain   Chain
	Backend contracts.Backend
	Tokens  *tokens.Registry
	Pools   *PoolSet

	Keeper accounts.Signer
	Alice  accounts.Signer
	Bob    accounts.Signer

	// Integration deploys the Balancer custom integration. When
	// IntegrationAddress is set it is attached to instead.
	Integration        *contracts.Artifact
	IntegrationAddress common.Address

	Fast   bool
	Logger *zap.Logger

	metadata *contracts.MetadataCache
}

// NewFixture binds the dev accounts 1..3 of client as keeper, alice and bob.
func NewFixture(client *evmctl.Client, reg *tokens.Registry, pools *PoolSet, logger *zap.Logger) *Fixture {
	keys := accounts.DevPrivateKeys()
	return &Fixture{
		Chain:   client,
		Backend: client.Eth(),
		Tokens:  reg,
		Pools:   pools,
		Keeper:  client.KeySigner(keys[1]),
		Alice:   client.KeySigner(keys[2]),
		Bob:     client.KeySigner(keys[3]),
		Logger:  logger,
	}
}

func (f *Fixture) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

func (f *Fixture) controller() *contracts.Controller {
	return contracts.NewController(contracts.BabControllerAddress, f.Backend, f.logger())
}

func (f *Fixture) erc20(addr common.Address) *contracts.ERC20 {
	return contracts.NewERC20(addr, f.Backend, f.logger())
}

func (f *Fixture) tokenMetadata(ctx context.Context, addr common.Address) (contracts.TokenMetadata, error) {
	if f.metadata == nil {
		f.metadata = contracts.NewMetadataCache(f.Backend, metadataCacheSize, f.logger())
	}
	return f.metadata.Metadata(ctx, addr)
}

// customIntegration deploys a fresh integration bound to the controller, or
// returns the configured address.
func (f *Fixture) customIntegration(ctx context.Context) (common.Address, error) {
	if f.IntegrationAddress != (common.Address{}) {
		return f.IntegrationAddress, nil
	}
	if f.Integration == nil {
		return common.Address{}, ErrNoIntegration
	}
	c, _, err := f.Integration.Deploy(ctx, f.Bob, f.Backend, contracts.BabControllerAddress)
	if err != nil {
		return common.Address{}, fmt.Errorf("deploy custom integration: %w", err)
	}
	f.logger().Debug("deployed custom integration", zap.Stringer("address", c.Address))
	return c.Address, nil
}
