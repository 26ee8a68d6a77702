package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrUnknownScenario = errors.New("unknown scenario")

// Scenario is a named, independently runnable script.
type Scenario struct {
	Name        string
	Description string
	Run         func(ctx context.Context, f *Fixture) (Result, error)
}

// adapt erases the concrete result type of a scenario function.
func adapt[R Result](run func(context.Context, *Fixture) (R, error)) func(context.Context, *Fixture) (Result, error) {
	return func(ctx context.Context, f *Fixture) (Result, error) {
		r, err := run(ctx, f)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

var registry = []Scenario{
	{
		Name:        "garden-lifecycle",
		Description: "WETH garden with a Uniswap V3 DAI strategy from creation to withdrawal",
		Run:         adapt(GardenLifecycle),
	},
	{
		Name:        "balancer-entry-exit",
		Description: "custom Balancer integration entering and exiting every configured pool",
		Run:         adapt(BalancerEntryExit),
	},
	{
		Name:        "balancer-swap-fees",
		Description: "garden reserve grows when swaps accrue fees during a pool strategy",
		Run:         adapt(BalancerSwapFees),
	},
	{
		Name:        "balancer-weighted-pool",
		Description: "create and seed a three-token weighted pool, then run a strategy on it",
		Run:         adapt(CreateAndJoinWeightedPool),
	},
	{
		Name:        "usdc-garden",
		Description: "USDC reserve garden funded through an impersonated holder, running a stable pool strategy",
		Run:         adapt(USDCGarden),
	},
}

// All returns every registered scenario in run order.
func All() []Scenario {
	return append([]Scenario(nil), registry...)
}

// Lookup returns the scenarios with the given names, in the given order.
func Lookup(names ...string) ([]Scenario, error) {
	var out []Scenario
	for _, name := range names {
		found := false
		for _, s := range registry {
			if s.Name == name {
				out = append(out, s)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, name)
		}
	}
	return out, nil
}

// Report is the outcome of one scenario run.
type Report struct {
	RunID    uuid.UUID
	Scenario string
	Result   Result
	Err      error
	Duration time.Duration
}

// Runner executes scenarios one after another, each inside a node snapshot
// that is reverted afterwards.
type Runner struct {
	fixture *Fixture
	logger  *zap.Logger
}

func NewRunner(f *Fixture, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{fixture: f, logger: logger.Named("scenario")}
}

// Run executes scenarios sequentially and returns one report per scenario
// started. It stops early only when ctx is done.
func (r *Runner) Run(ctx context.Context, scenarios []Scenario) []Report {
	reports := make([]Report, 0, len(scenarios))
	for _, s := range scenarios {
		if ctx.Err() != nil {
			break
		}
		reports = append(reports, r.runOne(ctx, s))
	}
	return reports
}

func (r *Runner) runOne(ctx context.Context, s Scenario) Report {
	rep := Report{RunID: uuid.New(), Scenario: s.Name}
	log := r.logger.With(zap.String("scenario", s.Name), zap.Stringer("run_id", rep.RunID))

	snap, err := r.fixture.Chain.Snapshot(ctx)
	if err != nil {
		rep.Err = fmt.Errorf("snapshot before %s: %w", s.Name, err)
		log.Error("scenario not started", zap.Error(rep.Err))
		return rep
	}

	log.Info("scenario started")
	start := time.Now()
	rep.Result, rep.Err = s.Run(ctx, r.fixture)
	rep.Duration = time.Since(start)

	if err := r.fixture.Chain.Revert(context.WithoutCancel(ctx), snap); err != nil {
		rep.Err = errors.Join(rep.Err, fmt.Errorf("revert after %s: %w", s.Name, err))
	}

	if rep.Err != nil {
		log.Error("scenario failed", zap.Duration("took", rep.Duration), zap.Error(rep.Err))
		return rep
	}
	log.Info("scenario passed", zap.Duration("took", rep.Duration), zap.String("result", rep.Result.Summary()))
	return rep
}

// Failed counts the failed reports.
func Failed(reports []Report) int {
	n := 0
	for _, rep := range reports {
		if rep.Err != nil {
			n++
		}
	}
	return n
}
