package revocation

import (
	"context"

	"github.com/platinummonkey/ssosync/pkg/observability"
)

// Outcome is the result of one revocation strategy
type Outcome int

const (
	// Inconclusive means the strategy could not decide; the next one runs.
	Inconclusive Outcome = iota
	// Revoked means the token is known to be unusable.
	Revoked
	// Failed means the token is known to still be valid.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Revoked:
		return "revoked"
	case Failed:
		return "failed"
	default:
		return "inconclusive"
	}
}

// Strategy is one step of a revocation chain
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, token string) Outcome
}

// StrategyFunc adapts a function to Strategy
type StrategyFunc struct {
	StrategyName string
	Fn           func(ctx context.Context, token string) Outcome
}

func (s StrategyFunc) Name() string { return s.StrategyName }

func (s StrategyFunc) Attempt(ctx context.Context, token string) Outcome { return s.Fn(ctx, token) }

// Chain runs strategies in order until one of them is conclusive
type Chain struct {
	strategies []Strategy
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewChain builds a chain from strategies
func NewChain(logger *observability.Logger, metrics *observability.Metrics, strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies, logger: logger, metrics: metrics}
}

// Run returns the first conclusive outcome. An exhausted chain counts as
// Failed. The name of the deciding strategy is returned alongside.
func (c *Chain) Run(ctx context.Context, token string) (Outcome, string) {
	log := c.logger.WithField("token", MaskToken(token))

	for _, s := range c.strategies {
		outcome := c.attempt(ctx, s, token)
		c.metrics.RecordRevocation(s.Name(), outcome.String())
		log.WithFields(map[string]interface{}{
			"strategy": s.Name(),
			"outcome":  outcome.String(),
		}).Debug("Revocation strategy finished")

		if outcome != Inconclusive {
			return outcome, s.Name()
		}
	}
	return Failed, ""
}

// attempt isolates a panicking strategy so the chain can continue
func (c *Chain) attempt(ctx context.Context, s Strategy, token string) (outcome Outcome) {
	defer observability.RecoverPanicWithCallback(c.logger, "revocation strategy "+s.Name(), func() {
		outcome = Inconclusive
	})
	return s.Attempt(ctx, token)
}
