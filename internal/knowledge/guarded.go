package knowledge

import (
	"context"

	"github.com/defiguard/internal/circuitbreaker"
	"github.com/defiguard/internal/logging"
	"github.com/defiguard/internal/types"
)

// Mode names the knowledge source chosen at startup
type Mode string

const (
	ModePrimary  Mode = "primary"
	ModeFallback Mode = "fallback"
)

// Pinger is implemented by backends that can report their own health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Guarded sends lookups to the primary backend through a circuit breaker and
// answers from the fallback table whenever the primary fails or the circuit is open.
// Failures never reach the caller.
type Guarded struct {
	primary  KnowledgeBase
	fallback *FallbackTable
	breaker  *circuitbreaker.CircuitBreaker
}

// NewGuarded wraps primary. A nil breaker gets the default config.
func NewGuarded(primary KnowledgeBase, fallback *FallbackTable, breaker *circuitbreaker.CircuitBreaker) *Guarded {
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("knowledge"))
	}
	return &Guarded{primary: primary, fallback: fallback, breaker: breaker}
}

func (g *Guarded) degraded(ctx context.Context, op string, err error) {
	logging.FromContext(ctx).WithField("op", op).WithError(err).
		Debug("Knowledge backend unavailable, answering from fallback table")
}

func (g *Guarded) LookupAssetRisk(ctx context.Context, token string) (types.RiskLevel, error) {
	var level types.RiskLevel
	err := g.breaker.Execute(ctx, func() error {
		var err error
		level, err = g.primary.LookupAssetRisk(ctx, token)
		return err
	})
	if err != nil {
		g.degraded(ctx, "asset", err)
		return g.fallback.LookupAssetRisk(ctx, token)
	}
	return level, nil
}

func (g *Guarded) LookupConcentrationLevel(ctx context.Context, share float64) (types.RiskLevel, error) {
	var level types.RiskLevel
	err := g.breaker.Execute(ctx, func() error {
		var err error
		level, err = g.primary.LookupConcentrationLevel(ctx, share)
		return err
	})
	if err != nil {
		g.degraded(ctx, "concentration", err)
		return g.fallback.LookupConcentrationLevel(ctx, share)
	}
	return level, nil
}

func (g *Guarded) LookupVolatilityLevel(ctx context.Context, absChange float64) (types.VolatilityLevel, error) {
	var level types.VolatilityLevel
	err := g.breaker.Execute(ctx, func() error {
		var err error
		level, err = g.primary.LookupVolatilityLevel(ctx, absChange)
		return err
	})
	if err != nil {
		g.degraded(ctx, "volatility", err)
		return g.fallback.LookupVolatilityLevel(ctx, absChange)
	}
	return level, nil
}

// Select picks the knowledge source once, at startup. A nil primary, or one whose
// Ping fails, yields the fallback table on its own.
func Select(ctx context.Context, primary KnowledgeBase, fallback *FallbackTable, breaker *circuitbreaker.CircuitBreaker) (KnowledgeBase, Mode) {
	if primary == nil {
		return fallback, ModeFallback
	}
	if p, ok := primary.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Knowledge backend unavailable at startup, using fallback table")
			return fallback, ModeFallback
		}
	}
	return NewGuarded(primary, fallback, breaker), ModePrimary
}
