package knowledge

import (
	"context"

	"github.com/defiguard/internal/types"
)

// Concentration share thresholds
const (
	ConcentrationCritical = 0.70
	ConcentrationHigh     = 0.50
	ConcentrationMedium   = 0.30
)

// Volatility thresholds, in absolute 24h percent change
const (
	VolatilityExtremeMin = 50.0
	VolatilityHighMin    = 20.0
	VolatilityMediumMin  = 10.0
)

// DefaultFacts returns the built-in knowledge set. Each call returns fresh maps.
func DefaultFacts() Facts {
	return Facts{
		AssetRisk: map[string]types.RiskLevel{
			"bitcoin":  types.RiskLow,
			"btc":      types.RiskLow,
			"ethereum": types.RiskLow,
			"eth":      types.RiskLow,
			"bnb":      types.RiskLow,
			"usdc":     types.RiskLow,
			"usdt":     types.RiskLow,
			"dai":      types.RiskLow,
			"busd":     types.RiskLow,
		},
		RiskPatterns: map[string]types.RiskLevel{
			"leverage": types.RiskHigh,
			"3x":       types.RiskCritical,
			"2x":       types.RiskHigh,
			"short":    types.RiskHigh,
			"bear":     types.RiskHigh,
			"bull":     types.RiskHigh,
			"safemoon": types.RiskCritical,
			"baby":     types.RiskHigh,
			"elon":     types.RiskHigh,
			"moon":     types.RiskHigh,
		},
		ConcentrationThresholds: map[types.RiskLevel]float64{
			types.RiskCritical: ConcentrationCritical,
			types.RiskHigh:     ConcentrationHigh,
			types.RiskMedium:   ConcentrationMedium,
		},
		VolatilityThresholds: map[types.VolatilityLevel]float64{
			types.VolatilityExtreme: VolatilityExtremeMin,
			types.VolatilityHigh:    VolatilityHighMin,
			types.VolatilityMedium:  VolatilityMediumMin,
		},
	}
}

// FallbackTable is the deterministic in-process knowledge base. It is read-only after construction.
type FallbackTable struct {
	assets        map[string]types.RiskLevel
	patterns      map[string]types.RiskLevel
	concentration []threshold[types.RiskLevel]
	volatility    []threshold[types.VolatilityLevel]
}

// NewFallbackTable builds a table from the built-in facts
func NewFallbackTable() *FallbackTable {
	return NewFallbackTableFromFacts(DefaultFacts())
}

// NewFallbackTableFromFacts builds a table from arbitrary facts
func NewFallbackTableFromFacts(f Facts) *FallbackTable {
	return &FallbackTable{
		assets:        f.AssetRisk,
		patterns:      f.RiskPatterns,
		concentration: sortedThresholds(f.ConcentrationThresholds),
		volatility:    sortedThresholds(f.VolatilityThresholds),
	}
}

func (t *FallbackTable) LookupAssetRisk(_ context.Context, token string) (types.RiskLevel, error) {
	return classifyAsset(token, t.assets, t.patterns), nil
}

func (t *FallbackTable) LookupConcentrationLevel(_ context.Context, share float64) (types.RiskLevel, error) {
	return classify(share, t.concentration, types.RiskLow), nil
}

func (t *FallbackTable) LookupVolatilityLevel(_ context.Context, absChange float64) (types.VolatilityLevel, error) {
	return classify(absChange, t.volatility, types.VolatilityLow), nil
}
