// Package knowledge answers the fact and threshold lookups used by the risk engine.
package knowledge

import (
	"context"
	"sort"
	"strings"

	"github.com/defiguard/internal/types"
)

// KnowledgeBase classifies assets, concentration shares and price moves
type KnowledgeBase interface {
	// LookupAssetRisk returns the base risk of a token symbol or name
	LookupAssetRisk(ctx context.Context, token string) (types.RiskLevel, error)
	// LookupConcentrationLevel classifies a value share in [0,1]
	LookupConcentrationLevel(ctx context.Context, share float64) (types.RiskLevel, error)
	// LookupVolatilityLevel classifies an absolute 24h change in percent
	LookupVolatilityLevel(ctx context.Context, absChange float64) (types.VolatilityLevel, error)
}

// Facts is the full knowledge set, as stored in the seed file and the primary backend
type Facts struct {
	AssetRisk               map[string]types.RiskLevel        `yaml:"asset_risk"`
	RiskPatterns            map[string]types.RiskLevel        `yaml:"risk_patterns"`
	ConcentrationThresholds map[types.RiskLevel]float64       `yaml:"concentration_thresholds"`
	VolatilityThresholds    map[types.VolatilityLevel]float64 `yaml:"volatility_thresholds"`
}

// classifyAsset applies exact fact, then most severe matching pattern, then medium.
func classifyAsset(token string, assets, patterns map[string]types.RiskLevel) types.RiskLevel {
	t := strings.ToLower(strings.TrimSpace(token))
	if level, ok := assets[t]; ok {
		return level
	}
	best := types.RiskLevel("")
	for pattern, level := range patterns {
		if pattern == "" || !strings.Contains(t, pattern) {
			continue
		}
		if level.Severity() > best.Severity() {
			best = level
		}
	}
	if best != "" {
		return best
	}
	return types.RiskMedium
}

type threshold[L ~string] struct {
	level L
	min   float64
}

// sortedThresholds orders thresholds from the highest minimum down
func sortedThresholds[L ~string](m map[L]float64) []threshold[L] {
	out := make([]threshold[L], 0, len(m))
	for level, v := range m {
		out = append(out, threshold[L]{level: level, min: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].min != out[j].min {
			return out[i].min > out[j].min
		}
		return out[i].level < out[j].level
	})
	return out
}

// classify returns the level of the highest threshold that value reaches, or floor
func classify[L ~string](value float64, thresholds []threshold[L], floor L) L {
	for _, th := range thresholds {
		if value >= th.min {
			return th.level
		}
	}
	return floor
}
