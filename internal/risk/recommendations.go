package risk

import (
	"github.com/defiguard/internal/models"
	"github.com/defiguard/internal/types"
)

const (
	diversifyThreshold  = 0.7
	stablecoinThreshold = 0.6
)

// Recommendation texts
const (
	RecDiversify   = "Diversify portfolio: reduce concentration in top holdings"
	RecStablecoins = "Increase stablecoin allocation to reduce volatility"
	RecStopLoss    = "Set stop-loss orders for highly volatile assets"
	RecReviewAsset = "Review flagged high-risk assets"

	RecCritical = "URGENT: critical risk detected, review your portfolio immediately"
	RecHigh     = "High risk detected: rebalance within 24 hours"
	RecMedium   = "Moderate risk: review your portfolio within a week"
	RecLow      = "Portfolio risk is acceptable: continue monitoring"
)

// Recommendations derives the ordered recommendation list from the level, the
// sub-scores and whether any asset was flagged.
func Recommendations(level types.RiskLevel, sub models.SubScores, assetsFlagged bool) []string {
	recs := make([]string, 0, 5)
	if sub.Concentration > diversifyThreshold {
		recs = append(recs, RecDiversify)
	}
	if sub.Volatility > stablecoinThreshold {
		recs = append(recs, RecStablecoins, RecStopLoss)
	}
	recs = append(recs, baseline(level))
	if assetsFlagged {
		recs = append(recs, RecReviewAsset)
	}
	return recs
}

func baseline(level types.RiskLevel) string {
	switch level {
	case types.RiskCritical:
		return RecCritical
	case types.RiskHigh:
		return RecHigh
	case types.RiskMedium:
		return RecMedium
	default:
		return RecLow
	}
}
