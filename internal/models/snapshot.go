package models

import (
	"time"
)

// PortfolioSnapshot is the immutable result of one portfolio scan.
type PortfolioSnapshot struct {
	UserID    string         `json:"user_id"`
	Assets    []AssetBalance `json:"assets"`
	TotalUSD  float64        `json:"total_value_usd"`
	RiskScore *float64       `json:"risk_score,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewSnapshot builds a snapshot whose total is the sum of the asset values.
// A nil asset list becomes an empty one.
func NewSnapshot(userID string, assets []AssetBalance, at time.Time) *PortfolioSnapshot {
	if assets == nil {
		assets = []AssetBalance{}
	}
	copied := make([]AssetBalance, len(assets))
	copy(copied, assets)
	return &PortfolioSnapshot{
		UserID:    userID,
		Assets:    copied,
		TotalUSD:  SumValueUSD(copied),
		Timestamp: at,
	}
}

// SumValueUSD adds up value_usd over assets
func SumValueUSD(assets []AssetBalance) float64 {
	total := 0.0
	for _, a := range assets {
		total += a.ValueUSD()
	}
	return total
}
