package models

import (
	"time"

	"github.com/defiguard/internal/types"
)

// SubScores are the three analyzer outputs that feed the overall score
type SubScores struct {
	Concentration float64 `json:"concentration"`
	Volatility    float64 `json:"volatility"`
	AssetClass    float64 `json:"asset_class"`
}

// RiskReport is the scoring engine output for one snapshot
type RiskReport struct {
	UserID          string          `json:"user_id"`
	Level           types.RiskLevel `json:"risk_level"`
	Score           float64         `json:"risk_score"`
	SubScores       SubScores       `json:"sub_scores"`
	Concerns        []string        `json:"concerns"`
	Recommendations []string        `json:"recommendations"`
	ShouldAlert     bool            `json:"should_alert"`
	Timestamp       time.Time       `json:"timestamp"`
}

// AlertRecord is an append-only alert history entry
type AlertRecord struct {
	UserID          string          `json:"user_id"`
	Level           types.RiskLevel `json:"risk_level"`
	Score           float64         `json:"risk_score"`
	Timestamp       time.Time       `json:"timestamp"`
	Concerns        []string        `json:"concerns"`
	Recommendations []string        `json:"recommendations"`
}

// AlertFromReport copies the user-facing parts of a report into an alert record
func AlertFromReport(r *RiskReport) AlertRecord {
	return AlertRecord{
		UserID:          r.UserID,
		Level:           r.Level,
		Score:           r.Score,
		Timestamp:       r.Timestamp,
		Concerns:        append([]string(nil), r.Concerns...),
		Recommendations: append([]string(nil), r.Recommendations...),
	}
}
