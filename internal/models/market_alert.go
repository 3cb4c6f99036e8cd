package models

import (
	"time"

	"github.com/defiguard/internal/types"
)

// MarketAlertKind names what a market alert was raised for
type MarketAlertKind string

const (
	MarketPriceMove   MarketAlertKind = "significant_price_change"
	MarketVolumeSpike MarketAlertKind = "volume_spike"
)

// MarketAlert is a price or volume movement on a token a user holds.
// Unlike AlertRecord it is only pushed live, never stored.
type MarketAlert struct {
	Kind        MarketAlertKind `json:"kind"`
	UserID      string          `json:"user_id"`
	TokenID     string          `json:"token_id"`
	Token       string          `json:"token"`
	Severity    types.RiskLevel `json:"severity"`
	ChangePct   float64         `json:"change_pct,omitempty"`
	VolumeRatio float64         `json:"volume_ratio,omitempty"`
	Message     string          `json:"message"`
	Timestamp   time.Time       `json:"timestamp"`
}
