package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetBalanceValueUSD(t *testing.T) {
	a := AssetBalance{Token: "ETH", Balance: decimal.RequireFromString("1.5"), PriceUSD: 2000}
	assert.InDelta(t, 3000.0, a.ValueUSD(), 1e-9)

	raw, err := json.Marshal(a)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.InDelta(t, 3000.0, decoded["value_usd"], 1e-9)
	assert.Equal(t, "ETH", decoded["token"])
}

func TestNewSnapshotTotals(t *testing.T) {
	assets := []AssetBalance{
		{Token: "ETH", Balance: decimal.NewFromInt(2), PriceUSD: 1000},
		{Token: "USDC", Balance: decimal.NewFromInt(500), PriceUSD: 1},
	}
	snap := NewSnapshot("u1", assets, time.Unix(0, 0))
	assert.InDelta(t, 2500.0, snap.TotalUSD, 1e-9)

	// the snapshot owns its slice
	assets[0].PriceUSD = 0
	assert.InDelta(t, 2500.0, SumValueUSD(snap.Assets), 1e-9)
}

func TestNewSnapshotEmpty(t *testing.T) {
	snap := NewSnapshot("u1", nil, time.Unix(0, 0))
	assert.NotNil(t, snap.Assets)
	assert.Empty(t, snap.Assets)
	assert.Zero(t, snap.TotalUSD)
}

func TestPortfolioPairs(t *testing.T) {
	p := Portfolio{Wallets: []string{"w1", "w2"}, Chains: []string{"ethereum", "base"}}
	assert.Equal(t, []ScanPair{
		{"w1", "ethereum"}, {"w1", "base"}, {"w2", "ethereum"}, {"w2", "base"},
	}, p.Pairs())
}
