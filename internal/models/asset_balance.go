package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// AssetBalance is one token holding on one chain.
// The USD value is always derived from Balance and PriceUSD.
type AssetBalance struct {
	Token     string          `json:"token"`
	TokenID   string          `json:"token_id,omitempty"`
	Chain     string          `json:"chain,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	PriceUSD  float64         `json:"price_usd"`
	Change24h float64         `json:"change_24h"`
}

// ValueUSD returns balance * price
func (a AssetBalance) ValueUSD() float64 {
	return a.Balance.Mul(decimal.NewFromFloat(a.PriceUSD)).InexactFloat64()
}

// MarshalJSON emits the derived value_usd next to its inputs.
func (a AssetBalance) MarshalJSON() ([]byte, error) {
	type plain AssetBalance
	return json.Marshal(struct {
		plain
		ValueUSD float64 `json:"value_usd"`
	}{plain(a), a.ValueUSD()})
}
