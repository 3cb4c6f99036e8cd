// Package simulate provides canned portfolio snapshots for exercising the risk engine
// without scanning real wallets.
package simulate

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/defiguard/internal/models"
)

// Scenario is a named snapshot
type Scenario struct {
	Name        string
	Description string
	Snapshot    *models.PortfolioSnapshot
}

type holding struct {
	token   string
	chain   string
	balance string
	price   float64
	change  float64
}

func build(userID string, at time.Time, holdings ...holding) *models.PortfolioSnapshot {
	assets := make([]models.AssetBalance, 0, len(holdings))
	for _, h := range holdings {
		assets = append(assets, models.AssetBalance{
			Token:     h.token,
			TokenID:   h.token,
			Chain:     h.chain,
			Balance:   decimal.RequireFromString(h.balance),
			PriceUSD:  h.price,
			Change24h: h.change,
		})
	}
	return models.NewSnapshot(userID, assets, at)
}

// Scenarios returns the six reference portfolios, all worth $50,000, timestamped at.
func Scenarios(at time.Time) []Scenario {
	return []Scenario{
		{
			Name:        "low",
			Description: "Diversified blue chips with a stablecoin buffer",
			Snapshot: build("sim_low_risk", at,
				holding{"bitcoin", "ethereum", "0.5", 45000, 2.5},
				holding{"ethereum", "ethereum", "10", 2500, 1.8},
				holding{"usdc", "ethereum", "2500", 1, 0.1},
			),
		},
		{
			Name:        "medium",
			Description: "ETH heavy with an unclassified altcoin",
			Snapshot: build("sim_medium_risk", at,
				holding{"ethereum", "ethereum", "15", 2500, 5.2},
				holding{"dai", "ethereum", "5000", 1, 0.05},
				holding{"cardano", "ethereum", "5000", 2.5, -3.8},
			),
		},
		{
			Name:        "high",
			Description: "Two speculative BSC tokens split evenly",
			Snapshot: build("sim_high_risk", at,
				holding{"SafeMoon", "bsc", "100000000", 0.00025, -8.5},
				holding{"baby_ethereum", "bsc", "50000000", 0.0005, 12.3},
			),
		},
		{
			Name:        "critical",
			Description: "Everything in one memecoin mid-pump",
			Snapshot: build("sim_critical_risk", at,
				holding{"elon_inu_moon", "bsc", "1000000000", 0.00005, 45.2},
			),
		},
		{
			Name:        "high-volatility",
			Description: "Blue chips during a violent market day",
			Snapshot: build("sim_volatility", at,
				holding{"bitcoin", "ethereum", "0.5", 45000, -15.8},
				holding{"ethereum", "ethereum", "10", 2500, 28.5},
				holding{"usdc", "ethereum", "2500", 1, 0.1},
			),
		},
		{
			Name:        "high-concentration",
			Description: "A single blue-chip holding",
			Snapshot: build("sim_concentration", at,
				holding{"ethereum", "ethereum", "20", 2500, 3.2},
			),
		},
	}
}

// Find returns the scenario with the given name
func Find(at time.Time, name string) (Scenario, bool) {
	for _, s := range Scenarios(at) {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}
