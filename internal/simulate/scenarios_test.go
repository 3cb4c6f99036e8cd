package simulate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defiguard/internal/knowledge"
	"github.com/defiguard/internal/risk"
	"github.com/defiguard/internal/types"
)

var at = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestScenariosAreConsistent(t *testing.T) {
	scenarios := Scenarios(at)
	require.Len(t, scenarios, 6)

	seen := map[string]bool{}
	for _, s := range scenarios {
		assert.False(t, seen[s.Name], "duplicate %s", s.Name)
		seen[s.Name] = true
		assert.InDelta(t, 50000, s.Snapshot.TotalUSD, 1e-6, s.Name)
		assert.Equal(t, at, s.Snapshot.Timestamp)
	}
}

func TestScenarioLevels(t *testing.T) {
	engine := risk.NewEngine(knowledge.NewFallbackTable())

	want := map[string]types.RiskLevel{
		"low":                types.RiskLow,
		"medium":             types.RiskMedium,
		"high":               types.RiskHigh,
		"critical":           types.RiskCritical,
		"high-volatility":    types.RiskMedium,
		"high-concentration": types.RiskMedium,
	}

	for _, s := range Scenarios(at) {
		t.Run(s.Name, func(t *testing.T) {
			report, err := engine.Evaluate(context.Background(), s.Snapshot)
			require.NoError(t, err)
			assert.Equal(t, want[s.Name], report.Level, "score %.4f", report.Score)
			assert.Equal(t, risk.ShouldAlert(report.Level, report.Score), report.ShouldAlert)
		})
	}
}

func TestHighScenarioFlagsBothTokens(t *testing.T) {
	s, ok := Find(at, "high")
	require.True(t, ok)

	report, err := risk.NewEngine(nil).Evaluate(context.Background(), s.Snapshot)
	require.NoError(t, err)
	assert.Contains(t, report.Concerns, "SafeMoon is classified as critical risk")
	assert.Contains(t, report.Concerns, "baby_ethereum is classified as high risk")
	assert.InDelta(t, 0.85, report.SubScores.AssetClass, 1e-9)
	assert.True(t, report.ShouldAlert)
}

func TestFindUnknown(t *testing.T) {
	_, ok := Find(at, "moonshot")
	assert.False(t, ok)
}
