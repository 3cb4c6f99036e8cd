package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRiskLevelSeverity(t *testing.T) {
	assert.Less(t, RiskLow.Severity(), RiskMedium.Severity())
	assert.Less(t, RiskMedium.Severity(), RiskHigh.Severity())
	assert.Less(t, RiskHigh.Severity(), RiskCritical.Severity())
	assert.Equal(t, 0, RiskLevel("extreme").Severity())
}

func TestParseRiskLevel(t *testing.T) {
	l, ok := ParseRiskLevel("high")
	assert.True(t, ok)
	assert.Equal(t, RiskHigh, l)

	_, ok = ParseRiskLevel("HIGH")
	assert.False(t, ok)
}
