// Package types provides common type definitions for the risk monitoring system.
package types

// RiskLevel is the discrete risk bucket attached to reports, alerts and asset facts
type RiskLevel string

const (
	// RiskLow represents a portfolio or asset with no material concerns
	RiskLow RiskLevel = "low"
	// RiskMedium represents elevated but tolerable exposure
	RiskMedium RiskLevel = "medium"
	// RiskHigh represents exposure that should be acted on soon
	RiskHigh RiskLevel = "high"
	// RiskCritical represents exposure that needs immediate attention
	RiskCritical RiskLevel = "critical"
)

// Severity orders risk levels; unknown levels sort below low.
func (r RiskLevel) Severity() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// IsValid reports whether r is one of the four known levels
func (r RiskLevel) IsValid() bool {
	return r.Severity() > 0
}

// ParseRiskLevel maps a label to a RiskLevel
func ParseRiskLevel(s string) (RiskLevel, bool) {
	l := RiskLevel(s)
	return l, l.IsValid()
}

// VolatilityLevel classifies the magnitude of a 24h price move
type VolatilityLevel string

const (
	VolatilityLow     VolatilityLevel = "low"
	VolatilityMedium  VolatilityLevel = "medium"
	VolatilityHigh    VolatilityLevel = "high"
	VolatilityExtreme VolatilityLevel = "extreme"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Code + ": " + e.Message
}
