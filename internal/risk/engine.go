// Package risk scores portfolio snapshots.
//
// Three analyzers each produce a sub-score in [0,1] plus findings:
// concentration (Herfindahl index), volatility (mean absolute 24h change) and
// asset classification (knowledge-base risk labels). The overall score is a fixed
// weighted sum mapped onto four levels.
package risk

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	apperrors "github.com/defiguard/internal/errors"
	"github.com/defiguard/internal/knowledge"
	"github.com/defiguard/internal/logging"
	"github.com/defiguard/internal/models"
	"github.com/defiguard/internal/types"
)

// Sub-score weights
const (
	WeightConcentration = 0.3
	WeightVolatility    = 0.4
	WeightAssetClass    = 0.3
)

// Score to level boundaries (lower bound inclusive)
const (
	MediumScore   = 0.3
	HighScore     = 0.5
	CriticalScore = 0.7
)

// AlertScore forces an alert regardless of level when exceeded
const AlertScore = 0.7

const (
	hhiMultiplier         = 2.0
	volatilityNormalizer  = 30.0
	mediumAssetMinShare   = 0.10
	moderateConcentration = 0.30
)

// SnapshotValidationError reports a malformed snapshot
type SnapshotValidationError struct {
	Problems []string
}

func (e *SnapshotValidationError) Error() string {
	return "invalid snapshot: " + strings.Join(e.Problems, "; ")
}

func (e *SnapshotValidationError) Category() apperrors.ErrorCategory {
	return apperrors.CategoryValidation
}

// Engine evaluates snapshots against a knowledge base. It keeps no state between calls.
type Engine struct {
	kb       knowledge.KnowledgeBase
	fallback *knowledge.FallbackTable
	now      func() time.Time
}

// NewEngine creates an engine. A nil kb uses the fallback table directly.
func NewEngine(kb knowledge.KnowledgeBase) *Engine {
	fallback := knowledge.NewFallbackTable()
	if kb == nil {
		kb = fallback
	}
	return &Engine{kb: kb, fallback: fallback, now: time.Now}
}

// WithClock replaces the report timestamp source, for tests
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

type analysis struct {
	concerns []string
	score    float64
}

// Evaluate scores a snapshot. Only a malformed snapshot is an error.
func (e *Engine) Evaluate(ctx context.Context, snap *models.PortfolioSnapshot) (*models.RiskReport, error) {
	if err := validateSnapshot(snap); err != nil {
		return nil, err
	}

	report := &models.RiskReport{
		UserID:    snap.UserID,
		Timestamp: e.now(),
	}

	if snap.TotalUSD == 0 {
		report.Level = types.RiskLow
		report.Concerns = []string{}
		report.Recommendations = Recommendations(types.RiskLow, models.SubScores{}, false)
		return report, nil
	}

	conc := e.analyzeConcentration(ctx, snap)
	vol := e.analyzeVolatility(ctx, snap)
	asset := e.analyzeAssets(ctx, snap)

	sub := models.SubScores{
		Concentration: conc.score,
		Volatility:    vol.score,
		AssetClass:    asset.score,
	}
	score := math.Min(WeightConcentration*sub.Concentration+WeightVolatility*sub.Volatility+WeightAssetClass*sub.AssetClass, 1.0)
	level := LevelForScore(score)

	concerns := make([]string, 0, len(conc.concerns)+len(vol.concerns)+len(asset.concerns))
	concerns = append(concerns, conc.concerns...)
	concerns = append(concerns, vol.concerns...)
	concerns = append(concerns, asset.concerns...)

	report.Level = level
	report.Score = score
	report.SubScores = sub
	report.Concerns = concerns
	report.Recommendations = Recommendations(level, sub, len(asset.concerns) > 0)
	report.ShouldAlert = ShouldAlert(level, score)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id":    snap.UserID,
		"risk_level": level,
		"risk_score": score,
		"alert":      report.ShouldAlert,
	}).Debug("Risk evaluation complete")

	return report, nil
}

// LevelForScore maps an overall score onto a risk level
func LevelForScore(score float64) types.RiskLevel {
	switch {
	case score < MediumScore:
		return types.RiskLow
	case score < HighScore:
		return types.RiskMedium
	case score < CriticalScore:
		return types.RiskHigh
	default:
		return types.RiskCritical
	}
}

// ShouldAlert reports whether a report warrants pushing an alert
func ShouldAlert(level types.RiskLevel, score float64) bool {
	return level == types.RiskHigh || level == types.RiskCritical || score > AlertScore
}

func validateSnapshot(snap *models.PortfolioSnapshot) error {
	if snap == nil {
		return &SnapshotValidationError{Problems: []string{"snapshot is nil"}}
	}
	var problems []string
	if snap.TotalUSD < 0 || math.IsNaN(snap.TotalUSD) || math.IsInf(snap.TotalUSD, 0) {
		problems = append(problems, fmt.Sprintf("total value %v is not a non-negative number", snap.TotalUSD))
	}
	sum := 0.0
	for _, a := range snap.Assets {
		if a.Balance.IsNegative() {
			problems = append(problems, fmt.Sprintf("%s has negative balance %s", a.Token, a.Balance))
		}
		if a.PriceUSD < 0 || math.IsNaN(a.PriceUSD) || math.IsInf(a.PriceUSD, 0) {
			problems = append(problems, fmt.Sprintf("%s has invalid price %v", a.Token, a.PriceUSD))
		}
		if math.IsNaN(a.Change24h) || math.IsInf(a.Change24h, 0) {
			problems = append(problems, fmt.Sprintf("%s has invalid 24h change", a.Token))
		}
		sum += a.ValueUSD()
	}
	if len(problems) == 0 && math.Abs(sum-snap.TotalUSD) > 1e-6*math.Max(1, snap.TotalUSD) {
		problems = append(problems, fmt.Sprintf("total value %.2f does not match asset sum %.2f", snap.TotalUSD, sum))
	}
	if len(problems) > 0 {
		return &SnapshotValidationError{Problems: problems}
	}
	return nil
}

func (e *Engine) concentrationLevel(ctx context.Context, share float64) types.RiskLevel {
	level, err := e.kb.LookupConcentrationLevel(ctx, share)
	if err != nil {
		level, _ = e.fallback.LookupConcentrationLevel(ctx, share)
	}
	return level
}

func (e *Engine) volatilityLevel(ctx context.Context, change float64) types.VolatilityLevel {
	level, err := e.kb.LookupVolatilityLevel(ctx, change)
	if err != nil {
		level, _ = e.fallback.LookupVolatilityLevel(ctx, change)
	}
	return level
}

func (e *Engine) assetLevel(ctx context.Context, token string) types.RiskLevel {
	level, err := e.kb.LookupAssetRisk(ctx, token)
	if err != nil {
		level, _ = e.fallback.LookupAssetRisk(ctx, token)
	}
	return level
}

func (e *Engine) analyzeConcentration(ctx context.Context, snap *models.PortfolioSnapshot) analysis {
	var out analysis
	hhi := 0.0
	for _, a := range snap.Assets {
		share := a.ValueUSD() / snap.TotalUSD
		hhi += share * share

		pct := share * 100
		switch e.concentrationLevel(ctx, share) {
		case types.RiskCritical:
			out.concerns = append(out.concerns, fmt.Sprintf("%s represents %.1f%% of portfolio value - critical concentration", a.Token, pct))
		case types.RiskHigh:
			out.concerns = append(out.concerns, fmt.Sprintf("%s represents %.1f%% of portfolio value - high concentration", a.Token, pct))
		case types.RiskMedium:
			if share > moderateConcentration {
				out.concerns = append(out.concerns, fmt.Sprintf("%s represents %.1f%% of portfolio value - moderate concentration", a.Token, pct))
			}
		}
	}
	out.score = math.Min(hhi*hhiMultiplier, 1.0)
	return out
}

func (e *Engine) analyzeVolatility(ctx context.Context, snap *models.PortfolioSnapshot) analysis {
	var out analysis
	if len(snap.Assets) == 0 {
		return out
	}
	sum := 0.0
	for _, a := range snap.Assets {
		change := math.Abs(a.Change24h)
		sum += change
		switch e.volatilityLevel(ctx, change) {
		case types.VolatilityExtreme:
			out.concerns = append(out.concerns, fmt.Sprintf("%s extreme volatility: %.1f%% in 24h", a.Token, change))
		case types.VolatilityHigh:
			out.concerns = append(out.concerns, fmt.Sprintf("%s high volatility: %.1f%% in 24h", a.Token, change))
		}
	}
	out.score = math.Min(sum/float64(len(snap.Assets))/volatilityNormalizer, 1.0)
	return out
}

func (e *Engine) analyzeAssets(ctx context.Context, snap *models.PortfolioSnapshot) analysis {
	var out analysis
	total := 0.0
	for _, a := range snap.Assets {
		switch e.assetLevel(ctx, a.Token) {
		case types.RiskCritical:
			out.concerns = append(out.concerns, fmt.Sprintf("%s is classified as critical risk", a.Token))
			total += 1.0
		case types.RiskHigh:
			out.concerns = append(out.concerns, fmt.Sprintf("%s is classified as high risk", a.Token))
			total += 0.7
		case types.RiskMedium:
			// medium assets only count once they are a material part of the portfolio
			if a.ValueUSD()/snap.TotalUSD > mediumAssetMinShare {
				out.concerns = append(out.concerns, fmt.Sprintf("%s has a medium risk classification", a.Token))
				total += 0.3
			}
		}
	}
	out.score = math.Min(total/math.Max(float64(len(snap.Assets)), 1), 1.0)
	return out
}
