// Package worker runs the scan, score and alert pipeline, on a schedule and on demand.
package worker

import (
	"context"
	"fmt"

	"github.com/defiguard/internal/logging"
	"github.com/defiguard/internal/models"
	"github.com/defiguard/internal/service"
)

// Scanner produces a snapshot for a portfolio
type Scanner interface {
	ScanDetailed(ctx context.Context, portfolio *models.Portfolio) *service.ScanResult
}

// Evaluator scores a snapshot
type Evaluator interface {
	Evaluate(ctx context.Context, snap *models.PortfolioSnapshot) (*models.RiskReport, error)
}

// AlertSink receives reports; it decides itself whether a report is alert-worthy
type AlertSink interface {
	DeliverAlert(ctx context.Context, report *models.RiskReport) (bool, error)
}

// MarketWatch turns the prices in a snapshot into movement alerts for its user
type MarketWatch interface {
	Check(userID string, assets []models.AssetBalance) []models.MarketAlert
}

// MarketSink pushes movement alerts to the user
type MarketSink interface {
	DeliverMarketAlerts(ctx context.Context, userID string, alerts []models.MarketAlert) (bool, error)
}

// Archive records every snapshot together with its report, if one was produced
type Archive interface {
	Record(ctx context.Context, snap *models.PortfolioSnapshot, report *models.RiskReport) error
}

// PipelineConfig holds the pipeline stages. Archive and the market pair are optional.
type PipelineConfig struct {
	Scanner        Scanner
	Evaluator      Evaluator
	Alerts         AlertSink
	Archive        Archive
	Market         MarketWatch
	MarketAlerts   MarketSink
	NoiseThreshold float64
}

// Pipeline wires scanner, evaluator and alert sink for one portfolio at a time
type Pipeline struct {
	scanner        Scanner
	evaluator      Evaluator
	alerts         AlertSink
	archive        Archive
	market         MarketWatch
	marketAlerts   MarketSink
	noiseThreshold float64
}

// Outcome describes one pipeline run
type Outcome struct {
	Snapshot  *models.PortfolioSnapshot
	Report    *models.RiskReport // nil when the portfolio was below the noise threshold
	Failures  int
	Skipped   int
	Delivered bool
	Market    int // market alerts raised
}

// NewPipeline creates a pipeline
func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		scanner:        cfg.Scanner,
		evaluator:      cfg.Evaluator,
		alerts:         cfg.Alerts,
		archive:        cfg.Archive,
		market:         cfg.Market,
		marketAlerts:   cfg.MarketAlerts,
		noiseThreshold: cfg.NoiseThreshold,
	}
}

// Process scans a portfolio, scores it when its value clears the noise threshold and
// hands the report to the alert sink.
func (p *Pipeline) Process(ctx context.Context, portfolio *models.Portfolio) (*Outcome, error) {
	logger := logging.FromContext(ctx).WithField("user_id", portfolio.UserID)

	scan := p.scanner.ScanDetailed(ctx, portfolio)
	out := &Outcome{
		Snapshot: scan.Snapshot,
		Failures: len(scan.Failures),
		Skipped:  len(scan.Skipped),
	}

	if scan.Snapshot.TotalUSD > p.noiseThreshold {
		report, err := p.evaluator.Evaluate(ctx, scan.Snapshot)
		if err != nil {
			return out, fmt.Errorf("evaluate %s: %w", portfolio.UserID, err)
		}
		out.Report = report
	} else {
		logger.WithField("total_usd", scan.Snapshot.TotalUSD).Debug("Portfolio below noise threshold, not scored")
	}

	if p.archive != nil {
		if err := p.archive.Record(ctx, scan.Snapshot, out.Report); err != nil {
			logger.WithError(err).Warn("Failed to archive snapshot")
		}
	}

	if p.market != nil && p.marketAlerts != nil {
		if moves := p.market.Check(portfolio.UserID, scan.Snapshot.Assets); len(moves) > 0 {
			out.Market = len(moves)
			if _, err := p.marketAlerts.DeliverMarketAlerts(ctx, portfolio.UserID, moves); err != nil {
				logger.WithError(err).Warn("Failed to deliver market alerts")
			}
		}
	}

	if out.Report != nil {
		delivered, err := p.alerts.DeliverAlert(ctx, out.Report)
		if err != nil {
			return out, fmt.Errorf("deliver alert for %s: %w", portfolio.UserID, err)
		}
		out.Delivered = delivered
		logger.WithFields(map[string]interface{}{
			"risk_level": out.Report.Level,
			"risk_score": out.Report.Score,
			"alert":      out.Report.ShouldAlert,
			"delivered":  delivered,
		}).Info("Portfolio evaluated")
	}

	return out, nil
}
