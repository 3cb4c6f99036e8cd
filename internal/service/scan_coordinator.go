package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/defiguard/internal/adapter"
	"github.com/defiguard/internal/logging"
	"github.com/defiguard/internal/models"
)

// ScanCoordinatorConfig configures a ScanCoordinator
type ScanCoordinatorConfig struct {
	// Concurrency bounds the number of (wallet, chain) pairs scanned at once
	Concurrency int
	// Budget is a soft wall-clock limit; pairs not yet started when it passes are skipped
	Budget time.Duration
}

// PairFailure records a (wallet, chain) pair whose scan failed
type PairFailure struct {
	Pair models.ScanPair
	Err  error
}

// ScanResult is a snapshot plus what went wrong while building it
type ScanResult struct {
	Snapshot *models.PortfolioSnapshot
	Failures []PairFailure
	Skipped  []models.ScanPair
}

// ScanCoordinator fans a portfolio out into (wallet, chain) scans and aggregates the results
type ScanCoordinator struct {
	scanner     adapter.ChainScanner
	concurrency int
	budget      time.Duration
	now         func() time.Time
}

// NewScanCoordinator creates a coordinator
func NewScanCoordinator(scanner adapter.ChainScanner, cfg ScanCoordinatorConfig) *ScanCoordinator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &ScanCoordinator{
		scanner:     scanner,
		concurrency: cfg.Concurrency,
		budget:      cfg.Budget,
		now:         time.Now,
	}
}

// Scan returns the portfolio snapshot. It never fails: failed pairs are logged and left out.
func (c *ScanCoordinator) Scan(ctx context.Context, portfolio *models.Portfolio) *models.PortfolioSnapshot {
	return c.ScanDetailed(ctx, portfolio).Snapshot
}

// ScanDetailed scans every pair and waits for all dispatched pairs before aggregating.
func (c *ScanCoordinator) ScanDetailed(ctx context.Context, portfolio *models.Portfolio) *ScanResult {
	logger := logging.FromContext(ctx).WithField("user_id", portfolio.UserID)
	pairs := portfolio.Pairs()

	var deadline time.Time
	if c.budget > 0 {
		deadline = c.now().Add(c.budget)
	}

	results := make([][]models.AssetBalance, len(pairs))
	var (
		mu       sync.Mutex
		failures []PairFailure
		skipped  []models.ScanPair
	)

	// Pair errors are recorded, never returned, so the group context is not used.
	var g errgroup.Group
	g.SetLimit(c.concurrency)

	for i, pair := range pairs {
		i, pair := i, pair
		g.Go(func() error {
			if ctx.Err() != nil || (!deadline.IsZero() && c.now().After(deadline)) {
				mu.Lock()
				skipped = append(skipped, pair)
				mu.Unlock()
				return nil
			}

			balances, err := c.scanner.Scan(ctx, pair.Wallet, pair.Chain)
			if err != nil {
				logger.WithFields(map[string]interface{}{
					"wallet": pair.Wallet,
					"chain":  pair.Chain,
				}).WithError(err).Warn("Pair scan failed, skipping")
				mu.Lock()
				failures = append(failures, PairFailure{Pair: pair, Err: err})
				mu.Unlock()
				return nil
			}
			results[i] = balances
			return nil
		})
	}
	_ = g.Wait()

	var assets []models.AssetBalance
	for _, r := range results {
		assets = append(assets, r...)
	}
	snapshot := models.NewSnapshot(portfolio.UserID, assets, c.now())

	if len(skipped) > 0 {
		logger.WithField("skipped", len(skipped)).Warn("Scan budget exhausted, emitting partial snapshot")
	}
	logger.WithFields(map[string]interface{}{
		"pairs":     len(pairs),
		"assets":    len(snapshot.Assets),
		"failures":  len(failures),
		"total_usd": snapshot.TotalUSD,
	}).Info("Portfolio scan complete")

	return &ScanResult{Snapshot: snapshot, Failures: failures, Skipped: skipped}
}
