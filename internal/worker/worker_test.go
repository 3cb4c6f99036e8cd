package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defiguard/internal/knowledge"
	"github.com/defiguard/internal/models"
	"github.com/defiguard/internal/pricing"
	"github.com/defiguard/internal/risk"
	"github.com/defiguard/internal/service"
	"github.com/defiguard/internal/storage"
	"github.com/defiguard/internal/types"
)

type fixedScanner struct {
	assets map[string][]models.AssetBalance
}

func (s *fixedScanner) ScanDetailed(_ context.Context, p *models.Portfolio) *service.ScanResult {
	return &service.ScanResult{Snapshot: models.NewSnapshot(p.UserID, s.assets[p.UserID], time.Now())}
}

type sinkSpy struct {
	mu      sync.Mutex
	reports []*models.RiskReport
}

func (s *sinkSpy) DeliverAlert(_ context.Context, r *models.RiskReport) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return r.ShouldAlert, nil
}

type marketSpy struct {
	users  []string
	alerts []models.MarketAlert
	err    error
}

func (m *marketSpy) DeliverMarketAlerts(_ context.Context, userID string, alerts []models.MarketAlert) (bool, error) {
	m.users = append(m.users, userID)
	m.alerts = append(m.alerts, alerts...)
	return m.err == nil, m.err
}

type archiveSpy struct {
	rows int
	err  error
}

func (a *archiveSpy) Record(context.Context, *models.PortfolioSnapshot, *models.RiskReport) error {
	a.rows++
	return a.err
}

func usd(token string, value, change float64) models.AssetBalance {
	return models.AssetBalance{Token: token, Balance: decimal.NewFromFloat(value), PriceUSD: 1, Change24h: change}
}

func newTestPipeline(assets map[string][]models.AssetBalance, sink *sinkSpy, archive Archive) *Pipeline {
	return NewPipeline(PipelineConfig{
		Scanner:        &fixedScanner{assets: assets},
		Evaluator:      risk.NewEngine(knowledge.NewFallbackTable()),
		Alerts:         sink,
		Archive:        archive,
		NoiseThreshold: 1.0,
	})
}

func TestPipelineScoresAndDelivers(t *testing.T) {
	sink := &sinkSpy{}
	archive := &archiveSpy{err: errors.New("clickhouse down")}
	p := newTestPipeline(map[string][]models.AssetBalance{
		"alice": {usd("elon_inu_moon", 50000, 45.2)},
	}, sink, archive)

	out, err := p.Process(context.Background(), &models.Portfolio{UserID: "alice"})
	require.NoError(t, err)
	require.NotNil(t, out.Report)
	assert.Equal(t, types.RiskCritical, out.Report.Level)
	assert.True(t, out.Delivered)
	assert.Len(t, sink.reports, 1)
	assert.Equal(t, 1, archive.rows, "archive failures are not fatal")
}

func TestPipelineSkipsScoringBelowNoiseThreshold(t *testing.T) {
	sink := &sinkSpy{}
	archive := &archiveSpy{}
	p := newTestPipeline(map[string][]models.AssetBalance{
		"bob": {usd("usdc", 0.5, 0)},
	}, sink, archive)

	out, err := p.Process(context.Background(), &models.Portfolio{UserID: "bob"})
	require.NoError(t, err)
	assert.Nil(t, out.Report)
	assert.False(t, out.Delivered)
	assert.Empty(t, sink.reports)
	assert.Equal(t, 1, archive.rows)

	out, err = p.Process(context.Background(), &models.Portfolio{UserID: "nobody"})
	require.NoError(t, err)
	assert.Zero(t, out.Snapshot.TotalUSD)
	assert.Empty(t, out.Snapshot.Assets)
}

func TestPipelineRaisesMarketAlertsBetweenScans(t *testing.T) {
	assets := map[string][]models.AssetBalance{
		"erin": {{Token: "eth", TokenID: "ethereum", Balance: decimal.NewFromInt(10), PriceUSD: 2000}},
	}
	market := &marketSpy{err: errors.New("hub gone")}
	p := NewPipeline(PipelineConfig{
		Scanner:        &fixedScanner{assets: assets},
		Evaluator:      risk.NewEngine(knowledge.NewFallbackTable()),
		Alerts:         &sinkSpy{},
		Market:         pricing.NewMovementWatcher(nil, pricing.DefaultMoveThreshold),
		MarketAlerts:   market,
		NoiseThreshold: 1.0,
	})
	ctx := context.Background()
	portfolio := &models.Portfolio{UserID: "erin"}

	out, err := p.Process(ctx, portfolio)
	require.NoError(t, err)
	assert.Zero(t, out.Market)

	assets["erin"][0].PriceUSD = 1500
	out, err = p.Process(ctx, portfolio)
	require.NoError(t, err, "market delivery failures are not fatal")
	assert.Equal(t, 1, out.Market)
	require.NotNil(t, out.Report)
	assert.Equal(t, []string{"erin"}, market.users)
	require.Len(t, market.alerts, 1)
	assert.Equal(t, types.RiskHigh, market.alerts[0].Severity)
}

type processorSpy struct {
	mu    sync.Mutex
	users []string
	seen  chan string
}

func (p *processorSpy) Process(_ context.Context, portfolio *models.Portfolio) (*Outcome, error) {
	p.mu.Lock()
	p.users = append(p.users, portfolio.UserID)
	p.mu.Unlock()
	if p.seen != nil {
		p.seen <- portfolio.UserID
	}
	return &Outcome{}, nil
}

func seededPortfolios(t *testing.T, users ...string) *storage.PortfolioRepository {
	t.Helper()
	repo := storage.NewPortfolioRepository(storage.NewMemoryStore())
	for _, u := range users {
		require.NoError(t, repo.Save(context.Background(), &models.Portfolio{UserID: u, Chains: []string{"ethereum"}}))
	}
	return repo
}

func TestRunCycleRotatesBatches(t *testing.T) {
	proc := &processorSpy{}
	w, err := NewScanWorker(ScanWorkerConfig{
		Processor:  proc,
		Portfolios: seededPortfolios(t, "a", "b", "c"),
		Interval:   time.Hour,
		BatchSize:  2,
	})
	require.NoError(t, err)

	ctx := context.Background()
	n, err := w.RunCycle(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = w.RunCycle(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "a"}, proc.users)
	status := w.GetStatus()
	assert.Equal(t, 2, status.Cycles)
	assert.Equal(t, 4, status.Processed)
	assert.EqualValues(t, 4, status.Scans.Runs)
	assert.True(t, status.Health.Passed)
}

func TestTriggerProcessesOutOfCycle(t *testing.T) {
	proc := &processorSpy{seen: make(chan string, 1)}
	w, err := NewScanWorker(ScanWorkerConfig{
		Processor:  proc,
		Portfolios: seededPortfolios(t, "alice"),
		Interval:   time.Hour,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	assert.Error(t, w.Start(ctx))

	w.Trigger("alice")
	select {
	case got := <-proc.seen:
		assert.Equal(t, "alice", got)
	case <-time.After(5 * time.Second):
		t.Fatal("triggered scan did not run")
	}

	require.NoError(t, w.Stop(ctx))
	assert.False(t, w.GetStatus().Running)
	assert.Error(t, w.Stop(ctx))
}

func TestNewScanWorkerValidation(t *testing.T) {
	_, err := NewScanWorker(ScanWorkerConfig{Portfolios: seededPortfolios(t), Interval: time.Second})
	assert.Error(t, err)
	_, err = NewScanWorker(ScanWorkerConfig{Processor: &processorSpy{}, Portfolios: seededPortfolios(t)})
	assert.Error(t, err)
}
