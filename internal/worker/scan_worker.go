package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/defiguard/internal/logging"
	"github.com/defiguard/internal/models"
	"github.com/defiguard/internal/storage"
)

const triggerBuffer = 64

// PortfolioSource lists and loads registered portfolios
type PortfolioSource interface {
	ListUserIDs(ctx context.Context) ([]string, error)
	Get(ctx context.Context, userID string) (*models.Portfolio, error)
}

// Processor runs the pipeline for one portfolio
type Processor interface {
	Process(ctx context.Context, portfolio *models.Portfolio) (*Outcome, error)
}

// ScanWorkerConfig holds configuration for a scan worker
type ScanWorkerConfig struct {
	Processor  Processor
	Portfolios PortfolioSource
	Interval   time.Duration
	// BatchSize caps portfolios per cycle; 0 scans all of them. Batches rotate round-robin.
	BatchSize int
	// Spacing is the pause between two portfolios within a cycle
	Spacing time.Duration
	// SlowThreshold marks pipeline runs as slow in the scan statistics
	SlowThreshold time.Duration
}

// ScanWorker periodically runs every registered portfolio through the pipeline and
// serves out-of-cycle triggers from the dispatcher.
type ScanWorker struct {
	processor  Processor
	portfolios PortfolioSource
	interval   time.Duration
	batchSize  int
	spacing    time.Duration
	triggerCh  chan string
	monitor    *ScanMonitor

	mu         sync.RWMutex
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	cursor     int
	lastCycle  time.Time
	cycles     int
	processed  int
	lastErrors int
}

// ScanWorkerStatus is a point-in-time view of the worker
type ScanWorkerStatus struct {
	Running    bool        `json:"running"`
	Interval   string      `json:"interval"`
	LastCycle  time.Time   `json:"last_cycle,omitempty"`
	Cycles     int         `json:"cycles"`
	Processed  int         `json:"portfolios_processed"`
	LastErrors int         `json:"last_cycle_errors"`
	Scans      ScanStats   `json:"scans"`
	Health     HealthCheck `json:"health"`
}

// NewScanWorker creates a new scan worker
func NewScanWorker(cfg ScanWorkerConfig) (*ScanWorker, error) {
	if cfg.Processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	if cfg.Portfolios == nil {
		return nil, fmt.Errorf("portfolio source cannot be nil")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", cfg.Interval)
	}
	if cfg.BatchSize < 0 {
		cfg.BatchSize = 0
	}
	return &ScanWorker{
		processor:  cfg.Processor,
		portfolios: cfg.Portfolios,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		spacing:    cfg.Spacing,
		triggerCh:  make(chan string, triggerBuffer),
		monitor:    NewScanMonitor(cfg.SlowThreshold),
	}, nil
}

// Start begins the scan loop
func (w *ScanWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("scan worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	logging.FromContext(ctx).WithField("interval", w.interval.String()).Info("Starting scan worker")
	go w.loop(ctx, w.stopCh, w.doneCh)
	return nil
}

// Stop signals the loop and waits for the in-flight portfolio to finish
func (w *ScanWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("scan worker is not running")
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		logging.FromContext(ctx).Info("Scan worker stopped gracefully")
	case <-ctx.Done():
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

// Trigger queues an out-of-cycle scan. It never blocks; a full queue drops the request
// because the next scheduled cycle covers the portfolio anyway.
func (w *ScanWorker) Trigger(userID string) {
	select {
	case w.triggerCh <- userID:
	default:
		logging.WithField("user_id", userID).Warn("Scan trigger queue full, dropping request")
	}
}

func (w *ScanWorker) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	logger := logging.FromContext(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Scan worker context cancelled")
			return
		case <-stopCh:
			return
		case userID := <-w.triggerCh:
			if err := w.ProcessUser(ctx, userID); err != nil {
				logger.WithField("user_id", userID).WithError(err).Warn("Triggered scan failed")
			}
		case <-ticker.C:
			n, err := w.RunCycle(ctx, stopCh)
			if err != nil {
				logger.WithError(err).Error("Scan cycle failed")
				continue
			}
			logger.WithField("portfolios", n).Info("Scan cycle complete")
		}
	}
}

// ProcessUser loads one portfolio and runs it through the pipeline
func (w *ScanWorker) ProcessUser(ctx context.Context, userID string) error {
	p, err := w.portfolios.Get(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load portfolio: %w", err)
	}
	start := time.Now()
	out, err := w.processor.Process(ctx, p)
	w.monitor.RecordRun(time.Since(start), out, err)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.processed++
	w.mu.Unlock()
	return nil
}

// RunCycle processes the next batch of portfolios and returns how many were attempted.
// A closed stop channel ends the cycle between portfolios; stop may be nil.
func (w *ScanWorker) RunCycle(ctx context.Context, stop <-chan struct{}) (int, error) {
	ids, err := w.portfolios.ListUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list portfolios: %w", err)
	}
	batch := w.nextBatch(ids)
	logger := logging.FromContext(ctx)

	failed := 0
	attempted := 0
	for i, id := range batch {
		if i > 0 && w.spacing > 0 {
			select {
			case <-ctx.Done():
				return attempted, ctx.Err()
			case <-stop:
				return attempted, nil
			case <-time.After(w.spacing):
			}
		}
		attempted++
		if err := w.ProcessUser(ctx, id); err != nil {
			failed++
			logger.WithField("user_id", id).WithError(err).Warn("Portfolio processing failed")
		}
	}

	w.mu.Lock()
	w.lastCycle = time.Now()
	w.cycles++
	w.lastErrors = failed
	w.mu.Unlock()
	return attempted, nil
}

func (w *ScanWorker) nextBatch(ids []string) []string {
	if w.batchSize == 0 || w.batchSize >= len(ids) {
		return ids
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	start := w.cursor % len(ids)
	batch := make([]string, 0, w.batchSize)
	for i := 0; i < w.batchSize; i++ {
		batch = append(batch, ids[(start+i)%len(ids)])
	}
	w.cursor = (start + w.batchSize) % len(ids)
	return batch
}

// GetStatus returns the current worker status
func (w *ScanWorker) GetStatus() ScanWorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return ScanWorkerStatus{
		Running:    w.running,
		Interval:   w.interval.String(),
		LastCycle:  w.lastCycle,
		Cycles:     w.cycles,
		Processed:  w.processed,
		LastErrors: w.lastErrors,
		Scans:      w.monitor.GetStats(),
		Health:     w.monitor.CheckHealth(),
	}
}
