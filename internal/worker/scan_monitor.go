package worker

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

const defaultMaxSamples = 1000

// ScanMonitor tracks pipeline run timings and outcomes
type ScanMonitor struct {
	mu            sync.RWMutex
	durations     []time.Duration
	maxSamples    int
	slowThreshold time.Duration

	runs         int64
	failedRuns   int64
	slowRuns     int64
	pairFailures int64
	delivered    int64
}

// NewScanMonitor creates a monitor; runs longer than slowThreshold count as slow
func NewScanMonitor(slowThreshold time.Duration) *ScanMonitor {
	return &ScanMonitor{
		durations:     make([]time.Duration, 0, defaultMaxSamples),
		maxSamples:    defaultMaxSamples,
		slowThreshold: slowThreshold,
	}
}

// RecordRun records one pipeline run. out may be nil when the run failed early.
func (m *ScanMonitor) RecordRun(duration time.Duration, out *Outcome, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs++
	m.durations = append(m.durations, duration)
	if len(m.durations) > m.maxSamples {
		m.durations = m.durations[len(m.durations)-m.maxSamples:]
	}

	if err != nil {
		m.failedRuns++
	}
	if m.slowThreshold > 0 && duration > m.slowThreshold {
		m.slowRuns++
	}
	if out != nil {
		m.pairFailures += int64(out.Failures)
		if out.Delivered {
			m.delivered++
		}
	}
}

// ScanStats contains pipeline run statistics
type ScanStats struct {
	Runs            int64   `json:"runs"`
	FailedRuns      int64   `json:"failed_runs"`
	SlowRuns        int64   `json:"slow_runs"`
	PairFailures    int64   `json:"pair_failures"`
	AlertsDelivered int64   `json:"alerts_delivered"`
	AvgMs           float64 `json:"avg_ms"`
	P95Ms           float64 `json:"p95_ms"`
	P99Ms           float64 `json:"p99_ms"`
}

// GetStats returns current statistics
func (m *ScanMonitor) GetStats() ScanStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := ScanStats{
		Runs:            m.runs,
		FailedRuns:      m.failedRuns,
		SlowRuns:        m.slowRuns,
		PairFailures:    m.pairFailures,
		AlertsDelivered: m.delivered,
	}
	if len(m.durations) == 0 {
		return stats
	}

	sorted := make([]time.Duration, len(m.durations))
	copy(sorted, m.durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	stats.AvgMs = float64(total.Milliseconds()) / float64(len(sorted))
	stats.P95Ms = float64(sorted[percentileIndex(len(sorted), 0.95)].Milliseconds())
	stats.P99Ms = float64(sorted[percentileIndex(len(sorted), 0.99)].Milliseconds())
	return stats
}

func percentileIndex(n int, p float64) int {
	i := int(float64(n) * p)
	if i >= n {
		i = n - 1
	}
	return i
}

// HealthCheck contains scan health check results
type HealthCheck struct {
	Passed bool     `json:"passed"`
	Issues []string `json:"issues"`
}

// CheckHealth flags a slow p95 and a failure rate above 20% once there are enough runs
func (m *ScanMonitor) CheckHealth() HealthCheck {
	stats := m.GetStats()
	check := HealthCheck{Passed: true, Issues: make([]string, 0)}

	if m.slowThreshold > 0 && stats.P95Ms > float64(m.slowThreshold.Milliseconds()) {
		check.Passed = false
		check.Issues = append(check.Issues,
			fmt.Sprintf("P95 scan time (%.0fms) exceeds %s", stats.P95Ms, m.slowThreshold))
	}
	if stats.Runs >= 10 {
		rate := float64(stats.FailedRuns) / float64(stats.Runs) * 100
		if rate > 20 {
			check.Passed = false
			check.Issues = append(check.Issues, fmt.Sprintf("Scan failure rate (%.1f%%) is above 20%%", rate))
		}
	}
	return check
}

// Reset clears all samples and counters
func (m *ScanMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations = make([]time.Duration, 0, m.maxSamples)
	m.runs, m.failedRuns, m.slowRuns, m.pairFailures, m.delivered = 0, 0, 0, 0, 0
}
