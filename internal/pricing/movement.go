package pricing

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/defiguard/internal/models"
	"github.com/defiguard/internal/types"
)

const (
	// DefaultMoveThreshold is the price change, in percent, that raises a movement alert
	DefaultMoveThreshold = 10.0
	// HighMoveThreshold is the change from which a movement alert is high severity
	HighMoveThreshold = 20.0
	// VolumeSpikeRatio is the 24h volume to market cap ratio above which volume is unusual
	VolumeSpikeRatio = 0.5
)

// QuoteSource exposes cached quotes without fetching
type QuoteSource interface {
	Peek(tokenID string) (Entry, bool)
}

// PriceMove compares current against previous. It reports the signed percentage change
// and its severity when the absolute change reaches threshold.
func PriceMove(previous, current, threshold float64) (float64, types.RiskLevel, bool) {
	if previous <= 0 || current <= 0 {
		return 0, "", false
	}
	change := (current - previous) * 100 / previous
	abs := math.Abs(change)
	if abs < threshold {
		return change, "", false
	}
	if abs >= HighMoveThreshold {
		return change, types.RiskHigh, true
	}
	return change, types.RiskMedium, true
}

// VolumeSpike reports the volume to market cap ratio and whether it is unusual
func VolumeSpike(q Quote) (float64, bool) {
	if q.MarketCapUSD <= 0 {
		return 0, false
	}
	ratio := q.VolumeUSD / q.MarketCapUSD
	return ratio, ratio > VolumeSpikeRatio
}

// MovementWatcher remembers the last price each user saw per token and raises market
// alerts when a later scan moves past the threshold. A volume spike is raised once when
// it starts, not on every scan it persists.
type MovementWatcher struct {
	quotes    QuoteSource
	threshold float64
	now       func() time.Time

	mu      sync.Mutex
	last    map[string]float64
	spiking map[string]bool
}

// NewMovementWatcher creates a watcher. quotes may be nil, which disables volume checks.
func NewMovementWatcher(quotes QuoteSource, threshold float64) *MovementWatcher {
	if threshold <= 0 {
		threshold = DefaultMoveThreshold
	}
	return &MovementWatcher{
		quotes:    quotes,
		threshold: threshold,
		now:       time.Now,
		last:      make(map[string]float64),
		spiking:   make(map[string]bool),
	}
}

// WithClock replaces the time source, for tests
func (w *MovementWatcher) WithClock(now func() time.Time) *MovementWatcher {
	w.now = now
	return w
}

// Check records the prices in assets for userID and returns the alerts they raise.
// The same token held on several chains is checked once.
func (w *MovementWatcher) Check(userID string, assets []models.AssetBalance) []models.MarketAlert {
	w.mu.Lock()
	defer w.mu.Unlock()

	var alerts []models.MarketAlert
	seen := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		id := a.TokenID
		if id == "" {
			id = strings.ToLower(a.Token)
		}
		if _, dup := seen[id]; dup || a.PriceUSD <= 0 {
			continue
		}
		seen[id] = struct{}{}
		key := userID + "|" + id
		symbol := strings.ToUpper(a.Token)

		prev, had := w.last[key]
		w.last[key] = a.PriceUSD
		if had {
			if change, severity, ok := PriceMove(prev, a.PriceUSD, w.threshold); ok {
				direction := "increased"
				if change < 0 {
					direction = "decreased"
				}
				alerts = append(alerts, models.MarketAlert{
					Kind:      models.MarketPriceMove,
					UserID:    userID,
					TokenID:   id,
					Token:     a.Token,
					Severity:  severity,
					ChangePct: change,
					Message:   fmt.Sprintf("%s price %s by %.2f%% since the last scan", symbol, direction, math.Abs(change)),
					Timestamp: w.now().UTC(),
				})
			}
		}

		if w.quotes == nil || a.TokenID == "" {
			continue
		}
		e, ok := w.quotes.Peek(a.TokenID)
		if !ok {
			continue
		}
		ratio, spike := VolumeSpike(e.Quote)
		if spike && !w.spiking[key] {
			alerts = append(alerts, models.MarketAlert{
				Kind:        models.MarketVolumeSpike,
				UserID:      userID,
				TokenID:     id,
				Token:       a.Token,
				Severity:    types.RiskMedium,
				VolumeRatio: ratio,
				Message:     fmt.Sprintf("Unusual volume spike on %s: %.1f%% of market cap", symbol, ratio*100),
				Timestamp:   w.now().UTC(),
			})
		}
		w.spiking[key] = spike
	}
	return alerts
}
