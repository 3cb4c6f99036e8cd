package pricing

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/defiguard/internal/errors"
	"github.com/defiguard/internal/logging"
	"github.com/defiguard/internal/retry"
)

const (
	// DefaultTTL is how long a fetched quote is served from cache
	DefaultTTL = 60 * time.Second
	// DefaultFetchTimeout bounds one shared fetch, retries included
	DefaultFetchTimeout = 30 * time.Second
)

// Entry is a cached quote
type Entry struct {
	TokenID   string
	Quote     Quote
	FetchedAt time.Time
}

// PriceCache serves quotes younger than the TTL and refetches stale ones on demand.
// Failed fetches yield a zero quote that is never cached.
type PriceCache struct {
	fetcher      Fetcher
	ttl          time.Duration
	fetchTimeout time.Duration
	retry        *retry.RetryConfig
	now          func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
	group   singleflight.Group
}

// CacheConfig configures a PriceCache
type CacheConfig struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	Retry        *retry.RetryConfig
}

// NewPriceCache creates a cache in front of fetcher
func NewPriceCache(fetcher Fetcher, cfg CacheConfig) *PriceCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultRetryConfig()
	}
	if cfg.Retry.ShouldRetry == nil {
		rc := *cfg.Retry
		rc.ShouldRetry = apperrors.IsRetryable
		cfg.Retry = &rc
	}
	return &PriceCache{
		fetcher:      fetcher,
		ttl:          cfg.TTL,
		fetchTimeout: cfg.FetchTimeout,
		retry:        cfg.Retry,
		now:          time.Now,
		entries:      make(map[string]Entry),
	}
}

// WithClock replaces the time source, for tests
func (c *PriceCache) WithClock(now func() time.Time) *PriceCache {
	c.now = now
	return c
}

// Get returns the quote for tokenID, fetching it when missing or stale.
// Concurrent callers share one fetch, which outlives any single caller's context;
// a caller whose context ends first gets a zero quote.
func (c *PriceCache) Get(ctx context.Context, tokenID string) Quote {
	if tokenID == "" {
		return Quote{}
	}
	if e, ok := c.lookup(tokenID); ok {
		return e.Quote
	}

	ch := c.group.DoChan(tokenID, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return c.fetch(fetchCtx, tokenID), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Quote)
	case <-ctx.Done():
		return Quote{}
	}
}

func (c *PriceCache) lookup(tokenID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[tokenID]
	if !ok || c.now().Sub(e.FetchedAt) >= c.ttl {
		return Entry{}, false
	}
	return e, true
}

func (c *PriceCache) fetch(ctx context.Context, tokenID string) Quote {
	var quote Quote
	result := retry.WithExponentialBackoff(ctx, c.retry, func(ctx context.Context, attempt int) error {
		q, err := c.fetcher.FetchPrice(ctx, tokenID)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	if !result.Success {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"token":    tokenID,
			"attempts": result.Attempts,
		}).WithError(result.LastError).Warn("Price fetch failed, valuing at zero")
		return Quote{}
	}

	c.mu.Lock()
	c.entries[tokenID] = Entry{TokenID: tokenID, Quote: quote, FetchedAt: c.now()}
	c.mu.Unlock()
	return quote
}

// Peek returns the cached entry without fetching, regardless of age
func (c *PriceCache) Peek(tokenID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[tokenID]
	return e, ok
}
