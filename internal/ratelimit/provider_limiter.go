// Package ratelimit spaces outbound calls per external provider.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Provider keys
const (
	ProviderCoinGecko = "coingecko"
	rpcPrefix         = "rpc:"
)

// RPCProvider returns the limiter key for an RPC endpoint URL
func RPCProvider(endpoint string) string {
	return rpcPrefix + endpoint
}

// Waiter blocks until a call to provider is allowed
type Waiter interface {
	Wait(ctx context.Context, provider string) error
}

// ProviderLimiter keeps one token bucket per provider with burst 1,
// so consecutive calls to the same provider are at least `spacing` apart.
type ProviderLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	limit    rate.Limit
}

// NewProviderLimiter creates a limiter with the given minimum spacing.
// A zero spacing disables limiting.
func NewProviderLimiter(spacing time.Duration) *ProviderLimiter {
	limit := rate.Inf
	if spacing > 0 {
		limit = rate.Every(spacing)
	}
	return &ProviderLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
	}
}

func (pl *ProviderLimiter) getLimiter(provider string) *rate.Limiter {
	pl.mu.RLock()
	limiter, exists := pl.limiters[provider]
	pl.mu.RUnlock()
	if exists {
		return limiter
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()
	if limiter, exists := pl.limiters[provider]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(pl.limit, 1)
	pl.limiters[provider] = limiter
	return limiter
}

// Wait blocks until provider may be called again or ctx is done
func (pl *ProviderLimiter) Wait(ctx context.Context, provider string) error {
	return pl.getLimiter(provider).Wait(ctx)
}

// Providers returns the number of providers seen so far
func (pl *ProviderLimiter) Providers() int {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return len(pl.limiters)
}
