package adapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	apperrors "github.com/defiguard/internal/errors"
	"github.com/defiguard/internal/logging"
	"github.com/defiguard/internal/ratelimit"
)

// EVMClient is the subset of *ethclient.Client the scanner needs
type EVMClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Dialer opens a client for an RPC URL
type Dialer func(ctx context.Context, url string) (EVMClient, error)

// DialEthClient is the production Dialer
func DialEthClient(ctx context.Context, url string) (EVMClient, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// NoLiveEndpointError is returned when every configured endpoint of a chain failed its probe
type NoLiveEndpointError struct {
	Chain  string
	Tried  int
	Causes []error
}

func (e *NoLiveEndpointError) Error() string {
	parts := make([]string, 0, len(e.Causes))
	for _, c := range e.Causes {
		parts = append(parts, c.Error())
	}
	return fmt.Sprintf("no live RPC endpoint for %s (%d tried): %s", e.Chain, e.Tried, strings.Join(parts, "; "))
}

func (e *NoLiveEndpointError) Category() apperrors.ErrorCategory {
	return apperrors.CategoryNoLiveEndpoint
}

// EndpointPool dials RPC endpoints lazily and picks the first one that answers a liveness probe.
// Selection is not sticky: every Acquire re-probes from the top of the list.
type EndpointPool struct {
	dial         Dialer
	probeTimeout time.Duration
	limiter      ratelimit.Waiter

	mu      sync.Mutex
	clients map[string]EVMClient
}

// EndpointPoolConfig configures an EndpointPool
type EndpointPoolConfig struct {
	Dialer       Dialer
	ProbeTimeout time.Duration
	Limiter      ratelimit.Waiter
}

// NewEndpointPool creates a pool. A nil Dialer uses DialEthClient.
func NewEndpointPool(cfg EndpointPoolConfig) *EndpointPool {
	if cfg.Dialer == nil {
		cfg.Dialer = DialEthClient
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &EndpointPool{
		dial:         cfg.Dialer,
		probeTimeout: cfg.ProbeTimeout,
		limiter:      cfg.Limiter,
		clients:      make(map[string]EVMClient),
	}
}

// Acquire probes endpoints in order and returns the first live client and its URL
func (p *EndpointPool) Acquire(ctx context.Context, chainKey string, endpoints []string) (EVMClient, string, error) {
	logger := logging.FromContext(ctx).WithField("chain", chainKey)
	var causes []error

	for _, url := range endpoints {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		client, err := p.probe(ctx, url)
		if err == nil {
			return client, url, nil
		}
		logger.WithFields(map[string]interface{}{
			"endpoint":  url,
			"rateLimit": IsRateLimitError(err),
		}).WithError(err).Warn("RPC endpoint failed liveness probe")
		causes = append(causes, fmt.Errorf("%s: %w", url, err))
	}

	return nil, "", &NoLiveEndpointError{Chain: chainKey, Tried: len(endpoints), Causes: causes}
}

func (p *EndpointPool) probe(ctx context.Context, url string) (EVMClient, error) {
	probeCtx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	client, err := p.client(probeCtx, url)
	if err != nil {
		return nil, err
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(probeCtx, ratelimit.RPCProvider(url)); err != nil {
			return nil, err
		}
	}
	if _, err := client.BlockNumber(probeCtx); err != nil {
		p.drop(url)
		return nil, err
	}
	return client, nil
}

func (p *EndpointPool) client(ctx context.Context, url string) (EVMClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[url]; ok {
		return c, nil
	}
	c, err := p.dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	p.clients[url] = c
	return c, nil
}

func (p *EndpointPool) drop(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[url]; ok {
		c.Close()
		delete(p.clients, url)
	}
}

// Close closes all client connections
func (p *EndpointPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, c := range p.clients {
		c.Close()
		delete(p.clients, url)
	}
}

// IsRateLimitError checks if an error indicates rate limiting (429)
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "exceeded") ||
		strings.Contains(errStr, "throttl")
}
