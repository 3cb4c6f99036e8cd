// Package chain holds the static table of supported EVM chains.
package chain

import (
	"fmt"
	"sort"
	"strings"
)

// Asset is a known ERC-20 contract scanned on every pass
type Asset struct {
	Symbol      string `json:"symbol"`
	CoinGeckoID string `json:"coingecko_id"`
	Contract    string `json:"contract"`
	// Decimals is used when the contract's decimals() call fails
	Decimals uint8 `json:"decimals"`
}

// Config describes one supported chain
type Config struct {
	Key            string   `json:"key"`
	Name           string   `json:"name"`
	ChainID        int64    `json:"chain_id"`
	RPCEndpoints   []string `json:"rpc_endpoints"`
	NativeSymbol   string   `json:"native_symbol"`
	NativeID       string   `json:"native_id"`
	NativeDecimals uint8    `json:"native_decimals"`
	ExplorerURL    string   `json:"explorer_url"`
	StableAssets   []Asset  `json:"stable_assets"`
}

// Registry is an immutable, validated set of chain configs
type Registry struct {
	chains map[string]Config
	order  []string
}

// NewRegistry validates configs and builds a registry.
// Keys are lower-cased; every chain needs at least one endpoint, and keys and chain ids must be unique.
func NewRegistry(configs []Config) (*Registry, error) {
	r := &Registry{chains: make(map[string]Config, len(configs))}
	ids := make(map[int64]string, len(configs))

	for _, c := range configs {
		c.Key = strings.ToLower(strings.TrimSpace(c.Key))
		if c.Key == "" {
			return nil, fmt.Errorf("chain config with empty key")
		}
		if len(c.RPCEndpoints) == 0 {
			return nil, fmt.Errorf("chain %s has no RPC endpoints", c.Key)
		}
		if _, dup := r.chains[c.Key]; dup {
			return nil, fmt.Errorf("duplicate chain key %s", c.Key)
		}
		if other, dup := ids[c.ChainID]; dup {
			return nil, fmt.Errorf("chain id %d used by both %s and %s", c.ChainID, other, c.Key)
		}
		ids[c.ChainID] = c.Key
		c.RPCEndpoints = append([]string(nil), c.RPCEndpoints...)
		c.StableAssets = append([]Asset(nil), c.StableAssets...)
		r.chains[c.Key] = c
		r.order = append(r.order, c.Key)
	}
	return r, nil
}

// Get returns the config for key (case-insensitive)
func (r *Registry) Get(key string) (Config, bool) {
	c, ok := r.chains[strings.ToLower(key)]
	return c, ok
}

// Has reports whether key is a supported chain
func (r *Registry) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Keys returns the chain keys in registration order
func (r *Registry) Keys() []string {
	return append([]string(nil), r.order...)
}

// All returns every chain config in registration order
func (r *Registry) All() []Config {
	out := make([]Config, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.chains[k])
	}
	return out
}

// Suggest lists keys that contain token or are contained in it.
// It is only a hint for error messages.
func (r *Registry) Suggest(token string) []string {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return nil
	}
	var out []string
	for _, k := range r.order {
		if strings.Contains(k, token) || strings.Contains(token, k) {
			out = append(out, k)
		}
	}
	return out
}

// WithOverrides returns a copy whose endpoint lists are replaced where overrides has an entry.
func (r *Registry) WithOverrides(overrides map[string][]string) (*Registry, error) {
	configs := r.All()
	for i := range configs {
		if urls, ok := overrides[configs[i].Key]; ok && len(urls) > 0 {
			configs[i].RPCEndpoints = urls
		}
	}
	unknown := make([]string, 0)
	for k := range overrides {
		if !r.Has(k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("RPC overrides for unknown chains: %s", strings.Join(unknown, ", "))
	}
	return NewRegistry(configs)
}
