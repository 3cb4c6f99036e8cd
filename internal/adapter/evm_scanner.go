// Package adapter reads wallet balances from EVM chains.
package adapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/defiguard/internal/chain"
	apperrors "github.com/defiguard/internal/errors"
	"github.com/defiguard/internal/logging"
	"github.com/defiguard/internal/models"
	"github.com/defiguard/internal/pricing"
	"github.com/defiguard/internal/ratelimit"
	"github.com/defiguard/internal/wallet"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

// DefaultDustThreshold is the smallest token amount reported
var DefaultDustThreshold = decimal.New(1, -6)

// PriceSource returns a quote for a price-feed id; failures come back as a zero quote
type PriceSource interface {
	Get(ctx context.Context, tokenID string) pricing.Quote
}

// ChainScanner reads the balances of one wallet on one chain
type ChainScanner interface {
	Scan(ctx context.Context, walletAddr, chainKey string) ([]models.AssetBalance, error)
}

// EVMScanner implements ChainScanner against JSON-RPC endpoints
type EVMScanner struct {
	registry      *chain.Registry
	pool          *EndpointPool
	prices        PriceSource
	limiter       ratelimit.Waiter
	callTimeout   time.Duration
	dustThreshold decimal.Decimal
	erc20         abi.ABI
}

// EVMScannerConfig configures an EVMScanner
type EVMScannerConfig struct {
	Registry      *chain.Registry
	Pool          *EndpointPool
	Prices        PriceSource
	Limiter       ratelimit.Waiter
	CallTimeout   time.Duration
	DustThreshold decimal.Decimal
}

// NewEVMScanner creates a scanner
func NewEVMScanner(cfg EVMScannerConfig) (*EVMScanner, error) {
	if cfg.Registry == nil || cfg.Pool == nil || cfg.Prices == nil {
		return nil, fmt.Errorf("registry, endpoint pool and price source are required")
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.DustThreshold.IsZero() {
		cfg.DustThreshold = DefaultDustThreshold
	}
	return &EVMScanner{
		registry:      cfg.Registry,
		pool:          cfg.Pool,
		prices:        cfg.Prices,
		limiter:       cfg.Limiter,
		callTimeout:   cfg.CallTimeout,
		dustThreshold: cfg.DustThreshold,
		erc20:         parsed,
	}, nil
}

// Scan returns the native and known stable-asset balances of walletAddr on chainKey.
// Individual balance read failures are logged and skipped; only a missing live endpoint fails the scan.
func (s *EVMScanner) Scan(ctx context.Context, walletAddr, chainKey string) ([]models.AssetBalance, error) {
	cfg, ok := s.registry.Get(chainKey)
	if !ok {
		return nil, apperrors.NewValidationError("chain", fmt.Sprintf("unsupported chain %q", chainKey))
	}
	addr, err := wallet.Validate(walletAddr)
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"chain":  cfg.Key,
		"wallet": addr.Hex(),
	})

	client, endpoint, err := s.pool.Acquire(ctx, cfg.Key, cfg.RPCEndpoints)
	if err != nil {
		return nil, err
	}
	logger = logger.WithField("endpoint", endpoint)

	var balances []models.AssetBalance

	native, err := s.nativeBalance(ctx, client, endpoint, addr.Bytes())
	if err != nil {
		logger.WithError(err).Warn("Failed to read native balance")
	} else if amount := decimal.NewFromBigInt(native, -int32(cfg.NativeDecimals)); !amount.LessThan(s.dustThreshold) {
		balances = append(balances, models.AssetBalance{
			Token:   cfg.NativeSymbol,
			TokenID: cfg.NativeID,
			Chain:   cfg.Key,
			Balance: amount,
		})
	}

	for _, asset := range cfg.StableAssets {
		raw, err := s.tokenBalance(ctx, client, endpoint, asset, addr.Bytes())
		if err != nil {
			logger.WithField("token", asset.Symbol).WithError(err).Warn("Failed to read token balance")
			continue
		}
		if raw.Sign() == 0 {
			continue
		}
		decimals := s.tokenDecimals(ctx, client, endpoint, asset)
		amount := decimal.NewFromBigInt(raw, -int32(decimals))
		if amount.LessThan(s.dustThreshold) {
			continue
		}
		balances = append(balances, models.AssetBalance{
			Token:   asset.Symbol,
			TokenID: asset.CoinGeckoID,
			Chain:   cfg.Key,
			Balance: amount,
		})
	}

	for i := range balances {
		quote := s.prices.Get(ctx, balances[i].TokenID)
		balances[i].PriceUSD = quote.PriceUSD
		balances[i].Change24h = quote.Change24h
	}

	logger.WithField("assets", len(balances)).Debug("Chain scan complete")
	return balances, nil
}

func (s *EVMScanner) wait(ctx context.Context, endpoint string) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx, ratelimit.RPCProvider(endpoint))
}

func (s *EVMScanner) nativeBalance(ctx context.Context, client EVMClient, endpoint string, owner common.Address) (*big.Int, error) {
	if err := s.wait(ctx, endpoint); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return client.BalanceAt(callCtx, owner, nil)
}

func (s *EVMScanner) call(ctx context.Context, client EVMClient, endpoint string, contract common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := s.erc20.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	if err := s.wait(ctx, endpoint); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	out, err := client.CallContract(callCtx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no data", method)
	}
	return s.erc20.Unpack(method, out)
}

func (s *EVMScanner) tokenBalance(ctx context.Context, client EVMClient, endpoint string, asset chain.Asset, owner common.Address) (*big.Int, error) {
	values, err := s.call(ctx, client, endpoint, common.HexToAddress(asset.Contract), "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	bal, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result %T", values[0])
	}
	return bal, nil
}

// tokenDecimals asks the contract and falls back to the registry value
func (s *EVMScanner) tokenDecimals(ctx context.Context, client EVMClient, endpoint string, asset chain.Asset) uint8 {
	values, err := s.call(ctx, client, endpoint, common.HexToAddress(asset.Contract), "decimals")
	if err != nil {
		logging.FromContext(ctx).WithField("token", asset.Symbol).WithError(err).
			Debug("decimals() failed, using default")
		return asset.Decimals
	}
	if d, ok := values[0].(uint8); ok {
		return d
	}
	return asset.Decimals
}
