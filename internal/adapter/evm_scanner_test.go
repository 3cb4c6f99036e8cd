package adapter

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defiguard/internal/chain"
	apperrors "github.com/defiguard/internal/errors"
	"github.com/defiguard/internal/pricing"
)

const (
	testWallet = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	usdcAddr   = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	daiAddr    = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
)

var testABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

type fakeClient struct {
	mu         sync.Mutex
	blockErr   error
	native     *big.Int
	nativeErr  error
	tokens     map[common.Address]*big.Int
	decimals   map[common.Address]uint8
	closed     bool
	probeCalls int
}

func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeCalls++
	return 19_000_000, f.blockErr
}

func (f *fakeClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if f.nativeErr != nil {
		return nil, f.nativeErr
	}
	return f.native, nil
}

func (f *fakeClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	selector := msg.Data[:4]
	switch {
	case bytes.Equal(selector, testABI.Methods["balanceOf"].ID):
		bal, ok := f.tokens[*msg.To]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		return testABI.Methods["balanceOf"].Outputs.Pack(bal)
	case bytes.Equal(selector, testABI.Methods["decimals"].ID):
		d, ok := f.decimals[*msg.To]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		return testABI.Methods["decimals"].Outputs.Pack(d)
	}
	return nil, errors.New("unknown selector")
}

func (f *fakeClient) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

type fakePrices map[string]pricing.Quote

func (p fakePrices) Get(ctx context.Context, tokenID string) pricing.Quote {
	return p[tokenID]
}

func testRegistry(t *testing.T, endpoints ...string) *chain.Registry {
	r, err := chain.NewRegistry([]chain.Config{{
		Key: "testnet", ChainID: 31337, RPCEndpoints: endpoints,
		NativeSymbol: "ETH", NativeID: "ethereum", NativeDecimals: 18,
		StableAssets: []chain.Asset{
			{Symbol: "USDC", CoinGeckoID: "usd-coin", Contract: usdcAddr, Decimals: 6},
			{Symbol: "DAI", CoinGeckoID: "dai", Contract: daiAddr, Decimals: 18},
		},
	}})
	require.NoError(t, err)
	return r
}

func dialerFor(clients map[string]*fakeClient) Dialer {
	return func(ctx context.Context, url string) (EVMClient, error) {
		c, ok := clients[url]
		if !ok {
			return nil, errors.New("connection refused")
		}
		return c, nil
	}
}

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func newTestScanner(t *testing.T, clients map[string]*fakeClient, prices fakePrices, endpoints ...string) *EVMScanner {
	pool := NewEndpointPool(EndpointPoolConfig{Dialer: dialerFor(clients)})
	s, err := NewEVMScanner(EVMScannerConfig{
		Registry: testRegistry(t, endpoints...),
		Pool:     pool,
		Prices:   prices,
	})
	require.NoError(t, err)
	return s
}

func TestScanFailsOverToSecondEndpoint(t *testing.T) {
	down := &fakeClient{blockErr: errors.New("503 service unavailable")}
	up := &fakeClient{native: eth(2), tokens: map[common.Address]*big.Int{}}
	clients := map[string]*fakeClient{"http://down": down, "http://up": up}
	s := newTestScanner(t, clients, fakePrices{"ethereum": {PriceUSD: 2000, Change24h: 1.5}}, "http://down", "http://up")

	for i := 0; i < 2; i++ {
		balances, err := s.Scan(context.Background(), testWallet, "testnet")
		require.NoError(t, err)
		require.Len(t, balances, 1)
		assert.Equal(t, "ETH", balances[0].Token)
		assert.True(t, balances[0].Balance.Equal(decimal.NewFromInt(2)))
		assert.InDelta(t, 4000.0, balances[0].ValueUSD(), 1e-9)
	}
	assert.Equal(t, 2, up.probeCalls, "each scan re-probes")
	assert.True(t, down.closed)
}

func TestScanNoLiveEndpoint(t *testing.T) {
	clients := map[string]*fakeClient{"http://a": {blockErr: errors.New("429 too many requests")}}
	s := newTestScanner(t, clients, fakePrices{}, "http://a", "http://b")

	_, err := s.Scan(context.Background(), testWallet, "testnet")
	var nle *NoLiveEndpointError
	require.ErrorAs(t, err, &nle)
	assert.Equal(t, 2, nle.Tried)
	assert.Len(t, nle.Causes, 2)
	assert.Equal(t, apperrors.CategoryNoLiveEndpoint, apperrors.Categorize(err))
}

func TestScanTokensAndDust(t *testing.T) {
	client := &fakeClient{
		native: big.NewInt(1000), // 1e-15 ETH, below dust
		tokens: map[common.Address]*big.Int{
			common.HexToAddress(usdcAddr): big.NewInt(2_500_000), // 2.5 USDC
			common.HexToAddress(daiAddr):  big.NewInt(0),
		},
		// no decimals(): falls back to the registry default of 6
		decimals: map[common.Address]uint8{},
	}
	s := newTestScanner(t, map[string]*fakeClient{"http://up": client}, fakePrices{"usd-coin": {PriceUSD: 1}}, "http://up")

	balances, err := s.Scan(context.Background(), testWallet, "testnet")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "USDC", balances[0].Token)
	assert.Equal(t, "testnet", balances[0].Chain)
	assert.True(t, balances[0].Balance.Equal(decimal.RequireFromString("2.5")), balances[0].Balance.String())
}

func TestScanUsesContractDecimals(t *testing.T) {
	client := &fakeClient{
		native:   big.NewInt(0),
		tokens:   map[common.Address]*big.Int{common.HexToAddress(usdcAddr): big.NewInt(2_500_000)},
		decimals: map[common.Address]uint8{common.HexToAddress(usdcAddr): 3},
	}
	s := newTestScanner(t, map[string]*fakeClient{"http://up": client}, fakePrices{}, "http://up")

	balances, err := s.Scan(context.Background(), testWallet, "testnet")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.True(t, balances[0].Balance.Equal(decimal.NewFromInt(2500)))
}

func TestScanDegradesOnReadErrorsAndMissingPrices(t *testing.T) {
	client := &fakeClient{
		nativeErr: errors.New("timeout"),
		tokens:    map[common.Address]*big.Int{common.HexToAddress(daiAddr): eth(7)},
		decimals:  map[common.Address]uint8{common.HexToAddress(daiAddr): 18},
	}
	s := newTestScanner(t, map[string]*fakeClient{"http://up": client}, fakePrices{}, "http://up")

	balances, err := s.Scan(context.Background(), testWallet, "testnet")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "DAI", balances[0].Token)
	assert.Zero(t, balances[0].PriceUSD, "missing price values the balance at zero")
	assert.Zero(t, balances[0].ValueUSD())
}

func TestScanRejectsUnknownChainAndBadWallet(t *testing.T) {
	s := newTestScanner(t, map[string]*fakeClient{}, fakePrices{}, "http://up")

	_, err := s.Scan(context.Background(), testWallet, "solana")
	assert.True(t, apperrors.IsValidation(err))

	_, err = s.Scan(context.Background(), "0x1234", "testnet")
	assert.True(t, apperrors.IsValidation(err))
}

func TestIsRateLimitError(t *testing.T) {
	assert.True(t, IsRateLimitError(errors.New("HTTP 429")))
	assert.True(t, IsRateLimitError(errors.New("daily request count exceeded")))
	assert.False(t, IsRateLimitError(errors.New("connection refused")))
	assert.False(t, IsRateLimitError(nil))
}
