package chain

var (
	usdcID = "usd-coin"
	usdtID = "tether"
	daiID  = "dai"
)

// DefaultConfigs is the built-in chain table
func DefaultConfigs() []Config {
	return []Config{
		{
			Key: "ethereum", Name: "Ethereum", ChainID: 1,
			RPCEndpoints: []string{"https://eth.llamarpc.com", "https://ethereum-rpc.publicnode.com", "https://rpc.ankr.com/eth"},
			NativeSymbol: "ETH", NativeID: "ethereum", NativeDecimals: 18,
			ExplorerURL: "https://etherscan.io",
			StableAssets: []Asset{
				{Symbol: "USDC", CoinGeckoID: usdcID, Contract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
				{Symbol: "USDT", CoinGeckoID: usdtID, Contract: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
				{Symbol: "DAI", CoinGeckoID: daiID, Contract: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18},
			},
		},
		{
			Key: "bsc", Name: "BNB Smart Chain", ChainID: 56,
			RPCEndpoints: []string{"https://bsc-dataseed.binance.org", "https://bsc-rpc.publicnode.com"},
			NativeSymbol: "BNB", NativeID: "binancecoin", NativeDecimals: 18,
			ExplorerURL: "https://bscscan.com",
			StableAssets: []Asset{
				{Symbol: "USDT", CoinGeckoID: usdtID, Contract: "0x55d398326f99059fF775485246999027B3197955", Decimals: 18},
				{Symbol: "USDC", CoinGeckoID: usdcID, Contract: "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", Decimals: 18},
				{Symbol: "BUSD", CoinGeckoID: "binance-usd", Contract: "0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56", Decimals: 18},
			},
		},
		{
			Key: "polygon", Name: "Polygon PoS", ChainID: 137,
			RPCEndpoints: []string{"https://polygon-rpc.com", "https://polygon-bor-rpc.publicnode.com"},
			NativeSymbol: "POL", NativeID: "matic-network", NativeDecimals: 18,
			ExplorerURL: "https://polygonscan.com",
			StableAssets: []Asset{
				{Symbol: "USDC", CoinGeckoID: usdcID, Contract: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Decimals: 6},
				{Symbol: "USDT", CoinGeckoID: usdtID, Contract: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Decimals: 6},
				{Symbol: "DAI", CoinGeckoID: daiID, Contract: "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063", Decimals: 18},
			},
		},
		{
			Key: "arbitrum", Name: "Arbitrum One", ChainID: 42161,
			RPCEndpoints: []string{"https://arb1.arbitrum.io/rpc", "https://arbitrum-one-rpc.publicnode.com"},
			NativeSymbol: "ETH", NativeID: "ethereum", NativeDecimals: 18,
			ExplorerURL: "https://arbiscan.io",
			StableAssets: []Asset{
				{Symbol: "USDC", CoinGeckoID: usdcID, Contract: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
				{Symbol: "USDT", CoinGeckoID: usdtID, Contract: "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9", Decimals: 6},
			},
		},
		{
			Key: "optimism", Name: "OP Mainnet", ChainID: 10,
			RPCEndpoints: []string{"https://mainnet.optimism.io", "https://optimism-rpc.publicnode.com"},
			NativeSymbol: "ETH", NativeID: "ethereum", NativeDecimals: 18,
			ExplorerURL: "https://optimistic.etherscan.io",
			StableAssets: []Asset{
				{Symbol: "USDC", CoinGeckoID: usdcID, Contract: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Decimals: 6},
				{Symbol: "USDT", CoinGeckoID: usdtID, Contract: "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58", Decimals: 6},
			},
		},
		{
			Key: "avalanche", Name: "Avalanche C-Chain", ChainID: 43114,
			RPCEndpoints: []string{"https://api.avax.network/ext/bc/C/rpc", "https://avalanche-c-chain-rpc.publicnode.com"},
			NativeSymbol: "AVAX", NativeID: "avalanche-2", NativeDecimals: 18,
			ExplorerURL: "https://snowtrace.io",
			StableAssets: []Asset{
				{Symbol: "USDC", CoinGeckoID: usdcID, Contract: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Decimals: 6},
				{Symbol: "USDT", CoinGeckoID: usdtID, Contract: "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7", Decimals: 6},
			},
		},
		{
			Key: "base", Name: "Base", ChainID: 8453,
			RPCEndpoints: []string{"https://mainnet.base.org", "https://base-rpc.publicnode.com"},
			NativeSymbol: "ETH", NativeID: "ethereum", NativeDecimals: 18,
			ExplorerURL: "https://basescan.org",
			StableAssets: []Asset{
				{Symbol: "USDC", CoinGeckoID: usdcID, Contract: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
			},
		},
	}
}

// DefaultRegistry builds the registry from DefaultConfigs
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultConfigs())
	if err != nil {
		panic("chain: invalid default table: " + err.Error())
	}
	return r
}
