package registry

import "github.com/yourorg/multichain-gas-ea/internal/types"

func defaultChains() []types.ChainDescriptor {
	return []types.ChainDescriptor{
		{
			Key:         "ethereum",
			ID:          1,
			DisplayName: "Ethereum",
			Symbol:      "ETH",
			Kind:        types.KindMainnet,
			FeeModel:    types.FeeModelEIP1559,
			Endpoint:    "https://eth-mainnet.g.alchemy.com/v2/" + APIKeyPlaceholder,
		},
		{
			Key:         "polygon",
			ID:          137,
			DisplayName: "Polygon",
			Symbol:      "POL",
			Kind:        types.KindMainnet,
			FeeModel:    types.FeeModelEIP1559,
			Endpoint:    "https://polygon-mainnet.g.alchemy.com/v2/" + APIKeyPlaceholder,
		},
		{
			Key:         "arbitrum",
			ID:          42161,
			DisplayName: "Arbitrum One",
			Symbol:      "ETH",
			Kind:        types.KindMainnet,
			FeeModel:    types.FeeModelEIP1559,
			Endpoint:    "https://arb-mainnet.g.alchemy.com/v2/" + APIKeyPlaceholder,
		},
		{
			Key:         "optimism",
			ID:          10,
			DisplayName: "Optimism",
			Symbol:      "ETH",
			Kind:        types.KindMainnet,
			FeeModel:    types.FeeModelEIP1559,
			Endpoint:    "https://opt-mainnet.g.alchemy.com/v2/" + APIKeyPlaceholder,
		},
		{
			Key:         "base",
			ID:          8453,
			DisplayName: "Base",
			Symbol:      "ETH",
			Kind:        types.KindMainnet,
			FeeModel:    types.FeeModelEIP1559,
			Endpoint:    "https://base-mainnet.g.alchemy.com/v2/" + APIKeyPlaceholder,
		},
		{
			Key:         "avalanche",
			ID:          43114,
			DisplayName: "Avalanche C-Chain",
			Symbol:      "AVAX",
			Kind:        types.KindMainnet,
			FeeModel:    types.FeeModelEIP1559,
			Endpoint:    "https://avax-mainnet.g.alchemy.com/v2/" + APIKeyPlaceholder,
		},
		{
			Key:         "bsc",
			ID:          56,
			DisplayName: "BNB Smart Chain",
			Symbol:      "BNB",
			Kind:        types.KindMainnet,
			FeeModel:    types.FeeModelLegacy,
			Endpoint:    "https://bsc-dataseed.binance.org",
		},
		{
			Key:         "sepolia",
			ID:          11155111,
			DisplayName: "Sepolia",
			Symbol:      "ETH",
			Kind:        types.KindTestnet,
			FeeModel:    types.FeeModelEIP1559,
			Endpoint:    "https://eth-sepolia.g.alchemy.com/v2/" + APIKeyPlaceholder,
		},
		{
			Key:         "bsc-testnet",
			ID:          97,
			DisplayName: "BNB Smart Chain Testnet",
			Symbol:      "tBNB",
			Kind:        types.KindTestnet,
			FeeModel:    types.FeeModelLegacy,
			Endpoint:    "https://data-seed-prebsc-1-s1.binance.org:8545",
		},
	}
}

func defaultPlaceholders() []types.Placeholder {
	return []types.Placeholder{
		{Key: "solana", DisplayName: "Solana", Symbol: "SOL", Kind: types.KindMainnet},
		{Key: "bitcoin", DisplayName: "Bitcoin", Symbol: "BTC", Kind: types.KindMainnet},
	}
}
