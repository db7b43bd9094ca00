package config

// EmptyAPIKey is the placeholder key for explorers that do not require
// one.
const EmptyAPIKey = "empty"

// NetworkDefaults describes a built-in network and the environment
// variables its secrets are read from.
type NetworkDefaults struct {
	Name      string
	ChainID   int64
	RPCEnv    string
	KeyEnv    string
	APIKeyEnv string
	Explorer  ExplorerConfig
}

// DefaultNetworks are the networks the bridge is deployed to.
var DefaultNetworks = []NetworkDefaults{
	{
		Name:      "bsc",
		ChainID:   56,
		RPCEnv:    "BNB_MAINNET_RPC_URL",
		KeyEnv:    "BNB_MAINNET_PRIVATE_KEY",
		APIKeyEnv: "ETHERSCAN_API_KEY",
		Explorer: ExplorerConfig{
			APIURL:     "https://api.bscscan.com/api",
			BrowserURL: "https://bscscan.com",
		},
	},
	{
		Name:      "bscTestnet",
		ChainID:   97,
		RPCEnv:    "BNB_TESTNET_RPC_URL",
		KeyEnv:    "BNB_TESTNET_PRIVATE_KEY",
		APIKeyEnv: "ETHERSCAN_API_KEY",
		Explorer: ExplorerConfig{
			APIURL:     "https://api-testnet.bscscan.com/api",
			BrowserURL: "https://testnet.bscscan.com",
		},
	},
	{
		Name:    "mst",
		ChainID: 4646,
		RPCEnv:  "MST_MAINNET_RPC_URL",
		KeyEnv:  "MST_MAINNET_PRIVATE_KEY",
		Explorer: ExplorerConfig{
			APIURL:     "https://mstscan.com/api",
			BrowserURL: "https://mstscan.com",
			APIKey:     EmptyAPIKey,
		},
	},
	{
		Name:    "mstTestnet",
		ChainID: 4545,
		RPCEnv:  "MST_TESTNET_RPC_URL",
		KeyEnv:  "MST_TESTNET_PRIVATE_KEY",
		Explorer: ExplorerConfig{
			APIURL:     "https://testnet.mstscan.com/api",
			BrowserURL: "https://testnet.mstscan.com",
			APIKey:     EmptyAPIKey,
		},
	},
}
