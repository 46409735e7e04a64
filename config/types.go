package config

// Genesis seeds a fresh data directory. It is applied once, when the state
// database carries no genesis marker.
type Genesis struct {
	Balances []GenesisBalance `toml:"Balances"`
	Assets   []GenesisAsset   `toml:"Assets"`
}

// GenesisBalance credits settlement funds to an address.
type GenesisBalance struct {
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

// GenesisAsset mints a token. ApproveMarketplace grants the marketplace
// transfer approval so the owner can list immediately.
type GenesisAsset struct {
	Contract           string `toml:"Contract"`
	TokenID            string `toml:"TokenID"`
	Owner              string `toml:"Owner"`
	ApproveMarketplace bool   `toml:"ApproveMarketplace"`
}
