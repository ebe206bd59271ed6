package config

// Token describes the fungible asset minted into the ledger at bootstrap.
type Token struct {
	Name     string `toml:"Name"`
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
	// InitialSupply is expressed in whole tokens.
	InitialSupply uint64 `toml:"InitialSupply"`
}

// Accounts names the system accounts as 0x-prefixed hex addresses.
type Accounts struct {
	Treasury string `toml:"Treasury"`
	Reserve  string `toml:"Reserve"`
	Vault    string `toml:"Vault"`
	// SeizeRecipient receives liquidated collateral; empty routes it to the
	// reserve.
	SeizeRecipient string `toml:"SeizeRecipient"`
	// ReserveFunding is moved from the treasury to the reserve at bootstrap,
	// in base units.
	ReserveFunding string `toml:"ReserveFunding"`
}

// Risk holds the lending parameters as decimal strings.
type Risk struct {
	MinCollateralRatio string `toml:"MinCollateralRatio"`
	BaseRatePerPeriod  string `toml:"BaseRatePerPeriod"`
	Slope              string `toml:"Slope"`
	AccrualPeriod      string `toml:"AccrualPeriod"`
	// CollateralPrice is the static unit price used to value collateral.
	CollateralPrice string `toml:"CollateralPrice"`
}

type Pauses struct {
	Lending bool `toml:"Lending"`
}

// Allocation moves Amount base units from the treasury to Address at
// bootstrap.
type Allocation struct {
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}
