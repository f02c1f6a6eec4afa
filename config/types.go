package config

// TokenConfig describes the protocol-issued debt token.
type TokenConfig struct {
	Address  string `toml:"Address" yaml:"address"`
	Symbol   string `toml:"Symbol" yaml:"symbol"`
	Decimals uint8  `toml:"Decimals" yaml:"decimals"`
}

// AssetConfig describes a collateral asset registered at boot together with
// the manual price feed that values it.
type AssetConfig struct {
	Address      string `toml:"Address" yaml:"address"`
	Symbol       string `toml:"Symbol" yaml:"symbol"`
	Decimals     uint8  `toml:"Decimals" yaml:"decimals"`
	FeedDecimals uint8  `toml:"FeedDecimals" yaml:"feed_decimals"`
	// InitialPrice seeds the feed, e.g. "2000.50". Empty leaves the feed unset
	// until an operator pushes a price.
	InitialPrice string `toml:"InitialPrice,omitempty" yaml:"initial_price,omitempty"`
}

// AuthConfig controls bearer-token authentication of API callers.
type AuthConfig struct {
	HMACSecret    string `toml:"HMACSecret" yaml:"hmac_secret"`
	HMACSecretEnv string `toml:"HMACSecretEnv,omitempty" yaml:"hmac_secret_env,omitempty"`
	Issuer        string `toml:"Issuer" yaml:"issuer"`
	// AllowAnonymousReads serves GET routes without a token.
	AllowAnonymousReads bool `toml:"AllowAnonymousReads" yaml:"allow_anonymous_reads"`
}

// RateLimitConfig bounds requests per caller.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond" yaml:"requests_per_second"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

// JournalConfig locates the event journal database. An empty DSN keeps the
// journal in memory.
type JournalConfig struct {
	DSN string `toml:"DSN" yaml:"dsn"`
}

// TelemetryConfig wires OTLP exporters.
type TelemetryConfig struct {
	OTLPEndpoint string `toml:"OTLPEndpoint" yaml:"otlp_endpoint"`
	Insecure     bool   `toml:"Insecure" yaml:"insecure"`
	Traces       bool   `toml:"Traces" yaml:"traces"`
	Metrics      bool   `toml:"Metrics" yaml:"metrics"`
}
