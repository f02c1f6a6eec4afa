package lending

import "time"

// Params reports the fixed risk parameters the engine enforces.
type Params struct {
	ModuleAddress        string        `json:"moduleAddress"`
	DebtToken            string        `json:"debtToken"`
	LiquidationThreshold uint64        `json:"liquidationThreshold"`
	LiquidationPrecision uint64        `json:"liquidationPrecision"`
	LiquidationBonus     string        `json:"liquidationBonus"`
	MinHealthFactor      string        `json:"minHealthFactor"`
	FeedPrecision        uint8         `json:"feedPrecision"`
	MaxPriceAge          time.Duration `json:"maxPriceAge"`
}

// Params returns the engine's risk parameters.
func (e *Engine) Params() Params {
	return Params{
		ModuleAddress:        e.moduleAddress.Hex(),
		DebtToken:            e.debtToken.Address().Hex(),
		LiquidationThreshold: LiquidationThreshold,
		LiquidationPrecision: LiquidationPrecision,
		LiquidationBonus:     LiquidationBonus.Dec(),
		MinHealthFactor:      MinHealthFactor.Dec(),
		FeedPrecision:        FeedPrecision,
		MaxPriceAge:          MaxPriceAge,
	}
}
