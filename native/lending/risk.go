package lending

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RiskEngine values positions and computes health factors. It never writes:
// the same routines price stored state and hypothetical post-operation state,
// the only difference being the optional overrides.
type RiskEngine struct {
	registry *Registry
	oracle   *Oracle
}

// NewRiskEngine wires the risk engine to the registry and oracle adapter.
func NewRiskEngine(registry *Registry, oracle *Oracle) *RiskEngine {
	return &RiskEngine{registry: registry, oracle: oracle}
}

// USDValue converts amount of asset into USD with FeedPrecision decimals.
func (r *RiskEngine) USDValue(ctx context.Context, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	entry, ok := r.registry.Entry(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredAsset, asset.Hex())
	}
	if amount == nil || amount.IsZero() {
		return new(uint256.Int), nil
	}
	price, err := r.oracle.USDPrice(ctx, asset)
	if err != nil {
		return nil, err
	}
	return mulDiv(amount, price, pow10(uint64(entry.Token.Decimals())))
}

// TotalCollateralValueUSD sums the USD value of every registered asset held in
// pos. When override is set its amount replaces the stored balance of
// override.Asset.
func (r *RiskEngine) TotalCollateralValueUSD(ctx context.Context, pos *Position, override *CollateralOverride) (*uint256.Int, error) {
	total := new(uint256.Int)
	for _, asset := range r.registry.Assets() {
		amount := pos.CollateralOf(asset)
		if override != nil && override.Asset == asset {
			amount = amountOrZero(override.Amount)
		}
		if amount.IsZero() {
			continue
		}
		value, err := r.USDValue(ctx, asset, amount)
		if err != nil {
			return nil, err
		}
		if total, err = checkedAdd(total, value); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// HealthFactor returns risk-adjusted collateral over debt scaled by Precision.
// debtOverride replaces the stored debt and collateralOverride one stored
// balance. A zero debt yields InfiniteHealth.
func (r *RiskEngine) HealthFactor(ctx context.Context, pos *Position, debtOverride *uint256.Int, collateralOverride *CollateralOverride) (*uint256.Int, error) {
	collateralUSD, err := r.TotalCollateralValueUSD(ctx, pos, collateralOverride)
	if err != nil {
		return nil, err
	}
	adjusted, err := mulDiv(collateralUSD, liquidationThreshold, liquidationPrecision)
	if err != nil {
		return nil, err
	}
	debt := pos.DebtAmount()
	if debtOverride != nil {
		debt = debtOverride
	}
	if debt.IsZero() {
		return new(uint256.Int).Set(InfiniteHealth), nil
	}
	return mulDiv(adjusted, Precision, debt)
}
