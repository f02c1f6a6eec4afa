package lending

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// USDPriceOfToken returns the normalised USD price of one whole unit of asset.
func (e *Engine) USDPriceOfToken(ctx context.Context, asset common.Address) (*uint256.Int, error) {
	return e.oracle.USDPrice(ctx, asset)
}

// HealthFactorOf returns the current health factor of user. Debt-free
// accounts report InfiniteHealth.
func (e *Engine) HealthFactorOf(ctx context.Context, user common.Address) (*uint256.Int, error) {
	pos, err := e.ledger.Load(user)
	if err != nil {
		return nil, err
	}
	return e.risk.HealthFactor(ctx, pos, nil, nil)
}

// UserInfo returns the stored debt and the USD value of user's collateral.
func (e *Engine) UserInfo(ctx context.Context, user common.Address) (UserInfo, error) {
	pos, err := e.ledger.Load(user)
	if err != nil {
		return UserInfo{}, err
	}
	value, err := e.risk.TotalCollateralValueUSD(ctx, pos, nil)
	if err != nil {
		return UserInfo{}, err
	}
	return UserInfo{Debt: pos.DebtAmount(), CollateralValueUSD: value}, nil
}

// CollateralBalance returns the stored balance of asset for user.
func (e *Engine) CollateralBalance(user, asset common.Address) (*uint256.Int, error) {
	return e.ledger.Collateral(user, asset)
}

// CollateralAssets lists registered collateral in registration order.
func (e *Engine) CollateralAssets() []common.Address {
	return e.registry.Assets()
}

// AccountSnapshot values every registered asset held by user.
func (e *Engine) AccountSnapshot(ctx context.Context, user common.Address) (*AccountSnapshot, error) {
	pos, err := e.ledger.Load(user)
	if err != nil {
		return nil, err
	}
	snapshot := &AccountSnapshot{
		Account:            user,
		Debt:               pos.DebtAmount(),
		CollateralValueUSD: new(uint256.Int),
	}
	for _, asset := range e.registry.Assets() {
		amount := pos.CollateralOf(asset)
		if amount.IsZero() {
			continue
		}
		value, err := e.risk.USDValue(ctx, asset, amount)
		if err != nil {
			return nil, err
		}
		snapshot.Balances = append(snapshot.Balances, AssetBalance{Asset: asset, Amount: amount, ValueUSD: value})
		if snapshot.CollateralValueUSD, err = checkedAdd(snapshot.CollateralValueUSD, value); err != nil {
			return nil, err
		}
	}
	if snapshot.HealthFactor, err = e.risk.HealthFactor(ctx, pos, nil, nil); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// SimulateBorrow returns the health factor user would have after borrowing
// amount more. Nothing is written.
func (e *Engine) SimulateBorrow(ctx context.Context, user common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	pos, err := e.ledger.Load(user)
	if err != nil {
		return nil, err
	}
	nextDebt, err := checkedAdd(pos.DebtAmount(), amount)
	if err != nil {
		return nil, err
	}
	return e.risk.HealthFactor(ctx, pos, nextDebt, nil)
}

// SimulateRedeem returns the health factor user would have after redeeming
// amount of asset. Nothing is written.
func (e *Engine) SimulateRedeem(ctx context.Context, user, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if !e.registry.IsRegistered(asset) {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredAsset, asset.Hex())
	}
	pos, err := e.ledger.Load(user)
	if err != nil {
		return nil, err
	}
	remaining, err := checkedSub(pos.CollateralOf(asset), amount, ErrInsufficientCollateral)
	if err != nil {
		return nil, err
	}
	return e.risk.HealthFactor(ctx, pos, nil, &CollateralOverride{Asset: asset, Amount: remaining})
}
