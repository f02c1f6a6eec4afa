package lending

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PriceReading is a single observation returned by a price source. Price is
// signed because upstream feeds may report non-positive values, which the
// oracle adapter rejects.
type PriceReading struct {
	Price     *big.Int
	UpdatedAt time.Time
}

// PriceSource is an external price feed for one asset.
type PriceSource interface {
	LatestReading(ctx context.Context) (PriceReading, error)
	Decimals() uint8
}

// CollateralToken is a fungible asset accepted as collateral. Transfers either
// succeed or return an error without side effects.
type CollateralToken interface {
	Address() common.Address
	Decimals() uint8
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
}

// DebtToken is the protocol-issued stable token. Mint and Burn are restricted
// to the token owner, which must be the engine's module address.
type DebtToken interface {
	CollateralToken
	Mint(ctx context.Context, caller, to common.Address, amount *uint256.Int) error
	Burn(ctx context.Context, caller, from common.Address, amount *uint256.Int) error
}

// Position is the ledger entry for a single account. A position with all zero
// fields behaves exactly like a missing one.
type Position struct {
	Account    common.Address
	Collateral map[common.Address]*uint256.Int
	Debt       *uint256.Int
}

// NewPosition returns a zero-initialised position for account.
func NewPosition(account common.Address) *Position {
	return &Position{
		Account:    account,
		Collateral: make(map[common.Address]*uint256.Int),
		Debt:       new(uint256.Int),
	}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := NewPosition(p.Account)
	for asset, amount := range p.Collateral {
		if amount != nil {
			clone.Collateral[asset] = new(uint256.Int).Set(amount)
		}
	}
	if p.Debt != nil {
		clone.Debt.Set(p.Debt)
	}
	return clone
}

// CollateralOf returns the stored balance for asset, never nil.
func (p *Position) CollateralOf(asset common.Address) *uint256.Int {
	if p == nil || p.Collateral == nil {
		return new(uint256.Int)
	}
	if amount, ok := p.Collateral[asset]; ok && amount != nil {
		return new(uint256.Int).Set(amount)
	}
	return new(uint256.Int)
}

// DebtAmount returns the outstanding debt, never nil.
func (p *Position) DebtAmount() *uint256.Int {
	if p == nil || p.Debt == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(p.Debt)
}

// IsEmpty reports whether the position carries no debt and no collateral.
func (p *Position) IsEmpty() bool {
	if p == nil {
		return true
	}
	if p.Debt != nil && !p.Debt.IsZero() {
		return false
	}
	for _, amount := range p.Collateral {
		if amount != nil && !amount.IsZero() {
			return false
		}
	}
	return true
}

// CollateralOverride substitutes a hypothetical balance for one asset when
// valuing a position.
type CollateralOverride struct {
	Asset  common.Address
	Amount *uint256.Int
}

// AssetEntry is one approved collateral asset.
type AssetEntry struct {
	Asset common.Address
	Token CollateralToken
	Feed  PriceSource
}

// UserInfo summarises an account as returned by the read-only query surface.
type UserInfo struct {
	Debt               *uint256.Int
	CollateralValueUSD *uint256.Int
}

// AssetBalance is a per-asset line of an AccountSnapshot.
type AssetBalance struct {
	Asset    common.Address
	Amount   *uint256.Int
	ValueUSD *uint256.Int
}

// AccountSnapshot is a full read-only view of a position.
type AccountSnapshot struct {
	Account            common.Address
	Debt               *uint256.Int
	CollateralValueUSD *uint256.Int
	HealthFactor       *uint256.Int
	Balances           []AssetBalance
}

// LiquidationResult reports what a liquidation actually moved.
type LiquidationResult struct {
	Borrower         common.Address
	Liquidator       common.Address
	Asset            common.Address
	DebtRepaid       *uint256.Int
	CollateralSeized *uint256.Int
	HealthBefore     *uint256.Int
	HealthAfter      *uint256.Int
}
