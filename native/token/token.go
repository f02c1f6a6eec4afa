package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/lending"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/storage"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrNotOwner              = errors.New("token: caller is not the owner")
	ErrZeroAddress           = errors.New("token: zero address")
	ErrOverflow              = errors.New("token: arithmetic overflow")
)

// Hook is invoked after a balance change has been written. Returning an error
// reverts the change and fails the call that triggered it. from is the zero
// address for mints and to is the zero address for burns.
type Hook func(ctx context.Context, from, to common.Address, amount *uint256.Int) error

// Token is a fungible token whose balances and allowances live in a
// key-value database. Mint and Burn are restricted to the owner.
type Token struct {
	mu       sync.Mutex
	db       storage.Database
	address  common.Address
	symbol   string
	decimals uint8
	owner    common.Address
	hook     Hook
}

var (
	_ lending.CollateralToken = (*Token)(nil)
	_ lending.DebtToken       = (*Token)(nil)
)

// New constructs a token identified by address. The owner is persisted on
// first use; an owner already stored for address takes precedence.
func New(db storage.Database, address common.Address, symbol string, decimals uint8, owner common.Address) (*Token, error) {
	if db == nil {
		return nil, fmt.Errorf("token: database required")
	}
	if address == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	t := &Token{db: db, address: address, symbol: symbol, decimals: decimals}
	stored, err := db.Get(t.ownerKey())
	switch {
	case err == nil:
		t.owner = common.BytesToAddress(stored)
	case errors.Is(err, storage.ErrNotFound):
		t.owner = owner
		if err := db.Put(t.ownerKey(), owner.Bytes()); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return t, nil
}

// SetHook installs a callback run after every balance change.
func (t *Token) SetHook(hook Hook) {
	t.mu.Lock()
	t.hook = hook
	t.mu.Unlock()
}

func (t *Token) Address() common.Address { return t.address }

func (t *Token) Symbol() string { return t.symbol }

func (t *Token) Decimals() uint8 { return t.decimals }

// Owner returns the identity allowed to mint and burn.
func (t *Token) Owner() common.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.owner
}

// TransferOwnership hands mint and burn rights to newOwner.
func (t *Token) TransferOwnership(caller, newOwner common.Address) error {
	if newOwner == (common.Address{}) {
		return ErrZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if caller != t.owner {
		return ErrNotOwner
	}
	if err := t.db.Put(t.ownerKey(), newOwner.Bytes()); err != nil {
		return err
	}
	t.owner = newOwner
	return nil
}

// BalanceOf returns the balance of account.
func (t *Token) BalanceOf(account common.Address) (*uint256.Int, error) {
	return t.load(t.balanceKey(account))
}

// Allowance returns how much spender may move on behalf of holder.
func (t *Token) Allowance(holder, spender common.Address) (*uint256.Int, error) {
	return t.load(t.allowanceKey(holder, spender))
}

// TotalSupply returns the amount in circulation.
func (t *Token) TotalSupply() (*uint256.Int, error) {
	return t.load(t.supplyKey())
}

// Approve sets the allowance of spender over holder's balance.
func (t *Token) Approve(_ context.Context, holder, spender common.Address, amount *uint256.Int) error {
	if holder == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.db.Put(t.allowanceKey(holder, spender), encodeAmount(amount))
}

// Transfer moves amount from from to to.
func (t *Token) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	hook, err := t.apply(func(b storage.Batch) error {
		return t.move(b, from, to, amount)
	})
	if err != nil {
		return err
	}
	return t.notify(ctx, hook, from, to, amount, func() error {
		_, err := t.apply(func(b storage.Batch) error { return t.move(b, to, from, amount) })
		return err
	})
}

// TransferFrom moves amount from from to to, spending spender's allowance.
func (t *Token) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) || from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	hook, err := t.apply(func(b storage.Batch) error {
		allowance, err := t.load(t.allowanceKey(from, spender))
		if err != nil {
			return err
		}
		remaining, underflow := new(uint256.Int).SubOverflow(allowance, amountOrZero(amount))
		if underflow {
			return fmt.Errorf("%w: %s allows %s", ErrInsufficientAllowance, from.Hex(), allowance.Dec())
		}
		b.Put(t.allowanceKey(from, spender), encodeAmount(remaining))
		return t.move(b, from, to, amount)
	})
	if err != nil {
		return err
	}
	return t.notify(ctx, hook, from, to, amount, func() error {
		_, err := t.apply(func(b storage.Batch) error {
			allowance, err := t.load(t.allowanceKey(from, spender))
			if err != nil {
				return err
			}
			restored, overflow := new(uint256.Int).AddOverflow(allowance, amountOrZero(amount))
			if overflow {
				return ErrOverflow
			}
			b.Put(t.allowanceKey(from, spender), encodeAmount(restored))
			return t.move(b, to, from, amount)
		})
		return err
	})
}

// Mint creates amount for to. Only the owner may mint.
func (t *Token) Mint(ctx context.Context, caller, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	hook, err := t.apply(func(b storage.Batch) error {
		if caller != t.owner {
			return ErrNotOwner
		}
		return t.mint(b, to, amount)
	})
	if err != nil {
		return err
	}
	return t.notify(ctx, hook, common.Address{}, to, amount, func() error {
		_, err := t.apply(func(b storage.Batch) error { return t.burn(b, to, amount) })
		return err
	})
}

// Burn destroys amount held by from. Only the owner may burn.
func (t *Token) Burn(ctx context.Context, caller, from common.Address, amount *uint256.Int) error {
	if from == (common.Address{}) {
		return ErrZeroAddress
	}
	hook, err := t.apply(func(b storage.Batch) error {
		if caller != t.owner {
			return ErrNotOwner
		}
		return t.burn(b, from, amount)
	})
	if err != nil {
		return err
	}
	return t.notify(ctx, hook, from, common.Address{}, amount, func() error {
		_, err := t.apply(func(b storage.Batch) error { return t.mint(b, from, amount) })
		return err
	})
}

// apply runs fn against a fresh batch under the token lock and writes it. It
// returns the hook to run once the lock is released.
func (t *Token) apply(fn func(storage.Batch) error) (Hook, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	batch := t.db.NewBatch()
	if err := fn(batch); err != nil {
		return nil, err
	}
	if err := batch.Write(); err != nil {
		return nil, err
	}
	return t.hook, nil
}

func (t *Token) notify(ctx context.Context, hook Hook, from, to common.Address, amount *uint256.Int, revert func() error) error {
	if hook == nil {
		return nil
	}
	if err := hook(ctx, from, to, amount); err != nil {
		if rerr := revert(); rerr != nil {
			return errors.Join(err, fmt.Errorf("token: revert after hook failure: %w", rerr))
		}
		return err
	}
	return nil
}

// move must be called with t.mu held. Reads see committed state only, so
// from and to are handled explicitly when equal.
func (t *Token) move(b storage.Batch, from, to common.Address, amount *uint256.Int) error {
	amount = amountOrZero(amount)
	fromBal, err := t.load(t.balanceKey(from))
	if err != nil {
		return err
	}
	nextFrom, underflow := new(uint256.Int).SubOverflow(fromBal, amount)
	if underflow {
		return fmt.Errorf("%w: %s holds %s", ErrInsufficientBalance, from.Hex(), fromBal.Dec())
	}
	if from == to {
		return nil
	}
	toBal, err := t.load(t.balanceKey(to))
	if err != nil {
		return err
	}
	nextTo, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return ErrOverflow
	}
	b.Put(t.balanceKey(from), encodeAmount(nextFrom))
	b.Put(t.balanceKey(to), encodeAmount(nextTo))
	return nil
}

func (t *Token) mint(b storage.Batch, to common.Address, amount *uint256.Int) error {
	amount = amountOrZero(amount)
	bal, err := t.load(t.balanceKey(to))
	if err != nil {
		return err
	}
	supply, err := t.load(t.supplyKey())
	if err != nil {
		return err
	}
	nextBal, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return ErrOverflow
	}
	nextSupply, overflow := new(uint256.Int).AddOverflow(supply, amount)
	if overflow {
		return ErrOverflow
	}
	b.Put(t.balanceKey(to), encodeAmount(nextBal))
	b.Put(t.supplyKey(), encodeAmount(nextSupply))
	return nil
}

func (t *Token) burn(b storage.Batch, from common.Address, amount *uint256.Int) error {
	amount = amountOrZero(amount)
	bal, err := t.load(t.balanceKey(from))
	if err != nil {
		return err
	}
	nextBal, underflow := new(uint256.Int).SubOverflow(bal, amount)
	if underflow {
		return fmt.Errorf("%w: %s holds %s", ErrInsufficientBalance, from.Hex(), bal.Dec())
	}
	supply, err := t.load(t.supplyKey())
	if err != nil {
		return err
	}
	nextSupply, underflow := new(uint256.Int).SubOverflow(supply, amount)
	if underflow {
		return ErrOverflow
	}
	b.Put(t.balanceKey(from), encodeAmount(nextBal))
	b.Put(t.supplyKey(), encodeAmount(nextSupply))
	return nil
}

func (t *Token) load(key []byte) (*uint256.Int, error) {
	data, err := t.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(data), nil
}

func encodeAmount(v *uint256.Int) []byte {
	b := amountOrZero(v).Bytes32()
	return b[:]
}

func amountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
