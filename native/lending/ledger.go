package lending

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// State persists positions. GetPosition returns (nil, nil) for unknown
// accounts.
type State interface {
	GetPosition(account common.Address) (*Position, error)
	PutPosition(position *Position) error
}

// Ledger exposes the per-account collateral and debt balances. Mutators work
// on a detached working copy obtained from Load; nothing is visible to other
// readers until Commit.
type Ledger struct {
	state State
}

// NewLedger binds a ledger to its persistence layer.
func NewLedger(state State) *Ledger {
	return &Ledger{state: state}
}

// Load returns a working copy of the account's position, zero-initialised
// when the account is unknown.
func (l *Ledger) Load(account common.Address) (*Position, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	stored, err := l.state.GetPosition(account)
	if err != nil {
		return nil, fmt.Errorf("load position %s: %w", account.Hex(), err)
	}
	if stored == nil {
		return NewPosition(account), nil
	}
	pos := stored.Clone()
	pos.Account = account
	return pos, nil
}

// Commit writes the working copy back in a single store operation.
func (l *Ledger) Commit(pos *Position) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if pos == nil {
		return nil
	}
	if err := l.state.PutPosition(pos.Clone()); err != nil {
		return fmt.Errorf("commit position %s: %w", pos.Account.Hex(), err)
	}
	return nil
}

// Collateral returns the stored balance of asset for user.
func (l *Ledger) Collateral(user, asset common.Address) (*uint256.Int, error) {
	pos, err := l.Load(user)
	if err != nil {
		return nil, err
	}
	return pos.CollateralOf(asset), nil
}

// Debt returns the stored debt of user.
func (l *Ledger) Debt(user common.Address) (*uint256.Int, error) {
	pos, err := l.Load(user)
	if err != nil {
		return nil, err
	}
	return pos.DebtAmount(), nil
}

// AddCollateral credits amount of asset to pos.
func (l *Ledger) AddCollateral(pos *Position, asset common.Address, amount *uint256.Int) error {
	next, err := checkedAdd(pos.CollateralOf(asset), amountOrZero(amount))
	if err != nil {
		return err
	}
	setCollateral(pos, asset, next)
	return nil
}

// SubCollateral debits amount of asset from pos, failing closed on underflow.
func (l *Ledger) SubCollateral(pos *Position, asset common.Address, amount *uint256.Int) error {
	next, err := checkedSub(pos.CollateralOf(asset), amountOrZero(amount), ErrInsufficientCollateral)
	if err != nil {
		return err
	}
	setCollateral(pos, asset, next)
	return nil
}

// AddDebt increases the debt of pos.
func (l *Ledger) AddDebt(pos *Position, amount *uint256.Int) error {
	next, err := checkedAdd(pos.DebtAmount(), amountOrZero(amount))
	if err != nil {
		return err
	}
	pos.Debt = next
	return nil
}

// SubDebt decreases the debt of pos, failing closed on underflow.
func (l *Ledger) SubDebt(pos *Position, amount *uint256.Int) error {
	next, err := checkedSub(pos.DebtAmount(), amountOrZero(amount), ErrInsufficientDebt)
	if err != nil {
		return err
	}
	pos.Debt = next
	return nil
}

func setCollateral(pos *Position, asset common.Address, amount *uint256.Int) {
	if pos.Collateral == nil {
		pos.Collateral = make(map[common.Address]*uint256.Int)
	}
	if amount.IsZero() {
		delete(pos.Collateral, asset)
		return
	}
	pos.Collateral[asset] = amount
}
