package lending

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/storage"
)

var positionPrefix = []byte("lending/position/")

// MemState keeps positions in memory.
type MemState struct {
	mu        sync.RWMutex
	positions map[common.Address]*Position
}

// NewMemState returns an empty in-memory state.
func NewMemState() *MemState {
	return &MemState{positions: make(map[common.Address]*Position)}
}

func (m *MemState) GetPosition(account common.Address) (*Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if pos, ok := m.positions[account]; ok {
		return pos.Clone(), nil
	}
	return nil, nil
}

func (m *MemState) PutPosition(position *Position) error {
	if position == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if position.IsEmpty() {
		delete(m.positions, position.Account)
		return nil
	}
	m.positions[position.Account] = position.Clone()
	return nil
}

// StoreState persists RLP-encoded positions in a key-value database.
type StoreState struct {
	db storage.Database
}

// NewStoreState binds the state to db.
func NewStoreState(db storage.Database) *StoreState {
	return &StoreState{db: db}
}

type storedPosition struct {
	Debt    *big.Int
	Assets  []common.Address
	Amounts []*big.Int
}

func positionKey(account common.Address) []byte {
	key := make([]byte, 0, len(positionPrefix)+common.AddressLength)
	key = append(key, positionPrefix...)
	return append(key, account.Bytes()...)
}

func (s *StoreState) GetPosition(account common.Address) (*Position, error) {
	if s == nil || s.db == nil {
		return nil, ErrNilState
	}
	data, err := s.db.Get(positionKey(account))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodePosition(account, data)
}

func (s *StoreState) PutPosition(position *Position) error {
	if s == nil || s.db == nil {
		return ErrNilState
	}
	if position == nil {
		return nil
	}
	key := positionKey(position.Account)
	if position.IsEmpty() {
		return s.db.Delete(key)
	}
	data, err := encodePosition(position)
	if err != nil {
		return err
	}
	return s.db.Put(key, data)
}

// Accounts lists every account with a non-empty stored position.
func (s *StoreState) Accounts() ([]common.Address, error) {
	if s == nil || s.db == nil {
		return nil, ErrNilState
	}
	var accounts []common.Address
	err := s.db.Iterate(positionPrefix, func(key, _ []byte) error {
		accounts = append(accounts, common.BytesToAddress(key[len(positionPrefix):]))
		return nil
	})
	return accounts, err
}

func encodePosition(position *Position) ([]byte, error) {
	record := storedPosition{Debt: position.DebtAmount().ToBig()}
	assets := make([]common.Address, 0, len(position.Collateral))
	for asset, amount := range position.Collateral {
		if amount != nil && !amount.IsZero() {
			assets = append(assets, asset)
		}
	}
	sort.Slice(assets, func(i, j int) bool { return bytes.Compare(assets[i][:], assets[j][:]) < 0 })
	for _, asset := range assets {
		record.Assets = append(record.Assets, asset)
		record.Amounts = append(record.Amounts, position.Collateral[asset].ToBig())
	}
	return rlp.EncodeToBytes(&record)
}

func decodePosition(account common.Address, data []byte) (*Position, error) {
	var record storedPosition
	if err := rlp.DecodeBytes(data, &record); err != nil {
		return nil, fmt.Errorf("decode position %s: %w", account.Hex(), err)
	}
	if len(record.Assets) != len(record.Amounts) {
		return nil, fmt.Errorf("decode position %s: %w", account.Hex(), ErrLengthMismatch)
	}
	pos := NewPosition(account)
	if record.Debt != nil {
		debt, overflow := uint256.FromBig(record.Debt)
		if overflow {
			return nil, ErrArithmeticOverflow
		}
		pos.Debt = debt
	}
	for i, asset := range record.Assets {
		amount, overflow := uint256.FromBig(record.Amounts[i])
		if overflow {
			return nil, ErrArithmeticOverflow
		}
		if !amount.IsZero() {
			pos.Collateral[asset] = amount
		}
	}
	return pos, nil
}
