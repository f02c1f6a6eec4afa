package lending

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func makeAddress(b byte) common.Address {
	var addr common.Address
	addr[len(addr)-1] = b
	addr[0] = 0x11
	return addr
}

// units returns n * 10^decimals.
func units(n uint64, decimals uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), pow10(decimals))
}

func ether(n uint64) *uint256.Int { return units(n, 18) }

func mustUint(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(s)
	require.NoError(t, err)
	return v
}

type mockFeed struct {
	mu        sync.Mutex
	decimals  uint8
	price     *big.Int
	updatedAt time.Time
	err       error
	reads     int
}

func newMockFeed(decimals uint8, price int64, updatedAt time.Time) *mockFeed {
	return &mockFeed{decimals: decimals, price: big.NewInt(price), updatedAt: updatedAt}
}

func (f *mockFeed) LatestReading(context.Context) (PriceReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.err != nil {
		return PriceReading{}, f.err
	}
	return PriceReading{Price: new(big.Int).Set(f.price), UpdatedAt: f.updatedAt}, nil
}

func (f *mockFeed) Decimals() uint8 { return f.decimals }

func (f *mockFeed) set(price int64, updatedAt time.Time) {
	f.mu.Lock()
	f.price = big.NewInt(price)
	f.updatedAt = updatedAt
	f.mu.Unlock()
}

// mockToken is an in-memory DebtToken with failure injection and a hook run
// after every successful balance change.
type mockToken struct {
	mu         sync.Mutex
	addr       common.Address
	decimals   uint8
	owner      common.Address
	balances   map[common.Address]*uint256.Int
	allowances map[[2]common.Address]*uint256.Int
	supply     *uint256.Int
	fail       map[string]error
	hook       func(ctx context.Context, op string) error
}

var _ DebtToken = (*mockToken)(nil)

func newMockToken(addr common.Address, decimals uint8, owner common.Address) *mockToken {
	return &mockToken{
		addr:       addr,
		decimals:   decimals,
		owner:      owner,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[[2]common.Address]*uint256.Int),
		supply:     new(uint256.Int),
		fail:       make(map[string]error),
	}
}

func (m *mockToken) Address() common.Address { return m.addr }
func (m *mockToken) Decimals() uint8         { return m.decimals }

func (m *mockToken) balance(account common.Address) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bal, ok := m.balances[account]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

func (m *mockToken) totalSupply() *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(uint256.Int).Set(m.supply)
}

func (m *mockToken) credit(account common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creditLocked(account, amount)
	m.supply.Add(m.supply, amount)
}

func (m *mockToken) approve(holder, spender common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[[2]common.Address{holder, spender}] = new(uint256.Int).Set(amount)
}

func (m *mockToken) failOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

func (m *mockToken) setHook(hook func(ctx context.Context, op string) error) {
	m.mu.Lock()
	m.hook = hook
	m.mu.Unlock()
}

func (m *mockToken) creditLocked(account common.Address, amount *uint256.Int) {
	bal, ok := m.balances[account]
	if !ok {
		bal = new(uint256.Int)
		m.balances[account] = bal
	}
	bal.Add(bal, amount)
}

func (m *mockToken) debitLocked(account common.Address, amount *uint256.Int) error {
	bal, ok := m.balances[account]
	if !ok || bal.Lt(amount) {
		return fmt.Errorf("mock token %s: insufficient balance of %s", m.addr.Hex(), account.Hex())
	}
	bal.Sub(bal, amount)
	return nil
}

func (m *mockToken) run(ctx context.Context, op string, fn func() error) error {
	m.mu.Lock()
	if err := m.fail[op]; err != nil {
		m.mu.Unlock()
		return err
	}
	if err := fn(); err != nil {
		m.mu.Unlock()
		return err
	}
	hook := m.hook
	m.mu.Unlock()
	if hook != nil {
		return hook(ctx, op)
	}
	return nil
}

func (m *mockToken) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	return m.run(ctx, "transfer", func() error {
		if err := m.debitLocked(from, amount); err != nil {
			return err
		}
		m.creditLocked(to, amount)
		return nil
	})
}

func (m *mockToken) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	return m.run(ctx, "transferFrom", func() error {
		key := [2]common.Address{from, spender}
		allowance, ok := m.allowances[key]
		if !ok || allowance.Lt(amount) {
			return fmt.Errorf("mock token %s: insufficient allowance", m.addr.Hex())
		}
		if err := m.debitLocked(from, amount); err != nil {
			return err
		}
		allowance.Sub(allowance, amount)
		m.creditLocked(to, amount)
		return nil
	})
}

func (m *mockToken) Mint(ctx context.Context, caller, to common.Address, amount *uint256.Int) error {
	return m.run(ctx, "mint", func() error {
		if caller != m.owner {
			return fmt.Errorf("mock token %s: caller is not the owner", m.addr.Hex())
		}
		m.creditLocked(to, amount)
		m.supply.Add(m.supply, amount)
		return nil
	})
}

func (m *mockToken) Burn(ctx context.Context, caller, from common.Address, amount *uint256.Int) error {
	return m.run(ctx, "burn", func() error {
		if caller != m.owner {
			return fmt.Errorf("mock token %s: caller is not the owner", m.addr.Hex())
		}
		if err := m.debitLocked(from, amount); err != nil {
			return err
		}
		m.supply.Sub(m.supply, amount)
		return nil
	})
}

var (
	testOwner  = makeAddress(0x01)
	testModule = makeAddress(0xEE)
	testUser   = makeAddress(0x10)
	testLiq    = makeAddress(0x20)
	testWETH   = makeAddress(0xA1)
	testWBTC   = makeAddress(0xA2)
	testDSC    = makeAddress(0xD5)
	testNow    = time.Unix(1_700_000_000, 0).UTC()
)

type fixture struct {
	engine  *Engine
	state   *MemState
	weth    *mockToken
	wbtc    *mockToken
	dsc     *mockToken
	ethFeed *mockFeed
	btcFeed *mockFeed
	now     time.Time
	events  []Event
}

// newFixture registers WETH (18 decimals, 2000 USD) and WBTC (8 decimals,
// 30000 USD), both priced by 8-decimal feeds.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		state:   NewMemState(),
		weth:    newMockToken(testWETH, 18, testOwner),
		wbtc:    newMockToken(testWBTC, 8, testOwner),
		dsc:     newMockToken(testDSC, 18, testModule),
		ethFeed: newMockFeed(8, 2000_00000000, testNow),
		btcFeed: newMockFeed(8, 30000_00000000, testNow),
		now:     testNow,
	}
	registry, err := NewRegistry(testOwner,
		[]CollateralToken{f.weth, f.wbtc},
		[]PriceSource{f.ethFeed, f.btcFeed})
	require.NoError(t, err)
	engine, err := NewEngine(testModule, registry, f.state, f.dsc)
	require.NoError(t, err)
	engine.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	engine.SetClock(func() time.Time { return f.now })
	engine.SetEmitter(EmitterFunc(func(ev Event) { f.events = append(f.events, ev) }))
	f.engine = engine
	return f
}

// fund credits account with amount of tok and approves the module for it.
func (f *fixture) fund(tok *mockToken, account common.Address, amount *uint256.Int) {
	tok.credit(account, amount)
	tok.approve(account, testModule, new(uint256.Int).SetAllOne())
}

func (f *fixture) deposit(t *testing.T, tok *mockToken, account common.Address, amount *uint256.Int) {
	t.Helper()
	f.fund(tok, account, amount)
	require.NoError(t, f.engine.Deposit(context.Background(), account, tok.addr, amount))
}

func (f *fixture) position(t *testing.T, account common.Address) *Position {
	t.Helper()
	pos, err := f.engine.ledger.Load(account)
	require.NoError(t, err)
	return pos
}
