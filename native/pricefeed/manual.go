package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/lending"
)

// ErrNoReading is returned by LatestReading before any price has been set.
var ErrNoReading = errors.New("pricefeed: no reading available")

// ManualFeed is an in-memory price source whose value is pushed by an
// operator. It is used for tests and for daemons without an upstream feed.
type ManualFeed struct {
	mu        sync.RWMutex
	decimals  uint8
	price     *big.Int
	updatedAt time.Time
	onUpdate  func(lending.PriceReading)
}

var _ lending.PriceSource = (*ManualFeed)(nil)

// NewManualFeed constructs an empty feed reporting prices with the given
// number of decimals.
func NewManualFeed(decimals uint8) *ManualFeed {
	return &ManualFeed{decimals: decimals}
}

// NewManualFeedAt constructs a feed seeded with price observed at ts.
func NewManualFeedAt(decimals uint8, price *big.Int, ts time.Time) *ManualFeed {
	feed := NewManualFeed(decimals)
	feed.Set(price, ts)
	return feed
}

// OnUpdate registers a callback invoked after every Set.
func (m *ManualFeed) OnUpdate(fn func(lending.PriceReading)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.onUpdate = fn
	m.mu.Unlock()
}

// Set stores price observed at ts. Non-positive prices are stored as-is so
// that consumers can exercise their own validation.
func (m *ManualFeed) Set(price *big.Int, ts time.Time) {
	if m == nil || price == nil {
		return
	}
	m.mu.Lock()
	m.price = new(big.Int).Set(price)
	m.updatedAt = ts
	hook := m.onUpdate
	reading := lending.PriceReading{Price: new(big.Int).Set(price), UpdatedAt: ts}
	m.mu.Unlock()
	if hook != nil {
		hook(reading)
	}
}

// SetDecimal parses a human readable price such as "2000.5" and stores it
// scaled to the feed's decimals. Digits beyond the feed precision are
// truncated.
func (m *ManualFeed) SetDecimal(value string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual feed not configured")
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("manual feed: price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("manual feed: invalid price %q", value)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(m.Decimals())), nil)
	scaled := new(big.Int).Mul(rat.Num(), scale)
	scaled.Quo(scaled, rat.Denom())
	m.Set(scaled, ts)
	return nil
}

// LatestReading implements lending.PriceSource.
func (m *ManualFeed) LatestReading(ctx context.Context) (lending.PriceReading, error) {
	if m == nil {
		return lending.PriceReading{}, ErrNoReading
	}
	if err := ctx.Err(); err != nil {
		return lending.PriceReading{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.price == nil {
		return lending.PriceReading{}, ErrNoReading
	}
	return lending.PriceReading{Price: new(big.Int).Set(m.price), UpdatedAt: m.updatedAt}, nil
}

// Decimals implements lending.PriceSource.
func (m *ManualFeed) Decimals() uint8 {
	if m == nil {
		return 0
	}
	return m.decimals
}
