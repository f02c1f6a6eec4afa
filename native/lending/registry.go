package lending

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry is the append-only list of approved collateral assets and their
// price sources. Iteration order is registration order.
type Registry struct {
	mu      sync.RWMutex
	owner   common.Address
	order   []common.Address
	entries map[common.Address]AssetEntry
	logger  *slog.Logger
}

// NewRegistry builds a registry administered by owner and seeded with the
// parallel tokens/feeds slices.
func NewRegistry(owner common.Address, tokens []CollateralToken, feeds []PriceSource) (*Registry, error) {
	if owner == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if len(tokens) != len(feeds) {
		return nil, fmt.Errorf("%w: %d tokens, %d feeds", ErrLengthMismatch, len(tokens), len(feeds))
	}
	r := &Registry{
		owner:   owner,
		order:   make([]common.Address, 0, len(tokens)),
		entries: make(map[common.Address]AssetEntry, len(tokens)),
		logger:  slog.Default(),
	}
	for i := range tokens {
		if err := r.add(tokens[i], feeds[i]); err != nil {
			return nil, fmt.Errorf("asset %d: %w", i, err)
		}
	}
	return r, nil
}

// SetLogger replaces the logger used for registration notices.
func (r *Registry) SetLogger(logger *slog.Logger) {
	if r == nil || logger == nil {
		return
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Owner returns the identity allowed to register new assets.
func (r *Registry) Owner() common.Address {
	if r == nil {
		return common.Address{}
	}
	return r.owner
}

// Register appends a new collateral asset. Only the owner may call it.
func (r *Registry) Register(caller common.Address, token CollateralToken, feed PriceSource) error {
	if r == nil {
		return ErrNilState
	}
	if caller != r.owner {
		return ErrNotOwner
	}
	return r.add(token, feed)
}

func (r *Registry) add(token CollateralToken, feed PriceSource) error {
	if token == nil || feed == nil || token.Address() == (common.Address{}) {
		return ErrInvalidTokenOrPriceFeed
	}
	asset := token.Address()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[asset]; exists {
		return fmt.Errorf("%w: %s", ErrTokenAlreadyInList, asset.Hex())
	}
	r.entries[asset] = AssetEntry{Asset: asset, Token: token, Feed: feed}
	r.order = append(r.order, asset)

	if decimals := token.Decimals(); decimals != FeedPrecision {
		// Seized collateral is computed in 18-decimal units regardless of the
		// asset's own precision.
		r.logger.Warn("registered collateral with non-18 decimals; liquidation seize amounts are not decimal-adjusted",
			slog.String("asset", asset.Hex()),
			slog.Int("decimals", int(decimals)))
	}
	return nil
}

// IsRegistered reports whether asset has a price source.
func (r *Registry) IsRegistered(asset common.Address) bool {
	return r.PriceSource(asset) != nil
}

// PriceSource returns the feed registered for asset or nil.
func (r *Registry) PriceSource(asset common.Address) PriceSource {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[asset].Feed
}

// Entry returns the registration for asset.
func (r *Registry) Entry(asset common.Address) (AssetEntry, bool) {
	if r == nil {
		return AssetEntry{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[asset]
	return entry, ok
}

// Assets returns a copy of the registered asset list in registration order.
func (r *Registry) Assets() []common.Address {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]common.Address(nil), r.order...)
}

// Entries returns the registrations in order.
func (r *Registry) Entries() []AssetEntry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AssetEntry, 0, len(r.order))
	for _, asset := range r.order {
		out = append(out, r.entries[asset])
	}
	return out
}
