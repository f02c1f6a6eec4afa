package lending

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/common"
)

// maxPow10 is the largest n for which 10^n fits in 256 bits.
const maxPow10 = 77

// Oracle converts the reading of an asset's price source into a USD price
// with FeedPrecision decimals. Readings are fetched on every call and never
// cached.
type Oracle struct {
	registry *Registry
	now      func() time.Time
}

// NewOracle constructs an oracle adapter resolving price sources through the
// registry.
func NewOracle(registry *Registry) *Oracle {
	return &Oracle{registry: registry, now: time.Now}
}

// SetClock overrides the clock used for staleness checks.
func (o *Oracle) SetClock(now func() time.Time) {
	if o == nil || now == nil {
		return
	}
	o.now = now
}

// USDPrice returns the normalised USD price of one whole unit of asset.
func (o *Oracle) USDPrice(ctx context.Context, asset common.Address) (*uint256.Int, error) {
	if o == nil || o.registry == nil {
		return nil, ErrUnregisteredAsset
	}
	feed := o.registry.PriceSource(asset)
	if feed == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredAsset, asset.Hex())
	}
	var reading PriceReading
	err := nativecommon.External(ctx, func(ctx context.Context) error {
		var err error
		reading, err = feed.LatestReading(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read price feed for %s: %w", asset.Hex(), err)
	}
	if reading.Price == nil || reading.Price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s reported %v", ErrInvalidPrice, asset.Hex(), reading.Price)
	}
	age := o.now().Sub(reading.UpdatedAt)
	if age < 0 || age > MaxPriceAge {
		return nil, fmt.Errorf("%w: %s updated %s ago", ErrStalePrice, asset.Hex(), age.Round(time.Second))
	}
	return NormalizePrice(reading.Price, feed.Decimals())
}

// NormalizePrice scales a positive raw feed price reported with the given
// number of decimals to FeedPrecision decimals. Feeds with more than
// FeedPrecision decimals are truncated.
func NormalizePrice(raw *big.Int, decimals uint8) (*uint256.Int, error) {
	if raw == nil || raw.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	price, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	if decimals <= FeedPrecision {
		return checkedMul(price, pow10(uint64(FeedPrecision-decimals)))
	}
	shift := uint64(decimals - FeedPrecision)
	if shift > maxPow10 {
		return nil, ErrArithmeticOverflow
	}
	price.Div(price, pow10(shift))
	if price.IsZero() {
		return nil, ErrInvalidPrice
	}
	return price, nil
}
