package lending

import (
	"time"

	"github.com/holiman/uint256"
)

const (
	// FeedPrecision is the number of fractional decimals every normalised
	// USD price carries.
	FeedPrecision = 18
	// LiquidationThreshold over LiquidationPrecision is the share of nominal
	// collateral value that counts toward borrowing power (50%).
	LiquidationThreshold = 50
	LiquidationPrecision = 100
	// MaxPriceAge is the freshness window for oracle readings.
	MaxPriceAge = time.Hour
)

var (
	// Precision scales health factors and prices (1e18).
	Precision = pow10(18)
	// MinHealthFactor is the lowest health factor a user operation may leave.
	MinHealthFactor = pow10(18)
	// LiquidationBonus scales the collateral seized per unit of debt repaid
	// (1.1e18, a 10% premium).
	LiquidationBonus = new(uint256.Int).Mul(uint256.NewInt(11), pow10(17))
	// InfiniteHealth is the sentinel health factor of a debt-free position.
	// It is not a ratio and must not be compared against other positions.
	InfiniteHealth = new(uint256.Int).SetAllOne()

	liquidationThreshold = uint256.NewInt(LiquidationThreshold)
	liquidationPrecision = uint256.NewInt(LiquidationPrecision)
)

// IsInfiniteHealth reports whether hf is the zero-debt sentinel.
func IsInfiniteHealth(hf *uint256.Int) bool {
	return hf != nil && hf.Eq(InfiniteHealth)
}

func pow10(n uint64) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(n))
}

func checkedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

func checkedMul(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// checkedSub returns a-b or underflowErr when b > a.
func checkedSub(a, b *uint256.Int, underflowErr error) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, underflowErr
	}
	return out, nil
}

// mulDiv computes a*b/d, failing when the product does not fit in 256 bits.
// d must be non-zero.
func mulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	product, err := checkedMul(a, b)
	if err != nil {
		return nil, err
	}
	return product.Div(product, d), nil
}

func minUint(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

func amountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
