package lending

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestUSDPriceNormalisesEightDecimalFeed(t *testing.T) {
	f := newFixture(t)

	price, err := f.engine.USDPriceOfToken(context.Background(), testWETH)
	require.NoError(t, err)
	require.Equal(t, ether(2000), price)
}

func TestUSDPriceRejectsInvalidReadings(t *testing.T) {
	cases := []struct {
		name    string
		price   int64
		updated time.Duration
		want    error
	}{
		{name: "zero", price: 0, want: ErrInvalidPrice},
		{name: "negative", price: -1, want: ErrInvalidPrice},
		{name: "stale", price: 2000_00000000, updated: -(MaxPriceAge + time.Second), want: ErrStalePrice},
		{name: "future", price: 2000_00000000, updated: time.Minute, want: ErrStalePrice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.ethFeed.set(tc.price, f.now.Add(tc.updated))
			_, err := f.engine.USDPriceOfToken(context.Background(), testWETH)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestUSDPriceAcceptsReadingAtFreshnessBoundary(t *testing.T) {
	f := newFixture(t)
	f.ethFeed.set(2000_00000000, f.now.Add(-MaxPriceAge))

	_, err := f.engine.USDPriceOfToken(context.Background(), testWETH)
	require.NoError(t, err)
}

func TestUSDPriceUnregisteredAsset(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.USDPriceOfToken(context.Background(), makeAddress(0x99))
	require.ErrorIs(t, err, ErrUnregisteredAsset)
}

func TestUSDPriceFeedFailurePropagates(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("feed offline")
	f.ethFeed.err = boom
	_, err := f.engine.USDPriceOfToken(context.Background(), testWETH)
	require.ErrorIs(t, err, boom)
}

func TestUSDPriceReadsFeedOnEveryCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.engine.USDPriceOfToken(ctx, testWETH)
		require.NoError(t, err)
	}
	require.Equal(t, 3, f.ethFeed.reads)

	f.ethFeed.set(1800_00000000, f.now)
	price, err := f.engine.USDPriceOfToken(ctx, testWETH)
	require.NoError(t, err)
	require.Equal(t, ether(1800), price)
}

func TestNormalizePrice(t *testing.T) {
	cases := []struct {
		name     string
		raw      *big.Int
		decimals uint8
		want     *uint256.Int
		err      error
	}{
		{name: "eight decimals", raw: big.NewInt(2000_00000000), decimals: 8, want: ether(2000)},
		{name: "eighteen decimals", raw: new(big.Int).Mul(big.NewInt(5), big.NewInt(1e18)), decimals: 18, want: ether(5)},
		{name: "zero decimals", raw: big.NewInt(7), decimals: 0, want: ether(7)},
		{name: "twenty decimals truncates", raw: big.NewInt(123456), decimals: 20, want: uint256.NewInt(1234)},
		{name: "truncates to zero", raw: big.NewInt(99), decimals: 20, err: ErrInvalidPrice},
		{name: "non-positive", raw: big.NewInt(0), decimals: 8, err: ErrInvalidPrice},
		{name: "nil", raw: nil, decimals: 8, err: ErrInvalidPrice},
		{name: "excessive decimals", raw: big.NewInt(1), decimals: 200, err: ErrArithmeticOverflow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePrice(tc.raw, tc.decimals)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizePriceOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 250)
	_, err := NormalizePrice(huge, 0)
	require.ErrorIs(t, err, ErrArithmeticOverflow)

	tooWide := new(big.Int).Lsh(big.NewInt(1), 300)
	_, err = NormalizePrice(tooWide, 18)
	require.ErrorIs(t, err, ErrArithmeticOverflow)
}
