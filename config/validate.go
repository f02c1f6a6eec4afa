package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// MaxDecimals bounds token and feed decimals so that 10^decimals fits in a
// 256-bit word.
const MaxDecimals = 77

// Validate ensures the configuration is internally consistent.
func (cfg Config) Validate() error {
	var errs []error
	owner, err := ParseAddress("Owner", cfg.Owner)
	if err != nil {
		errs = append(errs, err)
	}
	module, err := ParseAddress("ModuleAddress", cfg.ModuleAddress)
	if err != nil {
		errs = append(errs, err)
	}
	if err == nil && owner == module {
		errs = append(errs, fmt.Errorf("ModuleAddress must differ from Owner"))
	}
	debt, err := ParseAddress("debt_token.Address", cfg.DebtToken.Address)
	if err != nil {
		errs = append(errs, err)
	}
	if cfg.DebtToken.Decimals > MaxDecimals {
		errs = append(errs, fmt.Errorf("debt_token.Decimals must be <= %d", MaxDecimals))
	}

	seen := map[common.Address]int{debt: -1}
	for i, asset := range cfg.Assets {
		field := fmt.Sprintf("assets[%d]", i)
		addr, err := ParseAddress(field+".Address", asset.Address)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, ok := seen[addr]; ok {
			if prev < 0 {
				errs = append(errs, fmt.Errorf("%s.Address collides with debt_token.Address", field))
			} else {
				errs = append(errs, fmt.Errorf("%s.Address duplicates assets[%d]", field, prev))
			}
		}
		seen[addr] = i
		if asset.Decimals > MaxDecimals || asset.FeedDecimals > MaxDecimals {
			errs = append(errs, fmt.Errorf("%s decimals must be <= %d", field, MaxDecimals))
		}
		if strings.TrimSpace(asset.InitialPrice) != "" {
			if _, err := ParsePrice(asset.InitialPrice); err != nil {
				errs = append(errs, fmt.Errorf("%s.InitialPrice: %w", field, err))
			}
		}
	}

	if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		errs = append(errs, fmt.Errorf("auth.HMACSecret required"))
	} else if len(cfg.Auth.HMACSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.HMACSecret must be at least 32 characters"))
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("rate_limit values must be non-negative"))
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst == 0 {
		errs = append(errs, fmt.Errorf("rate_limit.Burst required when RequestsPerSecond is set"))
	}
	return errors.Join(errs...)
}

// ParseAddress parses a non-zero 0x-prefixed hex address.
func ParseAddress(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, value)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s: zero address", field)
	}
	return addr, nil
}

// ParsePrice parses a positive decimal price such as "2000.50".
func ParsePrice(value string) (*big.Rat, error) {
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(value))
	if !ok {
		return nil, fmt.Errorf("invalid price %q", value)
	}
	if rat.Sign() <= 0 {
		return nil, fmt.Errorf("price must be positive")
	}
	return rat, nil
}
