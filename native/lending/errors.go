package lending

import (
	"errors"

	nativecommon "github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/common"
)

// Input validation.
var (
	ErrZeroAmount   = errors.New("lending: amount must be greater than zero")
	ErrZeroAddress  = errors.New("lending: address must not be zero")
	ErrNilState     = errors.New("lending: state not configured")
	ErrNilDebtToken = errors.New("lending: debt token not configured")
)

// Registry.
var (
	ErrUnregisteredAsset       = errors.New("lending: asset not registered")
	ErrInvalidTokenOrPriceFeed = errors.New("lending: invalid token or price feed")
	ErrTokenAlreadyInList      = errors.New("lending: token already in list")
	ErrLengthMismatch          = errors.New("lending: tokens and price feeds length mismatch")
)

// Accounting.
var (
	ErrInsufficientCollateral = errors.New("lending: insufficient collateral")
	ErrInsufficientDebt       = errors.New("lending: insufficient debt")
	ErrRepayExceedsDebt       = errors.New("lending: repay amount exceeds debt")
	ErrNothingToPay           = errors.New("lending: no outstanding debt")
	ErrArithmeticOverflow     = errors.New("lending: arithmetic overflow")
)

// Risk.
var (
	ErrHealthFactorBroken = errors.New("lending: health factor below minimum")
	ErrHealthFactorOk     = errors.New("lending: health factor is ok")
)

// Oracle.
var (
	ErrInvalidPrice = errors.New("lending: invalid price")
	ErrStalePrice   = errors.New("lending: stale price")
)

// Authorization and execution.
var (
	ErrNotOwner        = errors.New("lending: caller is not the owner")
	ErrSelfLiquidation = errors.New("lending: cannot liquidate own position")
	ErrTransferFailed  = errors.New("lending: token transfer failed")
	ErrReentrantCall   = nativecommon.ErrReentrantCall
)
