package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/lending"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/pricefeed"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/token"
)

var errInvalidRequest = errors.New("invalid request")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidRequest, fmt.Sprintf(format, args...))
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: transfer failures wrap token errors and must be matched
// before them.
var errorMappings = []errorMapping{
	{errInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{lending.ErrZeroAmount, http.StatusBadRequest, "zero_amount"},
	{lending.ErrZeroAddress, http.StatusBadRequest, "zero_address"},
	{token.ErrZeroAddress, http.StatusBadRequest, "zero_address"},
	{lending.ErrLengthMismatch, http.StatusBadRequest, "length_mismatch"},
	{lending.ErrInvalidTokenOrPriceFeed, http.StatusBadRequest, "invalid_token_or_feed"},
	{lending.ErrTransferFailed, http.StatusUnprocessableEntity, "transfer_failed"},
	{lending.ErrNotOwner, http.StatusForbidden, "not_owner"},
	{token.ErrNotOwner, http.StatusForbidden, "not_owner"},
	{lending.ErrUnregisteredAsset, http.StatusNotFound, "unregistered_asset"},
	{lending.ErrTokenAlreadyInList, http.StatusConflict, "asset_exists"},
	{lending.ErrReentrantCall, http.StatusConflict, "reentrant_call"},
	{lending.ErrInsufficientCollateral, http.StatusUnprocessableEntity, "insufficient_collateral"},
	{lending.ErrInsufficientDebt, http.StatusUnprocessableEntity, "insufficient_debt"},
	{lending.ErrRepayExceedsDebt, http.StatusUnprocessableEntity, "repay_exceeds_debt"},
	{lending.ErrNothingToPay, http.StatusUnprocessableEntity, "nothing_to_pay"},
	{lending.ErrArithmeticOverflow, http.StatusUnprocessableEntity, "arithmetic_overflow"},
	{lending.ErrHealthFactorBroken, http.StatusUnprocessableEntity, "health_factor_broken"},
	{lending.ErrHealthFactorOk, http.StatusUnprocessableEntity, "health_factor_ok"},
	{lending.ErrSelfLiquidation, http.StatusUnprocessableEntity, "self_liquidation"},
	{token.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{token.ErrInsufficientAllowance, http.StatusUnprocessableEntity, "insufficient_allowance"},
	{token.ErrOverflow, http.StatusUnprocessableEntity, "arithmetic_overflow"},
	{lending.ErrInvalidPrice, http.StatusServiceUnavailable, "invalid_price"},
	{lending.ErrStalePrice, http.StatusServiceUnavailable, "stale_price"},
	{pricefeed.ErrNoReading, http.StatusServiceUnavailable, "no_price"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
	{context.Canceled, http.StatusServiceUnavailable, "canceled"},
}

// classify maps an error to its HTTP status and stable code.
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// errorCode returns the stable code for err, or "" when err is nil.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	_, code := classify(err)
	return code
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, errorBody{Code: code, Message: message, RequestID: RequestIDFrom(r.Context())})
}
