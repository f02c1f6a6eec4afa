package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/lending"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/pricefeed"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/token"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid request", invalidf("bad body"), http.StatusBadRequest, "invalid_request"},
		{"zero amount", lending.ErrZeroAmount, http.StatusBadRequest, "zero_amount"},
		{"unregistered", fmt.Errorf("wrap: %w", lending.ErrUnregisteredAsset), http.StatusNotFound, "unregistered_asset"},
		{"duplicate asset", lending.ErrTokenAlreadyInList, http.StatusConflict, "asset_exists"},
		{"reentrant", lending.ErrReentrantCall, http.StatusConflict, "reentrant_call"},
		{"not owner", lending.ErrNotOwner, http.StatusForbidden, "not_owner"},
		{"token owner", token.ErrNotOwner, http.StatusForbidden, "not_owner"},
		{"broken health", fmt.Errorf("%w: 9", lending.ErrHealthFactorBroken), http.StatusUnprocessableEntity, "health_factor_broken"},
		{"healthy", lending.ErrHealthFactorOk, http.StatusUnprocessableEntity, "health_factor_ok"},
		{"transfer wraps token", fmt.Errorf("%w: %w", lending.ErrTransferFailed, token.ErrNotOwner), http.StatusUnprocessableEntity, "transfer_failed"},
		{"stale", lending.ErrStalePrice, http.StatusServiceUnavailable, "stale_price"},
		{"no reading", fmt.Errorf("read: %w", pricefeed.ErrNoReading), http.StatusServiceUnavailable, "no_price"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			status, code := classify(tc.err)
			if status != tc.status || code != tc.code {
				t.Fatalf("classify(%v) = %d %q, want %d %q", tc.err, status, code, tc.status, tc.code)
			}
		})
	}
}

func TestErrorCodeNil(t *testing.T) {
	if code := errorCode(nil); code != "" {
		t.Fatalf("expected empty code for nil error, got %q", code)
	}
}
