package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/config"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/lending"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/services/lendingd/journal"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/services/lendingd/market"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/storage"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	testIssuer = "lendingd"
)

var (
	ownerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	moduleAddr = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	dscAddr    = common.HexToAddress("0x00000000000000000000000000000000000000d5")
	wethAddr   = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	linkAddr   = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	userAddr   = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	liqAddr    = common.HexToAddress("0x0000000000000000000000000000000000000b02")
	anonymous  = common.Address{}
)

type harness struct {
	t       *testing.T
	market  *market.Market
	journal *journal.Journal
	server  *Server
	handler http.Handler
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	cfg := &config.Config{
		Owner:         ownerAddr.Hex(),
		ModuleAddress: moduleAddr.Hex(),
		DebtToken:     config.TokenConfig{Address: dscAddr.Hex(), Symbol: "DSC", Decimals: 18},
		Assets: []config.AssetConfig{
			{Address: wethAddr.Hex(), Symbol: "WETH", Decimals: 18, FeedDecimals: 8, InitialPrice: "2000"},
		},
	}
	m, err := market.New(storage.NewMemDB(), cfg, nil)
	require.NoError(t, err)
	j, err := journal.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	m.Engine().SetEmitter(j)

	opts := Options{Auth: config.AuthConfig{HMACSecret: testSecret, Issuer: testIssuer, AllowAnonymousReads: true}}
	if mutate != nil {
		mutate(&opts)
	}
	srv := New(m, j, opts)
	return &harness{t: t, market: m, journal: j, server: srv, handler: srv.Handler()}
}

func (h *harness) do(method, path string, caller common.Address, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if caller != anonymous {
		token, err := SignToken(testSecret, testIssuer, caller, time.Hour)
		require.NoError(h.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) ok(method, path string, caller common.Address, body any) map[string]any {
	h.t.Helper()
	rec := h.do(method, path, caller, body)
	require.Less(h.t, rec.Code, 300, "unexpected status %d: %s", rec.Code, rec.Body.String())
	return decodeBody(h.t, rec)
}

func (h *harness) expectError(rec *httptest.ResponseRecorder, status int, code string) {
	h.t.Helper()
	require.Equal(h.t, status, rec.Code, rec.Body.String())
	require.Equal(h.t, code, decodeBody(h.t, rec)["code"])
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func ether(n uint64) string {
	return fmt.Sprintf("%d000000000000000000", n)
}

// fundDeposit mints, approves and deposits n WETH for account.
func (h *harness) fundDeposit(account common.Address, n uint64) {
	h.t.Helper()
	h.ok(http.MethodPost, "/v1/admin/tokens/"+wethAddr.Hex()+"/mint", ownerAddr, map[string]string{"to": account.Hex(), "amount": ether(n)})
	h.ok(http.MethodPost, "/v1/tokens/"+wethAddr.Hex()+"/approve", account, map[string]string{"amount": ether(n)})
	h.ok(http.MethodPost, "/v1/deposit", account, map[string]string{"asset": wethAddr.Hex(), "amount": ether(n)})
}

func TestHealthzAndRequestID(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodGet, "/healthz", anonymous, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "trace-me")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, "trace-me", rec.Header().Get(requestIDHeader))
}

func TestAnonymousReads(t *testing.T) {
	h := newHarness(t, nil)

	assets := h.ok(http.MethodGet, "/v1/assets", anonymous, nil)
	list := assets["assets"].([]any)
	require.Len(t, list, 1)
	require.Equal(t, wethAddr.Hex(), list[0].(map[string]any)["address"])

	price := h.ok(http.MethodGet, "/v1/assets/"+wethAddr.Hex()+"/price", anonymous, nil)
	require.Equal(t, ether(2000), price["priceUsd"])

	params := h.ok(http.MethodGet, "/v1/params", anonymous, nil)
	require.Equal(t, moduleAddr.Hex(), params["moduleAddress"])
	require.Equal(t, "1100000000000000000", params["liquidationBonus"])

	health := h.ok(http.MethodGet, "/v1/accounts/"+userAddr.Hex()+"/health", anonymous, nil)
	require.Equal(t, true, health["health"].(map[string]any)["infinite"])
}

func TestReadsRequireTokenWhenAnonymousDisabled(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Auth.AllowAnonymousReads = false })
	h.expectError(h.do(http.MethodGet, "/v1/assets", anonymous, nil), http.StatusUnauthorized, "unauthenticated")
	h.ok(http.MethodGet, "/v1/assets", userAddr, nil)
}

func TestWritesRequireValidToken(t *testing.T) {
	h := newHarness(t, nil)
	body := map[string]string{"asset": wethAddr.Hex(), "amount": "1"}
	h.expectError(h.do(http.MethodPost, "/v1/deposit", anonymous, body), http.StatusUnauthorized, "unauthenticated")

	forged, err := SignToken("another-secret-another-secret-000", testIssuer, userAddr, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/deposit", strings.NewReader(`{"asset":"`+wethAddr.Hex()+`","amount":"1"}`))
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	h.expectError(rec, http.StatusUnauthorized, "unauthenticated")

	expired, err := SignToken(testSecret, testIssuer, userAddr, -time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/v1/deposit", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+expired)
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	h.expectError(rec, http.StatusUnauthorized, "unauthenticated")
}

func TestDepositBorrowRepayRedeem(t *testing.T) {
	h := newHarness(t, nil)
	h.fundDeposit(userAddr, 10)

	borrow := h.ok(http.MethodPost, "/v1/borrow", userAddr, map[string]string{"amount": ether(5000)})
	require.Equal(t, "borrow", borrow["operation"])

	account := h.ok(http.MethodGet, "/v1/accounts/"+userAddr.Hex(), anonymous, nil)
	require.Equal(t, ether(5000), account["debt"])
	require.Equal(t, ether(20000), account["collateralValueUsd"])
	require.Equal(t, "2000000000000000000", account["health"].(map[string]any)["healthFactor"])

	wallet := h.ok(http.MethodGet, "/v1/tokens/"+dscAddr.Hex()+"/balances/"+userAddr.Hex(), anonymous, nil)
	require.Equal(t, ether(5000), wallet["balance"])

	h.ok(http.MethodPost, "/v1/tokens/"+dscAddr.Hex()+"/approve", userAddr, map[string]string{"amount": ether(5000)})
	h.ok(http.MethodPost, "/v1/repay", userAddr, map[string]string{"amount": ether(5000)})
	h.ok(http.MethodPost, "/v1/redeem", userAddr, map[string]string{"asset": wethAddr.Hex(), "amount": ether(10)})

	held := h.ok(http.MethodGet, "/v1/accounts/"+userAddr.Hex()+"/collateral/"+wethAddr.Hex(), anonymous, nil)
	require.Equal(t, "0", held["amount"])

	events := h.ok(http.MethodGet, "/v1/events?account="+userAddr.Hex(), anonymous, nil)
	var types []string
	for _, ev := range events["events"].([]any) {
		types = append(types, ev.(map[string]any)["type"].(string))
	}
	require.Equal(t, []string{
		lending.EventTypeCollateralRedeemed,
		lending.EventTypeDebtRepaid,
		lending.EventTypeDebtMinted,
		lending.EventTypeCollateralDeposited,
	}, types)

	limited := h.ok(http.MethodGet, "/v1/events?limit=1&type="+lending.EventTypeDebtMinted, anonymous, nil)
	require.Len(t, limited["events"].([]any), 1)
}

func TestSimulations(t *testing.T) {
	h := newHarness(t, nil)
	h.fundDeposit(userAddr, 10)

	sim := h.ok(http.MethodPost, "/v1/simulate/borrow", userAddr, map[string]string{"amount": ether(10000)})
	require.Equal(t, true, sim["allowed"])
	require.Equal(t, "1000000000000000000", sim["health"].(map[string]any)["healthFactor"])

	sim = h.ok(http.MethodPost, "/v1/simulate/borrow", anonymous, map[string]string{"account": userAddr.Hex(), "amount": ether(10001)})
	require.Equal(t, false, sim["allowed"])

	sim = h.ok(http.MethodPost, "/v1/simulate/redeem", userAddr, map[string]string{"asset": wethAddr.Hex(), "amount": ether(10)})
	require.Equal(t, true, sim["health"].(map[string]any)["infinite"])

	h.expectError(h.do(http.MethodPost, "/v1/simulate/borrow", anonymous, map[string]string{"amount": "1"}), http.StatusBadRequest, "invalid_request")

	info := h.ok(http.MethodGet, "/v1/accounts/"+userAddr.Hex(), anonymous, nil)
	require.Equal(t, "0", info["debt"])
}

func TestErrorStatuses(t *testing.T) {
	h := newHarness(t, nil)
	h.fundDeposit(userAddr, 10)

	h.expectError(h.do(http.MethodPost, "/v1/borrow", userAddr, map[string]string{"amount": ether(10001)}), http.StatusUnprocessableEntity, "health_factor_broken")
	h.expectError(h.do(http.MethodPost, "/v1/borrow", userAddr, map[string]string{"amount": "0"}), http.StatusBadRequest, "zero_amount")
	h.expectError(h.do(http.MethodPost, "/v1/borrow", userAddr, map[string]string{"amount": "-5"}), http.StatusBadRequest, "invalid_request")
	h.expectError(h.do(http.MethodPost, "/v1/borrow", userAddr, map[string]string{"amount": "1", "extra": "x"}), http.StatusBadRequest, "invalid_request")
	h.expectError(h.do(http.MethodPost, "/v1/deposit", userAddr, map[string]string{"asset": linkAddr.Hex(), "amount": "1"}), http.StatusNotFound, "unregistered_asset")
	h.expectError(h.do(http.MethodPost, "/v1/repay", userAddr, map[string]string{"amount": "1"}), http.StatusUnprocessableEntity, "nothing_to_pay")
	h.expectError(h.do(http.MethodPost, "/v1/redeem", userAddr, map[string]string{"asset": wethAddr.Hex(), "amount": ether(11)}), http.StatusUnprocessableEntity, "insufficient_collateral")
	h.expectError(h.do(http.MethodPost, "/v1/deposit", userAddr, map[string]string{"asset": wethAddr.Hex(), "amount": ether(1)}), http.StatusUnprocessableEntity, "transfer_failed")
	h.expectError(h.do(http.MethodGet, "/v1/accounts/not-an-address", anonymous, nil), http.StatusBadRequest, "invalid_request")

	stale := time.Now().Add(-2 * time.Hour).Unix()
	h.ok(http.MethodPost, "/v1/admin/feeds/"+wethAddr.Hex(), ownerAddr, map[string]any{"price": "2000", "updatedAt": stale})
	h.expectError(h.do(http.MethodPost, "/v1/borrow", userAddr, map[string]string{"amount": ether(1)}), http.StatusServiceUnavailable, "stale_price")
	h.expectError(h.do(http.MethodGet, "/v1/assets/"+wethAddr.Hex()+"/price", anonymous, nil), http.StatusServiceUnavailable, "stale_price")
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t, nil)
	register := map[string]any{"address": linkAddr.Hex(), "symbol": "LINK", "decimals": 18, "feedDecimals": 8, "initialPrice": "15"}

	h.expectError(h.do(http.MethodPost, "/v1/admin/assets", userAddr, register), http.StatusForbidden, "not_owner")
	rec := h.do(http.MethodPost, "/v1/admin/assets", ownerAddr, register)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	h.expectError(h.do(http.MethodPost, "/v1/admin/assets", ownerAddr, register), http.StatusConflict, "asset_exists")

	price := h.ok(http.MethodGet, "/v1/assets/"+linkAddr.Hex()+"/price", anonymous, nil)
	require.Equal(t, ether(15), price["priceUsd"])

	h.expectError(h.do(http.MethodPost, "/v1/admin/feeds/"+linkAddr.Hex(), userAddr, map[string]string{"price": "16"}), http.StatusForbidden, "not_owner")
	h.expectError(h.do(http.MethodPost, "/v1/admin/feeds/"+linkAddr.Hex(), ownerAddr, map[string]string{"price": "-1"}), http.StatusBadRequest, "invalid_request")
	h.ok(http.MethodPost, "/v1/admin/feeds/"+linkAddr.Hex(), ownerAddr, map[string]string{"price": "16.5"})
	price = h.ok(http.MethodGet, "/v1/assets/"+linkAddr.Hex()+"/price", anonymous, nil)
	require.Equal(t, "16500000000000000000", price["priceUsd"])

	h.expectError(h.do(http.MethodPost, "/v1/admin/tokens/"+dscAddr.Hex()+"/mint", ownerAddr, map[string]string{"to": userAddr.Hex(), "amount": "1"}), http.StatusForbidden, "not_owner")
	h.expectError(h.do(http.MethodPost, "/v1/admin/tokens/"+wethAddr.Hex()+"/mint", userAddr, map[string]string{"to": userAddr.Hex(), "amount": "1"}), http.StatusForbidden, "not_owner")

	events := h.ok(http.MethodGet, "/v1/events?type="+lending.EventTypeCollateralRegistered, anonymous, nil)
	require.Len(t, events["events"].([]any), 1)
}

func TestLiquidationRoute(t *testing.T) {
	h := newHarness(t, nil)
	h.fundDeposit(userAddr, 10)
	h.ok(http.MethodPost, "/v1/borrow", userAddr, map[string]string{"amount": ether(5000)})

	liquidate := map[string]string{"borrower": userAddr.Hex(), "asset": wethAddr.Hex(), "debtToCover": ether(1000)}
	h.expectError(h.do(http.MethodPost, "/v1/liquidate", liqAddr, liquidate), http.StatusUnprocessableEntity, "health_factor_ok")

	h.ok(http.MethodPost, "/v1/admin/feeds/"+wethAddr.Hex(), ownerAddr, map[string]string{"price": "800"})
	health := h.ok(http.MethodGet, "/v1/accounts/"+userAddr.Hex()+"/health", anonymous, nil)
	require.Equal(t, true, health["health"].(map[string]any)["liquidatable"])

	h.expectError(h.do(http.MethodPost, "/v1/liquidate", userAddr, liquidate), http.StatusUnprocessableEntity, "self_liquidation")

	h.fundDeposit(liqAddr, 10)
	h.ok(http.MethodPost, "/v1/borrow", liqAddr, map[string]string{"amount": ether(1000)})
	h.ok(http.MethodPost, "/v1/tokens/"+dscAddr.Hex()+"/approve", liqAddr, map[string]string{"amount": ether(1000)})

	all := h.ok(http.MethodGet, "/v1/accounts", anonymous, nil)
	require.Len(t, all["accounts"], 2)
	underwater := h.ok(http.MethodGet, "/v1/accounts?liquidatable=true", anonymous, nil)
	require.Len(t, underwater["accounts"], 1)
	require.Equal(t, userAddr.Hex(), underwater["accounts"].([]any)[0].(map[string]any)["account"])
	h.expectError(h.do(http.MethodGet, "/v1/accounts?liquidatable=maybe", anonymous, nil), http.StatusBadRequest, "invalid_request")

	res := h.ok(http.MethodPost, "/v1/liquidate", liqAddr, liquidate)
	require.Equal(t, ether(1000), res["debtRepaid"])
	require.Equal(t, "1375000000000000000", res["collateralSeized"])
	require.Equal(t, "800000000000000000", res["healthBefore"].(map[string]any)["healthFactor"])

	wallet := h.ok(http.MethodGet, "/v1/tokens/"+wethAddr.Hex()+"/balances/"+liqAddr.Hex(), anonymous, nil)
	require.Equal(t, "1375000000000000000", wallet["balance"])
}

func TestRateLimitPerCaller(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}
	})
	h.ok(http.MethodGet, "/v1/assets", userAddr, nil)
	h.ok(http.MethodGet, "/v1/assets", userAddr, nil)
	rec := h.do(http.MethodGet, "/v1/assets", userAddr, nil)
	h.expectError(rec, http.StatusTooManyRequests, "rate_limited")
	require.Equal(t, "1", rec.Header().Get("Retry-After"))

	h.ok(http.MethodGet, "/v1/assets", liqAddr, nil)
	h.ok(http.MethodGet, "/healthz", userAddr, nil)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.ok(http.MethodGet, "/v1/assets", anonymous, nil)
	rec := h.do(http.MethodGet, "/metrics", anonymous, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "lending_http_requests_total")
}

func TestWritesQueueUntilDeadline(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Timeout = 50 * time.Millisecond })
	h.ok(http.MethodPost, "/v1/admin/tokens/"+wethAddr.Hex()+"/mint", ownerAddr, map[string]string{"to": userAddr.Hex(), "amount": ether(1)})
	h.ok(http.MethodPost, "/v1/tokens/"+wethAddr.Hex()+"/approve", userAddr, map[string]string{"amount": ether(1)})
	deposit := map[string]string{"asset": wethAddr.Hex(), "amount": ether(1)}

	// Another mutation is in flight.
	h.server.writes <- struct{}{}
	h.expectError(h.do(http.MethodPost, "/v1/deposit", userAddr, deposit), http.StatusGatewayTimeout, "timeout")
	<-h.server.writes

	h.ok(http.MethodPost, "/v1/deposit", userAddr, deposit)
	collateral := h.ok(http.MethodGet, "/v1/accounts/"+userAddr.Hex()+"/collateral/"+wethAddr.Hex(), anonymous, nil)
	require.Equal(t, ether(1), collateral["amount"])
}
