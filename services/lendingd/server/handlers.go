package server

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/config"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/lending"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/observability"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/services/lendingd/journal"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/services/lendingd/market"
)

type healthView struct {
	HealthFactor string `json:"healthFactor"`
	Infinite     bool   `json:"infinite"`
	Liquidatable bool   `json:"liquidatable"`
}

func newHealthView(hf *uint256.Int) healthView {
	infinite := lending.IsInfiniteHealth(hf)
	return healthView{
		HealthFactor: hf.Dec(),
		Infinite:     infinite,
		Liquidatable: !infinite && !hf.Gt(lending.MinHealthFactor),
	}
}

type balanceView struct {
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	ValueUSD string `json:"valueUsd"`
}

type accountView struct {
	Account            string        `json:"account"`
	Debt               string        `json:"debt"`
	CollateralValueUSD string        `json:"collateralValueUsd"`
	Health             healthView    `json:"health"`
	Balances           []balanceView `json:"balances"`
}

type receipt struct {
	Operation string `json:"operation"`
	Account   string `json:"account"`
	Asset     string `json:"asset,omitempty"`
	Amount    string `json:"amount"`
}

type liquidationView struct {
	Borrower         string     `json:"borrower"`
	Liquidator       string     `json:"liquidator"`
	Asset            string     `json:"asset"`
	DebtRepaid       string     `json:"debtRepaid"`
	CollateralSeized string     `json:"collateralSeized"`
	HealthBefore     healthView `json:"healthBefore"`
	HealthAfter      healthView `json:"healthAfter"`
}

type simulationView struct {
	Account string     `json:"account"`
	Health  healthView `json:"health"`
	Allowed bool       `json:"allowed"`
}

func (s *Server) context(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

// run executes a state-changing market call inside a span and records its
// outcome.
func (s *Server) run(ctx context.Context, op string, caller common.Address, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "lending."+op, trace.WithAttributes(
		attribute.String("lending.caller", caller.Hex()),
	))
	defer span.End()
	start := time.Now()
	err := s.exclusive(ctx, fn)
	code := errorCode(err)
	observability.Lending().Observe(op, time.Since(start), code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
	}
	return err
}

// exclusive runs fn once no other mutation is in flight, or fails with the
// context error if the request deadline passes first.
func (s *Server) exclusive(ctx context.Context, fn func(context.Context) error) error {
	select {
	case s.writes <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.writes }()
	return fn(ctx)
}

func decode(r *http.Request, dst any) error {
	if r.Body == nil {
		return invalidf("missing request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalidf("decode body: %v", err)
	}
	return nil
}

func parseAddress(field, value string) (common.Address, error) {
	addr, err := config.ParseAddress(field, value)
	if err != nil {
		return common.Address{}, invalidf("%v", err)
	}
	return addr, nil
}

func urlAddress(r *http.Request, param string) (common.Address, error) {
	return parseAddress(param, chi.URLParam(r, param))
}

func parseAmount(field, value string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(strings.TrimSpace(value))
	if err != nil {
		return nil, invalidf("%s: invalid amount %q", field, value)
	}
	return amount, nil
}

func callerOf(r *http.Request) (common.Address, error) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		return common.Address{}, invalidf("authenticated caller required")
	}
	return caller, nil
}

// subjectOf resolves the account a read request is about: an explicit value
// wins, otherwise the authenticated caller.
func subjectOf(r *http.Request, explicit string) (common.Address, error) {
	if strings.TrimSpace(explicit) != "" {
		return parseAddress("account", explicit)
	}
	return callerOf(r)
}

func toFloat(v *uint256.Int, decimals uint8) float64 {
	f := new(big.Float).SetInt(v.ToBig())
	if decimals > 0 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
		f.Quo(f, new(big.Float).SetInt(scale))
	}
	out, _ := f.Float64()
	return out
}

func (s *Server) handleParams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.market.Engine().Params())
}

func (s *Server) handleAssets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"assets": s.market.Assets()})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	asset, err := urlAddress(r, "asset")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	price, err := s.market.Engine().USDPriceOfToken(ctx, asset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	observability.Lending().RecordPrice(asset.Hex(), toFloat(price, lending.FeedPrecision))
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":    asset.Hex(),
		"priceUsd": price.Dec(),
		"decimals": lending.FeedPrecision,
	})
}

// handleAccounts lists open positions with their health, optionally only
// those that can be liquidated.
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	onlyLiquidatable := false
	if raw := r.URL.Query().Get("liquidatable"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, invalidf("liquidatable must be a boolean"))
			return
		}
		onlyLiquidatable = parsed
	}
	accounts, err := s.market.Accounts()
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	type accountHealth struct {
		Account string     `json:"account"`
		Health  healthView `json:"health"`
	}
	out := make([]accountHealth, 0, len(accounts))
	for _, account := range accounts {
		hf, err := s.market.Engine().HealthFactorOf(ctx, account)
		if err != nil {
			writeError(w, r, err)
			return
		}
		view := newHealthView(hf)
		if onlyLiquidatable && !view.Liquidatable {
			continue
		}
		out = append(out, accountHealth{Account: account.Hex(), Health: view})
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, err := urlAddress(r, "account")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	snapshot, err := s.market.Engine().AccountSnapshot(ctx, account)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view := accountView{
		Account:            snapshot.Account.Hex(),
		Debt:               snapshot.Debt.Dec(),
		CollateralValueUSD: snapshot.CollateralValueUSD.Dec(),
		Health:             newHealthView(snapshot.HealthFactor),
		Balances:           make([]balanceView, 0, len(snapshot.Balances)),
	}
	for _, b := range snapshot.Balances {
		view.Balances = append(view.Balances, balanceView{Asset: b.Asset.Hex(), Amount: b.Amount.Dec(), ValueUSD: b.ValueUSD.Dec()})
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleHealthFactor(w http.ResponseWriter, r *http.Request) {
	account, err := urlAddress(r, "account")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	hf, err := s.market.Engine().HealthFactorOf(ctx, account)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account.Hex(), "health": newHealthView(hf)})
}

func (s *Server) handleCollateral(w http.ResponseWriter, r *http.Request) {
	account, err := urlAddress(r, "account")
	if err != nil {
		writeError(w, r, err)
		return
	}
	asset, err := urlAddress(r, "asset")
	if err != nil {
		writeError(w, r, err)
		return
	}
	engine := s.market.Engine()
	if !engine.Registry().IsRegistered(asset) {
		writeError(w, r, lending.ErrUnregisteredAsset)
		return
	}
	amount, err := engine.CollateralBalance(account, asset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": account.Hex(), "asset": asset.Hex(), "amount": amount.Dec()})
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	asset, err := urlAddress(r, "asset")
	if err != nil {
		writeError(w, r, err)
		return
	}
	account, err := urlAddress(r, "account")
	if err != nil {
		writeError(w, r, err)
		return
	}
	balance, err := s.market.Balance(asset, account)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": account.Hex(), "asset": asset.Hex(), "balance": balance.Dec()})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: "journal_unavailable", Message: "event journal not configured", RequestID: RequestIDFrom(r.Context())})
		return
	}
	values := r.URL.Query()
	q := journal.Query{Type: values.Get("type")}
	if raw := values.Get("account"); raw != "" {
		account, err := parseAddress("account", raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		q.Account = account.Hex()
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, r, invalidf("limit must be a non-negative integer"))
			return
		}
		q.Limit = limit
	}
	ctx, cancel := s.context(r)
	defer cancel()
	entries, err := s.events.Events(ctx, q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

func (s *Server) handleSimulateBorrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account"`
		Amount  string `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	account, err := subjectOf(r, req.Account)
	if err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	hf, err := s.market.Engine().SimulateBorrow(ctx, account, amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, simulationView{Account: account.Hex(), Health: newHealthView(hf), Allowed: !hf.Lt(lending.MinHealthFactor)})
}

func (s *Server) handleSimulateRedeem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account"`
		Asset   string `json:"asset"`
		Amount  string `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	account, err := subjectOf(r, req.Account)
	if err != nil {
		writeError(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	hf, err := s.market.Engine().SimulateRedeem(ctx, account, asset, amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, simulationView{Account: account.Hex(), Health: newHealthView(hf), Allowed: !hf.Lt(lending.MinHealthFactor)})
}

type assetAmountRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleAssetAmount(w, r, "deposit", s.market.Engine().Deposit)
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	s.handleAssetAmount(w, r, "redeem", s.market.Engine().RedeemCollateral)
}

func (s *Server) handleAssetAmount(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, common.Address, common.Address, *uint256.Int) error) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req assetAmountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.run(ctx, op, caller, func(ctx context.Context) error {
		return fn(ctx, caller, asset, amount)
	}); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt{Operation: op, Account: caller.Hex(), Asset: asset.Hex(), Amount: amount.Dec()})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	s.handleDebtAmount(w, r, "borrow", s.market.Engine().Borrow)
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	s.handleDebtAmount(w, r, "repay", s.market.Engine().Repay)
}

func (s *Server) handleDebtAmount(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, common.Address, *uint256.Int) error) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.run(ctx, op, caller, func(ctx context.Context) error {
		return fn(ctx, caller, amount)
	}); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt{Operation: op, Account: caller.Hex(), Amount: amount.Dec()})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Borrower    string `json:"borrower"`
		Asset       string `json:"asset"`
		DebtToCover string `json:"debtToCover"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	borrower, err := parseAddress("borrower", req.Borrower)
	if err != nil {
		writeError(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := parseAmount("debtToCover", req.DebtToCover)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	var result *lending.LiquidationResult
	if err := s.run(ctx, "liquidate", caller, func(ctx context.Context) error {
		var err error
		result, err = s.market.Engine().Liquidate(ctx, caller, borrower, amount, asset)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}
	observability.Lending().RecordLiquidation(asset.Hex(), toFloat(result.CollateralSeized, 0))
	writeJSON(w, http.StatusOK, liquidationView{
		Borrower:         result.Borrower.Hex(),
		Liquidator:       result.Liquidator.Hex(),
		Asset:            result.Asset.Hex(),
		DebtRepaid:       result.DebtRepaid.Dec(),
		CollateralSeized: result.CollateralSeized.Dec(),
		HealthBefore:     newHealthView(result.HealthBefore),
		HealthAfter:      newHealthView(result.HealthAfter),
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	asset, err := urlAddress(r, "asset")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.market.Approve(ctx, caller, asset, amount); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"holder":  caller.Hex(),
		"spender": s.market.ModuleAddress().Hex(),
		"asset":   asset.Hex(),
		"amount":  amount.Dec(),
	})
}

func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Address      string `json:"address"`
		Symbol       string `json:"symbol"`
		Decimals     uint8  `json:"decimals"`
		FeedDecimals uint8  `json:"feedDecimals"`
		InitialPrice string `json:"initialPrice"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.InitialPrice) != "" {
		if _, err := config.ParsePrice(req.InitialPrice); err != nil {
			writeError(w, r, invalidf("initialPrice: %v", err))
			return
		}
	}
	spec := market.AssetSpec{
		Address:      addr,
		Symbol:       strings.TrimSpace(req.Symbol),
		Decimals:     req.Decimals,
		FeedDecimals: req.FeedDecimals,
	}
	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.run(ctx, "register_collateral", caller, func(ctx context.Context) error {
		return s.market.AddAsset(ctx, caller, spec, req.InitialPrice)
	}); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, market.AssetInfo{
		Address:      addr.Hex(),
		Symbol:       spec.Symbol,
		Decimals:     spec.Decimals,
		FeedDecimals: spec.FeedDecimals,
	})
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	asset, err := urlAddress(r, "asset")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Price     string `json:"price"`
		UpdatedAt int64  `json:"updatedAt"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := config.ParsePrice(req.Price); err != nil {
		writeError(w, r, invalidf("price: %v", err))
		return
	}
	var ts time.Time
	if req.UpdatedAt > 0 {
		ts = time.Unix(req.UpdatedAt, 0).UTC()
	}
	if err := s.market.SetPrice(caller, asset, req.Price, ts); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.Hex(), "price": strings.TrimSpace(req.Price)})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	asset, err := urlAddress(r, "asset")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if amount.IsZero() {
		writeError(w, r, lending.ErrZeroAmount)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.market.Mint(ctx, caller, asset, to, amount); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt{Operation: "mint", Account: to.Hex(), Asset: asset.Hex(), Amount: amount.Dec()})
}
