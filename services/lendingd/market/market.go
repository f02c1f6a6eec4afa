package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/config"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/lending"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/pricefeed"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/token"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/storage"
)

// AssetInfo describes a registered collateral asset.
type AssetInfo struct {
	Address      string `json:"address"`
	Symbol       string `json:"symbol"`
	Decimals     uint8  `json:"decimals"`
	FeedDecimals uint8  `json:"feedDecimals"`
}

// Market assembles the lending engine with the storage-backed tokens and
// manual price feeds the daemon operates.
type Market struct {
	mu      sync.RWMutex
	owner   common.Address
	module  common.Address
	db      storage.Database
	engine  *lending.Engine
	state   *lending.StoreState
	debt    *token.Token
	tokens  map[common.Address]*token.Token
	feeds   map[common.Address]*pricefeed.ManualFeed
	prices  *pricefeed.Store
	catalog *Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// New builds the market described by cfg on top of db. Configured assets are
// registered first, then assets recorded in the catalog by earlier runs.
func New(db storage.Database, cfg *config.Config, logger *slog.Logger) (*Market, error) {
	if db == nil || cfg == nil {
		return nil, fmt.Errorf("market: database and config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	owner, err := config.ParseAddress("Owner", cfg.Owner)
	if err != nil {
		return nil, err
	}
	module, err := config.ParseAddress("ModuleAddress", cfg.ModuleAddress)
	if err != nil {
		return nil, err
	}
	debtAddr, err := config.ParseAddress("debt_token.Address", cfg.DebtToken.Address)
	if err != nil {
		return nil, err
	}

	m := &Market{
		owner:   owner,
		module:  module,
		db:      db,
		tokens:  make(map[common.Address]*token.Token),
		feeds:   make(map[common.Address]*pricefeed.ManualFeed),
		prices:  pricefeed.NewStore(db),
		catalog: NewCatalog(db),
		logger:  logger,
		now:     time.Now,
	}

	m.debt, err = token.New(db, debtAddr, cfg.DebtToken.Symbol, cfg.DebtToken.Decimals, module)
	if err != nil {
		return nil, fmt.Errorf("debt token: %w", err)
	}
	if m.debt.Owner() != module {
		return nil, fmt.Errorf("debt token %s is owned by %s, not the module %s", debtAddr.Hex(), m.debt.Owner().Hex(), module.Hex())
	}

	tokens := make([]lending.CollateralToken, 0, len(cfg.Assets))
	feeds := make([]lending.PriceSource, 0, len(cfg.Assets))
	for i, asset := range cfg.Assets {
		addr, err := config.ParseAddress(fmt.Sprintf("assets[%d].Address", i), asset.Address)
		if err != nil {
			return nil, err
		}
		tok, feed, err := m.build(AssetSpec{
			Address:      addr,
			Symbol:       asset.Symbol,
			Decimals:     asset.Decimals,
			FeedDecimals: asset.FeedDecimals,
		})
		if err != nil {
			return nil, err
		}
		if err := m.seed(feed, asset.InitialPrice); err != nil {
			return nil, fmt.Errorf("assets[%d]: %w", i, err)
		}
		tokens = append(tokens, tok)
		feeds = append(feeds, feed)
	}

	registry, err := lending.NewRegistry(owner, tokens, feeds)
	if err != nil {
		return nil, err
	}
	registry.SetLogger(logger)
	m.state = lending.NewStoreState(db)
	m.engine, err = lending.NewEngine(module, registry, m.state, m.debt)
	if err != nil {
		return nil, err
	}
	m.engine.SetLogger(logger)

	if err := m.replay(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Market) replay() error {
	specs, err := m.catalog.List()
	if err != nil {
		return err
	}
	registry := m.engine.Registry()
	for _, spec := range specs {
		if registry.IsRegistered(spec.Address) {
			continue
		}
		tok, feed, err := m.build(spec)
		if err != nil {
			return err
		}
		if err := registry.Register(m.owner, tok, feed); err != nil {
			return fmt.Errorf("replay %s: %w", spec.Address.Hex(), err)
		}
		m.logger.Info("collateral restored from catalog",
			slog.String("asset", spec.Address.Hex()),
			slog.String("symbol", spec.Symbol))
	}
	return nil
}

func (m *Market) build(spec AssetSpec) (*token.Token, *pricefeed.ManualFeed, error) {
	if spec.Address == m.debt.Address() {
		return nil, nil, fmt.Errorf("%w: %s is the debt token", lending.ErrInvalidTokenOrPriceFeed, spec.Address.Hex())
	}
	if spec.Decimals > config.MaxDecimals || spec.FeedDecimals > config.MaxDecimals {
		return nil, nil, fmt.Errorf("%w: decimals must be <= %d", lending.ErrInvalidTokenOrPriceFeed, config.MaxDecimals)
	}
	tok, err := token.New(m.db, spec.Address, spec.Symbol, spec.Decimals, m.owner)
	if err != nil {
		return nil, nil, fmt.Errorf("token %s: %w", spec.Address.Hex(), err)
	}
	feed := pricefeed.NewManualFeed(spec.FeedDecimals)
	if err := m.prices.Attach(spec.Address, feed); err != nil {
		return nil, nil, fmt.Errorf("feed %s: %w", spec.Address.Hex(), err)
	}

	m.mu.Lock()
	m.tokens[spec.Address] = tok
	m.feeds[spec.Address] = feed
	m.mu.Unlock()
	return tok, feed, nil
}

// seed sets the initial price unless a reading was restored from storage.
func (m *Market) seed(feed *pricefeed.ManualFeed, price string) error {
	if strings.TrimSpace(price) == "" {
		return nil
	}
	if _, err := feed.LatestReading(context.Background()); !errors.Is(err, pricefeed.ErrNoReading) {
		return err
	}
	return feed.SetDecimal(price, m.now())
}

func (m *Market) forget(asset common.Address) {
	m.mu.Lock()
	delete(m.tokens, asset)
	delete(m.feeds, asset)
	m.mu.Unlock()
}

// SetClock overrides the time source for price updates and staleness checks.
func (m *Market) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	m.now = now
	m.engine.SetClock(now)
}

// Engine exposes the underlying lending engine.
func (m *Market) Engine() *lending.Engine { return m.engine }

// Owner returns the operator identity.
func (m *Market) Owner() common.Address { return m.owner }

// ModuleAddress returns the custody address of the engine.
func (m *Market) ModuleAddress() common.Address { return m.module }

// DebtToken returns the protocol-issued debt token.
func (m *Market) DebtToken() *token.Token { return m.debt }

// Token returns the collateral or debt token at asset.
func (m *Market) Token(asset common.Address) (*token.Token, error) {
	if asset == m.debt.Address() {
		return m.debt, nil
	}
	m.mu.RLock()
	tok, ok := m.tokens[asset]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", lending.ErrUnregisteredAsset, asset.Hex())
	}
	return tok, nil
}

// Assets lists the registered collateral in registration order.
func (m *Market) Assets() []AssetInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.engine.Registry().Entries()
	out := make([]AssetInfo, 0, len(entries))
	for _, entry := range entries {
		info := AssetInfo{
			Address:      entry.Asset.Hex(),
			Decimals:     entry.Token.Decimals(),
			FeedDecimals: entry.Feed.Decimals(),
		}
		if tok, ok := m.tokens[entry.Asset]; ok {
			info.Symbol = tok.Symbol()
		}
		out = append(out, info)
	}
	return out
}

// Accounts lists every account with a stored position, in key order.
func (m *Market) Accounts() ([]common.Address, error) {
	return m.state.Accounts()
}

// AddAsset creates the token and feed for spec and registers them as
// collateral. The asset is recorded in the catalog so it survives restarts.
func (m *Market) AddAsset(ctx context.Context, caller common.Address, spec AssetSpec, initialPrice string) error {
	if caller != m.owner {
		return lending.ErrNotOwner
	}
	if spec.Address == (common.Address{}) {
		return lending.ErrZeroAddress
	}
	if m.engine.Registry().IsRegistered(spec.Address) {
		return fmt.Errorf("%w: %s", lending.ErrTokenAlreadyInList, spec.Address.Hex())
	}
	tok, feed, err := m.build(spec)
	if err != nil {
		return err
	}
	if err := m.seed(feed, initialPrice); err != nil {
		m.forget(spec.Address)
		return err
	}
	// The catalog entry goes first so a registered asset is always replayed
	// on the next boot.
	if err := m.catalog.Append(spec); err != nil {
		m.forget(spec.Address)
		return fmt.Errorf("record %s in catalog: %w", spec.Address.Hex(), err)
	}
	if err := m.engine.RegisterCollateral(ctx, caller, tok, feed); err != nil {
		if rmErr := m.catalog.Remove(spec.Address); rmErr != nil {
			m.logger.Error("catalog entry left for unregistered asset",
				slog.String("asset", spec.Address.Hex()),
				slog.Any("error", rmErr))
		}
		m.forget(spec.Address)
		return err
	}
	return nil
}

// SetPrice pushes a new price for asset. ts defaults to the current time.
func (m *Market) SetPrice(caller, asset common.Address, price string, ts time.Time) error {
	if caller != m.owner {
		return lending.ErrNotOwner
	}
	m.mu.RLock()
	feed, ok := m.feeds[asset]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", lending.ErrUnregisteredAsset, asset.Hex())
	}
	if ts.IsZero() {
		ts = m.now()
	}
	if err := feed.SetDecimal(price, ts); err != nil {
		return fmt.Errorf("%w: %w", lending.ErrInvalidPrice, err)
	}
	return nil
}

// Mint credits amount of asset to to. Collateral tokens are owned by the
// operator; the debt token only mints through the engine.
func (m *Market) Mint(ctx context.Context, caller, asset, to common.Address, amount *uint256.Int) error {
	tok, err := m.Token(asset)
	if err != nil {
		return err
	}
	return tok.Mint(ctx, caller, to, amount)
}

// Approve lets the engine pull amount of asset from holder.
func (m *Market) Approve(ctx context.Context, holder, asset common.Address, amount *uint256.Int) error {
	tok, err := m.Token(asset)
	if err != nil {
		return err
	}
	return tok.Approve(ctx, holder, m.module, amount)
}

// Balance returns account's wallet balance of asset.
func (m *Market) Balance(asset, account common.Address) (*uint256.Int, error) {
	tok, err := m.Token(asset)
	if err != nil {
		return nil, err
	}
	return tok.BalanceOf(account)
}
