package lending

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/common"
)

const moduleName = "lending"

// Engine orchestrates the position state transitions. Every mutating entry
// point holds one shared reentrancy guard for its full duration and follows
// validate, simulate, commit, then external effects.
type Engine struct {
	guard         nativecommon.ReentrancyGuard
	moduleAddress common.Address
	registry      *Registry
	oracle        *Oracle
	risk          *RiskEngine
	ledger        *Ledger
	debtToken     DebtToken
	emitter       Emitter
	logger        *slog.Logger
}

// NewEngine constructs an engine custodying collateral at moduleAddr. The
// debt token must be owned by moduleAddr for mint and burn to succeed.
func NewEngine(moduleAddr common.Address, registry *Registry, state State, debtToken DebtToken) (*Engine, error) {
	if moduleAddr == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if registry == nil || state == nil {
		return nil, ErrNilState
	}
	if debtToken == nil {
		return nil, ErrNilDebtToken
	}
	oracle := NewOracle(registry)
	return &Engine{
		moduleAddress: moduleAddr,
		registry:      registry,
		oracle:        oracle,
		risk:          NewRiskEngine(registry, oracle),
		ledger:        NewLedger(state),
		debtToken:     debtToken,
		emitter:       NoopEmitter{},
		logger:        slog.Default().With(slog.String("module", moduleName)),
	}, nil
}

// SetEmitter configures the sink for committed events.
func (e *Engine) SetEmitter(emitter Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	e.emitter = emitter
}

// SetLogger replaces the engine logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger.With(slog.String("module", moduleName))
	e.registry.SetLogger(logger)
}

// SetClock overrides the clock used for price staleness checks.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil {
		return
	}
	e.oracle.SetClock(now)
}

// ModuleAddress returns the custody identity of the engine.
func (e *Engine) ModuleAddress() common.Address { return e.moduleAddress }

// Registry exposes the collateral registry.
func (e *Engine) Registry() *Registry { return e.registry }

// DebtToken returns the protocol-issued token.
func (e *Engine) DebtToken() DebtToken { return e.debtToken }

// Deposit pulls amount of asset from user into custody and credits it.
func (e *Engine) Deposit(ctx context.Context, user, asset common.Address, amount *uint256.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if user == (common.Address{}) {
		return ErrZeroAddress
	}
	entry, ok := e.registry.Entry(asset)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnregisteredAsset, asset.Hex())
	}

	ctx, release, err := e.guard.Enter(ctx)
	defer release()
	if err != nil {
		return err
	}

	pos, err := e.ledger.Load(user)
	if err != nil {
		return err
	}
	before := pos.Clone()
	if err := e.ledger.AddCollateral(pos, asset, amount); err != nil {
		return err
	}
	op, err := e.commit(before, pos)
	if err != nil {
		return err
	}
	if err := op.effect(ctx, func(ctx context.Context) error {
		return entry.Token.TransferFrom(ctx, e.moduleAddress, user, e.moduleAddress, amount)
	}, nil); err != nil {
		return err
	}

	e.logger.Debug("collateral deposited",
		slog.String("account", user.Hex()),
		slog.String("asset", asset.Hex()),
		slog.String("amount", amount.Dec()))
	e.emitter.Emit(collateralDepositedEvent(user, asset, amount))
	return nil
}

// Borrow mints amount of debt token to user provided the resulting health
// factor stays at or above MinHealthFactor.
func (e *Engine) Borrow(ctx context.Context, user common.Address, amount *uint256.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if user == (common.Address{}) {
		return ErrZeroAddress
	}

	ctx, release, err := e.guard.Enter(ctx)
	defer release()
	if err != nil {
		return err
	}

	pos, err := e.ledger.Load(user)
	if err != nil {
		return err
	}
	nextDebt, err := checkedAdd(pos.DebtAmount(), amount)
	if err != nil {
		return err
	}
	hf, err := e.risk.HealthFactor(ctx, pos, nextDebt, nil)
	if err != nil {
		return err
	}
	if hf.Lt(MinHealthFactor) {
		e.logger.Info("borrow rejected",
			slog.String("account", user.Hex()),
			slog.String("amount", amount.Dec()),
			slog.String("healthFactor", hf.Dec()))
		return fmt.Errorf("%w: %s", ErrHealthFactorBroken, hf.Dec())
	}

	before := pos.Clone()
	if err := e.ledger.AddDebt(pos, amount); err != nil {
		return err
	}
	op, err := e.commit(before, pos)
	if err != nil {
		return err
	}
	if err := op.effect(ctx, func(ctx context.Context) error {
		return e.debtToken.Mint(ctx, e.moduleAddress, user, amount)
	}, nil); err != nil {
		return err
	}

	e.logger.Debug("debt minted",
		slog.String("account", user.Hex()),
		slog.String("amount", amount.Dec()),
		slog.String("healthFactor", hf.Dec()))
	e.emitter.Emit(debtMintedEvent(user, amount))
	return nil
}

// Repay burns amount of debt token held by user and reduces the stored debt.
func (e *Engine) Repay(ctx context.Context, user common.Address, amount *uint256.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if user == (common.Address{}) {
		return ErrZeroAddress
	}

	ctx, release, err := e.guard.Enter(ctx)
	defer release()
	if err != nil {
		return err
	}

	pos, err := e.ledger.Load(user)
	if err != nil {
		return err
	}
	debt := pos.DebtAmount()
	if debt.IsZero() {
		return ErrNothingToPay
	}
	if amount.Gt(debt) {
		return fmt.Errorf("%w: repay %s, debt %s", ErrRepayExceedsDebt, amount.Dec(), debt.Dec())
	}

	before := pos.Clone()
	if err := e.ledger.SubDebt(pos, amount); err != nil {
		return err
	}
	op, err := e.commit(before, pos)
	if err != nil {
		return err
	}
	if err := e.pullAndBurn(ctx, op, user, amount); err != nil {
		return err
	}

	e.logger.Debug("debt repaid",
		slog.String("account", user.Hex()),
		slog.String("amount", amount.Dec()))
	e.emitter.Emit(debtRepaidEvent(user, user, amount))
	return nil
}

// RedeemCollateral returns amount of asset to user provided the resulting
// health factor stays at or above MinHealthFactor.
func (e *Engine) RedeemCollateral(ctx context.Context, user, asset common.Address, amount *uint256.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if user == (common.Address{}) {
		return ErrZeroAddress
	}
	entry, ok := e.registry.Entry(asset)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnregisteredAsset, asset.Hex())
	}

	ctx, release, err := e.guard.Enter(ctx)
	defer release()
	if err != nil {
		return err
	}

	pos, err := e.ledger.Load(user)
	if err != nil {
		return err
	}
	remaining, err := checkedSub(pos.CollateralOf(asset), amount, ErrInsufficientCollateral)
	if err != nil {
		return err
	}
	hf, err := e.risk.HealthFactor(ctx, pos, nil, &CollateralOverride{Asset: asset, Amount: remaining})
	if err != nil {
		return err
	}
	if hf.Lt(MinHealthFactor) {
		e.logger.Info("redeem rejected",
			slog.String("account", user.Hex()),
			slog.String("asset", asset.Hex()),
			slog.String("amount", amount.Dec()),
			slog.String("healthFactor", hf.Dec()))
		return fmt.Errorf("%w: %s", ErrHealthFactorBroken, hf.Dec())
	}

	before := pos.Clone()
	if err := e.ledger.SubCollateral(pos, asset, amount); err != nil {
		return err
	}
	op, err := e.commit(before, pos)
	if err != nil {
		return err
	}
	if err := op.effect(ctx, func(ctx context.Context) error {
		return entry.Token.Transfer(ctx, e.moduleAddress, user, amount)
	}, nil); err != nil {
		return err
	}

	e.logger.Debug("collateral redeemed",
		slog.String("account", user.Hex()),
		slog.String("asset", asset.Hex()),
		slog.String("amount", amount.Dec()))
	e.emitter.Emit(collateralRedeemedEvent(user, user, asset, amount))
	return nil
}

// Liquidate repays up to debtToCover of borrower's debt with the liquidator's
// debt tokens and pays the liquidator the equivalent collateral plus
// LiquidationBonus. Positions with a health factor at or below
// MinHealthFactor are eligible. Liquidation may leave the position unhealthy.
func (e *Engine) Liquidate(ctx context.Context, liquidator, borrower common.Address, debtToCover *uint256.Int, asset common.Address) (*LiquidationResult, error) {
	if err := validateAmount(debtToCover); err != nil {
		return nil, err
	}
	if liquidator == (common.Address{}) || borrower == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	entry, ok := e.registry.Entry(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredAsset, asset.Hex())
	}

	ctx, release, err := e.guard.Enter(ctx)
	defer release()
	if err != nil {
		return nil, err
	}

	pos, err := e.ledger.Load(borrower)
	if err != nil {
		return nil, err
	}
	hfBefore, err := e.risk.HealthFactor(ctx, pos, nil, nil)
	if err != nil {
		return nil, err
	}
	if hfBefore.Gt(MinHealthFactor) {
		return nil, ErrHealthFactorOk
	}
	if liquidator == borrower {
		return nil, ErrSelfLiquidation
	}

	cover := minUint(debtToCover, pos.DebtAmount())
	price, err := e.oracle.USDPrice(ctx, asset)
	if err != nil {
		return nil, err
	}
	seize, err := mulDiv(cover, LiquidationBonus, price)
	if err != nil {
		return nil, err
	}
	seize = minUint(seize, pos.CollateralOf(asset))

	before := pos.Clone()
	if err := e.ledger.SubDebt(pos, cover); err != nil {
		return nil, err
	}
	if err := e.ledger.SubCollateral(pos, asset, seize); err != nil {
		return nil, err
	}
	hfAfter, err := e.risk.HealthFactor(ctx, pos, nil, nil)
	if err != nil {
		return nil, err
	}
	op, err := e.commit(before, pos)
	if err != nil {
		return nil, err
	}
	if err := e.pullAndBurn(ctx, op, liquidator, cover); err != nil {
		return nil, err
	}
	if !seize.IsZero() {
		if err := op.effect(ctx, func(ctx context.Context) error {
			return entry.Token.Transfer(ctx, e.moduleAddress, liquidator, seize)
		}, nil); err != nil {
			return nil, err
		}
	}

	result := &LiquidationResult{
		Borrower:         borrower,
		Liquidator:       liquidator,
		Asset:            asset,
		DebtRepaid:       cover,
		CollateralSeized: seize,
		HealthBefore:     hfBefore,
		HealthAfter:      hfAfter,
	}
	e.logger.Info("position liquidated",
		slog.String("account", borrower.Hex()),
		slog.String("liquidator", liquidator.Hex()),
		slog.String("asset", asset.Hex()),
		slog.String("debtRepaid", cover.Dec()),
		slog.String("collateralSeized", seize.Dec()),
		slog.String("healthBefore", hfBefore.Dec()),
		slog.String("healthAfter", healthString(hfAfter)))
	e.emitter.Emit(liquidatedEvent(result))
	return result, nil
}

// RegisterCollateral appends a new collateral asset. Only the registry owner
// may call it.
func (e *Engine) RegisterCollateral(ctx context.Context, caller common.Address, token CollateralToken, feed PriceSource) error {
	if err := e.registry.Register(caller, token, feed); err != nil {
		return err
	}
	asset := token.Address()
	e.logger.Info("collateral registered",
		slog.String("asset", asset.Hex()),
		slog.Int("decimals", int(token.Decimals())))
	e.emitter.Emit(collateralRegisteredEvent(asset, token.Decimals()))
	return nil
}

// pullAndBurn moves amount of debt token from payer into custody and burns it.
func (e *Engine) pullAndBurn(ctx context.Context, op *operation, payer common.Address, amount *uint256.Int) error {
	err := op.effect(ctx, func(ctx context.Context) error {
		return e.debtToken.TransferFrom(ctx, e.moduleAddress, payer, e.moduleAddress, amount)
	}, func(ctx context.Context) error {
		return e.debtToken.Transfer(ctx, e.moduleAddress, payer, amount)
	})
	if err != nil {
		return err
	}
	return op.effect(ctx, func(ctx context.Context) error {
		return e.debtToken.Burn(ctx, e.moduleAddress, e.moduleAddress, amount)
	}, func(ctx context.Context) error {
		return e.debtToken.Mint(ctx, e.moduleAddress, e.moduleAddress, amount)
	})
}

func validateAmount(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	return nil
}

func healthString(hf *uint256.Int) string {
	if IsInfiniteHealth(hf) {
		return "inf"
	}
	return hf.Dec()
}
