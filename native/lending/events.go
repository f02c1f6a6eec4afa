package lending

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	EventTypeCollateralDeposited  = "lending.collateral.deposited"
	EventTypeCollateralRedeemed   = "lending.collateral.redeemed"
	EventTypeDebtMinted           = "lending.debt.minted"
	EventTypeDebtRepaid           = "lending.debt.repaid"
	EventTypeLiquidated           = "lending.liquidated"
	EventTypeCollateralRegistered = "lending.collateral.registered"
)

// Event is a structured record of a committed state change.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Emitter receives events after an operation has fully completed.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(ev Event) { f(ev) }

func amountString(v *uint256.Int) string {
	return amountOrZero(v).Dec()
}

func collateralDepositedEvent(user, asset common.Address, amount *uint256.Int) Event {
	return Event{
		Type: EventTypeCollateralDeposited,
		Attributes: map[string]string{
			"account": user.Hex(),
			"asset":   asset.Hex(),
			"amount":  amountString(amount),
		},
	}
}

func collateralRedeemedEvent(from, to, asset common.Address, amount *uint256.Int) Event {
	return Event{
		Type: EventTypeCollateralRedeemed,
		Attributes: map[string]string{
			"account":   from.Hex(),
			"recipient": to.Hex(),
			"asset":     asset.Hex(),
			"amount":    amountString(amount),
		},
	}
}

func debtMintedEvent(user common.Address, amount *uint256.Int) Event {
	return Event{
		Type: EventTypeDebtMinted,
		Attributes: map[string]string{
			"account": user.Hex(),
			"amount":  amountString(amount),
		},
	}
}

func debtRepaidEvent(onBehalfOf, payer common.Address, amount *uint256.Int) Event {
	return Event{
		Type: EventTypeDebtRepaid,
		Attributes: map[string]string{
			"account": onBehalfOf.Hex(),
			"payer":   payer.Hex(),
			"amount":  amountString(amount),
		},
	}
}

func liquidatedEvent(res *LiquidationResult) Event {
	return Event{
		Type: EventTypeLiquidated,
		Attributes: map[string]string{
			"account":          res.Borrower.Hex(),
			"liquidator":       res.Liquidator.Hex(),
			"asset":            res.Asset.Hex(),
			"debtRepaid":       amountString(res.DebtRepaid),
			"collateralSeized": amountString(res.CollateralSeized),
		},
	}
}

func collateralRegisteredEvent(asset common.Address, decimals uint8) Event {
	return Event{
		Type: EventTypeCollateralRegistered,
		Attributes: map[string]string{
			"asset":    asset.Hex(),
			"decimals": strconv.Itoa(int(decimals)),
		},
	}
}
