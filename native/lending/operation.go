package lending

import (
	"context"
	"fmt"
	"log/slog"

	nativecommon "github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/common"
)

// operation tracks a committed position together with the compensating
// actions for every external effect applied after the commit.
type operation struct {
	engine *Engine
	before *Position
	undo   []func(context.Context) error
}

// commit writes next to the store and returns the operation journal able to
// restore before.
func (e *Engine) commit(before, next *Position) (*operation, error) {
	if err := e.ledger.Commit(next); err != nil {
		return nil, err
	}
	return &operation{engine: e, before: before}, nil
}

// effect runs fn. On failure the operation is rolled back and the error is
// reported as ErrTransferFailed. compensate, when non-nil, is recorded to
// reverse fn should a later effect fail.
func (op *operation) effect(ctx context.Context, fn, compensate func(context.Context) error) error {
	if err := nativecommon.External(ctx, fn); err != nil {
		op.rollback(ctx, err)
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if compensate != nil {
		op.undo = append(op.undo, compensate)
	}
	return nil
}

func (op *operation) rollback(ctx context.Context, cause error) {
	e := op.engine
	ctx = context.WithoutCancel(ctx)
	if err := e.ledger.Commit(op.before); err != nil {
		e.logger.Error("restore position failed",
			slog.String("account", op.before.Account.Hex()),
			slog.Any("cause", cause),
			slog.Any("error", err))
	}
	for i := len(op.undo) - 1; i >= 0; i-- {
		if err := nativecommon.External(ctx, op.undo[i]); err != nil {
			e.logger.Error("compensate effect failed",
				slog.String("account", op.before.Account.Hex()),
				slog.Any("cause", cause),
				slog.Any("error", err))
		}
	}
	op.undo = nil
	e.logger.Warn("operation rolled back",
		slog.String("account", op.before.Account.Hex()),
		slog.Any("cause", cause))
}
