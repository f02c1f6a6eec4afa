package common

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrReentrantCall is returned when a guarded entry point is invoked again
// while a call holding the guard is still in progress.
var ErrReentrantCall = errors.New("reentrant call")

type guardKey struct{ g *ReentrancyGuard }

type activeGuardKey struct{}

// ReentrancyGuard is a single mutual-exclusion flag shared by every mutating
// entry point of a module. Calls from independent goroutines wait their turn
// for as long as their context allows. A call carrying a context derived from
// a guarded call, or arriving while the holder is inside an External call, is
// rejected with ErrReentrantCall instead of waiting.
type ReentrancyGuard struct {
	once  sync.Once
	slot  chan struct{}
	calls atomic.Int32
}

func (g *ReentrancyGuard) init() {
	g.once.Do(func() { g.slot = make(chan struct{}, 1) })
}

// Enter acquires the guard. The returned context must be handed to every
// collaborator invoked while the guard is held, and release must be called on
// all exit paths.
func (g *ReentrancyGuard) Enter(ctx context.Context) (context.Context, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	noop := func() {}
	if Held(ctx, g) {
		return ctx, noop, ErrReentrantCall
	}
	g.init()
	select {
	case g.slot <- struct{}{}:
	default:
		// A collaborator call is in flight; waiting here would deadlock if
		// the collaborator is the one asking.
		if g.calls.Load() > 0 {
			return ctx, noop, ErrReentrantCall
		}
		select {
		case g.slot <- struct{}{}:
		case <-ctx.Done():
			return ctx, noop, ctx.Err()
		}
	}
	var once sync.Once
	release := func() { once.Do(func() { <-g.slot }) }
	guarded := context.WithValue(ctx, guardKey{g: g}, true)
	return context.WithValue(guarded, activeGuardKey{}, g), release, nil
}

// Held reports whether ctx was produced by g.Enter.
func Held(ctx context.Context, g *ReentrancyGuard) bool {
	if ctx == nil || g == nil {
		return false
	}
	held, _ := ctx.Value(guardKey{g: g}).(bool)
	return held
}

// External runs fn as a call out of the guarded section that ctx belongs to.
// While fn runs, any attempt to enter that guard fails fast. Outside a guarded
// section fn is simply invoked.
func External(ctx context.Context, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	g, _ := ctx.Value(activeGuardKey{}).(*ReentrancyGuard)
	if g == nil || !Held(ctx, g) {
		return fn(ctx)
	}
	g.calls.Add(1)
	defer g.calls.Add(-1)
	return fn(ctx)
}
