package indexer

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/errors"
)

// Guard gives one caller at a time exclusive use of a value. If a holder
// panics, the guard is poisoned instead of left locked; the next holder runs
// the recovery hook on the value and then proceeds as normal.
type Guard[T any] struct {
	mu       sync.Mutex
	value    T
	poisoned bool
	cause    any

	recoverFn func(v T, cause any)
	logger    *slog.Logger
}

// NewGuard wraps v. recoverFn may be nil.
func NewGuard[T any](v T, recoverFn func(v T, cause any)) *Guard[T] {
	return &Guard[T]{
		value:     v,
		recoverFn: recoverFn,
		logger:    slog.Default().With("component", "writer-guard"),
	}
}

// Do runs fn while holding the guard. A panic in fn is returned as an
// ErrEngineWrite and poisons the guard.
func (g *Guard[T]) Do(fn func(v T) error) (err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.poisoned {
		g.recoverLocked()
	}

	defer func() {
		if r := recover(); r != nil {
			g.poisoned = true
			g.cause = r
			g.logger.Error("writer holder panicked, guard poisoned",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: writer panicked: %v", apperrors.ErrEngineWrite, r)
		}
	}()
	return fn(g.value)
}

// recoverLocked is the lock-recovery path.
func (g *Guard[T]) recoverLocked() {
	cause := g.cause
	g.logger.Warn("recovering poisoned writer guard", "cause", cause)
	if g.recoverFn != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					g.logger.Error("writer recovery hook panicked", "panic", r)
				}
			}()
			g.recoverFn(g.value, cause)
		}()
	}
	g.poisoned = false
	g.cause = nil
}

// Poisoned reports whether the last holder panicked and recovery has not yet
// run.
func (g *Guard[T]) Poisoned() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.poisoned
}
