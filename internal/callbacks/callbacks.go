// Package callbacks lets an entity type declare hooks that run around its
// mutating operations.
//
// Each entity type owns one Registry. Before-hooks are not a veto gate: Run
// always executes every before-hook, then the body, then every after-hook.
// The only way to stop the chain is for a hook to return an error, which
// aborts the remaining hooks and the body and is returned to the caller.
package callbacks

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

type Operation string

const (
	OpSave    Operation = "save"
	OpDestroy Operation = "destroy"
)

// Hook is bound to the record the operation runs on.
type Hook[T any] func(ctx context.Context, record T) error

type Registry[T any] struct {
	mu     sync.RWMutex
	before map[Operation][]Hook[T]
	after  map[Operation][]Hook[T]
}

func New[T any]() *Registry[T] {
	return &Registry[T]{
		before: map[Operation][]Hook[T]{},
		after:  map[Operation][]Hook[T]{},
	}
}

// Before appends a hook that runs ahead of op's body.
func (r *Registry[T]) Before(op Operation, hook Hook[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.before[op] = append(r.before[op], hook)
}

// After appends a hook that runs once op's body has returned.
func (r *Registry[T]) After(op Operation, hook Hook[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.after[op] = append(r.after[op], hook)
}

// Count returns how many before and after hooks are registered for op.
func (r *Registry[T]) Count(op Operation) (before, after int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.before[op]), len(r.after[op])
}

// Run executes the before-hooks, body and after-hooks for op in
// registration order. A hook error is wrapped and stops the chain. A body
// error is returned unwrapped and the after-hooks do not run. When ctx was
// derived from WithoutCallbacks only the body runs.
func (r *Registry[T]) Run(ctx context.Context, op Operation, record T, body func(ctx context.Context) error) error {
	if Suppressed(ctx) {
		return body(ctx)
	}

	r.mu.RLock()
	before := append([]Hook[T](nil), r.before[op]...)
	after := append([]Hook[T](nil), r.after[op]...)
	r.mu.RUnlock()

	for i, hook := range before {
		if err := hook(ctx, record); err != nil {
			return errors.Wrapf(err, "before %s hook %d", op, i)
		}
	}

	if err := body(ctx); err != nil {
		return err
	}

	for i, hook := range after {
		if err := hook(ctx, record); err != nil {
			return errors.Wrapf(err, "after %s hook %d", op, i)
		}
	}

	return nil
}

type suppressKey struct{}

// WithoutCallbacks returns a context under which Run executes only the
// operation body. It is the write path for bookkeeping fields that must not
// retrigger side effects, such as the last-synced marker.
func WithoutCallbacks(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressKey{}, true)
}

func Suppressed(ctx context.Context) bool {
	v, _ := ctx.Value(suppressKey{}).(bool)
	return v
}
