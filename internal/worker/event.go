package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ExtendableEvent holds an entry point open until all work registered with
// WaitUntil has finished. Callers must Wait before signaling completion.
type ExtendableEvent struct {
	g   *errgroup.Group
	ctx context.Context
}

func newEvent(ctx context.Context) *ExtendableEvent {
	g, gctx := errgroup.WithContext(ctx)
	return &ExtendableEvent{g: g, ctx: gctx}
}

// failedEvent is an event whose only outcome is err.
func failedEvent(ctx context.Context, err error) *ExtendableEvent {
	e := newEvent(ctx)
	e.WaitUntil(func(context.Context) error { return err })
	return e
}

// WaitUntil extends the event's lifetime until fn returns. The first error
// cancels the context passed to the other functions.
func (e *ExtendableEvent) WaitUntil(fn func(ctx context.Context) error) {
	e.g.Go(func() error { return fn(e.ctx) })
}

// Wait blocks until every extension finished and returns the first error.
func (e *ExtendableEvent) Wait() error {
	return e.g.Wait()
}
