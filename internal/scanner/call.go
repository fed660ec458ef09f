package scanner

import (
	"context"
	"sync"
)

// Call is the pending outcome of a request sent to the engine.
//
// There is no cancellation in the worker protocol: once a request is posted
// the engine processes it. Wait returning early on context cancellation only
// stops waiting; the reply is still consumed when it arrives. After Teardown
// a pending Call may never settle.
type Call[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newCall[T any]() *Call[T] {
	return &Call[T]{done: make(chan struct{})}
}

func failedCall[T any](err error) *Call[T] {
	c := newCall[T]()
	var zero T
	c.settle(zero, err)
	return c
}

func (c *Call[T]) settle(v T, err error) {
	c.once.Do(func() {
		c.value, c.err = v, err
		close(c.done)
	})
}

// Done is closed once the call has settled.
func (c *Call[T]) Done() <-chan struct{} {
	return c.done
}

// Result blocks until the call settles.
func (c *Call[T]) Result() (T, error) {
	<-c.done
	return c.value, c.err
}

// Wait blocks until the call settles or ctx is done.
func (c *Call[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
