// Package stopper provides cooperative lifecycle management for the
// background goroutines the engine owns (the collector consumer, the
// deadlock-detector actor, and the long-tx/TPS sweep ticker). It is
// adapted from cdc-sink's stopper.Context, which every long-running
// goroutine in the teacher is built around (see stdpool.OpenMySQLAsTarget
// and source/cdc/resolver.go's retireLoop).
package stopper

import (
	"context"
	"sync"
	"time"
)

// A Context tracks a group of goroutines started with Go and a single
// shutdown signal shared by all of them.
type Context struct {
	context.Context
	cancel context.CancelFunc

	stopping chan struct{}
	stopOnce sync.Once

	wg       sync.WaitGroup
	mu       sync.Mutex
	firstErr error
}

// WithContext returns a new stopper.Context derived from parent.
func WithContext(parent context.Context) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		Context:  ctx,
		cancel:   cancel,
		stopping: make(chan struct{}),
	}
}

// Go starts fn in a new goroutine tracked by this Context. The first
// non-nil error returned by any tracked goroutine is retained and
// returned by Stop.
func (s *Context) Go(fn func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(); err != nil {
			s.mu.Lock()
			if s.firstErr == nil {
				s.firstErr = err
			}
			s.mu.Unlock()
		}
	}()
}

// Stopping returns a channel that is closed once Stop has been called,
// independently of whether the underlying context has been canceled.
// Goroutines should treat this as "begin winding down" and Done() (via
// the embedded Context) as "time's up."
func (s *Context) Stopping() <-chan struct{} {
	return s.stopping
}

// Stop signals all tracked goroutines to wind down and waits for them
// to finish. If they have not finished within timeout, it cancels the
// underlying context and keeps waiting until they return. It returns
// the first error reported by a tracked goroutine, if any.
func (s *Context) Stop(timeout time.Duration) error {
	s.stopOnce.Do(func() { close(s.stopping) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.cancel()
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}
