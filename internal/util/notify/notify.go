// Package notify provides a generic, broadcast-on-write variable. It
// is adapted from cdc-sink's notify.Var[T], used throughout the
// teacher's resolver loop to let a background goroutine sleep until a
// value actually changes instead of polling. The registry uses the same
// trick to wake the long-tx sweep when its set of live transactions
// changes.
package notify

import "sync"

// A Var holds a value of type T and a channel that is closed (and
// replaced) every time the value is Set. Callers obtain the current
// value and a channel to wait on via Get; once that channel is closed,
// the caller should call Get again to pick up the new value and a
// fresh wait channel.
type Var[T any] struct {
	mu      sync.Mutex
	value   T
	updated chan struct{}
}

// Get returns the current value and a channel that will be closed the
// next time Set is called.
func (v *Var[T]) Get() (T, <-chan struct{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.updated == nil {
		v.updated = make(chan struct{})
	}
	return v.value, v.updated
}

// Set stores value and wakes any goroutine blocked on a channel
// previously returned by Get.
func (v *Var[T]) Set(value T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = value
	if v.updated != nil {
		close(v.updated)
	}
	v.updated = make(chan struct{})
}
