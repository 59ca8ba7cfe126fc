// Package completion provides the one-shot completion handler used to signal
// that an asynchronous cache operation has finished.
//
// A Completion fires exactly once. Ownership moves with the pointer: whoever
// holds a Completion that has been handed to a collaborator must not fire it,
// and the collaborator becomes responsible for firing it. The party that
// created a Completion and never handed it off may Discard it instead.
package completion

import (
	"fmt"
	"sync/atomic"
)

// Func receives the result of the operation a Completion tracks. n is
// operation specific: bytes read for reads, zero for flushes and commits.
type Func func(n int, err error)

// Completion is a single-use callback with an explicit consumed marker.
type Completion struct {
	name     string
	fn       Func
	consumed atomic.Bool
}

// New returns a Completion that runs fn when fired. name is used in panic
// messages and logs.
func New(name string, fn Func) *Completion {
	return &Completion{name: name, fn: fn}
}

// Nop returns a Completion that does nothing when fired.
func Nop(name string) *Completion {
	return New(name, func(int, error) {})
}

// Name returns the label given at construction.
func (c *Completion) Name() string {
	return c.name
}

// Finish fires the completion. Firing twice is a programming error and
// panics.
func (c *Completion) Finish(n int, err error) {
	if !c.consumed.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("completion %q fired twice", c.name))
	}
	if c.fn != nil {
		c.fn(n, err)
	}
	c.fn = nil
}

// Discard consumes the completion without running it. Used when the
// operation it was created for finished synchronously.
func (c *Completion) Discard() {
	if !c.consumed.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("completion %q discarded after being consumed", c.name))
	}
	c.fn = nil
}

// Consumed reports whether the completion has been fired or discarded.
func (c *Completion) Consumed() bool {
	return c.consumed.Load()
}

// FinishAll fires every completion in order with the same result.
func FinishAll(list []*Completion, n int, err error) {
	for _, c := range list {
		c.Finish(n, err)
	}
}
