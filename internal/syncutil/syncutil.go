// Package syncutil provides the small set of condition-variable based
// coordination primitives the orchestrator's activities share: a pending-work semaphore, a
// server-is-running flag, and a checkpoint barrier. All three are plain
// mutex+condvar pairs, matching the Rust original's use of
// std::sync::(Mutex, Condvar) rather than channels.
package syncutil

import "sync"

// Semaphore is an integer counter guarded by a mutex and condition
// variable. Waiters block while the count is zero; producers increment
// and wake exactly one waiter. This backs the "n_requests" pending-work
// semaphore: the Placement Engine and configuration loader
// increment on accept, the Placement Engine decrements after the src
// hand-off completes, and the Sporadic Server decrements once per
// activation.
type Semaphore struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int
}

// NewSemaphore creates a semaphore with the given initial count.
func NewSemaphore(initial int) *Semaphore {
	s := &Semaphore{count: initial}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Increment raises the count by one and wakes a single waiter.
func (s *Semaphore) Increment() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	s.cond.Signal()
}

// Wait blocks until the count is non-zero, then decrements it by one.
func (s *Semaphore) Wait() {
	s.mu.Lock()
	for s.count < 1 {
		s.cond.Wait()
	}
	s.count--
	s.mu.Unlock()
}

// NotifyAll wakes every waiter without changing the count, used by
// ReleaseSporadic. A woken Wait re-checks the count and blocks again
// while it is zero.
func (s *Semaphore) NotifyAll() {
	s.cond.Broadcast()
}

// Count returns the current count, for diagnostics and tests.
func (s *Semaphore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Flag is a boolean guarded by a mutex and condition variable, used for
// the sporadic-server-is-running coordination flag between the
// controller and server activities.
type Flag struct {
	mu    sync.Mutex
	cond  *sync.Cond
	value bool
}

// NewFlag creates a flag with the given initial value.
func NewFlag(initial bool) *Flag {
	f := &Flag{value: initial}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Set updates the flag's value and wakes every waiter.
func (f *Flag) Set(value bool) {
	f.mu.Lock()
	f.value = value
	f.mu.Unlock()
	f.cond.Broadcast()
}

// WaitUntil blocks until the flag's value equals want.
func (f *Flag) WaitUntil(want bool) {
	f.mu.Lock()
	for f.value != want {
		f.cond.Wait()
	}
	f.mu.Unlock()
}

// Value returns the current value.
func (f *Flag) Value() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Barrier is a one-shot-per-signal boolean condition used for the
// cooperative checkpoint barrier: the Sporadic Server
// sets it and wakes all waiters when a running computation's module
// reaches a checkpoint trap; waiters block on it until then. The
// Placement Engine's hand-off does not wait on it.
type Barrier struct {
	mu    sync.Mutex
	cond  *sync.Cond
	ready bool
}

// NewBarrier creates a barrier, initially not ready.
func NewBarrier() *Barrier {
	b := &Barrier{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Signal marks the barrier ready and wakes every waiter.
func (b *Barrier) Signal() {
	b.mu.Lock()
	b.ready = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Reset clears the ready flag, for starting the next checkpoint cycle.
func (b *Barrier) Reset() {
	b.mu.Lock()
	b.ready = false
	b.mu.Unlock()
}

// Wait blocks until the barrier is signalled.
func (b *Barrier) Wait() {
	b.mu.Lock()
	for !b.ready {
		b.cond.Wait()
	}
	b.mu.Unlock()
}

// IsReady reports the current ready state without blocking.
func (b *Barrier) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}
