// Package sync provides synchronization primitive implementations for
// kernel-internal critical sections.
package sync

import "sync/atomic"

// spinAttemptsBeforeYield bounds the busy-wait loop before yieldFn is called.
const spinAttemptsBeforeYield = 64

var (
	// yieldFn is invoked while spinning on a contended lock. It is nil
	// until the scheduler installs a yield hook via SetYieldFn.
	yieldFn func()
)

// SetYieldFn installs the function invoked by Acquire while it waits for a
// contended lock.
func SetYieldFn(fn func()) { yieldFn = fn }

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for attempt := 1; !atomic.CompareAndSwapUint32(&l.state, 0, 1); attempt++ {
		if attempt%spinAttemptsBeforeYield == 0 && yieldFn != nil {
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
