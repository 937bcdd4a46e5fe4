package sync

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func TestSpinlockMutualExclusion(t *testing.T) {
	defer SetYieldFn(nil)

	var yields uint32
	SetYieldFn(func() {
		atomic.AddUint32(&yields, 1)
		runtime.Gosched()
	})

	var (
		sl         Spinlock
		wg         sync.WaitGroup
		counter    int
		numWorkers = 8
		numIters   = 1000
	)

	sl.Acquire()
	if sl.TryToAcquire() {
		t.Fatal("expected TryToAcquire to fail while the lock is held")
	}

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < numIters; j++ {
				sl.Acquire()
				counter++
				sl.Release()
			}
		}()
	}

	// keep the lock held until some worker has been spinning long enough to
	// yield.
	for atomic.LoadUint32(&yields) == 0 {
		runtime.Gosched()
	}
	sl.Release()
	wg.Wait()

	if exp := numWorkers * numIters; counter != exp {
		t.Fatalf("expected counter to be %d; got %d", exp, counter)
	}

	if !sl.TryToAcquire() {
		t.Fatal("expected TryToAcquire to succeed once all workers are done")
	}
	sl.Release()
}

func TestSpinlockReleaseWhenFree(t *testing.T) {
	var sl Spinlock

	sl.Release()
	if !sl.TryToAcquire() {
		t.Fatal("expected releasing a free lock to leave it free")
	}
}
