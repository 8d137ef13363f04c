// Package utils holds test support shared by the dispatcher packages.
package utils

import (
	"runtime"
	"time"
)

// Reporter is the part of testing.TB the leak detector reports through
type Reporter interface {
	Helper()
	Errorf(format string, args ...interface{})
	Logf(format string, args ...interface{})
}

// GoroutineLeakDetector fails a test when goroutines started during it outlive it. Adapters,
// the notifier pool and the credential refresher all start goroutines that Close must stop.
type GoroutineLeakDetector struct {
	t             Reporter
	initialCount  int
	allowedGrowth int
	checkInterval time.Duration
	settleTimeout time.Duration
}

// NewGoroutineLeakDetector creates a detector reporting to t
func NewGoroutineLeakDetector(t Reporter) *GoroutineLeakDetector {
	return &GoroutineLeakDetector{
		t:             t,
		checkInterval: 20 * time.Millisecond,
		settleTimeout: 2 * time.Second,
	}
}

// Start records the baseline goroutine count
func (d *GoroutineLeakDetector) Start() *GoroutineLeakDetector {
	d.initialCount = runtime.NumGoroutine()
	return d
}

// Check waits up to the settle timeout for the goroutine count to fall back within the allowed
// growth, then reports a leak with every goroutine's stack.
func (d *GoroutineLeakDetector) Check() {
	d.t.Helper()

	deadline := time.Now().Add(d.settleTimeout)
	count := runtime.NumGoroutine()
	for count-d.initialCount > d.allowedGrowth && time.Now().Before(deadline) {
		time.Sleep(d.checkInterval)
		count = runtime.NumGoroutine()
	}

	leaked := count - d.initialCount
	if leaked <= d.allowedGrowth {
		return
	}
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	d.t.Errorf("goroutine leak: started with %d, ended with %d (leaked %d, allowed %d)",
		d.initialCount, count, leaked, d.allowedGrowth)
	d.t.Logf("goroutines:\n%s", buf[:n])
}

// SetAllowedGrowth sets the number of goroutines allowed to outlive the test
func (d *GoroutineLeakDetector) SetAllowedGrowth(n int) *GoroutineLeakDetector {
	d.allowedGrowth = n
	return d
}

// SetSettleTimeout bounds how long Check waits for goroutines to exit
func (d *GoroutineLeakDetector) SetSettleTimeout(timeout time.Duration) *GoroutineLeakDetector {
	d.settleTimeout = timeout
	return d
}
