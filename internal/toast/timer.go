package toast

import "time"

// Scheduler runs fn once after d. The returned cancel stops a pending run;
// calling it after fn ran, or twice, is harmless. fn must not be invoked
// synchronously from inside AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

// RealScheduler uses time.AfterFunc.
type RealScheduler struct{}

func (RealScheduler) AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
