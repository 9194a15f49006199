package systemd

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(_ bool, state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func TestNotifierStates(t *testing.T) {
	rec := &recorder{}
	n := Notifier{notify: rec.notify}

	_, err := n.Ready()
	require.NoError(t, err)
	_, _ = n.Status("serving on 127.0.0.1:8080")
	_, _ = n.Reloading()
	_, _ = n.Stopping()

	assert.Equal(t, []string{"READY=1", "STATUS=serving on 127.0.0.1:8080", "RELOADING=1", "STOPPING=1"}, rec.snapshot())
}

func TestRunWatchdogDisabledReturnsImmediately(t *testing.T) {
	n := Notifier{
		notify:   (&recorder{}).notify,
		watchdog: func(bool) (time.Duration, error) { return 0, nil },
	}
	done := make(chan error, 1)
	go func() { done <- n.RunWatchdog(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunWatchdog blocked without a watchdog")
	}
}

func TestRunWatchdogPings(t *testing.T) {
	rec := &recorder{}
	n := Notifier{
		notify:   rec.notify,
		watchdog: func(bool) (time.Duration, error) { return 20 * time.Millisecond, nil },
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.RunWatchdog(ctx) }()

	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, "WATCHDOG=1", rec.snapshot()[0])
}

func TestZeroNotifierWithoutSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	sent, err := Notifier{}.Ready()
	assert.NoError(t, err)
	assert.False(t, sent)
}
