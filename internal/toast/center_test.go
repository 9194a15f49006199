package toast

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nautconsole/internal/eventbus"
	logx "nautconsole/pkg/logx"
)

// fakeScheduler fires timers only when the test advances its clock.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers map[int]*fakeTimer
}

type fakeTimer struct {
	at time.Time
	fn func()
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), timers: map[int]*fakeTimer{}}
}

func (f *fakeScheduler) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeScheduler) AfterFunc(d time.Duration, fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := f.seq
	f.timers[id] = &fakeTimer{at: f.now.Add(d), fn: fn}
	return func() {
		f.mu.Lock()
		delete(f.timers, id)
		f.mu.Unlock()
	}
}

func (f *fakeScheduler) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// Advance moves the clock and runs due timers in deadline order.
func (f *fakeScheduler) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	type due struct {
		id int
		t  *fakeTimer
	}
	var fire []due
	for id, t := range f.timers {
		if !t.at.After(f.now) {
			fire = append(fire, due{id, t})
			delete(f.timers, id)
		}
	}
	f.mu.Unlock()
	sort.Slice(fire, func(i, j int) bool { return fire[i].t.at.Before(fire[j].t.at) })
	for _, d := range fire {
		d.t.fn()
	}
}

func newTestCenter(t *testing.T) (*Center, *fakeScheduler) {
	t.Helper()
	fs := newFakeScheduler()
	c := New(Config{Scheduler: fs, Now: fs.Now}, logx.Nop(), nil)
	return c, fs
}

func messages(ns []Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Message)
	}
	return out
}

func TestListPreservesInsertionOrderAndDismissMiddle(t *testing.T) {
	t.Parallel()
	c, _ := newTestCenter(t)

	c.Info("a")
	errID := c.Error("b")
	c.Success("c")

	list := c.List()
	require.Len(t, list, 3)
	assert.Equal(t, []Kind{KindInfo, KindError, KindSuccess}, []Kind{list[0].Kind, list[1].Kind, list[2].Kind})

	require.True(t, c.Dismiss(errID))
	assert.Equal(t, []string{"a", "c"}, messages(c.List()))
}

func TestIDsAreUnique(t *testing.T) {
	t.Parallel()
	c, _ := newTestCenter(t)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id := c.Notify(KindInfo, "")
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, 200, c.Len())
}

func TestDismissTwiceIsNoop(t *testing.T) {
	t.Parallel()
	c, fs := newTestCenter(t)
	id := c.Warning("w")
	c.Info("other")
	assert.Equal(t, 2, fs.Pending())

	assert.True(t, c.Dismiss(id))
	before := c.List()
	assert.False(t, c.Dismiss(id))
	assert.False(t, c.Dismiss("never-existed"))
	assert.Equal(t, before, c.List())
	assert.Equal(t, 1, fs.Pending(), "dismiss cancels the expiry handle")
}

func TestDefaultTTLExpiry(t *testing.T) {
	t.Parallel()
	c, fs := newTestCenter(t)
	id := c.Info("bye")

	n := c.List()[0]
	assert.Equal(t, DefaultTTL, n.TTL)
	require.NotNil(t, n.ExpiresAt)
	assert.Equal(t, n.CreatedAt.Add(DefaultTTL), *n.ExpiresAt)

	fs.Advance(DefaultTTL - time.Millisecond)
	assert.Len(t, c.List(), 1)
	fs.Advance(time.Millisecond)
	assert.Empty(t, c.List())
	assert.False(t, c.Dismiss(id))
}

func TestPerCallTTLAndSticky(t *testing.T) {
	t.Parallel()
	c, fs := newTestCenter(t)
	c.Info("short", WithTTL(100*time.Millisecond))
	c.Info("sticky", Sticky())
	c.Info("neg", WithTTL(-5*time.Second))
	c.Info("zero", WithTTL(0))

	list := c.List()
	assert.Nil(t, list[1].ExpiresAt)
	assert.True(t, list[1].Sticky())
	assert.True(t, list[2].Sticky())
	assert.Equal(t, DefaultTTL, list[3].TTL)

	fs.Advance(100 * time.Millisecond)
	assert.Equal(t, []string{"sticky", "neg", "zero"}, messages(c.List()))
	fs.Advance(time.Hour)
	assert.Equal(t, []string{"sticky", "neg"}, messages(c.List()))
}

func TestExpiryAfterDismissIsNoop(t *testing.T) {
	t.Parallel()
	fs := newFakeScheduler()
	// A scheduler whose cancel does nothing, so the expiry still fires after dismiss.
	leaky := schedulerFunc(func(d time.Duration, fn func()) func() {
		fs.AfterFunc(d, fn)
		return func() {}
	})
	c := New(Config{Scheduler: leaky, Now: fs.Now}, logx.Nop(), nil)

	id := c.Info("x", WithTTL(time.Second))
	keep := c.Info("y", Sticky())
	require.True(t, c.Dismiss(id))
	fs.Advance(2 * time.Second)

	list := c.List()
	require.Len(t, list, 1)
	assert.Equal(t, keep, list[0].ID)
	assert.Len(t, c.History(), 1)
}

type schedulerFunc func(d time.Duration, fn func()) func()

func (f schedulerFunc) AfterFunc(d time.Duration, fn func()) func() { return f(d, fn) }

func TestRealTimerRemovesAfterTTL(t *testing.T) {
	t.Parallel()
	c := New(Config{}, logx.Nop(), nil)
	c.Info("quick", WithTTL(100*time.Millisecond))
	require.Len(t, c.List(), 1)

	assert.Eventually(t, func() bool { return c.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	t.Parallel()
	c, fs := newTestCenter(t)
	ch, unsub := c.Subscribe(1)
	defer unsub()

	assert.Empty(t, <-ch)

	c.Info("a", WithTTL(time.Second))
	assert.Equal(t, []string{"a"}, messages(<-ch))

	// Two changes with a buffer of one: the newest wins.
	c.Info("b", Sticky())
	c.Info("c", Sticky())
	assert.Equal(t, []string{"a", "b", "c"}, messages(<-ch))

	fs.Advance(time.Second)
	assert.Equal(t, []string{"b", "c"}, messages(<-ch))

	assert.Equal(t, 2, c.Clear())
	assert.Empty(t, <-ch)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	c, _ := newTestCenter(t)
	ch, unsub := c.Subscribe(1)
	<-ch
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	c.Info("after")
}

func TestHistoryNewestFirstAndBounded(t *testing.T) {
	t.Parallel()
	fs := newFakeScheduler()
	c := New(Config{Scheduler: fs, Now: fs.Now, HistorySize: 2}, logx.Nop(), nil)

	a := c.Info("a", Sticky())
	b := c.Info("b", WithTTL(time.Second))
	c.Info("c", Sticky())

	c.Dismiss(a)
	fs.Advance(time.Second)
	c.Clear()

	h := c.History()
	require.Len(t, h, 2)
	assert.Equal(t, "c", h[0].Notification.Message)
	assert.Equal(t, ReasonCleared, h[0].Reason)
	assert.Equal(t, b, h[1].Notification.ID)
	assert.Equal(t, ReasonExpired, h[1].Reason)
}

func TestBusEvents(t *testing.T) {
	t.Parallel()
	fs := newFakeScheduler()
	bus := eventbus.New()
	events, unsub := bus.SubscribeTopic(16, "toast.")
	defer unsub()
	c := New(Config{Scheduler: fs, Now: fs.Now}, logx.Nop(), bus)

	id := c.Error("e")
	c.Dismiss(id)
	c.Info("i", WithTTL(time.Second))
	fs.Advance(time.Second)
	c.Info("s", Sticky())
	c.Clear()

	var types []string
	for len(types) < 6 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", types)
		}
	}
	assert.Equal(t, []string{
		eventbus.TopicToastAdded, eventbus.TopicToastDismissed,
		eventbus.TopicToastAdded, eventbus.TopicToastExpired,
		eventbus.TopicToastAdded, eventbus.TopicToastCleared,
	}, types)
}

func TestSetDefaultTTL(t *testing.T) {
	t.Parallel()
	c, fs := newTestCenter(t)
	c.SetDefaultTTL(time.Second)
	c.Info("x")
	fs.Advance(time.Second)
	assert.Empty(t, c.List())

	c.SetDefaultTTL(0)
	assert.Equal(t, DefaultTTL, c.DefaultTTL())
}

func TestConcurrentNotifyAndDismiss(t *testing.T) {
	t.Parallel()
	c := New(Config{DefaultTTL: time.Millisecond}, logx.Nop(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := c.Info("x")
				if j%2 == 0 {
					c.Dismiss(id)
				}
			}
		}()
	}
	wg.Wait()
	assert.Eventually(t, func() bool { return c.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}
