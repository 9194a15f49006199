package toast

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"nautconsole/internal/eventbus"
	logx "nautconsole/pkg/logx"
)

type Config struct {
	DefaultTTL  time.Duration // <=0 means DefaultTTL
	HistorySize int           // removed notifications kept for History; <0 disables

	Scheduler Scheduler        // nil means RealScheduler
	Now       func() time.Time // nil means time.Now
}

// Center is the process-wide registry of active notifications.
//
// Every mutation holds one lock, so an expiry firing and a Dismiss for the
// same id are serialized: whichever runs first removes the entry and the
// other finds nothing.
type Center struct {
	log   logx.Logger
	bus   eventbus.Bus
	sched Scheduler
	now   func() time.Time
	newID func() string

	mu         sync.Mutex
	defaultTTL time.Duration
	items      []Notification
	cancels    map[string]func()

	history     []Removal // ring, oldest first once full
	historySize int

	subSeq uint64
	subs   map[uint64]chan []Notification
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Center {
	c := &Center{
		log:         log,
		bus:         bus,
		sched:       cfg.Scheduler,
		now:         cfg.Now,
		newID:       uuid.NewString,
		defaultTTL:  cfg.DefaultTTL,
		cancels:     map[string]func(){},
		historySize: cfg.HistorySize,
		subs:        map[uint64]chan []Notification{},
	}
	if c.sched == nil {
		c.sched = RealScheduler{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.defaultTTL <= 0 {
		c.defaultTTL = DefaultTTL
	}
	if c.historySize == 0 {
		c.historySize = 50
	}
	return c
}

// SetDefaultTTL changes the TTL used by later Notify calls. Existing timers are kept.
func (c *Center) SetDefaultTTL(d time.Duration) {
	if d <= 0 {
		d = DefaultTTL
	}
	c.mu.Lock()
	c.defaultTTL = d
	c.mu.Unlock()
}

func (c *Center) DefaultTTL() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defaultTTL
}

// Notify appends a notification and schedules its expiry. It never fails.
func (c *Center) Notify(kind Kind, message string, opts ...Option) string {
	var o notifyOpts
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}

	c.mu.Lock()
	ttl := c.defaultTTL
	if o.ttlSet {
		ttl = o.ttl
	}
	n := Notification{
		ID:        c.newID(),
		Kind:      kind,
		Message:   message,
		CreatedAt: c.now(),
		TTL:       ttl,
	}
	if ttl != NoExpiry {
		exp := n.CreatedAt.Add(ttl)
		n.ExpiresAt = &exp
	}
	c.items = append(c.items, n)
	if ttl != NoExpiry {
		id := n.ID
		c.cancels[id] = c.sched.AfterFunc(ttl, func() { c.expire(id) })
	}
	c.broadcastLocked()
	c.mu.Unlock()

	c.log.Debug("toast added", logx.String("id", n.ID), logx.String("kind", kind.String()), logx.Duration("ttl", ttl))
	c.publish(eventbus.TopicToastAdded, n)
	return n.ID
}

func (c *Center) Success(message string, opts ...Option) string {
	return c.Notify(KindSuccess, message, opts...)
}

func (c *Center) Error(message string, opts ...Option) string {
	return c.Notify(KindError, message, opts...)
}

func (c *Center) Warning(message string, opts ...Option) string {
	return c.Notify(KindWarning, message, opts...)
}

func (c *Center) Info(message string, opts ...Option) string {
	return c.Notify(KindInfo, message, opts...)
}

// Dismiss removes id and cancels its expiry. Unknown or already removed ids
// are a silent no-op; the result reports whether anything was removed.
func (c *Center) Dismiss(id string) bool {
	n, ok := c.remove(id, ReasonDismissed)
	if ok {
		c.publish(eventbus.TopicToastDismissed, n)
	}
	return ok
}

func (c *Center) expire(id string) {
	n, ok := c.remove(id, ReasonExpired)
	if ok {
		c.log.Debug("toast expired", logx.String("id", id))
		c.publish(eventbus.TopicToastExpired, n)
	}
}

func (c *Center) remove(id string, reason Reason) (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i := range c.items {
		if c.items[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Notification{}, false
	}
	n := c.items[idx]
	c.items = append(c.items[:idx:idx], c.items[idx+1:]...)
	if cancel, ok := c.cancels[id]; ok {
		delete(c.cancels, id)
		cancel()
	}
	c.recordLocked(n, reason)
	c.broadcastLocked()
	return n, true
}

// Clear removes every active notification and returns how many were removed.
func (c *Center) Clear() int {
	c.mu.Lock()
	removed := c.items
	c.items = nil
	for id, cancel := range c.cancels {
		cancel()
		delete(c.cancels, id)
	}
	for _, n := range removed {
		c.recordLocked(n, ReasonCleared)
	}
	if len(removed) > 0 {
		c.broadcastLocked()
	}
	c.mu.Unlock()

	if len(removed) > 0 {
		c.publish(eventbus.TopicToastCleared, len(removed))
	}
	return len(removed)
}

// List returns the active notifications in insertion order.
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Center) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// History returns recently removed notifications, newest first.
func (c *Center) History() []Removal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Removal, len(c.history))
	for i := range c.history {
		out[i] = c.history[len(c.history)-1-i]
	}
	return out
}

func (c *Center) recordLocked(n Notification, reason Reason) {
	if c.historySize < 0 {
		return
	}
	c.history = append(c.history, Removal{Notification: n, Reason: reason, RemovedAt: c.now()})
	if over := len(c.history) - c.historySize; over > 0 {
		c.history = append(c.history[:0:0], c.history[over:]...)
	}
}

// Subscribe returns a channel that receives the current snapshot right away
// and a fresh one after every change. A slow reader only misses intermediate
// snapshots; the newest one always replaces what is pending.
func (c *Center) Subscribe(buffer int) (<-chan []Notification, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan []Notification, buffer)

	c.mu.Lock()
	c.subSeq++
	id := c.subSeq
	c.subs[id] = ch
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			close(ch)
			c.mu.Unlock()
		})
	}
}

func (c *Center) snapshotLocked() []Notification {
	out := make([]Notification, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Center) broadcastLocked() {
	if len(c.subs) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (c *Center) publish(typ string, data any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
