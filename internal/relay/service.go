package relay

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"nautconsole/internal/eventbus"
	rtsup "nautconsole/internal/runtime/supervisor"
	"nautconsole/internal/toast"
	logx "nautconsole/pkg/logx"
)

var (
	ErrDisabled  = errors.New("relay disabled")
	ErrQueueFull = errors.New("relay queue full")
	ErrStopped   = errors.New("relay stopped")
)

type job struct {
	n   toast.Notification
	key string
}

// Service implements an async relay pipeline:
// bus intake + queue + worker pool + rate limit + retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus
	now    func() time.Time

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	unsub    func()
	stopDone chan struct{} // non-nil while stopping

	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log,
		bus:    bus,
		now:    time.Now,
		dedup:  map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// SetSender swaps the delivery backend, e.g. after a token change.
func (s *Service) SetSender(sender Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// Apply updates limits and filters. Workers and queue size take effect on
// the next Start; enabling or disabling is handled by the caller.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 1000
	}
	s.cfg = cfg
	// Burst equals the per-second rate so short spikes don't block.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start subscribes to toast.added and launches the workers. It is idempotent
// and a no-op while disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	minKind := s.cfg.MinKind
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "relay"))),
		// Relay failures must not take down the console.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	var events <-chan eventbus.Event
	if s.bus != nil {
		events, s.unsub = s.bus.SubscribeTopic(64, eventbus.TopicToastAdded)
	}
	s.mu.Unlock()

	if events != nil {
		sup.Go0("intake", func(c context.Context) { s.intakeLoop(c, events) })
	}
	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("relay worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("relay started", logx.Int("workers", workers), logx.String("min_kind", minKind.String()))
}

// Stop stops intake and drains the queue best-effort until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	sup := s.sup
	unsub := s.unsub
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
		<-done
	}
	s.log.Info("relay stopped")
}

func (s *Service) intakeLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			n, ok := ev.Data.(toast.Notification)
			if !ok {
				continue
			}
			if err := s.Enqueue(ctx, n); err != nil && !errors.Is(err, ErrBelowThreshold) {
				s.log.Debug("relay enqueue failed", logx.String("toast", n.ID), logx.Err(err))
			}
		}
	}
}

// ErrBelowThreshold is returned by Enqueue for toasts under MinKind.
var ErrBelowThreshold = errors.New("toast kind below relay threshold")

// Enqueue queues n for delivery. Duplicates inside the dedup window are
// accepted and silently suppressed.
func (s *Service) Enqueue(ctx context.Context, n toast.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !n.Kind.AtLeast(s.cfg.MinKind) {
		s.mu.Unlock()
		return ErrBelowThreshold
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	max := s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(n)
	if window > 0 && !s.dedupAllow(key, window, max) {
		s.log.Debug("relay deduped", logx.String("toast", n.ID), logx.String("key", key))
		return nil
	}

	select {
	case q <- job{n: n, key: key}:
		return nil
	default:
		s.publish(eventbus.TopicRelayDropped, n, key, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()
	if sender == nil {
		s.publish(eventbus.TopicRelayDropped, j.n, j.key, errors.New("no sender configured"))
		return
	}

	text := Format(j.n, s.now())
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := sender.Send(callCtx, text)
		cancel()
		if err == nil {
			s.publish(eventbus.TopicRelaySent, j.n, j.key, nil)
			return
		}
		lastErr = err
		s.log.Debug("relay send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt >= maxAttempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("relay gave up", logx.String("toast", j.n.ID), logx.Err(lastErr))
	s.publish(eventbus.TopicRelayFailed, j.n, j.key, lastErr)
}

func (s *Service) publish(typ string, n toast.Notification, key string, err error) {
	if s.bus == nil {
		return
	}
	ev := Event{ToastID: n.ID, Kind: n.Kind, Key: key, At: s.now()}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// Format renders a toast for the operator chat.
func Format(n toast.Notification, now time.Time) string {
	var b strings.Builder
	b.WriteString(prefixForKind(n.Kind))
	b.WriteString("[")
	b.WriteString(strings.ToUpper(n.Kind.String()))
	b.WriteString("] ")
	b.WriteString(n.Message)
	if !n.CreatedAt.IsZero() {
		b.WriteString("\n")
		b.WriteString("raised ")
		b.WriteString(humanize.RelTime(n.CreatedAt, now, "ago", "from now"))
	}
	return b.String()
}

func prefixForKind(k toast.Kind) string {
	switch k {
	case toast.KindError:
		return "🚨 "
	case toast.KindWarning:
		return "⚠️ "
	case toast.KindSuccess:
		return "✅ "
	default:
		return "ℹ️ "
	}
}

func dedupKey(n toast.Notification) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(n.Kind.String()))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(n.Message))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(key string, window time.Duration, max int) bool {
	now := s.now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	// Evict earliest expiries until within cap.
	for max > 0 && len(s.dedup) > max {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	return true
}

// retryDelay is the pause before attempt+1: exponential from RetryBase,
// capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}
