package app

import (
	"context"
	"fmt"
	"time"

	"nautconsole/internal/endpoints"
	"nautconsole/internal/eventbus"
	"nautconsole/internal/health"
	"nautconsole/internal/storage"
	logx "nautconsole/pkg/logx"
)

const (
	auditActorSystem = "system"
	auditWriteBudget = 2 * time.Second
)

// auditEntry maps a bus event to a journal record. ok is false for events
// that are not journaled.
func auditEntry(ev eventbus.Event) (storage.Entry, bool) {
	switch ev.Type {
	case eventbus.TopicAudit:
		switch e := ev.Data.(type) {
		case storage.Entry:
			return e, true
		case *storage.Entry:
			if e != nil {
				return *e, true
			}
		}
	case eventbus.TopicEndpointsResolved:
		snap, ok := ev.Data.(endpoints.Snapshot)
		if !ok {
			return storage.Entry{}, false
		}
		e := storage.Entry{
			At:     ev.Time,
			Actor:  auditActorSystem,
			Action: "endpoints.resolved",
			Target: string(snap.Source),
			Detail: fmt.Sprintf("trading=%s admin=%s", snap.TradingAPIURL, snap.AdminAPIURL),
		}
		if snap.LastError != "" {
			e.Outcome = storage.OutcomeError
			e.Error = snap.LastError
		}
		return e, true
	case eventbus.TopicHealthChanged:
		tr, ok := ev.Data.(health.Transition)
		if !ok {
			return storage.Entry{}, false
		}
		e := storage.Entry{
			At:     ev.Time,
			Actor:  auditActorSystem,
			Action: "health.changed",
			Target: tr.Name,
			Detail: fmt.Sprintf("%s -> %s (%s)", tr.From, tr.To, tr.Result.URL),
		}
		if !tr.Result.Healthy() {
			e.Outcome = storage.OutcomeError
			e.Error = tr.Result.Error
		}
		return e, true
	}
	return storage.Entry{}, false
}

func subscribeAudit(bus eventbus.Bus) (<-chan eventbus.Event, func()) {
	return bus.SubscribeTopic(128,
		eventbus.TopicAudit,
		eventbus.TopicEndpointsResolved,
		eventbus.TopicHealthChanged,
	)
}

// runAuditWriter persists operator actions and notable system transitions
// until ctx is done or events closes.
func runAuditWriter(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e, ok := auditEntry(ev)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteBudget)
			err := store.AppendAudit(wctx, e)
			cancel()
			if err != nil {
				log.Warn("audit write failed", logx.String("action", e.Action), logx.Err(err))
			}
		}
	}
}
