// Package systemd reports service state to the systemd manager.
//
// Every call is a no-op when the process is not running under a unit with
// NOTIFY_SOCKET set, so callers never need to check first.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages. The zero value uses the real socket.
type Notifier struct {
	// notify matches daemon.SdNotify; overridden in tests.
	notify func(unsetEnv bool, state string) (bool, error)
	// watchdog matches daemon.SdWatchdogEnabled.
	watchdog func(unsetEnv bool) (time.Duration, error)
}

func (n Notifier) send(state string) (bool, error) {
	if n.notify != nil {
		return n.notify(false, state)
	}
	return daemon.SdNotify(false, state)
}

// Ready reports READY=1. sent is false when there is no notify socket.
func (n Notifier) Ready() (bool, error) { return n.send(daemon.SdNotifyReady) }

// Stopping reports STOPPING=1.
func (n Notifier) Stopping() (bool, error) { return n.send(daemon.SdNotifyStopping) }

// Reloading reports RELOADING=1. Follow it with Ready once the new
// configuration is live.
func (n Notifier) Reloading() (bool, error) { return n.send(daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func (n Notifier) Status(msg string) (bool, error) { return n.send("STATUS=" + msg) }

// WatchdogInterval returns the keepalive period, or 0 when the unit has no
// WatchdogSec configured.
func (n Notifier) WatchdogInterval() (time.Duration, error) {
	if n.watchdog != nil {
		return n.watchdog(false)
	}
	return daemon.SdWatchdogEnabled(false)
}

// RunWatchdog pings the watchdog at half its interval until ctx is done.
// It returns immediately when no watchdog is configured.
func (n Notifier) RunWatchdog(ctx context.Context) error {
	every, err := n.WatchdogInterval()
	if err != nil || every <= 0 {
		return err
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := n.send(daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
