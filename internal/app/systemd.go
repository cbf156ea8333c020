package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	rtsup "x402watch/internal/runtime/supervisor"
	"x402watch/pkg/logx"
)

// sdNotifier talks to systemd over $NOTIFY_SOCKET. Outside a notify-type
// unit every call is a silent no-op.
type sdNotifier struct {
	log    logx.Logger
	notify func(state string) (bool, error)
}

func newSDNotifier(log logx.Logger) *sdNotifier {
	return &sdNotifier{
		log: log,
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
}

func (n *sdNotifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("sd_notify", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()          { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping()       { n.send(daemon.SdNotifyStopping) }
func (n *sdNotifier) Status(s string) { n.send("STATUS=" + s) }

// StartWatchdog pings systemd at half the unit's WatchdogSec. It does
// nothing when the unit has no watchdog.
func (n *sdNotifier) StartWatchdog(sup *rtsup.Supervisor) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	every := interval / 2
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	sup.GoRestart("systemd.watchdog", func(ctx context.Context) error {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				n.send(daemon.SdNotifyWatchdog)
			}
		}
	})
}
