// Package app wires the x402watch components together and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"x402watch/internal/catalog"
	"x402watch/internal/config"
	"x402watch/internal/eventbus"
	"x402watch/internal/monitor"
	"x402watch/internal/notifier"
	"x402watch/internal/observability/httpserver"
	rtsup "x402watch/internal/runtime/supervisor"
	"x402watch/internal/seen"
	"x402watch/internal/transport"
	"x402watch/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	seen   *seen.Set
	client *catalog.Client
	notif  *notifier.Service
	mon    *monitor.Monitor
	http   *httpserver.Service
	sd     *sdNotifier

	// guarded by smu
	smu      sync.Mutex
	logSink  transport.Sender
	telegram transport.Sender

	closeOnce sync.Once
}

// New loads the config at cfgPath and constructs every component. Nothing
// runs until Start or SweepOnce.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateRuntime(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	bootLog := logx.NewConsole(cfg.Logging.Level)
	tg, err := newTelegramSender(cfg, bootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// Bootstrap with alerts off so Apply does not warn before the sender is
	// attached.
	logCfg := mapLoggingConfig(cfg)
	bootCfg := logCfg
	bootCfg.Alert.Enabled = false
	logSvc, root := logx.New(bootCfg, tg)
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      eventbus.New(),
		sd:       newSDNotifier(root.With(logx.String("comp", "systemd"))),
		logSink:  notifier.NewLogSender(root),
		telegram: tg,
	}

	sc, _ := mapStoreConfig(cfg)
	backend, err := seen.OpenBackend(ctx, sc, root)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	set, err := seen.Load(ctx, backend, seen.WithLogger(root.With(logx.String("comp", "seen"))))
	if err != nil {
		_ = backend.Close()
		_ = logSvc.Close()
		return nil, err
	}
	a.seen = set

	cc, _ := mapCatalogConfig(cfg)
	a.client = catalog.New(cc, root)

	nc, _ := mapNotifierConfig(cfg)
	a.notif = notifier.New(nc, root, a.bus, a.senders()...)

	mc, _ := mapMonitorConfig(cfg)
	mon, err := monitor.New(mc, a.client, a.seen, a.notif,
		monitor.WithLogger(root),
		monitor.WithBus(a.bus),
	)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	a.mon = mon

	hc, _ := mapHTTPConfig(cfg)
	a.http = httpserver.New(hc, root, a.health)

	log.Info("app configured",
		logx.String("config", cfgPath),
		logx.String("store", backend.Name()),
		logx.Int("seen", a.seen.Len()),
		logx.String("schedule", mc.Schedule.String()),
		logx.Strings("sinks", a.notif.Senders()),
	)
	return a, nil
}

func (a *App) Logger() logx.Logger { return a.log }

// Seen exposes the loaded seen set for read-only CLI commands.
func (a *App) Seen() *seen.Set { return a.seen }

func (a *App) Monitor() *monitor.Monitor { return a.mon }

func (a *App) senders() []transport.Sender {
	a.smu.Lock()
	defer a.smu.Unlock()
	out := []transport.Sender{a.logSink}
	if a.telegram != nil {
		out = append(out, a.telegram)
	}
	return out
}

type healthDoc struct {
	Monitor         monitor.Status `json:"monitor"`
	NotifierPending int            `json:"notifier_pending"`
	Sinks           []string       `json:"sinks"`
}

func (a *App) health() (any, bool) {
	doc := healthDoc{
		Monitor:         a.mon.Status(),
		NotifierPending: a.notif.Pending(),
		Sinks:           a.notif.Senders(),
	}
	return doc, a.mon.Healthy()
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches the discovery loop and the supporting services.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateRuntime(cfg)
	})

	// The notifier outlives the supervisor context so Stop can drain it.
	a.notif.Start(context.WithoutCancel(ctx))
	if a.http.Enabled() {
		a.http.Start(a.sup.Context())
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				if rep, ok := e.Data.(monitor.SweepReport); ok && e.Type == eventbus.TypeSweepFinished {
					a.sd.Status(sweepStatus(rep, a.seen.Len()))
				}
			}
		}
	})

	a.sup.GoRestart("monitor.loop", a.mon.Run,
		rtsup.WithRestartBackoff(time.Second, time.Minute),
	)

	sub, unsubCfg := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer unsubCfg()
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sd.StartWatchdog(a.sup)
	a.sd.Ready()
	a.log.Info("app started")
	return nil
}

func sweepStatus(rep monitor.SweepReport, seenCount int) string {
	s := fmt.Sprintf("last sweep %s: %d page(s), %d new, %d seen",
		rep.FinishedAt.Format(time.RFC3339), rep.Pages, len(rep.NewIDs), seenCount)
	if rep.Truncated {
		s += " (truncated)"
	}
	return s
}

// SweepOnce bootstraps an empty seen set, runs a single sweep, then drains
// the notifier. Used by the one-shot CLI command.
func (a *App) SweepOnce(ctx context.Context) (monitor.SweepReport, error) {
	a.notif.Start(context.WithoutCancel(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	}()

	if a.seen.Len() == 0 {
		n, err := a.mon.Bootstrap(ctx)
		if err != nil {
			return monitor.SweepReport{}, err
		}
		a.log.Info("bootstrapped empty seen set", logx.Int("ids", n))
	}
	return a.mon.Sweep(ctx)
}

// Stop shuts everything down within ctx. Each step has its own upper bound
// so one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("notifier", 5*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })

	a.log.Info("stopped")
	a.closeResources()
	return nil
}

func (a *App) closeResources() {
	a.closeOnce.Do(func() {
		if a.seen != nil {
			if err := a.seen.Close(); err != nil {
				a.log.Warn("seen store close failed", logx.Err(err))
			}
		}
		if a.logs != nil {
			_ = a.logs.Close()
		}
	})
}

// OpenSeen loads only the seen set named by the config at cfgPath. Read-only
// CLI commands use it without constructing the rest of the app.
func OpenSeen(ctx context.Context, cfgPath string, log logx.Logger) (*seen.Set, error) {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return nil, err
	}
	sc, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	backend, err := seen.OpenBackend(ctx, sc, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	set, err := seen.Load(ctx, backend, seen.WithLogger(log))
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return set, nil
}
