// Package monitor runs the incremental discovery loop: it pages through the
// catalog, diffs origin ids against the seen set and notifies once per new
// origin.
//
// The loop is a small state machine:
//
//	Bootstrapping -> PollingPage -> Sleeping -> PollingPage -> ...
//
// Bootstrapping only happens when the seen set starts empty. It records the
// whole current catalog without notifying, so a fresh install does not
// announce every existing service.
package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"x402watch/internal/catalog"
	"x402watch/internal/eventbus"
	"x402watch/internal/notifier"
	"x402watch/internal/schedule"
	"x402watch/internal/seen"
	"x402watch/pkg/logx"
)

const (
	DefaultPageSize          = 500
	DefaultBootstrapPageSize = 10000
	DefaultMaxPages          = 1000
	DefaultInterval          = 30 * time.Second
	DefaultDetailURLBase     = "https://www.x402scan.com/server"
)

type State int

const (
	StateIdle State = iota
	StateBootstrapping
	StatePollingPage
	StateSleeping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBootstrapping:
		return "bootstrapping"
	case StatePollingPage:
		return "polling"
	case StateSleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}

// PageFetcher returns one parsed catalog page. *catalog.Client implements it.
type PageFetcher interface {
	FetchPage(ctx context.Context, page, pageSize int) (catalog.PageResult, error)
}

// SeenStore is the durable set of already announced origin ids. *seen.Set
// implements it.
type SeenStore interface {
	Contains(id string) bool
	Len() int
	Append(ctx context.Context, id string) error
	BulkInit(ctx context.Context, ids []string) error
}

// Notifier queues a message, waiting for queue space but not for delivery.
type Notifier interface {
	NotifyWait(ctx context.Context, n notifier.Notification) error
}

type Config struct {
	Schedule          schedule.Spec // zero value means every DefaultInterval
	PageSize          int
	BootstrapPageSize int
	MaxPages          int
	DetailURLBase     string
}

func (c Config) withDefaults() Config {
	if c.Schedule.Kind == schedule.KindInterval && c.Schedule.Every <= 0 {
		c.Schedule, _ = schedule.Every(DefaultInterval)
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.BootstrapPageSize <= 0 {
		c.BootstrapPageSize = DefaultBootstrapPageSize
	}
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	c.DetailURLBase = strings.TrimRight(strings.TrimSpace(c.DetailURLBase), "/")
	if c.DetailURLBase == "" {
		c.DetailURLBase = DefaultDetailURLBase
	}
	return c
}

// Status is a point-in-time view used by health checks and the CLI.
type Status struct {
	State     string        `json:"state"`
	SeenCount int           `json:"seen_count"`
	LastSweep *SweepReport  `json:"last_sweep,omitempty"`
	NextSweep time.Time     `json:"next_sweep,omitzero"`
	Schedule  string        `json:"schedule"`
	Uptime    time.Duration `json:"uptime_ns"`
}

// Monitor owns the seen set and the loop configuration. Construct it once;
// Run must not be called concurrently with itself.
type Monitor struct {
	fetch  PageFetcher
	seen   SeenStore
	notify Notifier
	bus    eventbus.Bus
	log    logx.Logger

	now   func() time.Time
	after func(d time.Duration) <-chan time.Time

	mu        sync.RWMutex
	cfg       Config
	state     State
	last      *SweepReport
	nextSweep time.Time
	started   time.Time
}

type Option func(*Monitor)

func WithLogger(l logx.Logger) Option {
	return func(m *Monitor) {
		if !l.IsZero() {
			m.log = l
		}
	}
}

func WithBus(b eventbus.Bus) Option {
	return func(m *Monitor) {
		if b != nil {
			m.bus = b
		}
	}
}

// WithClock replaces time.Now and time.After. Tests use it to skip sleeps.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
		if after != nil {
			m.after = after
		}
	}
}

func New(cfg Config, fetch PageFetcher, set SeenStore, notify Notifier, opts ...Option) (*Monitor, error) {
	if fetch == nil {
		return nil, errors.New("monitor: nil fetcher")
	}
	if set == nil {
		return nil, errors.New("monitor: nil seen store")
	}
	m := &Monitor{
		fetch:  fetch,
		seen:   set,
		notify: notify,
		bus:    eventbus.Nop(),
		log:    logx.Nop(),
		now:    time.Now,
		after:  time.After,
		cfg:    cfg.withDefaults(),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With(logx.String("comp", "monitor"))
	m.started = m.now()
	return m, nil
}

// Apply swaps the loop configuration. A running sweep finishes with the
// settings it started with; a pending sleep is not shortened.
func (m *Monitor) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	m.log.Info("monitor config applied",
		logx.String("schedule", cfg.Schedule.String()),
		logx.Int("page_size", cfg.PageSize),
		logx.Int("max_pages", cfg.MaxPages),
	)
}

func (m *Monitor) config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Status{
		State:     m.state.String(),
		SeenCount: m.seen.Len(),
		NextSweep: m.nextSweep,
		Schedule:  m.cfg.Schedule.String(),
		Uptime:    m.now().Sub(m.started),
	}
	if m.last != nil {
		r := *m.last
		st.LastSweep = &r
	}
	return st
}

// Healthy reports false only when the last sweep was cut short by a page
// failure.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last == nil || m.last.Err == ""
}

// Run drives the loop until ctx is canceled. It starts in Bootstrapping when
// the seen set is empty. Page failures end the current sweep only; a seen
// set write failure is returned so the caller can restart the loop.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.setState(StateIdle)
	state := StatePollingPage
	if m.seen.Len() == 0 {
		m.log.Info("first run, no local cache; bootstrapping")
		state = StateBootstrapping
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.setState(state)

		switch state {
		case StateBootstrapping:
			if _, err := m.Bootstrap(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, seen.ErrPersist) {
					return err
				}
				m.log.Warn("bootstrap failed, retrying after interval", logx.Err(err))
				if err := m.sleep(ctx); err != nil {
					return err
				}
				continue
			}
			state = StatePollingPage

		case StatePollingPage:
			if _, err := m.Sweep(ctx); err != nil {
				return err
			}
			state = StateSleeping

		case StateSleeping:
			if err := m.sleep(ctx); err != nil {
				return err
			}
			state = StatePollingPage
		}
	}
}

func (m *Monitor) sleep(ctx context.Context) error {
	cfg := m.config()
	now := m.now()
	next := cfg.Schedule.Next(now)
	wait := max(next.Sub(now), 0)

	m.mu.Lock()
	m.nextSweep = next
	m.mu.Unlock()
	m.log.Debug("sleeping until next sweep", logx.Duration("wait", wait), logx.Time("at", next))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.after(wait):
		return nil
	}
}
