package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"x402watch/internal/eventbus"
	rtsup "x402watch/internal/runtime/supervisor"
	"x402watch/internal/transport"
	"x402watch/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const (
	defaultQueueSize     = 256
	defaultRetryBase     = time.Second
	defaultRetryMaxDelay = 30 * time.Second
	defaultSendTimeout   = 10 * time.Second
	historyLimit         = 100
)

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	return c
}

// Service queues notifications and delivers them from one worker. It is
// safe for concurrent use.
type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	senders []transport.Sender
	active  *worker // accepting notifications
	last    *worker // most recently started, possibly still draining

	hmu     sync.Mutex
	history []HistoryItem
}

// worker is one Start..Stop cycle.
type worker struct {
	queue   chan Notification
	enqueue sync.WaitGroup // Notify calls holding queue
	sup     *rtsup.Supervisor
	done    chan struct{}
	closeQ  sync.Once
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, senders ...transport.Sender) *Service {
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{log: log.With(logx.String("comp", "notifier")), bus: bus}
	s.Apply(cfg)
	s.SetSenders(senders...)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates rate and retry settings. Queue size and Enabled take effect
// on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), max(int(cfg.RatePerSec), 1))
	s.mu.Unlock()
}

// SetSenders swaps the delivery sinks. Nil senders are skipped.
func (s *Service) SetSenders(senders ...transport.Sender) {
	keep := make([]transport.Sender, 0, len(senders))
	for _, snd := range senders {
		if snd != nil {
			keep = append(keep, snd)
		}
	}
	s.mu.Lock()
	s.senders = keep
	s.mu.Unlock()
}

func (s *Service) Senders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.senders))
	for i, snd := range s.senders {
		names[i] = snd.Name()
	}
	return names
}

// Start launches the worker unless disabled or already running. A previous
// worker that is still draining finishes first, keeping delivery ordered.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	running, prev := s.active != nil, s.last
	s.mu.Unlock()
	if running {
		return
	}
	if prev != nil {
		select {
		case <-prev.done:
		case <-ctx.Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil || s.last != prev || !s.cfg.Enabled {
		return
	}

	w := &worker{
		queue: make(chan Notification, s.cfg.QueueSize),
		sup:   rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
		done:  make(chan struct{}),
	}
	s.active, s.last = w, w

	w.sup.GoRestart("notifier.worker", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return c.Err()
			case n, ok := <-w.queue:
				if !ok {
					return nil
				}
				s.deliver(c, n)
			}
		}
	})
	go func() {
		_ = w.sup.Wait(context.Background())
		close(w.done)
	}()
}

// Stop refuses new notifications and drains the queue until ctx expires,
// after which pending deliveries are abandoned.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	w := s.active
	s.active = nil
	if w == nil {
		w = s.last
	}
	s.mu.Unlock()
	if w == nil {
		return
	}

	go func() {
		w.enqueue.Wait()
		w.closeQ.Do(func() { close(w.queue) })
	}()

	select {
	case <-w.done:
	case <-ctx.Done():
		w.sup.Cancel()
	}
}

// Notify queues n for delivery without waiting for queue space.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	w, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer w.enqueue.Done()

	select {
	case w.queue <- n:
		return nil
	default:
		s.publish(eventbus.TypeNotifyDropped, "", n.Key, ErrQueueFull)
		return ErrQueueFull
	}
}

// NotifyWait queues n, blocking while the queue is full until ctx is done
// or the worker stops.
func (s *Service) NotifyWait(ctx context.Context, n Notification) error {
	if ctx == nil {
		ctx = context.Background()
	}
	w, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer w.enqueue.Done()

	select {
	case w.queue <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return ErrStopped
	}
}

// acquire returns the active worker with its enqueue count held.
func (s *Service) acquire(ctx context.Context) (*worker, error) {
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return nil, ErrDisabled
	}
	w := s.active
	if w == nil {
		return nil, ErrStopped
	}
	w.enqueue.Add(1)
	return w, nil
}

// Pending reports notifications queued but not yet picked up.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return 0
	}
	return len(s.active.queue)
}

// Snapshot returns the most recent delivered notifications, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) remember(n Notification) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Key: n.Key, Text: n.Text})
	if over := len(s.history) - historyLimit; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}

func (s *Service) publish(typ, sink, key string, err error) {
	ev := NotificationEvent{Sink: sink, Key: key, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
