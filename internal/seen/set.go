package seen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"x402watch/internal/observability/metrics"
	"x402watch/pkg/logx"
)

const (
	defaultWriteAttempts = 3
	defaultRetryDelay    = 200 * time.Millisecond
)

// Set is the in-memory view of a Backend. Lookups are concurrent; writes are
// serialized and reach the backend before they become visible.
type Set struct {
	backend Backend
	log     logx.Logger

	attempts   int
	retryDelay time.Duration

	writeMu sync.Mutex

	mu    sync.RWMutex
	ids   map[string]struct{}
	order []string
}

type Option func(*Set)

func WithLogger(l logx.Logger) Option {
	return func(s *Set) {
		if !l.IsZero() {
			s.log = l
		}
	}
}

// WithWriteAttempts sets how many times a write is tried before giving up.
func WithWriteAttempts(n int) Option {
	return func(s *Set) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(s *Set) {
		if d >= 0 {
			s.retryDelay = d
		}
	}
}

// Load reads the persisted ids. Missing state yields an empty set.
func Load(ctx context.Context, b Backend, opts ...Option) (*Set, error) {
	if b == nil {
		return nil, errors.New("seen: nil backend")
	}
	s := &Set{
		backend:    b,
		log:        logx.Nop(),
		attempts:   defaultWriteAttempts,
		retryDelay: defaultRetryDelay,
		ids:        map[string]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}

	ids, err := b.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("seen: load from %s: %w", b.Name(), err)
	}
	for _, id := range ids {
		s.addLocked(id)
	}
	metrics.SeenSetSize.Set(float64(len(s.order)))
	s.log.Info("seen set loaded", logx.String("backend", b.Name()), logx.Int("ids", len(s.order)))
	return s, nil
}

func (s *Set) Contains(id string) bool {
	s.mu.RLock()
	_, ok := s.ids[id]
	s.mu.RUnlock()
	return ok
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// IDs returns a snapshot in insertion order.
func (s *Set) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Append records one id and persists it before returning. An id already
// present is a no-op. When every write attempt fails the id stays unrecorded
// and the returned error wraps ErrPersist.
func (s *Set) Append(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("seen: empty id")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.Contains(id) {
		return nil
	}
	if err := s.persist(ctx, "append", func(ctx context.Context) error {
		return s.backend.Add(ctx, id)
	}); err != nil {
		return fmt.Errorf("%w: append %q: %w", ErrPersist, id, err)
	}

	s.mu.Lock()
	s.addLocked(id)
	n := len(s.order)
	s.mu.Unlock()
	metrics.SeenSetSize.Set(float64(n))
	return nil
}

// BulkInit replaces the whole set. Duplicates in ids are dropped, first
// occurrence wins.
func (s *Set) BulkInit(ctx context.Context, ids []string) error {
	uniq := make([]string, 0, len(ids))
	has := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := has[id]; ok {
			continue
		}
		has[id] = struct{}{}
		uniq = append(uniq, id)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.persist(ctx, "replace", func(ctx context.Context) error {
		return s.backend.Replace(ctx, uniq)
	}); err != nil {
		return fmt.Errorf("%w: bulk init (%d ids): %w", ErrPersist, len(uniq), err)
	}

	s.mu.Lock()
	s.ids = has
	s.order = uniq
	s.mu.Unlock()
	metrics.SeenSetSize.Set(float64(len(uniq)))
	return nil
}

func (s *Set) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.backend.Close()
}

func (s *Set) addLocked(id string) {
	if _, ok := s.ids[id]; ok {
		return
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
}

func (s *Set) persist(ctx context.Context, op string, write func(context.Context) error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := write(ctx)
		if err != nil {
			metrics.PersistErrors.Inc()
			if errors.Is(err, ErrClosed) {
				return struct{}{}, backoff.Permanent(err)
			}
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.retryDelay)),
		backoff.WithMaxTries(uint(s.attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.Warn("seen write failed, retrying",
				logx.String("op", op),
				logx.String("backend", s.backend.Name()),
				logx.Int("attempt", attempt),
				logx.Duration("backoff", next),
				logx.Err(err),
			)
		}),
	)
	return err
}
