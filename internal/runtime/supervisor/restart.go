package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"x402watch/pkg/logx"
)

// A run that lasted this long counts as healthy and resets the backoff.
const healthyRun = 30 * time.Second

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	initial   time.Duration
	ceiling   time.Duration
	limit     int // restarts allowed; <= 0 is unlimited
	fatalLast bool
}

// WithRestartBackoff bounds the delay between restarts. Non-positive values
// keep the default.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.initial = min
		}
		if max > 0 {
			p.ceiling = max
		}
	}
}

// WithMaxRestarts gives up after n restarts. The first run does not count.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.limit = n } }

// WithFatalOnFinalError records the last error once GoRestart gives up.
func WithFatalOnFinalError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.fatalLast = enabled }
}

// GoRestart runs fn until it returns nil or context.Canceled, restarting it
// after errors and panics with jittered exponential backoff.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{initial: 250 * time.Millisecond, ceiling: 30 * time.Second}
	for _, o := range opts {
		o(&p)
	}
	p.ceiling = max(p.ceiling, p.initial)

	s.Go0(name+".restart", func(ctx context.Context) {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.initial
		b.MaxInterval = p.ceiling
		b.RandomizationFactor = 0.2

		for n := 1; ; n++ {
			began := time.Now()
			err := s.call(name, fn)
			if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			if p.limit > 0 && n > p.limit {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", n-1), logx.Err(err))
				if p.fatalLast {
					s.fail(fmt.Errorf("%s: %w", name, err))
				}
				return
			}

			s.restarts.Add(1)
			if time.Since(began) >= healthyRun {
				b.Reset()
			}
			wait := b.NextBackOff()
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	})
}
