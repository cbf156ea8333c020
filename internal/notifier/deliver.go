package notifier

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"x402watch/internal/eventbus"
	"x402watch/internal/observability/metrics"
	"x402watch/internal/transport"
	"x402watch/pkg/logx"
)

// deliver sends n to every sink in turn. It is recorded in the history when
// at least one sink accepted it.
func (s *Service) deliver(ctx context.Context, n Notification) {
	if n.Text == "" {
		return
	}
	s.mu.Lock()
	sinks := append([]transport.Sender(nil), s.senders...)
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	ok := false
	for _, snd := range sinks {
		if ctx.Err() != nil {
			return
		}
		if s.sendTo(ctx, cfg, lim, snd, n) {
			ok = true
		}
	}
	if ok {
		s.remember(n)
	}
}

func (s *Service) sendTo(ctx context.Context, cfg Config, lim *rate.Limiter, snd transport.Sender, n Notification) bool {
	tries := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		tries++
		if err := lim.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		defer cancel()
		err := snd.SendText(sctx, n.Text, n.Options)
		metrics.RecordNotification(snd.Name(), err)
		return struct{}{}, err
	},
		backoff.WithBackOff(retryBackOff(cfg)),
		backoff.WithMaxTries(uint(cfg.RetryMax+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.Debug("notify send failed",
				logx.String("sink", snd.Name()),
				logx.String("key", n.Key),
				logx.Int("attempt", tries),
				logx.Duration("backoff", next),
				logx.Err(err),
			)
		}),
	)
	if err == nil {
		s.publish(eventbus.TypeNotifySent, snd.Name(), n.Key, nil)
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	s.log.Warn("notification not delivered",
		logx.String("sink", snd.Name()),
		logx.String("key", n.Key),
		logx.Int("attempts", tries),
		logx.Err(err),
	)
	s.publish(eventbus.TypeNotifyFailed, snd.Name(), n.Key, err)
	return false
}

// retryBackOff doubles from RetryBase up to RetryMaxDelay with 30% jitter.
func retryBackOff(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryBase
	b.MaxInterval = cfg.RetryMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.3
	return b
}
