package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"x402watch/internal/transport"
)

const (
	alertQueueSize = 64
	alertMaxLen    = 3500
	alertValueLen  = 600
	alertTimeout   = 10 * time.Second
)

// alertSink is a zerolog writer that forwards serious records to a
// transport.Sender. Writes never block; excess records are dropped.
type alertSink struct {
	queue chan string

	mu      sync.Mutex
	sender  transport.Sender
	min     zerolog.Level
	limiter *rate.Limiter
	cancel  context.CancelFunc
	done    chan struct{}
}

func newAlertSink(sender transport.Sender) *alertSink {
	return &alertSink{
		queue:   make(chan string, alertQueueSize),
		sender:  sender,
		min:     zerolog.ErrorLevel,
		limiter: rate.NewLimiter(1, 1),
	}
}

func (a *alertSink) setSender(sender transport.Sender) {
	a.mu.Lock()
	a.sender = sender
	a.mu.Unlock()
}

// configure applies cfg and starts the delivery goroutine on first enable.
func (a *alertSink) configure(cfg AlertConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rps := max(cfg.RatePerSec, 1)
	a.min = parseLevel(cfg.MinLevel, zerolog.ErrorLevel)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)

	if !cfg.Enabled || a.cancel != nil {
		return
	}
	if a.sender == nil {
		fmt.Fprintln(os.Stderr, "logx: alerts enabled but no notification transport is configured")
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.deliver(ctx, a.done)
}

func (a *alertSink) stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (a *alertSink) deliver(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.queue:
			a.mu.Lock()
			snd := a.sender
			a.mu.Unlock()
			if snd == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, alertTimeout)
			_ = snd.SendText(sctx, msg, &transport.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (a *alertSink) Write(p []byte) (int, error) {
	return a.WriteLevel(zerolog.NoLevel, p)
}

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	pass := a.sender != nil && level != zerolog.NoLevel && level >= a.min && a.limiter.Allow()
	a.mu.Unlock()
	if !pass {
		return len(p), nil
	}
	if msg := renderAlert(p); msg != "" {
		select {
		case a.queue <- msg:
		default:
		}
	}
	return len(p), nil
}

// renderAlert turns one JSON record into "[LEVEL] message" followed by one
// "- key=value" line per remaining field, sorted by key.
func renderAlert(p []byte) string {
	line := strings.TrimSpace(string(p))
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return clip(line, alertMaxLen)
	}

	var b strings.Builder
	if lvl, _ := rec[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	delete(rec, zerolog.LevelFieldName)
	delete(rec, zerolog.MessageFieldName)
	delete(rec, zerolog.TimestampFieldName)
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(rec[k]), alertValueLen))
	}
	return clip(b.String(), alertMaxLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
