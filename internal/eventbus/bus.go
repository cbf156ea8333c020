// Package eventbus is an in-process fan-out of lifecycle events between
// x402watch components. Publishing never blocks: a subscriber whose buffer
// is full misses the event.
package eventbus

import (
	"slices"
	"sync"
	"time"
)

const (
	TypeSweepStarted   = "monitor.sweep_started"
	TypeSweepFinished  = "monitor.sweep_finished"
	TypePageFailed     = "monitor.page_failed"
	TypeOriginFound    = "monitor.origin_found"
	TypeBootstrapped   = "monitor.bootstrapped"
	TypeNotifySent     = "notifier.sent"
	TypeNotifyFailed   = "notifier.failed"
	TypeNotifyDropped  = "notifier.dropped"
	TypeConfigReloaded = "config.reloaded"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

const defaultBuffer = 8

func New() Bus { return &fanout{} }

// Nop returns a bus that discards everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type fanout struct {
	mu   sync.Mutex
	subs []chan Event
}

func (f *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (f *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()

	var once sync.Once
	return ch, func() { once.Do(func() { f.remove(ch) }) }
}

// remove detaches and closes ch. It runs under mu so no Publish is sending.
func (f *fanout) remove(ch chan Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = slices.DeleteFunc(f.subs, func(c chan Event) bool { return c == ch })
	close(ch)
}
