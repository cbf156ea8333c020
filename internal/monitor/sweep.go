package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"x402watch/internal/catalog"
	"x402watch/internal/eventbus"
	"x402watch/internal/notifier"
	"x402watch/internal/observability/metrics"
	"x402watch/pkg/logx"
)

// SweepReport summarizes one pass over the catalog pages.
type SweepReport struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`
	Pages      int           `json:"pages"`
	Entries    int           `json:"entries"`
	NewIDs     []string      `json:"new_ids,omitempty"`
	Truncated  bool          `json:"truncated"`
	Err        string        `json:"error,omitempty"`
}

// OriginEvent is published for every newly discovered origin.
type OriginEvent struct {
	SweepID string `json:"sweep_id"`
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	Page    int    `json:"page"`
}

// PageFailure is published when a page fetch ends a sweep early.
type PageFailure struct {
	SweepID string `json:"sweep_id"`
	Page    int    `json:"page"`
	Error   string `json:"error"`
}

// Bootstrap fetches page 0 with the bootstrap page size and replaces the seen
// set with every origin id on it. Nothing is notified. It returns the number
// of ids recorded.
func (m *Monitor) Bootstrap(ctx context.Context) (int, error) {
	cfg := m.config()
	start := m.now()

	res, err := m.fetch.FetchPage(ctx, 0, cfg.BootstrapPageSize)
	if err != nil {
		return 0, fmt.Errorf("bootstrap fetch: %w", err)
	}
	ids := res.OriginIDs()
	if err := m.seen.BulkInit(ctx, ids); err != nil {
		return 0, err
	}

	n := m.seen.Len()
	m.log.Info("local cache initialized",
		logx.Int("records", n),
		logx.Int("entries", len(res.Entries)),
		logx.Duration("took", m.now().Sub(start)),
	)
	m.bus.Publish(eventbus.Event{Type: eventbus.TypeBootstrapped, Time: m.now(), Data: n})
	return n, nil
}

// Sweep walks the catalog from page 0 until a page reports no next page or
// MaxPages is reached. Every origin id missing from the seen set is queued
// for notification and then appended, in API order. An id whose notification
// could not be queued stays unseen and is offered again by the next sweep.
//
// A page fetch failure ends the sweep early; the report carries the cause and
// the returned error is nil. A seen set write failure or ctx cancellation is
// returned as an error.
func (m *Monitor) Sweep(ctx context.Context) (SweepReport, error) {
	cfg := m.config()
	rep := SweepReport{ID: uuid.NewString(), StartedAt: m.now()}
	log := m.log.With(logx.String("sweep_id", rep.ID))

	m.bus.Publish(eventbus.Event{Type: eventbus.TypeSweepStarted, Time: rep.StartedAt, Data: rep.ID})

	err := m.sweepPages(ctx, cfg, &rep, log)
	rep.FinishedAt = m.now()
	rep.Duration = rep.FinishedAt.Sub(rep.StartedAt)

	if err != nil && !rep.Truncated {
		return rep, err
	}

	metrics.RecordSweep(rep.Truncated, rep.Duration, rep.FinishedAt)
	m.mu.Lock()
	r := rep
	m.last = &r
	m.mu.Unlock()
	m.bus.Publish(eventbus.Event{Type: eventbus.TypeSweepFinished, Time: rep.FinishedAt, Data: rep})

	fields := []logx.Field{
		logx.Int("pages", rep.Pages),
		logx.Int("entries", rep.Entries),
		logx.Int("new", len(rep.NewIDs)),
		logx.Duration("took", rep.Duration),
		logx.String("next", cfg.Schedule.String()),
	}
	if rep.Truncated {
		log.Warn("sweep truncated", append(fields, logx.String("error", rep.Err))...)
	} else {
		log.Info("sweep complete", fields...)
	}
	return rep, nil
}

func (m *Monitor) sweepPages(ctx context.Context, cfg Config, rep *SweepReport, log logx.Logger) error {
	for page := 0; page < cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := m.fetch.FetchPage(ctx, page, cfg.PageSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("page fetch failed, abandoning sweep", logx.Int("page", page), logx.Err(err))
			m.bus.Publish(eventbus.Event{Type: eventbus.TypePageFailed, Time: m.now(), Data: PageFailure{SweepID: rep.ID, Page: page, Error: err.Error()}})
			rep.Truncated = true
			rep.Err = err.Error()
			return err
		}
		rep.Pages++
		rep.Entries += len(res.Entries)

		if err := m.diffPage(ctx, cfg, page, res, rep, log); err != nil {
			return err
		}
		if !res.HasNextPage {
			return nil
		}
	}
	log.Warn("sweep stopped at page cap", logx.Int("max_pages", cfg.MaxPages))
	return nil
}

func (m *Monitor) diffPage(ctx context.Context, cfg Config, page int, res catalog.PageResult, rep *SweepReport, log logx.Logger) error {
	for _, entry := range res.Entries {
		for _, o := range entry.Origins {
			if m.seen.Contains(o.ID) {
				continue
			}

			text := FormatMessage(entry, o.ID, cfg.DetailURLBase)
			log.Info("new service listed", logx.String("id", o.ID), logx.String("title", o.Title), logx.Int("page", page))
			log.Debug("new service entry", logx.String("id", o.ID), logx.Any("entry", entry.Raw))

			if m.notify != nil {
				err := m.notify.NotifyWait(ctx, notifier.Notification{Key: o.ID, Text: text})
				switch {
				case err == nil, errors.Is(err, notifier.ErrDisabled):
				case ctx.Err() != nil:
					return ctx.Err()
				default:
					// left unseen so the next sweep offers it again
					log.Warn("notification not queued", logx.String("id", o.ID), logx.Err(err))
					continue
				}
			}

			if err := m.seen.Append(ctx, o.ID); err != nil {
				log.Error("seen set write failed", logx.String("id", o.ID), logx.Err(err))
				return err
			}
			rep.NewIDs = append(rep.NewIDs, o.ID)
			metrics.OriginsDiscovered.Inc()
			m.bus.Publish(eventbus.Event{Type: eventbus.TypeOriginFound, Time: m.now(), Data: OriginEvent{SweepID: rep.ID, ID: o.ID, Title: o.Title, Page: page}})
		}
	}
	return nil
}
