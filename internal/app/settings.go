package app

import (
	"fmt"
	"strings"
	"time"

	"x402watch/internal/catalog"
	"x402watch/internal/config"
	"x402watch/internal/monitor"
	"x402watch/internal/notifier"
	"x402watch/internal/observability/httpserver"
	"x402watch/internal/schedule"
	"x402watch/internal/seen"
	"x402watch/internal/transport"
	"x402watch/internal/transport/telegram"
	"x402watch/pkg/logx"
)

// The map* helpers turn the on-disk config into component configs. They are
// also used to validate a hot-reloaded config before it is committed.

func mapCatalogConfig(cfg *config.Config) (catalog.Config, error) {
	c := cfg.Catalog
	timeout, err := config.ParseDurationOrDefault("catalog.timeout", c.Timeout, 20*time.Second)
	if err != nil {
		return catalog.Config{}, err
	}
	retryBase, err := config.ParseDurationOrDefault("catalog.retry_base", c.RetryBase, 500*time.Millisecond)
	if err != nil {
		return catalog.Config{}, err
	}
	return catalog.Config{
		BaseURL:     c.BaseURL,
		UserAgent:   c.UserAgent,
		Timeout:     timeout,
		MaxAttempts: c.MaxAttempts,
		RetryBase:   retryBase,
		RatePerSec:  c.RatePerSec,
	}, nil
}

func mapSchedule(cfg *config.Config) (schedule.Spec, error) {
	p := cfg.Poll
	if raw := strings.TrimSpace(p.Schedule); raw != "" {
		loc := time.Local
		if tz := strings.TrimSpace(p.Timezone); tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return schedule.Spec{}, fmt.Errorf("poll.timezone: %w", err)
			}
			loc = l
		}
		spec, err := schedule.Parse(raw, loc)
		if err != nil {
			return schedule.Spec{}, fmt.Errorf("poll.schedule: %w", err)
		}
		return spec, nil
	}
	d, err := config.ParseDurationOrDefault("poll.interval", p.Interval, monitor.DefaultInterval)
	if err != nil {
		return schedule.Spec{}, err
	}
	spec, err := schedule.Every(d)
	if err != nil {
		return schedule.Spec{}, fmt.Errorf("poll.interval: %w", err)
	}
	return spec, nil
}

func mapMonitorConfig(cfg *config.Config) (monitor.Config, error) {
	spec, err := mapSchedule(cfg)
	if err != nil {
		return monitor.Config{}, err
	}
	return monitor.Config{
		Schedule:          spec,
		PageSize:          cfg.Poll.PageSize,
		BootstrapPageSize: cfg.Poll.BootstrapPageSize,
		MaxPages:          cfg.Poll.MaxPages,
		DetailURLBase:     cfg.Poll.DetailURLBase,
	}, nil
}

func mapStoreConfig(cfg *config.Config) (seen.Config, error) {
	s := cfg.Store
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	busy, err := config.ParseDurationOrDefault("store.busy_timeout", s.BusyTimeout, time.Second)
	if err != nil {
		return seen.Config{}, err
	}
	switch driver {
	case "", "file", "json", "sqlite", "sqlite3":
		if strings.TrimSpace(s.Path) == "" {
			return seen.Config{}, fmt.Errorf("store.path is required when store.driver=%s", s.Driver)
		}
	case "redis", "postgres", "postgresql", "pgx":
		if strings.TrimSpace(s.URL) == "" {
			return seen.Config{}, fmt.Errorf("store.url is required when store.driver=%s", s.Driver)
		}
	default:
		return seen.Config{}, fmt.Errorf("unknown store.driver: %s", s.Driver)
	}
	return seen.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(s.Path),
		URL:         strings.TrimSpace(s.URL),
		KeyPrefix:   s.KeyPrefix,
		BusyTimeout: busy,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		n = &config.NotifierConfig{Enabled: true}
	}
	if n.QueueSize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	}
	if n.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	}
	base, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 30*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       n.Enabled,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			MinLevel:   l.Alert.MinLevel,
			RatePerSec: l.Alert.RatePerSec,
		},
	}
}

func mapHTTPConfig(cfg *config.Config) (httpserver.Config, error) {
	h := cfg.HTTP
	rt, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 5*time.Second)
	if err != nil {
		return httpserver.Config{}, err
	}
	wt, err := config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, 60*time.Second)
	if err != nil {
		return httpserver.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpserver.Config{}, err
	}
	addr := strings.TrimSpace(h.Addr)
	if addr == "" {
		addr = httpserver.DefaultAddr
	}
	return httpserver.Config{
		Enabled:              h.Enabled,
		Addr:                 addr,
		Token:                h.Token,
		AllowInsecure:        h.AllowInsecure,
		Pprof:                h.Pprof,
		PprofPrefix:          h.PprofPrefix,
		ReadTimeout:          rt,
		WriteTimeout:         wt,
		IdleTimeout:          it,
		MutexProfileFraction: h.MutexProfileFraction,
		BlockProfileRate:     h.BlockProfileRate,
	}, nil
}

// newTelegramSender returns nil when telegram is disabled.
func newTelegramSender(cfg *config.Config, log logx.Logger) (transport.Sender, error) {
	t := cfg.Telegram
	if !t.Enabled {
		return nil, nil
	}
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", t.Timeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	snd, err := telegram.New(telegram.Config{
		Token:   t.Token,
		Target:  transport.ChatTarget{ChatID: t.ChatID, ThreadID: t.ThreadID},
		Timeout: timeout,
		URL:     t.APIURL,
	}, log)
	if err != nil {
		return nil, err
	}
	return snd, nil
}

// validateRuntime checks everything a reload applies, beyond config.Validate.
func validateRuntime(cfg *config.Config) error {
	if _, err := mapMonitorConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStoreConfig(cfg); err != nil {
		return err
	}
	_, err := mapCatalogConfig(cfg)
	return err
}
