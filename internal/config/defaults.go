package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL           = "https://www.x402scan.com"
	DefaultDetailURLBase     = "https://www.x402scan.com/server"
	DefaultInterval          = "30s"
	DefaultPageSize          = 500
	DefaultBootstrapPageSize = 10000
	DefaultMaxPages          = 1000
	DefaultStorePath         = "x402_services_cache.json"
	DefaultHTTPAddr          = "127.0.0.1:9402"
)

// ApplyDefaults fills omitted fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	c := &cfg.Catalog
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == "" {
		c.Timeout = "20s"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}

	p := &cfg.Poll
	if p.Interval == "" {
		p.Interval = DefaultInterval
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.BootstrapPageSize <= 0 {
		p.BootstrapPageSize = DefaultBootstrapPageSize
	}
	if p.MaxPages <= 0 {
		p.MaxPages = DefaultMaxPages
	}
	if strings.TrimSpace(p.DetailURLBase) == "" {
		p.DetailURLBase = DefaultDetailURLBase
	}

	s := &cfg.Store
	if strings.TrimSpace(s.Driver) == "" {
		s.Driver = "file"
	}
	if s.Path == "" && (s.Driver == "file" || s.Driver == "json") {
		s.Path = DefaultStorePath
	}

	if cfg.Notifier == nil {
		cfg.Notifier = &NotifierConfig{Enabled: true}
	}
	n := cfg.Notifier
	if n.QueueSize <= 0 {
		n.QueueSize = 256
	}
	if n.RatePerSec <= 0 {
		n.RatePerSec = 1
	}
	if n.RetryBase == "" {
		n.RetryBase = "1s"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
}

// Validate checks a defaulted config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if u, err := url.Parse(cfg.Catalog.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add(fmt.Errorf("catalog.base_url: invalid URL %q", cfg.Catalog.BaseURL))
	}
	add(durationErr("catalog.timeout", cfg.Catalog.Timeout))
	add(durationErr("catalog.retry_base", cfg.Catalog.RetryBase))
	if cfg.Catalog.RatePerSec < 0 {
		add(errors.New("catalog.rate_per_sec: must be >= 0"))
	}

	if strings.TrimSpace(cfg.Poll.Schedule) == "" {
		d, err := ParseDurationField("poll.interval", cfg.Poll.Interval)
		add(err)
		if err == nil && d <= 0 {
			add(errors.New("poll.interval: must be > 0"))
		}
	}
	if tz := strings.TrimSpace(cfg.Poll.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("poll.timezone: %w", err))
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Store.Driver)) {
	case "file", "json", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Store.Path) == "" {
			add(errors.New("store.path: required for driver " + cfg.Store.Driver))
		}
	case "redis", "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Store.URL) == "" {
			add(errors.New("store.url: required for driver " + cfg.Store.Driver))
		}
	default:
		add(fmt.Errorf("store.driver: unknown driver %q", cfg.Store.Driver))
	}
	add(durationErr("store.busy_timeout", cfg.Store.BusyTimeout))

	if n := cfg.Notifier; n != nil {
		if n.RetryMax < 0 {
			add(errors.New("notifier.retry_max: must be >= 0"))
		}
		add(durationErr("notifier.retry_base", n.RetryBase))
		add(durationErr("notifier.retry_max_delay", n.RetryMaxDelay))
	}

	if cfg.Telegram.Enabled {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			add(errors.New("telegram.token: required when telegram is enabled"))
		}
		if cfg.Telegram.ChatID == 0 {
			add(errors.New("telegram.chat_id: required when telegram is enabled"))
		}
	}
	add(durationErr("telegram.timeout", cfg.Telegram.Timeout))

	add(durationErr("http.read_timeout", cfg.HTTP.ReadTimeout))
	add(durationErr("http.write_timeout", cfg.HTTP.WriteTimeout))
	add(durationErr("http.idle_timeout", cfg.HTTP.IdleTimeout))

	return errors.Join(errs...)
}

func durationErr(path, raw string) error {
	_, err := ParseDurationField(path, raw)
	return err
}
