package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1m").
// String values may reference environment variables as ${NAME}.
type Config struct {
	Catalog  CatalogConfig   `json:"catalog"`
	Poll     PollConfig      `json:"poll"`
	Store    StoreConfig     `json:"store"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Telegram TelegramConfig  `json:"telegram"`
	Logging  LoggingConfig   `json:"logging"`
	HTTP     HTTPConfig      `json:"http"`
}

// CatalogConfig controls the upstream catalog client. Changes need a restart.
type CatalogConfig struct {
	BaseURL     string  `json:"base_url,omitempty"`
	Timeout     string  `json:"timeout,omitempty"`
	MaxAttempts int     `json:"max_attempts,omitempty"`
	RetryBase   string  `json:"retry_base,omitempty"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
	UserAgent   string  `json:"user_agent,omitempty"`
}

// PollConfig controls the sweep cadence and page sizes.
//
// Schedule, when set, overrides Interval and accepts the forms understood by
// schedule.Parse ("*/1 * * * *", "@every 45s", "00:05", "30s").
type PollConfig struct {
	Interval          string `json:"interval,omitempty"`
	Schedule          string `json:"schedule,omitempty"`
	Timezone          string `json:"timezone,omitempty"`
	PageSize          int    `json:"page_size,omitempty"`
	BootstrapPageSize int    `json:"bootstrap_page_size,omitempty"`
	MaxPages          int    `json:"max_pages,omitempty"`
	DetailURLBase     string `json:"detail_url_base,omitempty"`
}

// StoreConfig selects the seen-set backend. Changes need a restart.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./x402watch.db" }
type StoreConfig struct {
	Driver      string `json:"driver,omitempty"` // file | sqlite | redis | postgres
	Path        string `json:"path,omitempty"`
	URL         string `json:"url,omitempty"` // DSN, do not log
	KeyPrefix   string `json:"key_prefix,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// NotifierConfig controls the async notification pipeline.
// If the whole section is omitted, the notifier is enabled with defaults.
type NotifierConfig struct {
	Enabled       bool    `json:"enabled"`
	QueueSize     int     `json:"queue_size,omitempty"`
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	RetryMax      int     `json:"retry_max,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingAlert forwards error records to the notification sinks.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// HTTPConfig controls the optional debug server (/metrics, /healthz, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9402").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	PprofPrefix   string `json:"pprof_prefix,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
