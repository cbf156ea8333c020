package seen

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPersist means an id could not be written after all attempts. The id
	// is not recorded in memory either.
	ErrPersist = errors.New("seen: persist failed")

	ErrClosed = errors.New("seen: backend closed")
)

const DefaultPath = "x402_services_cache.json"

// Config selects and configures a backend.
type Config struct {
	Driver      string
	Path        string // file, sqlite
	URL         string // redis, postgres
	KeyPrefix   string // redis
	BusyTimeout time.Duration
}

// Backend is durable storage for an insertion-ordered id set.
//
// Add must be idempotent. Replace swaps the whole content atomically where
// the storage allows it.
type Backend interface {
	Name() string
	Load(ctx context.Context) ([]string, error)
	Add(ctx context.Context, id string) error
	Replace(ctx context.Context, ids []string) error
	Close() error
}
