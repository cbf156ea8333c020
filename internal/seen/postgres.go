package seen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"x402watch/pkg/logx"
)

const (
	pgSchema = `CREATE TABLE IF NOT EXISTS seen_origins (
    id  TEXT PRIMARY KEY,
    seq BIGINT NOT NULL
)`
	pgLoad    = `SELECT id FROM seen_origins ORDER BY seq`
	pgAdd     = `INSERT INTO seen_origins (id, seq) SELECT $1, COALESCE(MAX(seq), 0) + 1 FROM seen_origins ON CONFLICT (id) DO NOTHING`
	pgClear   = `DELETE FROM seen_origins`
	pgReplace = `INSERT INTO seen_origins (id, seq) SELECT id, ord FROM unnest($1::text[]) WITH ORDINALITY AS t(id, ord) ON CONFLICT (id) DO NOTHING`
)

// pgDB is the subset of *pgxpool.Pool the backend needs.
type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

type postgresBackend struct {
	db  pgDB
	log logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (*postgresBackend, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("store.url is required for postgres driver")
	}
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	b, err := newPostgresBackend(ctx, pool, log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("postgres store ready")
	return b, nil
}

func newPostgresBackend(ctx context.Context, db pgDB, log logx.Logger) (*postgresBackend, error) {
	if _, err := db.Exec(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return &postgresBackend{db: db, log: log}, nil
}

func (p *postgresBackend) Name() string { return "postgres" }

func (p *postgresBackend) Load(ctx context.Context) ([]string, error) {
	rows, err := p.db.Query(ctx, pgLoad)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *postgresBackend) Add(ctx context.Context, id string) error {
	_, err := p.db.Exec(ctx, pgAdd, id)
	return err
}

func (p *postgresBackend) Replace(ctx context.Context, ids []string) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, pgClear); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if len(ids) > 0 {
		if _, err := tx.Exec(ctx, pgReplace, ids); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *postgresBackend) Close() error {
	p.db.Close()
	return nil
}
