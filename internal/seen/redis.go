package seen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"x402watch/pkg/logx"
)

const (
	defaultKeyPrefix = "x402watch"
	replaceChunk     = 1000
)

// addScript inserts ARGV[1] with the next sequence number unless present.
var addScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  return 0
end
local seq = redis.call('INCR', KEYS[2])
return redis.call('ZADD', KEYS[1], 'NX', seq, ARGV[1])
`)

// redisBackend keeps ids in a sorted set scored by insertion sequence.
type redisBackend struct {
	client *redis.Client
	setKey string
	seqKey string
	log    logx.Logger
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (*redisBackend, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("store.url is required for redis driver")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	b := newRedisBackend(client, cfg.KeyPrefix, log)
	log.Info("redis store ready", logx.String("addr", opts.Addr), logx.String("key", b.setKey))
	return b, nil
}

func newRedisBackend(client *redis.Client, prefix string, log logx.Logger) *redisBackend {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &redisBackend{
		client: client,
		setKey: prefix + ":seen",
		seqKey: prefix + ":seen:seq",
		log:    log,
	}
}

func (r *redisBackend) Name() string { return "redis" }

func (r *redisBackend) Load(ctx context.Context) ([]string, error) {
	ids, err := r.client.ZRange(ctx, r.setKey, 0, -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return ids, err
}

func (r *redisBackend) Add(ctx context.Context, id string) error {
	return addScript.Run(ctx, r.client, []string{r.setKey, r.seqKey}, id).Err()
}

// Replace swaps the set inside one MULTI/EXEC transaction.
func (r *redisBackend) Replace(ctx context.Context, ids []string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.setKey, r.seqKey)
		for start := 0; start < len(ids); start += replaceChunk {
			end := min(start+replaceChunk, len(ids))
			members := make([]redis.Z, 0, end-start)
			for i := start; i < end; i++ {
				members = append(members, redis.Z{Score: float64(i + 1), Member: ids[i]})
			}
			pipe.ZAddNX(ctx, r.setKey, members...)
		}
		pipe.Set(ctx, r.seqKey, len(ids), 0)
		return nil
	})
	return err
}

func (r *redisBackend) Close() error {
	return r.client.Close()
}
