package dist

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ricesearch/rankeval/internal/pkg/errors"
	"github.com/ricesearch/rankeval/internal/pkg/security"
)

// RedisGatherer runs all-gather rounds through a Redis hash per round:
// every rank writes its field once with HSETNX and polls the hash length
// until all ranks are present.
type RedisGatherer struct {
	client       *redis.Client
	runID        string
	prefix       string
	world        int
	ttl          time.Duration // bounds leftovers of abandoned rounds
	pollInterval time.Duration

	mu          sync.Mutex
	contributed map[string]bool // rounds this gatherer wrote to
}

// RedisGathererConfig configures a RedisGatherer.
type RedisGathererConfig struct {
	URL          string
	RunID        string
	WorldSize    int
	TTL          time.Duration
	PollInterval time.Duration
}

// NewRedisGatherer connects to Redis. Returns error if connection fails.
func NewRedisGatherer(cfg RedisGathererConfig) (*RedisGatherer, error) {
	if cfg.WorldSize < 1 {
		return nil, errors.ValidationError("world size must be positive")
	}
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "parsing redis URL", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(errors.CodeUnavailable, "connecting to redis at "+security.MaskURL(cfg.URL), err)
	}

	return &RedisGatherer{
		client:       client,
		runID:        cfg.RunID,
		prefix:       fmt.Sprintf("rankeval:gather:%s:", cfg.RunID),
		world:        cfg.WorldSize,
		ttl:          cfg.TTL,
		pollInterval: cfg.PollInterval,
		contributed:  make(map[string]bool),
	}, nil
}

// AllGather implements Gatherer.
func (g *RedisGatherer) AllGather(ctx context.Context, round string, rank int, payload []byte) ([][]byte, error) {
	if err := checkRank(rank, g.world); err != nil {
		return nil, err
	}
	key := g.prefix + round

	// HSETNX keeps the first contribution of a rank
	var set *redis.BoolCmd
	_, err := g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		set = pipe.HSetNX(ctx, key, strconv.Itoa(rank), payload)
		pipe.Expire(ctx, key, g.ttl)
		return nil
	})
	if err != nil {
		return nil, errors.GatherError(fmt.Sprintf("writing contribution of rank %d", rank), err)
	}

	g.mu.Lock()
	repeated := g.contributed[key]
	g.contributed[key] = true
	g.mu.Unlock()

	// The field of this rank can only exist already if this gatherer wrote
	// it, otherwise an earlier run used the same run id.
	if !set.Val() && !repeated {
		return nil, errors.ValidationError(fmt.Sprintf(
			"run id %q was already used: round %s held an earlier contribution of rank %d", g.runID, round, rank))
	}

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		n, err := g.client.HLen(ctx, key).Result()
		if err != nil && ctx.Err() == nil {
			return nil, errors.GatherError("reading round size", err)
		}
		if err == nil && int(n) >= g.world {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(errors.CodeTimeout, fmt.Sprintf("all-gather round %s timed out", round), ctx.Err())
		case <-ticker.C:
		}
	}

	fields, err := g.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, errors.GatherError("reading round contributions", err)
	}

	out := make([][]byte, g.world)
	for field, value := range fields {
		r, err := strconv.Atoi(field)
		if err != nil || r < 0 || r >= g.world {
			return nil, errors.GatherError(fmt.Sprintf("unexpected field %q in round %s", field, round), err)
		}
		out[r] = []byte(value)
	}
	return out, nil
}

// WorldSize implements Gatherer.
func (g *RedisGatherer) WorldSize() int {
	return g.world
}

// Close closes the Redis connection.
func (g *RedisGatherer) Close() error {
	return g.client.Close()
}
