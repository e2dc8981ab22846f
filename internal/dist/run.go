package dist

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ricesearch/rankeval/internal/bus"
	"github.com/ricesearch/rankeval/internal/config"
	"github.com/ricesearch/rankeval/internal/pkg/errors"
	"github.com/ricesearch/rankeval/internal/pkg/logger"
)

// RankFunc is the body of one simulated rank.
type RankFunc func(ctx context.Context, rank int, g Gatherer) error

// RunLocal runs worldSize ranks as goroutines of this process, connected by
// one in-process barrier. The first failing rank cancels the others.
func RunLocal(ctx context.Context, worldSize int, fn RankFunc) error {
	return runRanks(ctx, NewLocalGatherer(worldSize), fn)
}

// RunOverBus is RunLocal with the ranks connected through b, which the
// caller owns.
func RunOverBus(ctx context.Context, b bus.Bus, runID string, worldSize int, log *logger.Logger, fn RankFunc) error {
	g, err := NewBusGatherer(ctx, b, runID, worldSize, log)
	if err != nil {
		return err
	}
	return runRanks(ctx, g, fn)
}

func runRanks(ctx context.Context, g Gatherer, fn RankFunc) error {
	eg, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < g.WorldSize(); rank++ {
		rank := rank
		eg.Go(func() error {
			return fn(ctx, rank, g)
		})
	}
	return eg.Wait()
}

// NewGatherer connects this process, one rank of a multi-process run, to
// the other ranks. It returns nil for a single-process run. wrap, when not
// nil, decorates the Kafka bus before the gatherer uses it.
func NewGatherer(ctx context.Context, cfg config.DistConfig, log *logger.Logger, wrap func(bus.Bus) bus.Bus) (Gatherer, error) {
	if cfg.WorldSize <= 1 {
		return nil, nil
	}

	switch strings.ToLower(cfg.Backend) {
	case "kafka":
		b, err := bus.NewBus(cfg, log)
		if err != nil {
			return nil, err
		}
		if wrap != nil {
			b = wrap(b)
		}
		g, err := NewBusGatherer(ctx, b, cfg.RunID, cfg.WorldSize, log)
		if err != nil {
			b.Close()
			return nil, err
		}
		g.owned = true
		return g, nil

	case "redis":
		return NewRedisGatherer(RedisGathererConfig{
			URL:       cfg.RedisURL,
			RunID:     cfg.RunID,
			WorldSize: cfg.WorldSize,
		})

	case "memory", "":
		return nil, errors.ValidationError("the memory backend only connects ranks running in one process")

	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown dist backend: %s", cfg.Backend))
	}
}
