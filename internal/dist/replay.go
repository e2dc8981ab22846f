package dist

import (
	"context"
	"fmt"
	"time"

	"github.com/ricesearch/rankeval/internal/bus"
	"github.com/ricesearch/rankeval/internal/pkg/errors"
	"github.com/ricesearch/rankeval/internal/pkg/logger"
)

// ReplayRound rebuilds one all-gather round of runID from logged gather
// events, the way a BusGatherer assembled it during the run. Every rank
// must appear in the events; the logs of all ranks may be concatenated.
func ReplayRound(ctx context.Context, events []bus.LoggedEvent, runID string, worldSize int, round string, log *logger.Logger) ([][]byte, error) {
	b := bus.NewMemoryBus(log)
	defer b.Close()

	g, err := NewBusGatherer(ctx, b, runID, worldSize, log)
	if err != nil {
		return nil, err
	}
	if err := bus.Replay(ctx, b, events); err != nil {
		return nil, errors.GatherError("replaying event log", err)
	}
	if !b.DrainTimeout(30 * time.Second) {
		return nil, errors.TimeoutError("replaying event log")
	}

	parts, missing := g.rounds.snapshot(round)
	if len(missing) > 0 {
		return nil, errors.GatherError(fmt.Sprintf("round %s of run %s has no contribution from ranks %v", round, runID, missing), nil)
	}
	return parts, nil
}

// LoggedRuns returns the distinct run ids of the gather contributions in
// events, in order of first appearance.
func LoggedRuns(events []bus.LoggedEvent) []string {
	seen := make(map[string]bool)
	var runs []string
	for _, e := range events {
		if e.Topic != bus.TopicGather {
			continue
		}
		c, err := decodeContribution(e.Event.Payload)
		if err != nil || seen[c.RunID] {
			continue
		}
		seen[c.RunID] = true
		runs = append(runs, c.RunID)
	}
	return runs
}
