package dist

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ricesearch/rankeval/internal/bus"
	"github.com/ricesearch/rankeval/internal/pkg/errors"
	"github.com/ricesearch/rankeval/internal/pkg/logger"
)

// contribution is the payload of a gather event.
type contribution struct {
	RunID string `json:"run_id"`
	Round string `json:"round"`
	Rank  int    `json:"rank"`
	Data  []byte `json:"data"`
}

// BusGatherer runs all-gather rounds over an event bus. Every rank publishes
// its contribution on bus.TopicGather and collects the contributions of the
// other ranks from the same topic.
type BusGatherer struct {
	bus    bus.Bus
	runID  string
	rounds *roundSet
	log    *logger.Logger
	owned  bool // Close closes bus

	mu        sync.Mutex
	published map[string]bool // ids of the events this gatherer sent
}

// NewBusGatherer subscribes to the gather topic. runID separates concurrent
// runs sharing a broker.
func NewBusGatherer(ctx context.Context, b bus.Bus, runID string, worldSize int, log *logger.Logger) (*BusGatherer, error) {
	if worldSize < 1 {
		return nil, errors.ValidationError("world size must be positive")
	}
	if log == nil {
		log = logger.Discard()
	}

	g := &BusGatherer{
		bus:       b,
		runID:     runID,
		rounds:    newRoundSet(worldSize),
		log:       log,
		published: make(map[string]bool),
	}

	if err := b.Subscribe(ctx, bus.TopicGather, g.handle); err != nil {
		return nil, errors.GatherError("subscribing to gather topic", err)
	}
	return g, nil
}

func (g *BusGatherer) handle(ctx context.Context, event bus.Event) error {
	c, err := decodeContribution(event.Payload)
	if err != nil {
		return err
	}
	if c.RunID != g.runID {
		return nil
	}
	if !g.rounds.addFrom(c.Round, c.Rank, event.ID, c.Data) {
		g.log.Warn("Dropping contribution from unknown rank", "round", c.Round, "rank", c.Rank)
	}
	return nil
}

// decodeContribution accepts the payload as published in-process or as the
// generic JSON value an external broker hands back.
func decodeContribution(payload any) (contribution, error) {
	if c, ok := payload.(contribution); ok {
		return c, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return contribution{}, errors.GatherError("re-encoding gather payload", err)
	}
	var c contribution
	if err := json.Unmarshal(raw, &c); err != nil {
		return contribution{}, errors.GatherError("decoding gather payload", err)
	}
	return c, nil
}

// AllGather implements Gatherer.
func (g *BusGatherer) AllGather(ctx context.Context, round string, rank int, payload []byte) ([][]byte, error) {
	if err := checkRank(rank, g.rounds.world); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	g.mu.Lock()
	g.published[id] = true
	g.mu.Unlock()

	event := bus.Event{
		ID:            id,
		Type:          "gather.contribution",
		Source:        strconv.Itoa(rank),
		Timestamp:     time.Now().UnixMilli(),
		CorrelationID: fmt.Sprintf("%s/%s", g.runID, round),
		Payload: contribution{
			RunID: g.runID,
			Round: round,
			Rank:  rank,
			Data:  payload,
		},
	}
	if err := g.bus.Publish(ctx, bus.TopicGather, event); err != nil {
		return nil, errors.GatherError(fmt.Sprintf("publishing contribution of rank %d", rank), err)
	}

	parts, from, err := g.rounds.wait(ctx, round, rank)
	if err != nil {
		return nil, err
	}

	// The part of this rank must be one this gatherer sent. Anything else
	// was left on the topic by an earlier run with the same run id.
	g.mu.Lock()
	own := g.published[from]
	g.mu.Unlock()
	if !own {
		return nil, errors.ValidationError(fmt.Sprintf(
			"run id %q was already used: round %s held an earlier contribution of rank %d", g.runID, round, rank))
	}
	return parts, nil
}

// WorldSize implements Gatherer.
func (g *BusGatherer) WorldSize() int {
	return g.rounds.world
}

// Close closes the underlying bus when the gatherer created it. A bus
// shared by simulated ranks is closed by its owner.
func (g *BusGatherer) Close() error {
	if !g.owned {
		return nil
	}
	return g.bus.Close()
}
