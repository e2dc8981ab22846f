package bus

import (
	"fmt"
	"strings"

	"github.com/ricesearch/rankeval/internal/config"
	"github.com/ricesearch/rankeval/internal/pkg/errors"
	"github.com/ricesearch/rankeval/internal/pkg/logger"
)

// NewBus creates the bus a rank uses to reach the other ranks. Each rank
// consumes with its own Kafka consumer group so that every rank receives
// every contribution.
func NewBus(cfg config.DistConfig, log *logger.Logger) (Bus, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory", "":
		return NewMemoryBus(log), nil

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}

		group := cfg.KafkaGroup
		if group == "" {
			group = "rankeval"
		}

		return NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: fmt.Sprintf("%s-%s-rank-%d", group, cfg.RunID, cfg.Rank),
			ClientID:      fmt.Sprintf("rankeval-rank-%d", cfg.Rank),
			FromOldest:    true,
			Logger:        log,
		})

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus backend: %s", cfg.Backend))
	}
}
