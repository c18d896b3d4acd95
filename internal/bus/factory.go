package bus

import (
	"fmt"
	"strings"

	"github.com/ricesearch/greeneval/internal/config"
	"github.com/ricesearch/greeneval/internal/pkg/errors"
	"github.com/ricesearch/greeneval/internal/pkg/logger"
)

// NewBus creates a new Bus instance based on the configuration. When a
// journal path is configured the bus records every published event to it.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	var inner Bus
	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		inner = NewMemoryBus(log)

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeConfiguration, "kafka brokers not configured")
		}

		consumerGroup := cfg.KafkaGroup
		if consumerGroup == "" {
			consumerGroup = "greeneval"
		}

		kb, err := NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: consumerGroup,
			ClientID:      "greeneval-bus",
		}, log)
		if err != nil {
			return nil, err
		}
		inner = kb

	default:
		return nil, errors.New(errors.CodeConfiguration, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}

	if cfg.JournalPath == "" {
		return inner, nil
	}
	journal, err := OpenJournal(cfg.JournalPath)
	if err != nil {
		inner.Close()
		return nil, err
	}
	return NewJournalBus(inner, journal, log), nil
}
