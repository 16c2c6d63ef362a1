package notifications

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/darkden-lab/herald/internal/config"
)

// NewBroker creates a MessageBroker based on the application configuration.
// If KAFKA_BROKERS is set, it returns a KafkaBroker; otherwise it falls back
// to an InMemoryBroker suitable for single-node deployments.
func NewBroker(cfg *config.Config, log zerolog.Logger) (MessageBroker, error) {
	if cfg.KafkaBrokers != "" {
		var brokers []string
		for _, b := range strings.Split(cfg.KafkaBrokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		log.Info().Strs("brokers", brokers).Str("group", cfg.KafkaConsumerGroup).Msg("notifications: using KafkaBroker")
		return NewKafkaBroker(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		}, log)
	}

	log.Info().Msg("notifications: using InMemoryBroker (KAFKA_BROKERS not set)")
	return NewInMemoryBroker(), nil
}
