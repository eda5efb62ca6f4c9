package bus

import (
	"fmt"

	"github.com/auditlens/auditlens/internal/domain"
)

// New creates a new event bus based on configuration.
// For local mode: returns ChannelBus.
// For warehouse mode: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
