package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (local mode) or NATS (warehouse mode).
// All methods take the dataset scope so datasets never cross streams.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, dataset string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, dataset string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, dataset string, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Dataset   string            `json:"dataset"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type" yaml:"type"`

	// Channel settings (local mode)
	ChannelBufferSize int `json:"channelBufferSize" yaml:"channel_buffer_size"`

	// NATS settings (warehouse mode)
	NATSUrl           string `json:"natsUrl" yaml:"nats_url"`
	NATSToken         string `json:"natsToken" yaml:"nats_token"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"nats_max_reconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"nats_reconnect_wait"` // seconds
}

// Standard topic names for the scoring pipeline. The bus namespaces topics
// per dataset, so these carry no global prefix.
const (
	TopicRunRequested      = "run.requested"
	TopicRunStarted        = "run.started"
	TopicRunCompleted      = "run.completed"
	TopicRunFailed         = "run.failed"
	TopicContractsIngested = "contracts.ingested"
	TopicDriftAlert        = "drift.alert"
)

// RunRequest is the payload of TopicRunRequested.
type RunRequest struct {
	RunID   string `json:"runId"`
	Dataset string `json:"dataset"`
}

// RunEvent is the payload of run lifecycle topics.
type RunEvent struct {
	RunID   string    `json:"runId"`
	Dataset string    `json:"dataset"`
	Status  RunStatus `json:"status"`
	Scored  int       `json:"scored"`
	Error   string    `json:"error,omitempty"`
}

// DriftAlert is the payload of TopicDriftAlert, published when any feature
// crosses the retrain threshold.
type DriftAlert struct {
	RunID    string         `json:"runId"`
	Dataset  string         `json:"dataset"`
	Features []FeatureDrift `json:"features"`
}

// IngestEvent is the payload of TopicContractsIngested.
type IngestEvent struct {
	Dataset   string `json:"dataset"`
	Contracts int    `json:"contracts"`
	Skipped   int    `json:"skipped"`
}
