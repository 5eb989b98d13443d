package events

import (
	"context"
	"time"
)

// QueueConfig defines configuration for a queue using Frame primitives.
// Queue URIs support multiple backends: mem://, nats://, kafka://
type QueueConfig struct {
	// Name is the queue/topic name used for registration.
	Name string `json:"name"`

	// URI is the queue connection URI.
	URI string `json:"uri"`

	// RetentionDuration is how long to retain messages.
	RetentionDuration time.Duration `json:"retention_duration"`

	Description string `json:"description,omitempty"`
}

// Queue names used by the analyzer.
const (
	QueueAnalysisRequests = "requirements.analysis.requests"
	QueueAnalysisResults  = "requirements.analysis.results"
)

// DefaultQueueConfigs returns the default in-memory queue configurations.
func DefaultQueueConfigs() []QueueConfig {
	return []QueueConfig{
		{
			Name:              QueueAnalysisRequests,
			URI:               "mem://" + QueueAnalysisRequests,
			RetentionDuration: 24 * time.Hour,
			Description:       "Incoming asynchronous analysis requests",
		},
		{
			Name:              QueueAnalysisResults,
			URI:               "mem://" + QueueAnalysisResults,
			RetentionDuration: 7 * 24 * time.Hour,
			Description:       "Completed analysis and forward events",
		},
	}
}

// FrameQueueHandler defines the interface for Frame queue subscribers.
type FrameQueueHandler interface {
	// Handle processes an incoming queue message.
	Handle(ctx context.Context, headers map[string]string, payload []byte) error
}

// QueuePublisher publishes payloads to a named queue.
type QueuePublisher interface {
	Publish(ctx context.Context, queueName string, payload any, headers ...map[string]string) error
}
