// Package eventbus provides an abstraction over the event bus (NATS JetStream)
// that carries sidecar events out of the daemon.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event represents a message on the event bus.
type Event struct {
	// Topic is the event topic (e.g., "voice.user.audio").
	Topic string `json:"topic"`

	// Timestamp when the event was published.
	Timestamp time.Time `json:"timestamp"`

	// Metadata contains key-value metadata.
	Metadata map[string]string `json:"metadata"`

	// Data is the event payload.
	Data json.RawMessage `json:"data"`
}

// EventBus defines the interface for the event bus.
type EventBus interface {
	// Publish sends an event to the bus.
	Publish(ctx context.Context, topic string, event *Event) error

	// Subscribe returns a channel that receives events for the given topic.
	// The channel closes when ctx is done.
	Subscribe(ctx context.Context, topic string) (<-chan *Event, error)

	// Close shuts down the event bus connection.
	Close() error
}

// Topics published by the daemon.
const (
	TopicVoiceUserAudio   = "voice.user.audio"
	TopicVoiceUserStarted = "voice.user.started"
	TopicVoiceUserStopped = "voice.user.stopped"
	TopicSidecarSpawned   = "sidecar.spawned"
	TopicSidecarRespawned = "sidecar.respawned"
)

// TopicAll subscribes to every topic.
const TopicAll = ">"

// AllTopics lists every topic the daemon publishes.
var AllTopics = []string{
	TopicVoiceUserAudio,
	TopicVoiceUserStarted,
	TopicVoiceUserStopped,
	TopicSidecarSpawned,
	TopicSidecarRespawned,
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(topic string, metadata map[string]string, data interface{}) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshalling event data: %w", err)
	}
	return &Event{
		Topic:     topic,
		Timestamp: time.Now(),
		Metadata:  metadata,
		Data:      raw,
	}, nil
}

// Open connects to the NATS server at url, or returns an in-process bus when
// url is empty.
func Open(url string) (EventBus, error) {
	if url == "" {
		return NewMemoryEventBus(), nil
	}
	return NewNATSEventBus(url)
}
