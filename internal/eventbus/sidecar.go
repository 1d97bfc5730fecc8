package eventbus

import (
	"context"
	"strconv"
	"time"

	"github.com/go-logr/logr"

	"github.com/alexsjones/sidekick/internal/sidecar"
	"github.com/alexsjones/sidekick/internal/wire"
)

var eventTopics = map[string]string{
	"user_audio":            TopicVoiceUserAudio,
	"user_started_speaking": TopicVoiceUserStarted,
	"user_stopped_speaking": TopicVoiceUserStopped,
}

// TopicFor maps a sidecar event to its bus topic.
func TopicFor(m wire.Message) (string, bool) {
	t, ok := eventTopics[m.MessageType()]
	return t, ok
}

// Pump publishes events from a sidecar until ctx is done. Unknown event
// types are logged and skipped.
func Pump(ctx context.Context, bus EventBus, name string, events <-chan wire.Message, log logr.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-events:
			topic, ok := TopicFor(m)
			if !ok {
				log.Info("dropping event without topic", "type", m.MessageType())
				continue
			}
			ev, err := NewEvent(topic, map[string]string{"sidecar": name, "type": m.MessageType()}, m)
			if err != nil {
				log.Error(err, "failed to encode event", "type", m.MessageType())
				continue
			}
			if err := bus.Publish(ctx, topic, ev); err != nil {
				log.Error(err, "failed to publish event", "topic", topic)
			}
		}
	}
}

// lifecycleMetrics publishes a bus event for every sidecar process start.
// Spawned is called under the supervisor lock, so publishing happens on its
// own goroutine.
type lifecycleMetrics struct {
	bus     EventBus
	log     logr.Logger
	timeout time.Duration
}

// LifecycleMetrics returns a sidecar.Metrics that announces spawns and
// respawns on bus. Combine it with other collectors via sidecar.MultiMetrics.
func LifecycleMetrics(bus EventBus, log logr.Logger) sidecar.Metrics {
	return &lifecycleMetrics{bus: bus, log: log, timeout: 5 * time.Second}
}

func (l *lifecycleMetrics) Spawned(name string, respawn bool) {
	topic := TopicSidecarSpawned
	if respawn {
		topic = TopicSidecarRespawned
	}
	meta := map[string]string{"sidecar": name, "respawn": strconv.FormatBool(respawn)}
	ev, err := NewEvent(topic, meta, meta)
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if err := l.bus.Publish(ctx, topic, ev); err != nil {
			l.log.Error(err, "failed to publish lifecycle event", "sidecar", name)
		}
	}()
}

func (l *lifecycleMetrics) Request(string, string, time.Duration, error) {}

func (l *lifecycleMetrics) Event(string, string, bool) {}
