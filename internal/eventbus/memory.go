package eventbus

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrClosed is returned when publishing to or subscribing on a closed bus.
var ErrClosed = errors.New("event bus closed")

// MemoryEventBus is an in-process EventBus. Subscribers that fall behind
// lose events rather than block publishers.
type MemoryEventBus struct {
	mu     sync.Mutex
	subs   map[*memorySub]struct{}
	closed bool
}

type memorySub struct {
	pattern string
	ch      chan *Event
}

// NewMemoryEventBus creates an empty in-process bus.
func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{subs: map[*memorySub]struct{}{}}
}

// Publish delivers event to every subscriber whose pattern matches topic.
func (b *MemoryEventBus) Publish(_ context.Context, topic string, event *Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs {
		if !matchTopic(sub.pattern, topic) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe accepts NATS-style patterns: "*" matches one token and a
// trailing ">" matches the rest.
func (b *MemoryEventBus) Subscribe(ctx context.Context, topic string) (<-chan *Event, error) {
	sub := &memorySub{pattern: topic, ch: make(chan *Event, 64)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(sub)
	}()
	return sub.ch, nil
}

func (b *MemoryEventBus) remove(sub *memorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Close ends every subscription.
func (b *MemoryEventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
	return nil
}

func matchTopic(pattern, topic string) bool {
	p := strings.Split(pattern, ".")
	t := strings.Split(topic, ".")
	for i, tok := range p {
		if tok == ">" {
			return len(t) > i
		}
		if i >= len(t) {
			return false
		}
		if tok != "*" && tok != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}
