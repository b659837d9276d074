// ABOUTME: Fan-out of state-change events to every connection in a channel
// ABOUTME: Non-blocking enqueue per member, serialized so each channel keeps FIFO order

package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/taskboard-gateway/internal/metrics"
)

// Event names emitted by the mutation paths.
const (
	EventTaskAdded         = "task-added"
	EventTaskUpdated       = "task-updated"
	EventTaskDeleted       = "task-deleted"
	EventTaskMoved         = "task-moved"
	EventNotificationAdded = "notification-added"
)

// Event is one fire-and-forget broadcast. Data is marshaled once at publish
// time and shared by every recipient.
type Event struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Channel ChannelID       `json:"channel"`
	Data    json.RawMessage `json:"data"`
	At      time.Time       `json:"at"`
}

// Sink is a connection's outbound queue. Enqueue must not block; it returns
// false when the event could not be queued.
type Sink interface {
	Enqueue(ev *Event) bool
}

// SinkLookup resolves a connection id to its Sink.
type SinkLookup interface {
	Sink(connID string) (Sink, bool)
}

// Relay forwards events to every gateway process, including this one.
// When configured, local delivery happens when the relay hands the event back.
type Relay interface {
	Publish(ctx context.Context, ev *Event) error
}

// Broadcaster delivers events to the current members of a channel.
type Broadcaster struct {
	registry *Registry
	sinks    SinkLookup
	relay    Relay
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// mu serializes deliveries so two events published to one channel are
	// enqueued in the same order on every member's queue.
	mu sync.Mutex
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithRelay routes published events through a cross-process relay.
func WithRelay(r Relay) Option {
	return func(b *Broadcaster) { b.relay = r }
}

// WithMetrics records publish, deliver and drop counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(registry *Registry, sinks SinkLookup, logger *slog.Logger, opts ...Option) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broadcaster{
		registry: registry,
		sinks:    sinks,
		logger:   logger.With("component", "broadcaster"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish marshals payload and sends it to every member of ch. Delivery
// problems are logged and counted, never returned; the error only reports a
// payload that cannot be encoded.
func (b *Broadcaster) Publish(ctx context.Context, ch ChannelID, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", name, err)
	}

	ev := &Event{
		ID:      uuid.NewString(),
		Name:    name,
		Channel: ch,
		Data:    data,
		At:      time.Now().UTC(),
	}
	b.metrics.EventPublished(name)

	if b.relay != nil {
		err := b.relay.Publish(ctx, ev)
		if err == nil {
			return nil
		}
		// Local members still get the event when the relay is down. It may
		// overtake earlier events to ch that are still in flight through the
		// relay, so per-channel order holds only while the relay is healthy.
		b.logger.Warn("relay publish failed, delivering locally",
			"event", name, "channel", ch, "error", err)
	}

	b.Deliver(ev)
	return nil
}

// Deliver enqueues ev on the outbound queue of every current member of its
// channel and returns how many accepted it. A full queue drops the event for
// that member only.
func (b *Broadcaster) Deliver(ev *Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	members := b.registry.MembersOf(ev.Channel)
	delivered := 0
	for _, connID := range members {
		sink, ok := b.sinks.Sink(connID)
		if !ok {
			b.metrics.EventDropped("gone")
			continue
		}
		if !sink.Enqueue(ev) {
			b.metrics.EventDropped("queue_full")
			b.logger.Warn("dropped event for slow connection",
				"conn_id", connID,
				"event", ev.Name,
				"channel", ev.Channel)
			continue
		}
		b.metrics.EventDelivered()
		delivered++
	}

	b.logger.Debug("event delivered",
		"event", ev.Name,
		"channel", ev.Channel,
		"members", len(members),
		"delivered", delivered)
	return delivered
}
