// ABOUTME: Redis pub/sub relay that fans broadcaster events out to every gateway process
// ABOUTME: Each process subscribes once and delivers relayed events to its own connections

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/taskboard-gateway/internal/rooms"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "taskboard:events"

// reconnectDelay is the pause between a dropped subscription and the next attempt.
const reconnectDelay = time.Second

// NewClient parses a redis:// or rediss:// URL and returns a client.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Redis implements rooms.Relay over a Redis pub/sub channel.
type Redis struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

// New creates a relay on the given channel. Pass nil logger for default.
func New(client redis.UniversalClient, channel string, logger *slog.Logger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "relay"),
	}
}

// Publish sends ev to every subscribed process, this one included.
func (r *Redis) Publish(ctx context.Context, ev *rooms.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding relayed event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", r.channel, err)
	}
	return nil
}

// Run subscribes to the relay channel and calls deliver for every event
// until ctx is cancelled. A dropped subscription is retried after
// reconnectDelay; malformed messages are logged and skipped.
func (r *Redis) Run(ctx context.Context, deliver func(*rooms.Event)) {
	for {
		r.subscribeOnce(ctx, deliver)
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("relay subscription closed, reconnecting", "channel", r.channel)
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (r *Redis) subscribeOnce(ctx context.Context, deliver func(*rooms.Event)) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription confirmation so events published after
	// Run starts are not missed.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("relay subscribe failed", "channel", r.channel, "error", err)
		}
		return
	}
	r.logger.Info("relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev rooms.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn("dropping malformed relayed event", "error", err)
				continue
			}
			if _, err := rooms.ParseChannel(string(ev.Channel)); err != nil {
				r.logger.Warn("dropping relayed event", "event", ev.Name, "error", err)
				continue
			}
			deliver(&ev)
		}
	}
}

// Compile-time check that Redis implements rooms.Relay
var _ rooms.Relay = (*Redis)(nil)
