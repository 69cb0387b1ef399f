// Package realtime exposes the shared store's insert/update notifications as
// typed event subscriptions. Delivery is at-least-once and possibly
// duplicated; consumers are expected to be idempotent and dedup by row id.
package realtime

import (
	"context"
	"encoding/json"
	"log"

	"pairgo/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// Pub/sub channel names shared between the publishing store and the feed.
const (
	PresenceChannel = "presence:events"
	SessionChannel  = "session:events"
)

// MessageChannel returns the per-session channel messages are published on.
func MessageChannel(sessionID string) string {
	return "chat:events:" + sessionID
}

// Feed is a subscription source of typed store events. Each subscription
// returns a receive channel and a cancel func; cancelling closes the channel.
type Feed interface {
	// Participants streams every participant row write in the pool.
	Participants(ctx context.Context) (<-chan models.ParticipantEvent, func())
	// Sessions streams session inserts where either side is selfID.
	Sessions(ctx context.Context, selfID string) (<-chan models.SessionEvent, func())
	// Messages streams message inserts scoped to one session.
	Messages(ctx context.Context, sessionID string) (<-chan models.MessageEvent, func())
}

// RedisFeed implements Feed over Redis pub/sub.
type RedisFeed struct {
	Redis *redis.Client
}

func NewRedisFeed(rdb *redis.Client) *RedisFeed {
	return &RedisFeed{Redis: rdb}
}

func (f *RedisFeed) Participants(ctx context.Context) (<-chan models.ParticipantEvent, func()) {
	out := make(chan models.ParticipantEvent, 16)
	cancel := pump(ctx, f.Redis, PresenceChannel, out, func(ev models.ParticipantEvent) bool {
		return true
	})
	return out, cancel
}

func (f *RedisFeed) Sessions(ctx context.Context, selfID string) (<-chan models.SessionEvent, func()) {
	out := make(chan models.SessionEvent, 16)
	// The "either side is me" filter is applied here, standing in for the
	// server-side filter expression of the transport.
	cancel := pump(ctx, f.Redis, SessionChannel, out, func(ev models.SessionEvent) bool {
		return ev.Session.Involves(selfID)
	})
	return out, cancel
}

func (f *RedisFeed) Messages(ctx context.Context, sessionID string) (<-chan models.MessageEvent, func()) {
	out := make(chan models.MessageEvent, 16)
	cancel := pump(ctx, f.Redis, MessageChannel(sessionID), out, func(ev models.MessageEvent) bool {
		return ev.Message.SessionID == sessionID
	})
	return out, cancel
}

// pump subscribes to one channel and decodes payloads into typed events until
// the subscription is closed. Events failing the filter or failing to decode
// are dropped; a slow consumer drops events rather than blocking the reader
// (the at-least-once feed makes no effort to buffer unboundedly).
func pump[T any](ctx context.Context, rdb *redis.Client, channel string, out chan T, keep func(T) bool) func() {
	pubsub := rdb.Subscribe(ctx, channel)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev T
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("ERROR: Failed to unmarshal event on %s: %v", channel, err)
				continue
			}
			if !keep(ev) {
				continue
			}
			select {
			case out <- ev:
			default:
				log.Printf("WARNING: Dropping event on %s: subscriber is slow", channel)
			}
		}
	}()
	return func() {
		_ = pubsub.Close()
	}
}
