// Package chat delivers messages within one established session. The channel
// keeps the local ordered view: append-only, insertion order, deduplicated by
// message id since the realtime transport may redeliver.
package chat

import (
	"context"
	"fmt"
	"log"
	"time"

	"pairgo/backend/internal/models"
	"pairgo/backend/internal/observability"
	"pairgo/backend/internal/storage"
)

// Replier produces a synthetic partner's reply to the last inbound message,
// plus the delay to wait before writing it. Implemented by bot.Factory.
type Replier interface {
	ReplyTo(botID, lastInbound string) (string, time.Duration)
}

// Channel is the messaging view of one session. It is owned by the session
// controller and, like the rest of the local state, only ever touched from
// the controller's loop; the bot reply timer re-enters the loop via post.
type Channel struct {
	store   storage.Storage
	replier Replier
	session *models.Session
	self    *models.Participant
	partner *models.Participant
	post    func(func())

	closed   bool
	seen     map[string]struct{}
	messages []models.Message
}

// NewChannel binds a channel to an established session.
func NewChannel(store storage.Storage, replier Replier, session *models.Session, self, partner *models.Participant, post func(func())) *Channel {
	return &Channel{
		store:   store,
		replier: replier,
		session: session,
		self:    self,
		partner: partner,
		post:    post,
		seen:    make(map[string]struct{}),
	}
}

// Load seeds the local view with the session's persisted history.
func (c *Channel) Load(ctx context.Context) error {
	history, err := c.store.MessagesForSession(ctx, c.session.ID)
	if err != nil {
		return fmt.Errorf("failed to load session history: %w", err)
	}
	for _, m := range history {
		c.absorb(m)
	}
	return nil
}

// Send writes a message authored by self. On failure the message is not
// appended locally and the error is surfaced so the caller can keep the
// draft for resubmission - no silent loss. A successful send to a synthetic
// partner additionally schedules the partner's reply.
func (c *Channel) Send(ctx context.Context, content string, mtype models.MessageType, mediaRef string) (*models.Message, error) {
	if mtype == "" {
		mtype = models.MessageText
	}
	msg := &models.Message{
		SessionID:  c.session.ID,
		SenderID:   c.self.ID,
		SenderName: c.self.DisplayName,
		Content:    content,
		Type:       mtype,
		MediaRef:   mediaRef,
		CreatedAt:  time.Now(),
	}
	if err := c.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("send failed: %w", err)
	}
	c.absorb(*msg)
	countMessage(*msg)

	if c.partner.IsBot() {
		c.scheduleBotReply(content)
	}
	return msg, nil
}

// Greet schedules the synthetic partner's opening line. Called once when a
// session with a synthetic partner is established; the first responder turn
// always draws from the greeting pool regardless of inbound.
func (c *Channel) Greet() {
	c.scheduleBotReply("")
}

// scheduleBotReply asks the replier for the synthetic response and writes it
// after the returned delay as a normal message authored by the partner. From
// the channel's perspective this is just another send.
func (c *Channel) scheduleBotReply(inbound string) {
	text, delay := c.replier.ReplyTo(c.partner.ID, inbound)
	time.AfterFunc(delay, func() {
		c.post(func() {
			if c.closed {
				return
			}
			reply := &models.Message{
				SessionID:  c.session.ID,
				SenderID:   c.partner.ID,
				SenderName: c.partner.DisplayName,
				Content:    text,
				Type:       models.MessageText,
				CreatedAt:  time.Now(),
			}
			if err := c.store.CreateMessage(context.Background(), reply); err != nil {
				log.Printf("ERROR: Synthetic reply write failed for session %s: %v", c.session.ID, err)
				return
			}
			c.absorb(*reply)
			countMessage(*reply)
		})
	})
}

// Deliver feeds a message event from the realtime subscription into the
// local view. Returns true when the message was new, false for duplicates
// and messages belonging to other sessions.
func (c *Channel) Deliver(ev models.MessageEvent) bool {
	if c.closed || ev.Message.SessionID != c.session.ID {
		return false
	}
	if !c.absorb(ev.Message) {
		return false
	}
	countMessage(ev.Message)
	return true
}

// Messages returns a copy of the ordered local view.
func (c *Channel) Messages() []models.Message {
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// SessionID returns the session this channel is bound to.
func (c *Channel) SessionID() string {
	return c.session.ID
}

// Close marks the channel torn down; any timer still in flight becomes a
// no-op.
func (c *Channel) Close() {
	c.closed = true
}

func (c *Channel) absorb(m models.Message) bool {
	if _, dup := c.seen[m.ID]; dup {
		return false
	}
	c.seen[m.ID] = struct{}{}
	c.messages = append(c.messages, m)
	return true
}

// countMessage records a live send or delivery. History re-absorbed on Load
// is deliberately not counted: a reload would otherwise double-count every
// past message.
func countMessage(m models.Message) {
	observability.MessagesTotal.WithLabelValues(string(m.Type)).Inc()
}
