// Package bot produces and retires synthetic participants. At the data-model
// level a synthetic participant is indistinguishable from a human one: it
// lives in the same pool, carries the same fields, and is paired through the
// same session lifecycle. Only the id namespace gives it away to matchmaking.
package bot

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"pairgo/backend/internal/models"
	"pairgo/backend/internal/storage"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var namePool = []string{
	"Misty", "Echo", "Nova", "Drift", "Wren",
	"Sable", "Juniper", "Flint", "Marlow", "Isla",
}

var colorPool = []string{
	"#e74c3c", "#3498db", "#2ecc71", "#9b59b6",
	"#f39c12", "#1abc9c", "#e67e22", "#34495e",
}

var greetingPool = []string{
	"hey there!",
	"hi! how's your day going?",
	"hello hello :)",
	"hey, nice to meet you!",
}

var ackPool = []string{
	"hmm, that's a good question",
	"interesting, tell me more",
	"yeah, I've been wondering about that too",
	"haha, hard to say really",
}

var chatterPool = []string{
	"nice",
	"same here honestly",
	"what else have you been up to?",
	"I was just thinking about that",
	"ha, fair enough",
}

// DelayPolicy bounds the simulated typing delay for each reply class. The
// delay ranges are part of the synthetic participant's contract; tests shrink
// them to keep runs fast.
type DelayPolicy struct {
	GreetingMin, GreetingMax time.Duration
	AckMin, AckMax           time.Duration
	ChatterMin, ChatterMax   time.Duration
}

// DefaultDelays is the production timing policy.
var DefaultDelays = DelayPolicy{
	GreetingMin: 1 * time.Second, GreetingMax: 3 * time.Second,
	AckMin: 2 * time.Second, AckMax: 5 * time.Second,
	ChatterMin: 1500 * time.Millisecond, ChatterMax: 4 * time.Second,
}

// longMessageThreshold is the inbound length above which a reply is drawn
// from the acknowledgment pool.
const longMessageThreshold = 50

// Factory creates and removes synthetic participants in the pool and keeps a
// per-bot responder holding the conversation turn count.
type Factory struct {
	Store  storage.Storage
	Delays DelayPolicy

	mu     sync.Mutex
	active map[string]*Responder
}

// NewFactory constructs a factory with the production delay policy.
func NewFactory(store storage.Storage) *Factory {
	return &Factory{
		Store:  store,
		Delays: DefaultDelays,
		active: make(map[string]*Responder),
	}
}

// Create registers a fresh synthetic participant as available in the pool and
// returns its row. The id is freshly allocated, so the subsequent claim by
// the caller cannot race anyone.
func (f *Factory) Create(ctx context.Context) (*models.Participant, error) {
	p := &models.Participant{
		ID:          models.BotIDPrefix + uuid.New().String(),
		DisplayName: lo.Sample(namePool),
		Color:       lo.Sample(colorPool),
		Status:      models.StatusAvailable,
		LastActive:  time.Now(),
	}
	if err := f.Store.CreateParticipant(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to register synthetic participant: %w", err)
	}

	f.mu.Lock()
	f.active[p.ID] = &Responder{delays: f.Delays}
	f.mu.Unlock()

	log.Printf("Synthetic participant %s (%s) joined the pool", p.ID, p.DisplayName)
	return p, nil
}

// ReplyTo produces the synthetic reply to the last inbound message of the
// given bot's session, together with the delay to wait before writing it.
// Unknown bot ids (e.g. after a snapshot resume) get a fresh responder whose
// greeting turn is considered spent.
func (f *Factory) ReplyTo(botID, lastInbound string) (string, time.Duration) {
	f.mu.Lock()
	r, ok := f.active[botID]
	if !ok {
		r = &Responder{delays: f.Delays, turns: 1}
		f.active[botID] = r
	}
	f.mu.Unlock()
	return r.GenerateResponse(lastInbound)
}

// Remove deletes a synthetic participant from the pool. Must be called when
// a session with it ends: a synthetic participant never goes offline on its
// own.
func (f *Factory) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	delete(f.active, id)
	f.mu.Unlock()

	if !models.IsBotID(id) {
		return fmt.Errorf("refusing to remove non-synthetic participant %s", id)
	}
	if err := f.Store.DeleteParticipant(ctx, id); err != nil {
		return fmt.Errorf("failed to remove synthetic participant %s: %w", id, err)
	}
	return nil
}

// RemoveAll retires every synthetic participant this factory created. Called
// when the human participant's process ends so no synthetic rows leak across
// sessions.
func (f *Factory) RemoveAll(ctx context.Context) error {
	f.mu.Lock()
	ids := lo.Keys(f.active)
	f.active = make(map[string]*Responder)
	f.mu.Unlock()

	var failed []string
	for _, id := range ids {
		if err := f.Store.DeleteParticipant(ctx, id); err != nil {
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to remove synthetic participants: %s", strings.Join(failed, ", "))
	}
	return nil
}

// Responder holds the per-bot conversation state.
type Responder struct {
	mu     sync.Mutex
	turns  int
	delays DelayPolicy
}

// GenerateResponse picks a reply and a typing delay for the last inbound
// message. First turn: greeting. Later turns: acknowledgment when the inbound
// is long or carries a question mark, generic chatter otherwise. Phrase
// selection is uniform within the pool, delay uniform within the range.
func (r *Responder) GenerateResponse(lastInbound string) (string, time.Duration) {
	r.mu.Lock()
	r.turns++
	turn := r.turns
	r.mu.Unlock()

	d := r.delays
	switch {
	case turn == 1:
		return lo.Sample(greetingPool), between(d.GreetingMin, d.GreetingMax)
	case len([]rune(lastInbound)) > longMessageThreshold || strings.Contains(lastInbound, "?"):
		return lo.Sample(ackPool), between(d.AckMin, d.AckMax)
	default:
		return lo.Sample(chatterPool), between(d.ChatterMin, d.ChatterMax)
	}
}

func between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
