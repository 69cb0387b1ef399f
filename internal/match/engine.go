// Package match converts "I want a partner" into exactly one session without
// ever double-assigning a candidate. The claim protocol is the single hardest
// correctness requirement in the system: a candidate is assigned only if the
// available->matched transition succeeds as a conditional write; a zero-row
// update means someone else won the race and the next candidate is tried.
package match

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"pairgo/backend/internal/bot"
	"pairgo/backend/internal/models"
	"pairgo/backend/internal/observability"
	"pairgo/backend/internal/storage"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Result is a formed pairing: the created session plus the claimed partner.
type Result struct {
	Session *models.Session
	Partner *models.Participant
}

// Engine performs candidate claiming and the synthetic fallback, and drives
// the periodic search retry.
type Engine struct {
	store storage.Storage
	bots  *bot.Factory

	freshness time.Duration
	batch     int
	retry     time.Duration
	post      func(func())

	stopSearch chan struct{}
}

// NewEngine constructs a matchmaking engine. post schedules a func onto the
// owning controller's loop; the search ticker uses it so retries never run
// off-loop.
func NewEngine(store storage.Storage, bots *bot.Factory, freshness time.Duration, batch int, retry time.Duration, post func(func())) *Engine {
	return &Engine{
		store:     store,
		bots:      bots,
		freshness: freshness,
		batch:     batch,
		retry:     retry,
		post:      post,
	}
}

// FindMatch tries to claim a human candidate and, failing that, materializes
// a synthetic partner. It is a no-op (nil, nil) when the caller already has a
// session. A nil Result with nil error also means the caller itself was
// claimed mid-flight; the session formed by the winning searcher arrives
// through the event feed.
func (e *Engine) FindMatch(ctx context.Context, self *models.Participant, hasSession bool) (*Result, error) {
	if hasSession {
		return nil, nil
	}

	cutoff := time.Now().Add(-e.freshness)
	candidates, err := e.store.ListCandidates(ctx, self.ID, cutoff, e.batch)
	if err != nil {
		return nil, fmt.Errorf("candidate query failed: %w", err)
	}
	if len(candidates) > 0 {
		log.Printf("Matching %s against candidates: %v", self.ID, lo.Map(candidates,
			func(c models.Participant, _ int) string { return c.ID }))
	}

	for i := range candidates {
		cand := candidates[i]
		res, yielded, err := e.claimPair(ctx, self, &cand)
		if err != nil {
			return nil, err
		}
		if yielded {
			// Our own claim lost: a concurrent searcher matched us and
			// their session will arrive through the event feed.
			return nil, nil
		}
		if res != nil {
			observability.MatchesTotal.WithLabelValues("human").Inc()
			return res, nil
		}
		// Candidate claim lost, try the next one.
	}

	// Every candidate claim lost (or the batch was empty): fall back to a
	// synthetic partner. The fresh id cannot be contended, so this path is
	// guaranteed to produce a session.
	return e.syntheticFallback(ctx, self)
}

// claimPair attempts the double claim: candidate first, then self. A lost
// candidate claim returns (nil, false, nil) and the caller moves on. A lost
// self claim releases the candidate and reports yielded=true - somebody
// matched us already.
func (e *Engine) claimPair(ctx context.Context, self, cand *models.Participant) (*Result, bool, error) {
	if err := e.store.ClaimParticipant(ctx, cand.ID, models.StatusAvailable, models.StatusMatched); err != nil {
		if errors.Is(err, storage.ErrClaimConflict) {
			observability.ClaimConflictsTotal.Inc()
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("candidate claim failed: %w", err)
	}

	if err := e.store.ClaimParticipant(ctx, self.ID, models.StatusAvailable, models.StatusMatched); err != nil {
		// Whatever happened, the candidate must not stay claimed by a
		// searcher that cannot form the session.
		e.release(ctx, cand.ID)
		if errors.Is(err, storage.ErrClaimConflict) {
			log.Printf("Searcher %s was claimed concurrently, yielding to the winner", self.ID)
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("self claim failed: %w", err)
	}

	sess := newSession(self, cand)
	if err := e.store.CreateSession(ctx, sess); err != nil {
		e.release(ctx, cand.ID)
		e.release(ctx, self.ID)
		return nil, false, fmt.Errorf("session insert failed: %w", err)
	}
	return &Result{Session: sess, Partner: cand}, false, nil
}

// syntheticFallback pairs the caller with a freshly created bot.
func (e *Engine) syntheticFallback(ctx context.Context, self *models.Participant) (*Result, error) {
	partner, err := e.bots.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("synthetic fallback failed: %w", err)
	}

	if err := e.store.ClaimParticipant(ctx, self.ID, models.StatusAvailable, models.StatusMatched); err != nil {
		if rmErr := e.bots.Remove(ctx, partner.ID); rmErr != nil {
			log.Printf("WARNING: Failed to retire unused synthetic participant %s: %v", partner.ID, rmErr)
		}
		if errors.Is(err, storage.ErrClaimConflict) {
			log.Printf("Searcher %s was claimed concurrently during fallback, yielding", self.ID)
			return nil, nil
		}
		return nil, fmt.Errorf("self claim failed: %w", err)
	}
	// A fresh bot id cannot be contended, but keep the claim form uniform.
	if err := e.store.ClaimParticipant(ctx, partner.ID, models.StatusAvailable, models.StatusMatched); err != nil {
		return nil, fmt.Errorf("synthetic claim failed: %w", err)
	}

	sess := newSession(self, partner)
	if err := e.store.CreateSession(ctx, sess); err != nil {
		e.release(ctx, self.ID)
		if rmErr := e.bots.Remove(ctx, partner.ID); rmErr != nil {
			log.Printf("WARNING: Failed to retire synthetic participant %s: %v", partner.ID, rmErr)
		}
		return nil, fmt.Errorf("session insert failed: %w", err)
	}
	observability.MatchesTotal.WithLabelValues("synthetic").Inc()
	return &Result{Session: sess, Partner: partner}, nil
}

func (e *Engine) release(ctx context.Context, id string) {
	if err := e.store.ClaimParticipant(ctx, id, models.StatusMatched, models.StatusAvailable); err != nil &&
		!errors.Is(err, storage.ErrClaimConflict) {
		log.Printf("ERROR: Failed to release %s back to available: %v", id, err)
	}
}

func newSession(a, b *models.Participant) *models.Session {
	now := time.Now()
	return &models.Session{
		ID:           uuid.New().String(),
		AID:          a.ID,
		AName:        a.DisplayName,
		BID:          b.ID,
		BName:        b.DisplayName,
		StartedAt:    now,
		LastActivity: now,
	}
}

// StartSearching begins the periodic retry loop: an immediate attempt fires
// before the first tick, then attempt is posted every retry interval until
// StopSearching. attempt itself is expected to no-op once a session exists.
func (e *Engine) StartSearching(attempt func()) {
	e.StopSearching()
	stop := make(chan struct{})
	e.stopSearch = stop

	attempt()

	go func() {
		ticker := time.NewTicker(e.retry)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.post(attempt)
			case <-stop:
				return
			}
		}
	}()
}

// StopSearching cancels the periodic retry synchronously. Idempotent.
func (e *Engine) StopSearching() {
	if e.stopSearch != nil {
		close(e.stopSearch)
		e.stopSearch = nil
	}
}
