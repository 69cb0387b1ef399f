// Package presence keeps a participant's status and last-active timestamp
// truthful for the matching window. All writes are to the participant's own
// row and therefore unconditional: a participant always has authority over
// its own presence.
package presence

import (
	"context"
	"log"
	"time"

	"pairgo/backend/internal/models"
	"pairgo/backend/internal/storage"
)

// Tracker maintains one participant's liveness state. Its methods are meant
// to be called from the owning controller's loop; the deferred offline timer
// re-enters that loop through the injected post func, so all state stays on
// the single logical thread of control.
type Tracker struct {
	store        storage.Storage
	selfID       string
	offlineDelay time.Duration
	post         func(func())

	// gen invalidates any pending deferred offline transition. A timer that
	// fires after the generation moved on is a guaranteed no-op.
	gen       uint64
	unloading bool
}

// NewTracker constructs a tracker for the given participant.
func NewTracker(store storage.Storage, selfID string, offlineDelay time.Duration, post func(func())) *Tracker {
	return &Tracker{
		store:        store,
		selfID:       selfID,
		offlineDelay: offlineDelay,
		post:         post,
	}
}

// MarkAvailable sets status=available and refreshes last-active. Called on
// join and after skip/disconnect cleanup. It also cancels any pending offline
// transition.
func (t *Tracker) MarkAvailable(ctx context.Context) error {
	t.cancelPending()
	return t.store.UpdatePresence(ctx, t.selfID, models.StatusAvailable, time.Now())
}

// Heartbeat refreshes last-active and re-asserts the current status:
// matched while a session exists, available otherwise. Runs on a fixed
// interval for the whole lifetime of a joined participant.
func (t *Tracker) Heartbeat(ctx context.Context, inSession bool) error {
	status := models.StatusAvailable
	if inSession {
		status = models.StatusMatched
	}
	return t.store.UpdatePresence(ctx, t.selfID, status, time.Now())
}

// ForegroundChange handles visibility transitions. Either direction counts as
// a lifecycle signal and cancels any pending offline transition. Going hidden
// refreshes last-active only, so a merely backgrounded participant is not
// mistaken for offline; returning to foreground re-asserts the current
// status: matched while a session exists, available otherwise.
func (t *Tracker) ForegroundChange(ctx context.Context, hidden, inSession bool) error {
	t.LifecycleSignal()
	if hidden {
		return t.store.TouchLastActive(ctx, t.selfID, time.Now())
	}
	return t.Heartbeat(ctx, inSession)
}

// Teardown distinguishes a transient reload from a genuine exit. A real exit
// goes offline immediately. Otherwise a deferred check is scheduled: if the
// tracker is still unloading when the timer fires, status is expired to
// offline - conditionally on the last-active stamp written here, so any
// newer presence write (a resumed instance's heartbeat, a re-join) supersedes
// the pending transition even across processes. Any local lifecycle signal
// cancels it outright. The heuristic accepts some false negatives - an abrupt
// process kill can miss the offline transition entirely; the freshness window
// eventually excludes the stale row.
func (t *Tracker) Teardown(ctx context.Context, isRealExit bool) error {
	if isRealExit {
		t.cancelPending()
		return t.store.UpdatePresence(ctx, t.selfID, models.StatusOffline, time.Now())
	}

	t.gen++
	gen := t.gen
	t.unloading = true
	stamp := time.Now()
	time.AfterFunc(t.offlineDelay, func() {
		t.post(func() {
			if t.gen != gen || !t.unloading {
				return // stale timer, a lifecycle signal arrived in between
			}
			t.unloading = false
			if err := t.store.ExpirePresence(context.Background(), t.selfID, stamp); err != nil {
				log.Printf("ERROR: Deferred offline transition failed for %s: %v", t.selfID, err)
			}
		})
	})
	return t.store.TouchLastActive(ctx, t.selfID, stamp)
}

// LifecycleSignal records that the participant showed signs of life
// (visibility or focus event) and cancels any pending offline transition.
func (t *Tracker) LifecycleSignal() {
	t.cancelPending()
}

func (t *Tracker) cancelPending() {
	t.gen++
	t.unloading = false
}
