// Package session orchestrates the user-facing lifecycle:
// join -> search -> matched -> chat -> skip/disconnect -> search ...
//
// Each participant runs its own Controller; cross-participant coordination
// happens only through the shared store and its event feed, never through
// shared memory. Within one controller every mutation of local state runs on
// a single loop goroutine: commands, timer callbacks and feed events are all
// funneled into it, which removes local data races by construction. Stale
// timers are invalidated by a generation counter and fire as no-ops.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"pairgo/backend/internal/bot"
	"pairgo/backend/internal/chat"
	"pairgo/backend/internal/config"
	"pairgo/backend/internal/match"
	"pairgo/backend/internal/models"
	"pairgo/backend/internal/observability"
	"pairgo/backend/internal/presence"
	"pairgo/backend/internal/realtime"
	"pairgo/backend/internal/storage"

	"github.com/samber/lo"
)

// State of the lifecycle machine. Unjoined is both the initial and the
// logout-terminal state; the machine is otherwise a loop.
type State string

const (
	StateUnjoined  State = "unjoined"
	StateSearching State = "searching"
	StateMatched   State = "matched"
)

var selfColorPool = []string{
	"#16a085", "#2980b9", "#8e44ad", "#c0392b",
	"#d35400", "#27ae60", "#7f8c8d", "#2c3e50",
}

// View is the read-only surface exposed to the presentation layer. Rendering
// subscribes to it but holds no authority over transitions.
type View struct {
	State     State               `json:"state"`
	Searching bool                `json:"searching"`
	Matched   bool                `json:"matched"`
	Self      *models.Participant `json:"self,omitempty"`
	Session   *models.Session     `json:"session,omitempty"`
	Partner   *models.Participant `json:"partner,omitempty"`
	Messages  []models.Message    `json:"messages"`
	Draft     string              `json:"draft,omitempty"`
}

// Controller binds the presence tracker, matchmaking engine, messaging
// channel and event listener into one participant's lifecycle.
type Controller struct {
	cfg    *config.Config
	store  storage.Storage
	feed   realtime.Feed
	bots   *bot.Factory
	selfID string

	tracker *presence.Tracker
	engine  *match.Engine
	channel *chat.Channel

	state   State
	self    *models.Participant
	sess    *models.Session
	partner *models.Participant
	draft   string
	gen     uint64
	gauged  bool
	closing bool

	ctx     context.Context
	cancel  context.CancelFunc
	cmds    chan func()
	done    chan struct{}
	updates chan View

	sessEvents <-chan models.SessionEvent
	cancelSess func()
	partEvents <-chan models.ParticipantEvent
	cancelPart func()
	msgEvents  <-chan models.MessageEvent
	cancelMsgs func()
}

// NewController creates a controller for one anonymous participant and starts
// its loop. The participant does not enter the pool until Join.
func NewController(cfg *config.Config, store storage.Storage, feed realtime.Feed, bots *bot.Factory, selfID string) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:     cfg,
		store:   store,
		feed:    feed,
		bots:    bots,
		selfID:  selfID,
		state:   StateUnjoined,
		ctx:     ctx,
		cancel:  cancel,
		cmds:    make(chan func(), 64),
		done:    make(chan struct{}),
		updates: make(chan View, 16),
	}
	c.tracker = presence.NewTracker(store, selfID, cfg.OfflineDelay, c.post)
	c.engine = match.NewEngine(store, bots, cfg.FreshnessWindow, cfg.CandidateBatch, cfg.SearchInterval, c.post)
	go c.run()
	return c
}

// run is the single logical thread of control. Heartbeats, search retries and
// feed callbacks never block each other; they queue here.
func (c *Controller) run() {
	defer close(c.done)
	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.cmds:
			fn()
		case <-heartbeat.C:
			c.onHeartbeat()
		case ev, ok := <-c.sessEvents:
			if !ok {
				c.sessEvents = nil
				continue
			}
			c.onSessionEvent(ev)
		case ev, ok := <-c.partEvents:
			if !ok {
				c.partEvents = nil
				continue
			}
			c.onParticipantEvent(ev)
		case ev, ok := <-c.msgEvents:
			if !ok {
				c.msgEvents = nil
				continue
			}
			if c.channel != nil && c.channel.Deliver(ev) {
				c.emit()
			}
		}
	}
}

// post schedules fn onto the loop from another goroutine.
func (c *Controller) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.ctx.Done():
	}
}

// do runs fn on the loop and waits for its result.
func (c *Controller) do(fn func() error) error {
	res := make(chan error, 1)
	select {
	case c.cmds <- func() { res <- fn() }:
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
	select {
	case err := <-res:
		return err
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// Join enters the pool and starts searching, or resumes a snapshotted session
// left behind by a reload.
func (c *Controller) Join(displayName string, interests []string) error {
	return c.do(func() error { return c.join(displayName, interests) })
}

func (c *Controller) join(displayName string, interests []string) error {
	if c.state != StateUnjoined {
		return nil
	}

	snap, err := c.store.LoadSnapshot(c.ctx, c.selfID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("WARNING: Snapshot read failed for %s, joining fresh: %v", c.selfID, err)
	}
	if snap != nil && snap.Self != nil {
		c.self = snap.Self
	} else {
		c.self = &models.Participant{
			ID:          c.selfID,
			DisplayName: displayName,
			Color:       lo.Sample(selfColorPool),
			Status:      models.StatusAvailable,
			LastActive:  time.Now(),
			Interests:   interests,
		}
	}
	if err := c.store.CreateParticipant(c.ctx, c.self); err != nil {
		c.self = nil
		return fmt.Errorf("failed to join pool: %w", err)
	}

	c.sessEvents, c.cancelSess = c.feed.Sessions(c.ctx, c.selfID)
	c.partEvents, c.cancelPart = c.feed.Participants(c.ctx)

	if snap != nil && snap.Session != nil && snap.Partner != nil {
		log.Printf("Resuming session %s for %s after reload", snap.Session.ID, c.selfID)
		if err := c.store.UpdatePresence(c.ctx, c.selfID, models.StatusMatched, time.Now()); err != nil {
			log.Printf("ERROR: Failed to re-assert matched presence: %v", err)
		}
		c.enterSession(snap.Session, snap.Partner)
		return nil
	}

	if err := c.tracker.MarkAvailable(c.ctx); err != nil {
		log.Printf("ERROR: Failed to mark %s available: %v", c.selfID, err)
	}
	c.startSearching(0)
	return nil
}

// startSearching flips to the searching state and arms the engine's retry
// loop, optionally after a grace delay. A generation check makes a delayed
// start a no-op if the state moved on in between.
func (c *Controller) startSearching(after time.Duration) {
	c.state = StateSearching
	c.setSearchingGauge(true)
	gen := c.gen

	start := func() {
		if gen != c.gen || c.state != StateSearching {
			return
		}
		c.engine.StartSearching(func() { c.attemptMatch(gen) })
	}
	if after <= 0 {
		start()
	} else {
		time.AfterFunc(after, func() { c.post(start) })
	}
	c.emit()
}

// attemptMatch is one findMatch tick. Transient store errors are logged and
// abandoned; the next tick tries again.
func (c *Controller) attemptMatch(gen uint64) {
	if gen != c.gen || c.state != StateSearching || c.self == nil {
		return
	}
	res, err := c.engine.FindMatch(c.ctx, c.self, c.sess != nil)
	if err != nil {
		log.Printf("ERROR: Match attempt failed for %s: %v", c.selfID, err)
		return
	}
	if res == nil {
		return
	}
	c.enterSession(res.Session, res.Partner)
}

// enterSession installs an established pairing: Searching -> Matched.
func (c *Controller) enterSession(sess *models.Session, partner *models.Participant) {
	c.engine.StopSearching()
	c.setSearchingGauge(false)

	c.state = StateMatched
	c.sess = sess
	c.partner = partner
	c.self.Status = models.StatusMatched

	c.channel = chat.NewChannel(c.store, c.bots, sess, c.self, partner, c.post)
	if err := c.channel.Load(c.ctx); err != nil {
		log.Printf("WARNING: Failed to load history for session %s: %v", sess.ID, err)
	}
	c.msgEvents, c.cancelMsgs = c.feed.Messages(c.ctx, sess.ID)

	if partner.IsBot() && len(c.channel.Messages()) == 0 {
		c.channel.Greet()
	}

	c.saveSnapshot()
	c.emit()
	log.Printf("Session %s established: %s <-> %s", sess.ID, sess.AID, sess.BID)
}

// Send writes a message into the current session. On failure the draft is
// preserved exactly as typed for resubmission and the error is surfaced.
func (c *Controller) Send(content string, mtype models.MessageType, mediaRef string) error {
	return c.do(func() error {
		if c.state != StateMatched || c.channel == nil {
			return errors.New("no active session to send into")
		}
		c.draft = content
		if _, err := c.channel.Send(c.ctx, content, mtype, mediaRef); err != nil {
			c.emit()
			return err
		}
		c.draft = ""
		c.sess.LastActivity = time.Now()
		c.emit()
		return nil
	})
}

// Skip abandons the current session and re-enters searching after the grace
// delay: Matched -> Searching.
func (c *Controller) Skip() error {
	return c.do(func() error {
		if c.state != StateMatched {
			return nil
		}
		observability.SessionsEndedTotal.WithLabelValues("skip").Inc()
		c.teardownSession(true)
		c.startSearching(c.cfg.RematchGrace)
		return nil
	})
}

// teardownSession releases the partner and self, clears session-local state
// and the persisted snapshot. releasePartner is false when the partner is
// already gone (disconnect path) so their offline row is not resurrected.
func (c *Controller) teardownSession(releasePartner bool) {
	c.gen++

	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.cancelMsgs != nil {
		c.cancelMsgs()
		c.cancelMsgs = nil
		c.msgEvents = nil
	}

	if c.partner != nil {
		if c.partner.IsBot() {
			if err := c.bots.Remove(c.ctx, c.partner.ID); err != nil {
				log.Printf("ERROR: %v", err)
			}
		} else if releasePartner {
			err := c.store.ClaimParticipant(c.ctx, c.partner.ID, models.StatusMatched, models.StatusAvailable)
			if err != nil && !errors.Is(err, storage.ErrClaimConflict) {
				log.Printf("ERROR: Failed to release partner %s: %v", c.partner.ID, err)
			}
		}
	}

	c.sess = nil
	c.partner = nil

	if err := c.tracker.MarkAvailable(c.ctx); err != nil {
		log.Printf("ERROR: Failed to release self %s: %v", c.selfID, err)
	}
	c.self.Status = models.StatusAvailable

	if err := c.store.ClearSnapshot(c.ctx, c.selfID); err != nil {
		log.Printf("WARNING: Failed to clear snapshot for %s: %v", c.selfID, err)
	}
}

// Logout leaves the pool entirely: Matched/Searching -> Unjoined. All
// periodic tasks stop, synthetic partners are retired, the participant row
// and snapshot are removed.
func (c *Controller) Logout() error {
	return c.do(c.logout)
}

func (c *Controller) logout() error {
	if c.state == StateUnjoined {
		return nil
	}
	if c.state == StateMatched {
		observability.SessionsEndedTotal.WithLabelValues("logout").Inc()
		c.teardownSession(true)
	}
	c.gen++
	c.engine.StopSearching()
	c.setSearchingGauge(false)

	if err := c.bots.RemoveAll(c.ctx); err != nil {
		log.Printf("WARNING: %v", err)
	}
	if err := c.tracker.Teardown(c.ctx, true); err != nil {
		log.Printf("ERROR: Failed to mark %s offline: %v", c.selfID, err)
	}
	if err := c.store.DeleteParticipant(c.ctx, c.selfID); err != nil {
		log.Printf("ERROR: Failed to remove %s from pool: %v", c.selfID, err)
	}
	if err := c.store.ClearSnapshot(c.ctx, c.selfID); err != nil {
		log.Printf("WARNING: Failed to clear snapshot for %s: %v", c.selfID, err)
	}

	if c.cancelSess != nil {
		c.cancelSess()
		c.cancelSess = nil
	}
	if c.cancelPart != nil {
		c.cancelPart()
		c.cancelPart = nil
	}

	c.self = nil
	c.state = StateUnjoined
	c.emit()
	return nil
}

// ForegroundChange forwards a visibility transition to the presence tracker.
// The tracker needs to know whether a session exists: a foreground return
// must re-assert matched, never available, or the partner's listener would
// read it as a release.
func (c *Controller) ForegroundChange(hidden bool) error {
	return c.do(func() error {
		if c.self == nil {
			return nil
		}
		return c.tracker.ForegroundChange(c.ctx, hidden, c.state == StateMatched)
	})
}

// Shutdown handles the transport going away without an explicit logout
// (closed tab, dropped connection). The snapshot is persisted for a possible
// reload-resume and the unload-vs-exit heuristic decides whether the
// participant really went offline. The loop stays alive long enough for the
// deferred offline check to run, then stops.
func (c *Controller) Shutdown() {
	c.post(func() {
		c.closing = true
		c.engine.StopSearching()
		c.setSearchingGauge(false)
		if c.self == nil {
			c.cancel()
			return
		}
		c.saveSnapshot()
		if err := c.tracker.Teardown(c.ctx, false); err != nil {
			log.Printf("WARNING: Teardown presence write failed for %s: %v", c.selfID, err)
		}
		time.AfterFunc(c.cfg.OfflineDelay+time.Second, c.cancel)
	})
}

// Done is closed when the controller's loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Updates streams a View after every state transition. Slow consumers get
// the most recent view; intermediate ones may be dropped.
func (c *Controller) Updates() <-chan View {
	return c.updates
}

// View returns a consistent point-in-time snapshot of the local state.
func (c *Controller) View() View {
	res := make(chan View, 1)
	c.post(func() { res <- c.snapshotView() })
	select {
	case v := <-res:
		return v
	case <-c.ctx.Done():
		return View{State: StateUnjoined}
	}
}

func (c *Controller) snapshotView() View {
	v := View{
		State:     c.state,
		Searching: c.state == StateSearching,
		Matched:   c.state == StateMatched,
		Draft:     c.draft,
	}
	if c.self != nil {
		self := *c.self
		v.Self = &self
	}
	if c.sess != nil {
		sess := *c.sess
		v.Session = &sess
	}
	if c.partner != nil {
		partner := *c.partner
		v.Partner = &partner
	}
	if c.channel != nil {
		v.Messages = c.channel.Messages()
	}
	return v
}

func (c *Controller) onHeartbeat() {
	// After Shutdown the loop only lingers for the deferred offline check;
	// a heartbeat firing in that window would re-assert a live status and
	// defeat it.
	if c.self == nil || c.closing {
		return
	}
	if err := c.tracker.Heartbeat(c.ctx, c.state == StateMatched); err != nil {
		log.Printf("ERROR: Heartbeat failed for %s: %v", c.selfID, err)
	}
}

func (c *Controller) saveSnapshot() {
	if c.self == nil {
		return
	}
	snap := &models.Snapshot{
		Self:    c.self,
		Session: c.sess,
		Partner: c.partner,
		SavedAt: time.Now(),
	}
	if err := c.store.SaveSnapshot(c.ctx, c.selfID, snap); err != nil {
		log.Printf("WARNING: Failed to persist snapshot for %s: %v", c.selfID, err)
	}
}

func (c *Controller) setSearchingGauge(up bool) {
	if up == c.gauged {
		return
	}
	c.gauged = up
	if up {
		observability.SearchingGauge.Inc()
	} else {
		observability.SearchingGauge.Dec()
	}
}

// emit pushes the current view to the updates channel, displacing the oldest
// pending view when the consumer lags.
func (c *Controller) emit() {
	v := c.snapshotView()
	for {
		select {
		case c.updates <- v:
			return
		default:
			select {
			case <-c.updates:
			default:
			}
		}
	}
}
