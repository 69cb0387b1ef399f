package session

import (
	"context"
	"testing"
	"time"

	"pairgo/backend/internal/bot"
	"pairgo/backend/internal/config"
	"pairgo/backend/internal/mocks"
	"pairgo/backend/internal/models"
	"pairgo/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		HeartbeatInterval: 50 * time.Millisecond,
		FreshnessWindow:   time.Minute,
		SearchInterval:    25 * time.Millisecond,
		CandidateBatch:    5,
		RematchGrace:      20 * time.Millisecond,
		OfflineDelay:      50 * time.Millisecond,
		SnapshotTTL:       time.Hour,
	}
}

var fastDelays = bot.DelayPolicy{
	GreetingMin: time.Millisecond, GreetingMax: 2 * time.Millisecond,
	AckMin: time.Millisecond, AckMax: 2 * time.Millisecond,
	ChatterMin: time.Millisecond, ChatterMax: 2 * time.Millisecond,
}

type harness struct {
	cfg   *config.Config
	store *mocks.MemoryStore
	feed  *mocks.FakeFeed
	bots  *bot.Factory
}

func newHarness() *harness {
	store := mocks.NewMemoryStore()
	feed := mocks.NewFakeFeed()
	store.Feed = feed
	bots := bot.NewFactory(store)
	bots.Delays = fastDelays
	return &harness{cfg: testConfig(), store: store, feed: feed, bots: bots}
}

func (h *harness) controller(t *testing.T, selfID string) *Controller {
	t.Helper()
	c := NewController(h.cfg, h.store, h.feed, h.bots, selfID)
	t.Cleanup(c.Shutdown)
	return c
}

func (h *harness) seedHuman(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, h.store.CreateParticipant(context.Background(), &models.Participant{
		ID:          id,
		DisplayName: "Human " + id,
		Status:      models.StatusAvailable,
		LastActive:  time.Now(),
	}))
}

func waitMatched(t *testing.T, c *Controller) View {
	t.Helper()
	var v View
	require.Eventually(t, func() bool {
		v = c.View()
		return v.Matched && v.Partner != nil && v.Session != nil
	}, 2*time.Second, 10*time.Millisecond, "controller never reached the matched state")
	return v
}

// TestEmptyPoolLifecycle walks the canonical solo journey: join an empty
// pool, get a synthetic partner, receive the greeting, get an acknowledgment
// for a question, then skip and land in a fresh session.
func TestEmptyPoolLifecycle(t *testing.T) {
	h := newHarness()
	c := h.controller(t, "solo")

	require.NoError(t, c.Join("Ava", nil))

	v := waitMatched(t, c)
	require.True(t, v.Partner.IsBot(), "an empty pool must produce a synthetic partner")
	firstBot := v.Partner.ID

	// The opening line arrives without us saying anything.
	require.Eventually(t, func() bool {
		msgs := c.View().Messages
		return len(msgs) == 1 && msgs[0].SenderID == firstBot
	}, 2*time.Second, 5*time.Millisecond, "expected an unprompted greeting")

	require.NoError(t, c.Send("so where are you from?", models.MessageText, ""))
	require.Eventually(t, func() bool {
		msgs := c.View().Messages
		return len(msgs) == 3 && msgs[2].SenderID == firstBot
	}, 2*time.Second, 5*time.Millisecond, "expected a reply to the question")

	require.NoError(t, c.Skip())
	_, stillThere := h.store.Participants()[firstBot]
	assert.False(t, stillThere, "the abandoned synthetic partner must leave the pool")

	v2 := waitMatched(t, c)
	assert.NotEqual(t, firstBot, v2.Partner.ID, "skip must yield a fresh partner")
	assert.True(t, v2.Partner.IsBot())
}

func TestJoinPairsWithAvailableHuman(t *testing.T) {
	h := newHarness()
	h.seedHuman(t, "peer")
	c := h.controller(t, "me")

	require.NoError(t, c.Join("Ava", []string{"music"}))

	v := waitMatched(t, c)
	assert.Equal(t, "peer", v.Partner.ID)
	assert.False(t, v.Partner.IsBot())

	pool := h.store.Participants()
	assert.Equal(t, models.StatusMatched, pool["me"].Status)
	assert.Equal(t, models.StatusMatched, pool["peer"].Status)
}

// TestPartnerDisconnectRecovery drives the partner-offline path, delivering
// the offline event twice to check the teardown is idempotent: one recovery,
// one replacement session.
func TestPartnerDisconnectRecovery(t *testing.T) {
	h := newHarness()
	h.seedHuman(t, "peer")
	c := h.controller(t, "me")

	require.NoError(t, c.Join("Ava", nil))
	waitMatched(t, c)
	require.Len(t, h.store.Sessions(), 1)

	offline := models.ParticipantEvent{Participant: models.Participant{
		ID:     "peer",
		Status: models.StatusOffline,
	}}
	h.feed.EmitParticipant(offline)
	h.feed.EmitParticipant(offline)

	var v View
	require.Eventually(t, func() bool {
		v = c.View()
		return v.Matched && v.Partner != nil && v.Partner.ID != "peer"
	}, 2*time.Second, 10*time.Millisecond, "expected recovery into a replacement session")

	assert.True(t, v.Partner.IsBot(), "with the peer gone the pool is empty, so the replacement is synthetic")
	assert.Len(t, h.store.Sessions(), 2, "exactly one replacement session despite the duplicate event")
}

func TestSendFailurePreservesDraft(t *testing.T) {
	h := newHarness()
	c := h.controller(t, "me")

	require.NoError(t, c.Join("Ava", nil))
	waitMatched(t, c)

	h.store.FailCreateMessage = true
	err := c.Send("my precious draft", models.MessageText, "")
	require.Error(t, err)
	assert.Equal(t, "my precious draft", c.View().Draft, "the draft must survive a failed send verbatim")
	for _, m := range c.View().Messages {
		assert.NotEqual(t, "my precious draft", m.Content, "a failed send must not appear in the transcript")
	}

	h.store.FailCreateMessage = false
	require.NoError(t, c.Send("my precious draft", models.MessageText, ""))
	v := c.View()
	assert.Empty(t, v.Draft, "a successful send clears the draft")

	found := false
	for _, m := range v.Messages {
		if m.Content == "my precious draft" && m.SenderID == "me" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDuplicateMessageEventsAbsorbedOnce(t *testing.T) {
	h := newHarness()
	h.seedHuman(t, "peer")
	c := h.controller(t, "me")

	require.NoError(t, c.Join("Ava", nil))
	v := waitMatched(t, c)

	ev := models.MessageEvent{Message: models.Message{
		ID:        "m-dup",
		SessionID: v.Session.ID,
		SenderID:  "peer",
		Content:   "hi there",
		Type:      models.MessageText,
		CreatedAt: time.Now(),
	}}
	h.feed.EmitMessage(ev)
	h.feed.EmitMessage(ev)

	require.Eventually(t, func() bool {
		return len(c.View().Messages) == 1
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, c.View().Messages, 1, "the redelivered event must not duplicate the message")
}

func TestLogoutLeavesNoTrace(t *testing.T) {
	h := newHarness()
	c := h.controller(t, "me")

	require.NoError(t, c.Join("Ava", nil))
	v := waitMatched(t, c)
	botID := v.Partner.ID

	require.NoError(t, c.Logout())

	assert.Equal(t, StateUnjoined, c.View().State)
	pool := h.store.Participants()
	_, selfLeft := pool["me"]
	assert.False(t, selfLeft, "logout removes the participant row")
	_, botLeft := pool[botID]
	assert.False(t, botLeft, "logout retires the synthetic partner")

	_, err := h.store.LoadSnapshot(context.Background(), "me")
	assert.ErrorIs(t, err, storage.ErrNotFound, "logout clears the resume snapshot")
}

// TestSnapshotResume simulates a reload: a second controller for the same
// participant id picks the session up from the persisted snapshot instead of
// re-entering the search queue.
func TestSnapshotResume(t *testing.T) {
	h := newHarness()
	c1 := h.controller(t, "resumer")

	require.NoError(t, c1.Join("Ava", nil))
	v1 := waitMatched(t, c1)

	// Let the greeting land so the resumed channel has history to load.
	require.Eventually(t, func() bool {
		return len(c1.View().Messages) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	c2 := h.controller(t, "resumer")
	require.NoError(t, c2.Join("ignored-on-resume", nil))

	v2 := waitMatched(t, c2)
	assert.Equal(t, v1.Session.ID, v2.Session.ID, "resume must restore the same session")
	assert.Equal(t, v1.Partner.ID, v2.Partner.ID)
	assert.NotEmpty(t, v2.Messages, "the transcript reloads from the persisted history")
	assert.Len(t, h.store.Sessions(), 1, "resume must not mint a new session")
}

// TestSkippedPartnerRecovers pairs two live controllers and has one side
// skip. The skipped side must observe the release, leave the abandoned
// session and re-enter searching, rather than letting its heartbeat re-assert
// a session that no longer exists.
func TestSkippedPartnerRecovers(t *testing.T) {
	h := newHarness()
	h.seedHuman(t, "bob")
	alice := h.controller(t, "alice")

	require.NoError(t, alice.Join("Alice", nil))
	v1 := waitMatched(t, alice)
	require.Equal(t, "bob", v1.Partner.ID)

	// Attach a live controller to the claimed side through the resume path,
	// as after a reload on bob's end.
	bobSelf := *v1.Partner
	bobSelf.Status = models.StatusMatched
	snap := &models.Snapshot{Self: &bobSelf, Session: v1.Session, Partner: v1.Self, SavedAt: time.Now()}
	require.NoError(t, h.store.SaveSnapshot(context.Background(), "bob", snap))

	bob := h.controller(t, "bob")
	require.NoError(t, bob.Join("Bob", nil))
	vb := waitMatched(t, bob)
	require.Equal(t, v1.Session.ID, vb.Session.ID)

	require.NoError(t, alice.Skip())

	require.Eventually(t, func() bool {
		v := bob.View()
		return v.Session == nil || v.Session.ID != v1.Session.ID
	}, 2*time.Second, 10*time.Millisecond, "the skipped side must leave the abandoned session")

	vb2 := waitMatched(t, bob)
	assert.NotEqual(t, v1.Session.ID, vb2.Session.ID, "recovery must form a fresh session")
}

// TestPartnerReleaseEndsSession drives the same path at the store level: the
// exact writes a skipping partner performs (release us, return itself to the
// pool) must end the session on our side even with heartbeats running.
func TestPartnerReleaseEndsSession(t *testing.T) {
	h := newHarness()
	h.seedHuman(t, "peer")
	c := h.controller(t, "me")
	ctx := context.Background()

	require.NoError(t, c.Join("Ava", nil))
	v1 := waitMatched(t, c)
	require.Equal(t, "peer", v1.Partner.ID)

	require.NoError(t, h.store.ClaimParticipant(ctx, "me", models.StatusMatched, models.StatusAvailable))
	require.NoError(t, h.store.UpdatePresence(ctx, "peer", models.StatusAvailable, time.Now()))

	require.Eventually(t, func() bool {
		v := c.View()
		return v.Session == nil || v.Session.ID != v1.Session.ID
	}, 2*time.Second, 10*time.Millisecond, "heartbeats must not pin an abandoned session alive")

	v2 := waitMatched(t, c)
	assert.NotEqual(t, v1.Session.ID, v2.Session.ID)
	assert.Len(t, h.store.Sessions(), 2, "exactly one replacement session")
}

// TestResumeWithinOfflineWindowSurvives reloads a participant before the dead
// instance's deferred offline timer fires. The stale timer must not flip the
// resumed participant's row to offline.
func TestResumeWithinOfflineWindowSurvives(t *testing.T) {
	h := newHarness()
	c1 := NewController(h.cfg, h.store, h.feed, h.bots, "r2")

	require.NoError(t, c1.Join("Ava", nil))
	waitMatched(t, c1)

	c1.Shutdown()
	// A real unload finishes its presence writes before the reloaded page
	// boots; give the dying instance's teardown the same head start.
	time.Sleep(10 * time.Millisecond)

	c2 := h.controller(t, "r2")
	require.NoError(t, c2.Join("ignored-on-resume", nil))
	v := waitMatched(t, c2)

	// Let the dead instance's deferred offline timer fire and miss.
	time.Sleep(4 * h.cfg.OfflineDelay)

	assert.NotEqual(t, models.StatusOffline, h.store.Participants()["r2"].Status,
		"the stale timer must not clobber the resumed instance's presence")
	v2 := c2.View()
	assert.True(t, v2.Matched)
	assert.Equal(t, v.Session.ID, v2.Session.ID)
}

// TestShutdownGoesOfflineAfterDelay covers the unload-vs-exit heuristic: an
// abrupt transport loss snapshots the state and transitions the row to
// offline only after the grace window passes with no sign of life.
func TestShutdownGoesOfflineAfterDelay(t *testing.T) {
	h := newHarness()
	c := NewController(h.cfg, h.store, h.feed, h.bots, "leaver")

	require.NoError(t, c.Join("Ava", nil))
	waitMatched(t, c)

	c.Shutdown()

	require.Eventually(t, func() bool {
		_, err := h.store.LoadSnapshot(context.Background(), "leaver")
		return err == nil
	}, time.Second, 5*time.Millisecond, "shutdown persists a resume snapshot")

	require.Eventually(t, func() bool {
		return h.store.Participants()["leaver"].Status == models.StatusOffline
	}, 2*time.Second, 10*time.Millisecond, "the deferred offline transition fires after the delay")
}
