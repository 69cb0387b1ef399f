package presence

import (
	"context"
	"testing"
	"time"

	"pairgo/backend/internal/mocks"
	"pairgo/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackerLoop serializes tracker access the way the session controller's loop
// does, so the deferred offline timer and the test never touch the tracker
// concurrently.
type trackerLoop struct {
	cmds chan func()
	stop chan struct{}
}

func newTrackerLoop() *trackerLoop {
	l := &trackerLoop{cmds: make(chan func(), 16), stop: make(chan struct{})}
	go func() {
		for {
			select {
			case fn := <-l.cmds:
				fn()
			case <-l.stop:
				return
			}
		}
	}()
	return l
}

func (l *trackerLoop) post(fn func()) { l.cmds <- fn }

func (l *trackerLoop) do(fn func()) {
	done := make(chan struct{})
	l.cmds <- func() { fn(); close(done) }
	<-done
}

func (l *trackerLoop) close() { close(l.stop) }

func newTestTracker(t *testing.T, offlineDelay time.Duration) (*Tracker, *mocks.MemoryStore, *trackerLoop) {
	t.Helper()
	store := mocks.NewMemoryStore()
	require.NoError(t, store.CreateParticipant(context.Background(), &models.Participant{
		ID:         "p1",
		Status:     models.StatusAvailable,
		LastActive: time.Now().Add(-time.Hour),
	}))
	loop := newTrackerLoop()
	t.Cleanup(loop.close)
	return NewTracker(store, "p1", offlineDelay, loop.post), store, loop
}

func status(store *mocks.MemoryStore) models.PresenceStatus {
	return store.Participants()["p1"].Status
}

func TestMarkAvailable(t *testing.T) {
	tr, store, loop := newTestTracker(t, time.Minute)

	loop.do(func() { require.NoError(t, tr.MarkAvailable(context.Background())) })

	p := store.Participants()["p1"]
	assert.Equal(t, models.StatusAvailable, p.Status)
	assert.WithinDuration(t, time.Now(), p.LastActive, time.Second)
}

func TestHeartbeatReassertsStatus(t *testing.T) {
	tr, store, loop := newTestTracker(t, time.Minute)

	loop.do(func() { require.NoError(t, tr.Heartbeat(context.Background(), true)) })
	assert.Equal(t, models.StatusMatched, status(store))

	loop.do(func() { require.NoError(t, tr.Heartbeat(context.Background(), false)) })
	assert.Equal(t, models.StatusAvailable, status(store))
}

func TestForegroundChange(t *testing.T) {
	tr, store, loop := newTestTracker(t, time.Minute)
	ctx := context.Background()

	loop.do(func() { require.NoError(t, tr.Heartbeat(ctx, true)) })

	// Going hidden only refreshes last-active; the status must not change or
	// the participant would be mis-seen as abandoned mid-session.
	loop.do(func() { require.NoError(t, tr.ForegroundChange(ctx, true, true)) })
	p := store.Participants()["p1"]
	assert.Equal(t, models.StatusMatched, p.Status)
	assert.WithinDuration(t, time.Now(), p.LastActive, time.Second)

	// Returning to foreground re-asserts the session-appropriate status:
	// matched while paired, available otherwise.
	loop.do(func() { require.NoError(t, tr.ForegroundChange(ctx, false, true)) })
	assert.Equal(t, models.StatusMatched, status(store))

	loop.do(func() { require.NoError(t, tr.ForegroundChange(ctx, false, false)) })
	assert.Equal(t, models.StatusAvailable, status(store))
}

func TestTeardownRealExitGoesOfflineImmediately(t *testing.T) {
	tr, store, loop := newTestTracker(t, time.Minute)

	loop.do(func() { require.NoError(t, tr.Teardown(context.Background(), true)) })
	assert.Equal(t, models.StatusOffline, status(store))
}

func TestTeardownDeferredOfflineFires(t *testing.T) {
	tr, store, loop := newTestTracker(t, 20*time.Millisecond)

	loop.do(func() { require.NoError(t, tr.Teardown(context.Background(), false)) })
	assert.NotEqual(t, models.StatusOffline, status(store), "must not go offline before the delay")

	assert.Eventually(t, func() bool {
		return status(store) == models.StatusOffline
	}, time.Second, 5*time.Millisecond)
}

func TestLifecycleSignalCancelsDeferredOffline(t *testing.T) {
	tr, store, loop := newTestTracker(t, 30*time.Millisecond)
	ctx := context.Background()

	loop.do(func() { require.NoError(t, tr.MarkAvailable(ctx)) })
	loop.do(func() { require.NoError(t, tr.Teardown(ctx, false)) })
	loop.do(tr.LifecycleSignal)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, models.StatusAvailable, status(store), "a lifecycle signal within the window must keep the participant online")
}

func TestMarkAvailableCancelsDeferredOffline(t *testing.T) {
	tr, store, loop := newTestTracker(t, 30*time.Millisecond)
	ctx := context.Background()

	loop.do(func() { require.NoError(t, tr.Teardown(ctx, false)) })
	loop.do(func() { require.NoError(t, tr.MarkAvailable(ctx)) })

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, models.StatusAvailable, status(store))
}

func TestHiddenTransitionCancelsDeferredOffline(t *testing.T) {
	tr, store, loop := newTestTracker(t, 30*time.Millisecond)
	ctx := context.Background()

	loop.do(func() { require.NoError(t, tr.Heartbeat(ctx, true)) })
	loop.do(func() { require.NoError(t, tr.Teardown(ctx, false)) })

	// A visibility signal in either direction is a sign of life; going hidden
	// must cancel the pending offline, not just refresh last-active.
	loop.do(func() { require.NoError(t, tr.ForegroundChange(ctx, true, true)) })

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, models.StatusMatched, status(store))
}

func TestDeferredOfflineSupersededByNewerWrite(t *testing.T) {
	tr, store, loop := newTestTracker(t, 30*time.Millisecond)
	ctx := context.Background()

	loop.do(func() { require.NoError(t, tr.Teardown(ctx, false)) })

	// A resumed instance in another process re-asserts presence before the
	// dead instance's timer fires. The expiry is conditional on the teardown
	// stamp, so the newer write wins.
	require.NoError(t, store.UpdatePresence(ctx, "p1", models.StatusMatched, time.Now()))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, models.StatusMatched, status(store),
		"a stale deferred-offline timer must never clobber a live participant")
}
