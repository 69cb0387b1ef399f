package mocks

import (
	"context"
	"sync"

	"pairgo/backend/internal/models"
	"pairgo/backend/internal/realtime"
)

// FakeFeed implements realtime.Feed in memory. Tests can emit events by hand,
// including emitting the same event twice to exercise the at-least-once
// contract. Like the redis feed, delivery to a slow subscriber drops rather
// than blocks.
type FakeFeed struct {
	mu       sync.Mutex
	partSubs map[int]chan models.ParticipantEvent
	sessSubs map[int]sessionSub
	msgSubs  map[int]messageSub
	nextID   int
}

type sessionSub struct {
	ch     chan models.SessionEvent
	selfID string
}

type messageSub struct {
	ch        chan models.MessageEvent
	sessionID string
}

func NewFakeFeed() *FakeFeed {
	return &FakeFeed{
		partSubs: make(map[int]chan models.ParticipantEvent),
		sessSubs: make(map[int]sessionSub),
		msgSubs:  make(map[int]messageSub),
	}
}

var _ realtime.Feed = (*FakeFeed)(nil)

func (f *FakeFeed) Participants(ctx context.Context) (<-chan models.ParticipantEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	ch := make(chan models.ParticipantEvent, 64)
	f.partSubs[id] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.partSubs[id]; ok {
			delete(f.partSubs, id)
			close(sub)
		}
	}
}

func (f *FakeFeed) Sessions(ctx context.Context, selfID string) (<-chan models.SessionEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	ch := make(chan models.SessionEvent, 64)
	f.sessSubs[id] = sessionSub{ch: ch, selfID: selfID}
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.sessSubs[id]; ok {
			delete(f.sessSubs, id)
			close(sub.ch)
		}
	}
}

func (f *FakeFeed) Messages(ctx context.Context, sessionID string) (<-chan models.MessageEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	ch := make(chan models.MessageEvent, 64)
	f.msgSubs[id] = messageSub{ch: ch, sessionID: sessionID}
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.msgSubs[id]; ok {
			delete(f.msgSubs, id)
			close(sub.ch)
		}
	}
}

// EmitParticipant fans a participant event out to every subscriber.
func (f *FakeFeed) EmitParticipant(ev models.ParticipantEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.partSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// EmitSession fans a session event out to subscribers it involves.
func (f *FakeFeed) EmitSession(ev models.SessionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.sessSubs {
		if !ev.Session.Involves(sub.selfID) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// EmitMessage fans a message event out to subscribers of its session.
func (f *FakeFeed) EmitMessage(ev models.MessageEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.msgSubs {
		if ev.Message.SessionID != sub.sessionID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}
