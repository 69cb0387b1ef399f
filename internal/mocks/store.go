// Package mocks provides test doubles for the storage and realtime
// boundaries: an in-memory store with genuine compare-and-swap claim
// semantics, and a fan-out feed that lets tests inject (and duplicate)
// events.
package mocks

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"pairgo/backend/internal/models"
	"pairgo/backend/internal/storage"

	"github.com/google/uuid"
)

// ErrSimulated is the failure injected by the store's error knobs.
var ErrSimulated = errors.New("simulated store failure")

// MemoryStore implements storage.Storage in memory. The claim path holds the
// same atomicity contract as the SQL conditional update, which makes it a
// valid substrate for racing findMatch calls in tests. When Feed is set,
// writes publish the corresponding events through it.
type MemoryStore struct {
	mu           sync.Mutex
	participants map[string]models.Participant
	sessions     map[string]models.Session
	messages     map[string][]models.Message
	snapshots    map[string]models.Snapshot

	Feed *FakeFeed

	// Err, when set, makes every operation fail - simulates store outage.
	Err error
	// FailCreateMessage makes only message inserts fail - for send-failure
	// round-trip tests.
	FailCreateMessage bool
	// ClaimHook, when set, runs before each claim; returning a non-nil
	// error short-circuits the claim with it.
	ClaimHook func(id string, from, to models.PresenceStatus) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		participants: make(map[string]models.Participant),
		sessions:     make(map[string]models.Session),
		messages:     make(map[string][]models.Message),
		snapshots:    make(map[string]models.Snapshot),
	}
}

var _ storage.Storage = (*MemoryStore)(nil)

func (s *MemoryStore) CreateParticipant(ctx context.Context, p *models.Participant) error {
	if s.Err != nil {
		return s.Err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	s.mu.Lock()
	s.participants[p.ID] = *p
	s.mu.Unlock()
	s.emitParticipant(*p)
	return nil
}

func (s *MemoryStore) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := p
	return &out, nil
}

func (s *MemoryStore) DeleteParticipant(ctx context.Context, id string) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	delete(s.participants, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) UpdatePresence(ctx context.Context, id string, status models.PresenceStatus, lastActive time.Time) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	p, ok := s.participants[id]
	if ok {
		p.Status = status
		p.LastActive = lastActive
		s.participants[id] = p
	}
	s.mu.Unlock()
	if ok {
		s.emitParticipant(p)
	}
	return nil
}

func (s *MemoryStore) TouchLastActive(ctx context.Context, id string, lastActive time.Time) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[id]; ok {
		p.LastActive = lastActive
		s.participants[id] = p
	}
	return nil
}

func (s *MemoryStore) ExpirePresence(ctx context.Context, id string, lastActive time.Time) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	p, ok := s.participants[id]
	if !ok || !p.LastActive.Equal(lastActive) {
		s.mu.Unlock()
		return nil
	}
	p.Status = models.StatusOffline
	s.participants[id] = p
	s.mu.Unlock()
	s.emitParticipant(p)
	return nil
}

func (s *MemoryStore) ClaimParticipant(ctx context.Context, id string, from, to models.PresenceStatus) error {
	if s.Err != nil {
		return s.Err
	}
	if s.ClaimHook != nil {
		if err := s.ClaimHook(id, from, to); err != nil {
			return err
		}
	}
	s.mu.Lock()
	p, ok := s.participants[id]
	if !ok || p.Status != from {
		s.mu.Unlock()
		return storage.ErrClaimConflict
	}
	p.Status = to
	p.LastActive = time.Now()
	s.participants[id] = p
	s.mu.Unlock()
	s.emitParticipant(p)
	return nil
}

func (s *MemoryStore) ListCandidates(ctx context.Context, excludeID string, cutoff time.Time, limit int) ([]models.Participant, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Participant
	for _, p := range s.participants {
		if p.ID == excludeID || p.Status != models.StatusAvailable {
			continue
		}
		if strings.HasPrefix(p.ID, models.BotIDPrefix) {
			continue
		}
		if !p.LastActive.After(cutoff) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	s.sessions[sess.ID] = *sess
	s.mu.Unlock()
	s.emitSession(*sess)
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := sess
	return &out, nil
}

func (s *MemoryStore) TouchSession(ctx context.Context, id string, lastActivity time.Time) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.LastActivity = lastActivity
		s.sessions[id] = sess
	}
	return nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, m *models.Message) error {
	if s.Err != nil {
		return s.Err
	}
	if s.FailCreateMessage {
		return ErrSimulated
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	s.mu.Lock()
	s.messages[m.SessionID] = append(s.messages[m.SessionID], *m)
	s.mu.Unlock()
	s.emitMessage(*m)
	return nil
}

func (s *MemoryStore) MessagesForSession(ctx context.Context, sessionID string) ([]models.Message, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages[sessionID]))
	copy(out, s.messages[sessionID])
	return out, nil
}

func (s *MemoryStore) SaveSnapshot(ctx context.Context, participantID string, snap *models.Snapshot) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[participantID] = *snap
	return nil
}

func (s *MemoryStore) LoadSnapshot(ctx context.Context, participantID string) (*models.Snapshot, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[participantID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := snap
	return &out, nil
}

func (s *MemoryStore) ClearSnapshot(ctx context.Context, participantID string) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, participantID)
	return nil
}

// Participants returns a copy of the pool, for assertions.
func (s *MemoryStore) Participants() map[string]models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.Participant, len(s.participants))
	for id, p := range s.participants {
		out[id] = p
	}
	return out
}

// Sessions returns a copy of the session log, for assertions.
func (s *MemoryStore) Sessions() []models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *MemoryStore) emitParticipant(p models.Participant) {
	if s.Feed != nil {
		s.Feed.EmitParticipant(models.ParticipantEvent{Participant: p})
	}
}

func (s *MemoryStore) emitSession(sess models.Session) {
	if s.Feed != nil {
		s.Feed.EmitSession(models.SessionEvent{Session: sess})
	}
}

func (s *MemoryStore) emitMessage(m models.Message) {
	if s.Feed != nil {
		s.Feed.EmitMessage(models.MessageEvent{Message: m})
	}
}
