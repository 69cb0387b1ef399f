package storage

import (
	"context"
	"time"

	"pairgo/backend/internal/models"
)

// Storage is the narrow boundary to the shared participant/session store.
// The pool and the session log are the only shared mutable resources in the
// system; every cross-participant hazard is funneled through the conditional
// update (ClaimParticipant) while self-declared presence writes stay
// unconditional - a participant always has authority over its own row.
type Storage interface {
	// Participant pool.
	CreateParticipant(ctx context.Context, p *models.Participant) error
	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
	DeleteParticipant(ctx context.Context, id string) error
	// UpdatePresence unconditionally writes status and last-active.
	UpdatePresence(ctx context.Context, id string, status models.PresenceStatus, lastActive time.Time) error
	// TouchLastActive refreshes last-active only, leaving status untouched.
	TouchLastActive(ctx context.Context, id string, lastActive time.Time) error
	// ExpirePresence sets status=offline only while last-active still equals
	// the given stamp. Any newer presence write supersedes the expiry and the
	// call is a silent no-op, so a stale deferred-offline timer can never
	// clobber a participant that showed signs of life since.
	ExpirePresence(ctx context.Context, id string, lastActive time.Time) error
	// ClaimParticipant performs the compare-and-swap status transition:
	// "UPDATE ... WHERE id = ? AND status = from". Zero affected rows means
	// the participant was claimed concurrently and ErrClaimConflict is
	// returned.
	ClaimParticipant(ctx context.Context, id string, from, to models.PresenceStatus) error
	// ListCandidates returns available, non-synthetic participants other
	// than excludeID whose last-active is after cutoff, ordered by id and
	// limited to limit rows.
	ListCandidates(ctx context.Context, excludeID string, cutoff time.Time, limit int) ([]models.Participant, error)

	// Session log.
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	TouchSession(ctx context.Context, id string, lastActivity time.Time) error

	// Messages.
	CreateMessage(ctx context.Context, m *models.Message) error
	MessagesForSession(ctx context.Context, sessionID string) ([]models.Message, error)

	// Reload-resume snapshot.
	SaveSnapshot(ctx context.Context, participantID string, snap *models.Snapshot) error
	LoadSnapshot(ctx context.Context, participantID string) (*models.Snapshot, error)
	ClearSnapshot(ctx context.Context, participantID string) error
}
