package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"pairgo/backend/internal/models"
	"pairgo/backend/internal/realtime"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Service implements Storage over PostgreSQL (durable relations) and Redis
// (event publishing and the reload-resume snapshot). Every row write is
// followed by a best-effort publish so other participants observe the change
// through the realtime feed; a failed publish is logged, not fatal, since the
// feed is at-least-once by contract, not exactly-once.
type Service struct {
	DB          *gorm.DB
	Redis       *redis.Client
	SnapshotTTL time.Duration
}

// NewService constructs the storage service.
func NewService(db *gorm.DB, rdb *redis.Client, snapshotTTL time.Duration) *Service {
	return &Service{DB: db, Redis: rdb, SnapshotTTL: snapshotTTL}
}

func (s *Service) CreateParticipant(ctx context.Context, p *models.Participant) error {
	if err := s.DB.WithContext(ctx).Save(p).Error; err != nil {
		log.Printf("ERROR: Failed to save participant %s: %v", p.ID, err)
		return err
	}
	s.publishParticipant(ctx, p)
	return nil
}

func (s *Service) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	var p models.Participant
	err := s.DB.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) DeleteParticipant(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).Delete(&models.Participant{}, "id = ?", id).Error
}

func (s *Service) UpdatePresence(ctx context.Context, id string, status models.PresenceStatus, lastActive time.Time) error {
	err := s.DB.WithContext(ctx).Model(&models.Participant{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"last_active": lastActive,
		}).Error
	if err != nil {
		log.Printf("ERROR: Failed to update presence for %s: %v", id, err)
		return err
	}
	s.publishParticipant(ctx, &models.Participant{ID: id, Status: status, LastActive: lastActive})
	return nil
}

func (s *Service) TouchLastActive(ctx context.Context, id string, lastActive time.Time) error {
	return s.DB.WithContext(ctx).Model(&models.Participant{}).
		Where("id = ?", id).
		Update("last_active", lastActive).Error
}

func (s *Service) ExpirePresence(ctx context.Context, id string, lastActive time.Time) error {
	res := s.DB.WithContext(ctx).Model(&models.Participant{}).
		Where("id = ? AND last_active = ?", id, lastActive).
		Update("status", models.StatusOffline)
	if res.Error != nil {
		log.Printf("ERROR: Presence expiry failed for %s: %v", id, res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Superseded by a newer presence write; the participant is alive.
		return nil
	}
	s.publishParticipant(ctx, &models.Participant{ID: id, Status: models.StatusOffline, LastActive: lastActive})
	return nil
}

func (s *Service) ClaimParticipant(ctx context.Context, id string, from, to models.PresenceStatus) error {
	res := s.DB.WithContext(ctx).Model(&models.Participant{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":      to,
			"last_active": time.Now(),
		})
	if res.Error != nil {
		log.Printf("ERROR: Claim write failed for %s (%s -> %s): %v", id, from, to, res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrClaimConflict
	}
	s.publishParticipant(ctx, &models.Participant{ID: id, Status: to, LastActive: time.Now()})
	return nil
}

func (s *Service) ListCandidates(ctx context.Context, excludeID string, cutoff time.Time, limit int) ([]models.Participant, error) {
	var candidates []models.Participant
	err := s.DB.WithContext(ctx).
		Where("status = ?", models.StatusAvailable).
		Where("id <> ?", excludeID).
		Where("id NOT LIKE ?", models.BotIDPrefix+"%").
		Where("last_active > ?", cutoff).
		Order("id asc").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

func (s *Service) CreateSession(ctx context.Context, sess *models.Session) error {
	if err := s.DB.WithContext(ctx).Create(sess).Error; err != nil {
		log.Printf("ERROR: Failed to create session %s: %v", sess.ID, err)
		return err
	}
	s.publish(ctx, realtime.SessionChannel, models.SessionEvent{Session: *sess})
	return nil
}

func (s *Service) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	err := s.DB.WithContext(ctx).First(&sess, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Service) TouchSession(ctx context.Context, id string, lastActivity time.Time) error {
	return s.DB.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", id).
		Update("last_activity", lastActivity).Error
}

func (s *Service) CreateMessage(ctx context.Context, m *models.Message) error {
	if err := s.DB.WithContext(ctx).Create(m).Error; err != nil {
		log.Printf("ERROR: Failed to save message for session %s: %v", m.SessionID, err)
		return err
	}
	if err := s.TouchSession(ctx, m.SessionID, m.CreatedAt); err != nil {
		log.Printf("WARNING: Failed to bump session activity for %s: %v", m.SessionID, err)
	}
	s.publish(ctx, realtime.MessageChannel(m.SessionID), models.MessageEvent{Message: *m})
	return nil
}

func (s *Service) MessagesForSession(ctx context.Context, sessionID string) ([]models.Message, error) {
	var msgs []models.Message
	err := s.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at asc").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func snapshotKey(participantID string) string {
	return "snapshot:" + participantID
}

func (s *Service) SaveSnapshot(ctx context.Context, participantID string, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.Redis.Set(ctx, snapshotKey(participantID), data, s.SnapshotTTL).Err()
}

func (s *Service) LoadSnapshot(ctx context.Context, participantID string) (*models.Snapshot, error) {
	data, err := s.Redis.Get(ctx, snapshotKey(participantID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap models.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Service) ClearSnapshot(ctx context.Context, participantID string) error {
	return s.Redis.Del(ctx, snapshotKey(participantID)).Err()
}

func (s *Service) publishParticipant(ctx context.Context, p *models.Participant) {
	s.publish(ctx, realtime.PresenceChannel, models.ParticipantEvent{Participant: *p})
}

func (s *Service) publish(ctx context.Context, channel string, ev interface{}) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("ERROR: Failed to marshal event for %s: %v", channel, err)
		return
	}
	if err := s.Redis.Publish(ctx, channel, string(data)).Err(); err != nil {
		log.Printf("WARNING: Failed to publish event to %s: %v", channel, err)
	}
}
