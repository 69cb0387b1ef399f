package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// PresenceStatus is the availability state of a participant in the pool.
type PresenceStatus string

const (
	StatusAvailable PresenceStatus = "available"
	StatusMatched   PresenceStatus = "matched"
	StatusOffline   PresenceStatus = "offline"
)

// BotIDPrefix is the id namespace for synthetic participants. Matchmaking
// excludes ids under this namespace from the human candidate query, and the
// session listener uses it to tell a synthetic partner from a human one.
const BotIDPrefix = "bot-"

// Participant is a member of the matching pool, human or synthetic.
// Human participants are created on join and removed on logout; synthetic ones
// exist only for the lifetime of a single session.
type Participant struct {
	ID          string         `gorm:"primaryKey" json:"id"` // Anonymous UUID, or "bot-<uuid>"
	DisplayName string         `json:"display_name"`
	Color       string         `json:"color"`
	Status      PresenceStatus `gorm:"type:text;index:idx_pool_scan" json:"status"`
	LastActive  time.Time      `gorm:"index:idx_pool_scan" json:"last_active"`
	Interests   pq.StringArray `gorm:"type:text[]" json:"interests,omitempty"`
}

// BeforeCreate is a GORM hook that assigns a fresh UUID when no id was set.
func (p *Participant) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return
}

// IsBot reports whether the participant is synthetic.
func (p *Participant) IsBot() bool {
	return IsBotID(p.ID)
}

// IsBotID reports whether an id lives in the synthetic namespace.
func IsBotID(id string) bool {
	return strings.HasPrefix(id, BotIDPrefix)
}
