package models

import "time"

// Session is an exclusive 1-on-1 pairing between two participants.
// Sessions are never deleted, only abandoned: message history outlives the
// pairing, so teardown just stops referencing the row.
type Session struct {
	// ID is the unique identifier for the session (UUID).
	ID string `gorm:"primaryKey" json:"id"`
	// AID / AName identify the participant that initiated the match.
	AID   string `gorm:"index" json:"a_id"`
	AName string `json:"a_name"`
	// BID / BName identify the claimed partner (human or synthetic).
	BID   string `gorm:"index" json:"b_id"`
	BName string `json:"b_name"`
	// StartedAt is when the pairing was formed.
	StartedAt time.Time `json:"started_at"`
	// LastActivity is bumped on every message written to the session.
	LastActivity time.Time `json:"last_activity"`
}

// Involves reports whether the given participant is one of the two parties.
func (s *Session) Involves(id string) bool {
	return s.AID == id || s.BID == id
}

// PartnerOf returns the id and display name of the other party.
// Both return values are empty when the id is not a party to the session.
func (s *Session) PartnerOf(id string) (string, string) {
	switch id {
	case s.AID:
		return s.BID, s.BName
	case s.BID:
		return s.AID, s.AName
	}
	return "", ""
}
