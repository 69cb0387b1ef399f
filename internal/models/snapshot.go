package models

import "time"

// Snapshot is the persisted session state that survives a page reload but not
// a genuine exit. It is written on every state transition, cleared on skip and
// logout, and read once at startup to resume an interrupted session.
type Snapshot struct {
	Self    *Participant `json:"self"`
	Session *Session     `json:"session,omitempty"`
	Partner *Participant `json:"partner,omitempty"`
	SavedAt time.Time    `json:"saved_at"`
}
