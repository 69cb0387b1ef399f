package models

// Event envelopes delivered over the realtime feed. The feed is at-least-once
// and may redeliver, so consumers dedup by the id of the embedded row rather
// than trusting delivery guarantees the transport does not make.

// ParticipantEvent notifies subscribers that a participant row was written.
type ParticipantEvent struct {
	Participant Participant `json:"participant"`
}

// SessionEvent notifies subscribers that a session row was inserted.
type SessionEvent struct {
	Session Session `json:"session"`
}

// MessageEvent notifies subscribers that a message row was inserted.
type MessageEvent struct {
	Message Message `json:"message"`
}
