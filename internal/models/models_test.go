package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionInvolves(t *testing.T) {
	sess := Session{ID: "s1", AID: "a", AName: "Ann", BID: "b", BName: "Ben"}

	assert.True(t, sess.Involves("a"))
	assert.True(t, sess.Involves("b"))
	assert.False(t, sess.Involves("c"))
}

func TestSessionPartnerOf(t *testing.T) {
	sess := Session{ID: "s1", AID: "a", AName: "Ann", BID: "b", BName: "Ben"}

	tests := []struct {
		selfID   string
		wantID   string
		wantName string
	}{
		{"a", "b", "Ben"},
		{"b", "a", "Ann"},
	}
	for _, tt := range tests {
		id, name := sess.PartnerOf(tt.selfID)
		assert.Equal(t, tt.wantID, id)
		assert.Equal(t, tt.wantName, name)
	}
}

func TestIsBotID(t *testing.T) {
	assert.True(t, IsBotID(BotIDPrefix+"1234"))
	assert.False(t, IsBotID("1234"))
	assert.False(t, IsBotID(""))

	p := Participant{ID: BotIDPrefix + "abc"}
	assert.True(t, p.IsBot())
	h := Participant{ID: "abc"}
	assert.False(t, h.IsBot())
}
