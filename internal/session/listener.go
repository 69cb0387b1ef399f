package session

import (
	"errors"
	"log"

	"pairgo/backend/internal/models"
	"pairgo/backend/internal/observability"
	"pairgo/backend/internal/storage"
)

// The handlers below form the session event listener: reactions to events the
// local participant did not cause. They run on the controller loop like every
// other mutation, and they are idempotent - the feed is at-least-once and a
// duplicate delivery must not tear down twice or resurrect a session.

// onSessionEvent reacts to a session insert where self is a party. If we are
// still searching, another searcher claimed us: resolve the partner profile,
// install the session and cancel the in-flight search. Sessions we created
// ourselves also echo back here and are ignored by the duplicate guard.
func (c *Controller) onSessionEvent(ev models.SessionEvent) {
	sess := ev.Session
	if c.self == nil || !sess.Involves(c.selfID) {
		return
	}
	if c.sess != nil || c.state != StateSearching {
		return
	}

	partnerID, partnerName := sess.PartnerOf(c.selfID)
	partner, err := c.store.GetParticipant(c.ctx, partnerID)
	if err != nil {
		// The row may lag behind the event; fall back to what the session
		// itself carries. The synthetic flag still derives from the id.
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("WARNING: Failed to resolve partner %s: %v", partnerID, err)
		}
		partner = &models.Participant{
			ID:          partnerID,
			DisplayName: partnerName,
			Status:      models.StatusMatched,
		}
	}

	log.Printf("Claimed into session %s by %s", sess.ID, partnerID)
	c.enterSession(&sess, partner)
}

// onParticipantEvent is the failure-detection path for partner abandonment:
// the only place a partner's departure is observed without local action. A
// non-synthetic partner going offline (disconnect) or returning to available
// (their controller released us on skip or logout) tears the session down and
// re-enters searching after the grace delay, exactly once even when the
// update event is redelivered.
func (c *Controller) onParticipantEvent(ev models.ParticipantEvent) {
	p := ev.Participant
	if c.state != StateMatched || c.partner == nil || p.ID != c.partner.ID {
		return
	}
	if c.partner.IsBot() {
		// Synthetic participants never change presence on their own.
		return
	}

	switch p.Status {
	case models.StatusOffline:
		log.Printf("Partner %s went offline, recovering session %s", p.ID, c.sess.ID)
		observability.SessionsEndedTotal.WithLabelValues("partner_lost").Inc()
	case models.StatusAvailable:
		// A matched partner's row only returns to available when their side
		// tore the session down. Live participants in a session re-assert
		// matched on every presence write, including foreground returns.
		log.Printf("Partner %s left session %s, recovering", p.ID, c.sess.ID)
		observability.SessionsEndedTotal.WithLabelValues("partner_left").Inc()
	default:
		// Keep the local partner view fresh for the presentation layer.
		c.partner.Status = p.Status
		c.partner.LastActive = p.LastActive
		return
	}

	c.teardownSession(false)
	c.startSearching(c.cfg.RematchGrace)
}
