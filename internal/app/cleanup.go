package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Boseong0902/webRtc-poc/internal/domain"
)

// runCleanup converges the session to Idle. It is reachable from the
// remote-leave event, the operator's disconnect and process shutdown; those
// may race or double-fire, so every step tolerates already-released
// resources, and a failing step never blocks the ones after it.
func (c *Coordinator) runCleanup(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != domain.StateIdle {
		c.state = domain.StateDisconnecting
	}

	// 1. stop inbound tracks
	if c.session != nil {
		c.session.stopInbound()
	}

	// 2-4. untrack, unsubscribe, release the presence binding
	if c.channel != nil {
		if err := c.channel.Untrack(ctx); err != nil {
			log.Warn().Err(err).Str("module", "app.cleanup").Msg("untrack failed")
		}
		if err := c.channel.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("module", "app.cleanup").Msg("unsubscribe failed")
		}
		c.directory.Release(c.channel)
	}

	// 5. leave the fabric room
	if c.session != nil {
		c.session.leave()
	}

	// 6. clear owned references; only now is a new join admissible
	c.session = nil
	c.channel = nil
	c.local = nil
	c.roomID = ""
	c.participant = ""
	c.state = domain.StateIdle
	log.Info().Str("module", "app.cleanup").Msg("session idle")
}
