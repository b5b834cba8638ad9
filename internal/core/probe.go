package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ProbeOccupancy subscribes ch and resolves exactly once to the occupant count.
//
// After the subscription is confirmed a fallback timer is armed; whichever
// fires first — a presence sync event or the timer — reads the occupant set.
// Some directories never emit a sync event for an already-empty channel, so
// the timer path is load-bearing, not just a safety net. The probe always
// resolves within timeout of subscription; it never hangs.
func ProbeOccupancy(ctx context.Context, ch PresenceChannel, timeout time.Duration) (int, error) {
	if err := ch.Subscribe(ctx); err != nil {
		log.Warn().Err(err).Str("module", "core.probe").Msg("subscribe failed")
		return 0, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch.SyncEvents():
		n := len(ch.PresenceState())
		log.Debug().Str("module", "core.probe").Int("count", n).Msg("resolved by sync event")
		return n, nil
	case <-timer.C:
		n := len(ch.PresenceState())
		log.Debug().Str("module", "core.probe").Int("count", n).Msg("resolved by timeout")
		return n, nil
	case <-ch.Closed():
		return 0, fmt.Errorf("%w: channel closed before sync", ErrDirectoryUnavailable)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
