package channels

import (
	"context"
	"log/slog"
	"time"
)

const (
	supervisorInitialBackoff = 5 * time.Second
	supervisorMaxBackoff     = 60 * time.Second
)

// supervise runs a channel's Start in a loop. When Start returns (or
// fails) while the context is still live, it waits a backoff delay that
// doubles per consecutive failure up to the cap, then retries. A start
// that stays up for a while resets the backoff.
func supervise(ctx context.Context, ch Channel) {
	backoff := supervisorInitialBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		err := ch.Start(ctx)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			slog.Warn("channel exited with error", "channel", ch.Name(), "error", err)
		} else {
			slog.Warn("channel exited unexpectedly", "channel", ch.Name())
		}

		// A run that survived past the backoff window counts as healthy.
		if time.Since(started) > supervisorMaxBackoff {
			backoff = supervisorInitialBackoff
		}

		slog.Info("restarting channel", "channel", ch.Name(), "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > supervisorMaxBackoff {
			backoff = supervisorMaxBackoff
		}
	}
}
