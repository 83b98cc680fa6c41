package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultEvictionInterval is how often the evictor sweeps for idle sessions.
const DefaultEvictionInterval = time.Minute

// StartEvictor runs a background goroutine that periodically removes idle
// sessions until ctx is cancelled. A non-positive interval selects
// DefaultEvictionInterval.
func StartEvictor(ctx context.Context, s *Store, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultEvictionInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		s.logger.Info("Session evictor started", "interval", interval, "ttl", s.ttl)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, s)
			case <-ctx.Done():
				s.logger.Info("Session evictor shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, s *Store) {
	n, err := s.EvictExpired(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("Session eviction failed", "error", err, "evicted", n)
		return
	}
	if n > 0 {
		s.logger.Info("Evicted idle sessions", slog.Int("count", n))
	}
}
