package chat

import (
	"context"
	"log/slog"
	"time"
)

const defaultSweepInterval = 5 * time.Minute

// Pruner removes ledger rows older than a cutoff.
type Pruner interface {
	PruneExchanges(ctx context.Context, cutoff time.Time) (int64, error)
}

// ExpireCallback is called for every session the sweeper discards.
type ExpireCallback func(sessionID string)

// SweeperConfig configures StartSweeper.
type SweeperConfig struct {
	// TTL is how long a session may sit unused before it is discarded.
	TTL time.Duration
	// Interval between sweeps. Defaults to five minutes.
	Interval time.Duration
	// Ledger and Retention enable pruning of old exchange rows.
	Ledger    Pruner
	Retention time.Duration
	// OnExpire is optional.
	OnExpire ExpireCallback
}

// StartSweeper runs a background goroutine that periodically discards idle
// sessions and prunes the ledger. It stops when ctx is cancelled.
func StartSweeper(ctx context.Context, registry *Registry, cfg SweeperConfig) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", cfg.TTL, "ledger_retention", cfg.Retention)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, registry, cfg, time.Now())
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, registry *Registry, cfg SweeperConfig, now time.Time) {
	if cfg.TTL > 0 {
		expired := registry.expire(now.Add(-cfg.TTL))
		for _, id := range expired {
			slog.Info("Session sweeper discarded idle session", "session_id", id)
			if cfg.OnExpire != nil {
				cfg.OnExpire(id)
			}
		}
		if len(expired) > 0 {
			slog.Info("Session sweeper cleanup completed", "cleaned", len(expired), "remaining", registry.Len())
		}
	}

	if cfg.Ledger == nil || cfg.Retention <= 0 {
		return
	}
	if deleted, err := cfg.Ledger.PruneExchanges(ctx, now.Add(-cfg.Retention)); err != nil {
		slog.Error("Session sweeper failed to prune exchange ledger", "error", err)
	} else if deleted > 0 {
		slog.Info("Session sweeper pruned exchange ledger", "count", deleted)
	}
}
