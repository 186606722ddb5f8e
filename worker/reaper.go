package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/zlnvch/doodleup/mq"
)

// IdentitySweeper evicts identities inactive since before cutoff.
type IdentitySweeper interface {
	SweepInactive(cutoff time.Time) int
}

// Reaper periodically evicts stale identities and schedules the purge of
// strokes older than the retention window. Boards and presence are left
// alone.
type Reaper struct {
	identities        IdentitySweeper
	purgeStrokesQueue mq.MessageQueue
	retention         time.Duration
	interval          time.Duration
	now               func() time.Time
}

func NewReaper(identities IdentitySweeper, purgeStrokesQueue mq.MessageQueue, retention, interval time.Duration) *Reaper {
	return &Reaper{
		identities:        identities,
		purgeStrokesQueue: purgeStrokesQueue,
		retention:         retention,
		interval:          interval,
		now:               time.Now,
	}
}

// WithClock replaces the reaper's time source.
func (r *Reaper) WithClock(now func() time.Time) *Reaper {
	r.now = now
	return r
}

// Sweep runs both sweeps once. The identity sweep always runs; the returned
// error only reports a failure to schedule the stroke purge.
func (r *Reaper) Sweep(ctx context.Context) error {
	cutoff := r.now().Add(-r.retention)

	removed := r.identities.SweepInactive(cutoff)
	if removed > 0 {
		slog.Info("reaped inactive identities", "count", removed, "cutoff", cutoff)
	}

	body, err := json.Marshal(PurgeStrokesMessage{Before: cutoff.UnixMilli()})
	if err != nil {
		return fmt.Errorf("encoding purge message: %w", err)
	}
	if err := r.purgeStrokesQueue.Send(ctx, string(body)); err != nil {
		return fmt.Errorf("scheduling stroke purge: %w", err)
	}
	return nil
}

func (r *Reaper) Run(shutdownCtx context.Context) {
	sweep := func() {
		ctx, cancel := context.WithTimeout(shutdownCtx, 30*time.Second)
		defer cancel()
		if err := r.Sweep(ctx); err != nil {
			slog.Error("reaper sweep failed, retrying next tick", "err", err)
		}
	}

	sweep()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sweep()
		case <-shutdownCtx.Done():
			return
		}
	}
}
