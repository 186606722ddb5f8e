package worker

import (
	"context"
	"log/slog"
	"time"
)

// Toucher records that an identity was active at a given time.
type Toucher interface {
	Touch(key string, at time.Time) bool
}

type ActivityTouch struct {
	Key string
	At  time.Time
}

// ActivityBatcher coalesces last-active updates so busy connections don't
// contend on identity locks for every message.
type ActivityBatcher struct {
	TouchCh            chan ActivityTouch
	identities         Toucher
	tickerMilliseconds int
	now                func() time.Time
}

func NewActivityBatcher(identities Toucher, tickerMilliseconds int) *ActivityBatcher {
	return &ActivityBatcher{
		TouchCh:            make(chan ActivityTouch, 1024),
		identities:         identities,
		tickerMilliseconds: tickerMilliseconds,
		now:                time.Now,
	}
}

// Record notes activity for key now. Full buffer means the touch is skipped;
// the next one will carry a later timestamp anyway.
func (b *ActivityBatcher) Record(key string) {
	select {
	case b.TouchCh <- ActivityTouch{Key: key, At: b.now()}:
	default:
	}
}

func (b *ActivityBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	latest := make(map[string]time.Time)

	flush := func() {
		missing := 0
		for key, at := range latest {
			if !b.identities.Touch(key, at) {
				missing++
			}
		}
		if missing > 0 {
			slog.Debug("activity for unknown identities skipped", "count", missing)
		}
		clear(latest)
	}

	for {
		select {
		case touch := <-b.TouchCh:
			if prev, ok := latest[touch.Key]; !ok || touch.At.After(prev) {
				latest[touch.Key] = touch.At
			}
			if len(latest) >= 100 {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			flush()
			return
		}
	}
}
