package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zlnvch/doodleup/cache"
	"github.com/zlnvch/doodleup/models"
	"github.com/zlnvch/doodleup/store"
)

// maxBatchSize matches the BatchWriteItem limit.
const maxBatchSize = 25

// ClearRequest asks the batcher to forget the unflushed strokes of a board.
// Done is closed once they are gone.
type ClearRequest struct {
	BoardId string
	Done    chan struct{}
}

type StrokeBatcher struct {
	WriteCh            chan models.Stroke
	ClearCh            chan ClearRequest
	doodleStore        store.DoodleStore
	doodleCache        cache.DoodleCache
	tickerMilliseconds int

	// Strokes accepted by Enqueue that are not yet in the store and cache,
	// by board then stroke id.
	mu      sync.Mutex
	pending map[string]map[string]models.Stroke
}

// Flushes are synchronous inside Run, so once a ClearRequest is acknowledged
// every earlier stroke of that board is either in the store already or gone.
func NewStrokeBatcher(doodleStore store.DoodleStore, doodleCache cache.DoodleCache, tickerMilliseconds int) *StrokeBatcher {
	return &StrokeBatcher{
		WriteCh:            make(chan models.Stroke, 1024), // buffer to absorb bursts
		ClearCh:            make(chan ClearRequest, 16),
		doodleStore:        doodleStore,
		doodleCache:        doodleCache,
		tickerMilliseconds: tickerMilliseconds,
		pending:            make(map[string]map[string]models.Stroke),
	}
}

// Enqueue hands a stroke to the batcher without blocking. It reports false
// when the buffer is full and the stroke was dropped. An accepted stroke is
// visible to Pending until its flush has reached the store and cache.
func (b *StrokeBatcher) Enqueue(stroke models.Stroke) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case b.WriteCh <- stroke:
		board, ok := b.pending[stroke.BoardId]
		if !ok {
			board = make(map[string]models.Stroke)
			b.pending[stroke.BoardId] = board
		}
		board[stroke.Id] = stroke
		return true
	default:
		slog.Warn("stroke batcher full, dropping stroke", "board", stroke.BoardId, "stroke", stroke.Id)
		return false
	}
}

// Pending returns the board's accepted but unflushed strokes sorted by id.
// A stroke missing from the result was either enqueued afterwards or had
// already been flushed.
func (b *StrokeBatcher) Pending(boardId string) []models.Stroke {
	b.mu.Lock()
	board := b.pending[boardId]
	strokes := make([]models.Stroke, 0, len(board))
	for _, s := range board {
		strokes = append(strokes, s)
	}
	b.mu.Unlock()

	slices.SortFunc(strokes, func(x, y models.Stroke) int { return strings.Compare(x.Id, y.Id) })
	return strokes
}

func (b *StrokeBatcher) forget(strokes []models.Stroke) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range strokes {
		board, ok := b.pending[s.BoardId]
		if !ok {
			continue
		}
		delete(board, s.Id)
		if len(board) == 0 {
			delete(b.pending, s.BoardId)
		}
	}
}

// DropPending removes the board's unflushed strokes and waits for Run to
// confirm.
func (b *StrokeBatcher) DropPending(ctx context.Context, boardId string) error {
	req := ClearRequest{BoardId: boardId, Done: make(chan struct{})}
	select {
	case b.ClearCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.Done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *StrokeBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	batch := make([]models.Stroke, 0, maxBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Not derived from shutdownCtx: the final flush must still go through
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		unprocessed, err := b.doodleStore.WriteStrokeBatch(ctx, batch)
		if err != nil {
			slog.Error("writing stroke batch to store", "err", err, "unprocessed", len(unprocessed))
		}

		failed := make(map[string]bool, len(unprocessed))
		for _, u := range unprocessed {
			failed[u.Id] = true
		}

		byBoard := make(map[string][]cache.StrokeCacheItem)
		for _, s := range batch {
			if failed[s.Id] {
				continue
			}
			data, err := json.Marshal(s)
			if err != nil {
				slog.Error("encoding stroke for cache", "stroke", s.Id, "err", err)
				continue
			}
			byBoard[s.BoardId] = append(byBoard[s.BoardId], cache.StrokeCacheItem{
				StrokeId: s.Id,
				Score:    s.Timestamp.UnixMilli(),
				Data:     data,
			})
		}

		for boardId, items := range byBoard {
			if err := b.doodleCache.AddStrokesBatch(ctx, boardId, items); err != nil {
				slog.Error("adding strokes to cache", "board", boardId, "err", err)
			}
		}

		b.forget(batch)
		batch = batch[:0]
	}

	for {
		select {
		case stroke := <-b.WriteCh:
			batch = append(batch, stroke)
			if len(batch) >= maxBatchSize {
				flush()
			}

		case req := <-b.ClearCh:
			// Strokes enqueued before the clear are still buffered in
			// WriteCh; pull them in so they are dropped too.
			b.drainInto(&batch)
			var dropped []models.Stroke
			kept := batch[:0]
			for _, s := range batch {
				if s.BoardId != req.BoardId {
					kept = append(kept, s)
				} else {
					dropped = append(dropped, s)
				}
			}
			batch = kept
			b.forget(dropped)
			close(req.Done)

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			b.drainInto(&batch)
			flush()
			return
		}
	}
}

func (b *StrokeBatcher) drainInto(batch *[]models.Stroke) {
	for {
		select {
		case stroke := <-b.WriteCh:
			*batch = append(*batch, stroke)
		default:
			return
		}
	}
}
