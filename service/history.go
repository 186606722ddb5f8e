package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/zlnvch/doodleup/cache"
	"github.com/zlnvch/doodleup/models"
)

// MaxReplayStrokes caps a replay to the newest strokes of a board.
const MaxReplayStrokes = 5000

// LoadHistory returns the strokes of a board oldest first. The replay cache
// answers when it holds the whole board; otherwise the store is read, merged
// with the cache and used to seed it. Strokes still waiting in the batcher
// are merged in either way.
func (s *Service) LoadHistory(ctx context.Context, boardCode string) ([]models.Stroke, error) {
	if _, err := s.Boards.Lookup(boardCode); err != nil {
		return nil, err
	}

	epoch := s.clearEpoch(boardCode)
	startEpoch := epoch.Load()

	// Taken before reading the cache: a stroke flushed after this point is
	// in the snapshot, one flushed before it is in the cache or store.
	pending := s.StrokeBatcher.Pending(boardCode)

	redisStrokesRaw, err := s.Cache.GetStrokes(ctx, boardCode)
	redisStrokes := []models.Stroke{}
	if err == nil {
		for _, b := range redisStrokesRaw {
			var stroke models.Stroke
			if err := json.Unmarshal(b, &stroke); err == nil {
				redisStrokes = append(redisStrokes, stroke)
			}
		}
	} else {
		slog.Warn("reading replay cache", "board", boardCode, "err", err)
	}

	isComplete, _ := s.Cache.IsBoardComplete(ctx, boardCode)
	if isComplete && err == nil {
		if len(pending) == 0 {
			return redisStrokes, nil
		}
		slices.SortFunc(redisStrokes, func(a, b models.Stroke) int { return strings.Compare(a.Id, b.Id) })
		return newestStrokes(mergeStrokes(redisStrokes, pending)), nil
	}

	// Fallback to the store + merge with the cache
	dbStrokes, err := s.Store.GetStrokes(ctx, boardCode, MaxReplayStrokes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	slices.SortFunc(redisStrokes, func(a, b models.Stroke) int { return strings.Compare(a.Id, b.Id) })
	finalStrokes := newestStrokes(mergeStrokes(mergeStrokes(dbStrokes, redisStrokes), pending))

	s.seedCache(ctx, boardCode, dbStrokes)

	// A clear that overlapped this load may have deleted what was just
	// seeded; drop the cache so the next load reads the store again.
	if epoch.Load() != startEpoch {
		if err := s.Cache.InvalidateBoards(ctx, []string{boardCode}); err != nil {
			slog.Error("invalidating replay cache after concurrent clear", "board", boardCode, "err", err)
		}
	}

	return finalStrokes, nil
}

// ReplayHistory is LoadHistory for joins: any failure yields an empty
// replay so the board stays usable.
func (s *Service) ReplayHistory(ctx context.Context, boardCode string) []models.Stroke {
	strokes, err := s.LoadHistory(ctx, boardCode)
	if err != nil {
		slog.Warn("history replay unavailable", "board", boardCode, "err", err)
		return []models.Stroke{}
	}
	return strokes
}

func (s *Service) seedCache(ctx context.Context, boardCode string, dbStrokes []models.Stroke) {
	batchItems := make([]cache.StrokeCacheItem, 0, len(dbStrokes))
	for _, stroke := range dbStrokes {
		sBytes, err := json.Marshal(stroke)
		if err != nil {
			continue
		}
		batchItems = append(batchItems, cache.StrokeCacheItem{
			StrokeId: stroke.Id,
			Score:    stroke.Timestamp.UnixMilli(),
			Data:     sBytes,
		})
	}

	if len(batchItems) > 0 {
		if err := s.Cache.AddStrokesBatch(ctx, boardCode, batchItems); err != nil {
			slog.Warn("seeding replay cache", "board", boardCode, "err", err)
			return
		}
	}
	if err := s.Cache.SetBoardComplete(ctx, boardCode); err != nil {
		slog.Warn("marking replay cache complete", "board", boardCode, "err", err)
	}
}

func newestStrokes(strokes []models.Stroke) []models.Stroke {
	if len(strokes) > MaxReplayStrokes {
		return strokes[len(strokes)-MaxReplayStrokes:]
	}
	return strokes
}

// mergeStrokes merges two id-sorted slices, dropping duplicates.
func mergeStrokes(dbStrokes []models.Stroke, redisStrokes []models.Stroke) []models.Stroke {
	finalStrokes := make([]models.Stroke, 0, len(dbStrokes)+len(redisStrokes))
	i, j := 0, 0
	for i < len(dbStrokes) && j < len(redisStrokes) {
		dbId := dbStrokes[i].Id
		redisId := redisStrokes[j].Id

		if dbId == redisId {
			finalStrokes = append(finalStrokes, redisStrokes[j])
			i++
			j++
		} else if dbId < redisId {
			finalStrokes = append(finalStrokes, dbStrokes[i])
			i++
		} else {
			finalStrokes = append(finalStrokes, redisStrokes[j])
			j++
		}
	}
	if i < len(dbStrokes) {
		finalStrokes = append(finalStrokes, dbStrokes[i:]...)
	}
	if j < len(redisStrokes) {
		finalStrokes = append(finalStrokes, redisStrokes[j:]...)
	}
	return finalStrokes
}
