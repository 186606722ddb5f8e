package cache

import "context"

type StrokeCacheItem struct {
	StrokeId string
	Score    int64
	Data     []byte
}

// DoodleCache holds recently persisted strokes per board for fast replay.
// A board is "complete" when the cache holds its whole history.
type DoodleCache interface {
	AddStrokesBatch(ctx context.Context, boardCode string, strokes []StrokeCacheItem) error
	GetStrokes(ctx context.Context, boardCode string) ([][]byte, error)

	SetBoardComplete(ctx context.Context, boardCode string) error
	IsBoardComplete(ctx context.Context, boardCode string) (bool, error)
	InvalidateBoards(ctx context.Context, boardCodes []string) error
}
