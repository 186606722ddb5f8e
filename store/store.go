package store

import (
	"context"
	"errors"
	"time"

	"github.com/zlnvch/doodleup/models"
)

// DoodleStore is the durable stroke log plus board snapshots. Strokes are
// append/query/delete only; nothing is updated in place.
type DoodleStore interface {
	WriteStrokeBatch(ctx context.Context, strokes []models.Stroke) ([]models.Stroke, error)
	GetStrokes(ctx context.Context, boardCode string, limit int) ([]models.Stroke, error)
	DeleteBoardStrokes(ctx context.Context, boardCode string) error
	DeleteStrokesBefore(ctx context.Context, cutoff time.Time) (int, error)

	PutBoard(ctx context.Context, board models.Board) error
	ListBoards(ctx context.Context) ([]models.Board, error)
}

var (
	ErrItemNotFound = errors.New("item does not exist")
	ErrItemExists   = errors.New("item already exists")
)
