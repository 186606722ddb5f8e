package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/doodleup/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) WriteStrokeBatch(ctx context.Context, strokes []models.Stroke) ([]models.Stroke, error) {
	args := m.Called(ctx, strokes)
	return args.Get(0).([]models.Stroke), args.Error(1)
}

func (m *MockStore) GetStrokes(ctx context.Context, boardCode string, limit int) ([]models.Stroke, error) {
	args := m.Called(ctx, boardCode, limit)
	return args.Get(0).([]models.Stroke), args.Error(1)
}

func (m *MockStore) DeleteBoardStrokes(ctx context.Context, boardCode string) error {
	args := m.Called(ctx, boardCode)
	return args.Error(0)
}

func (m *MockStore) DeleteStrokesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) PutBoard(ctx context.Context, board models.Board) error {
	args := m.Called(ctx, board)
	return args.Error(0)
}

func (m *MockStore) ListBoards(ctx context.Context) ([]models.Board, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Board), args.Error(1)
}
