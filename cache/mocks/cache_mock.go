package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/doodleup/cache"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) AddStrokesBatch(ctx context.Context, boardCode string, strokes []cache.StrokeCacheItem) error {
	args := m.Called(ctx, boardCode, strokes)
	return args.Error(0)
}

func (m *MockCache) GetStrokes(ctx context.Context, boardCode string) ([][]byte, error) {
	args := m.Called(ctx, boardCode)
	return args.Get(0).([][]byte), args.Error(1)
}

func (m *MockCache) SetBoardComplete(ctx context.Context, boardCode string) error {
	args := m.Called(ctx, boardCode)
	return args.Error(0)
}

func (m *MockCache) IsBoardComplete(ctx context.Context, boardCode string) (bool, error) {
	args := m.Called(ctx, boardCode)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) InvalidateBoards(ctx context.Context, boardCodes []string) error {
	args := m.Called(ctx, boardCodes)
	return args.Error(0)
}
