package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/doodleup/cache"
	"github.com/zlnvch/doodleup/models"
	"github.com/zlnvch/doodleup/service"
)

func historyStroke(id string) models.Stroke {
	return models.Stroke{
		Id:        id,
		BoardId:   "k3f9q2",
		Segment:   models.Segment{X1: 1, Y1: 1, Color: "black", Width: 2},
		Timestamp: time.UnixMilli(1700000000000).UTC(),
	}
}

func encodeStrokes(strokes ...models.Stroke) [][]byte {
	out := make([][]byte, 0, len(strokes))
	for _, s := range strokes {
		b, _ := json.Marshal(s)
		out = append(out, b)
	}
	return out
}

func strokeIds(strokes []models.Stroke) []string {
	ids := make([]string, 0, len(strokes))
	for _, s := range strokes {
		ids = append(ids, s.Id)
	}
	return ids
}

func TestLoadHistory_CacheComplete(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	ctx := context.Background()

	env.cache.On("GetStrokes", ctx, "k3f9q2").Return(encodeStrokes(historyStroke("s1"), historyStroke("s2")), nil)
	env.cache.On("IsBoardComplete", ctx, "k3f9q2").Return(true, nil)

	strokes, err := env.svc.LoadHistory(ctx, "k3f9q2")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, strokeIds(strokes))
	env.store.AssertNotCalled(t, "GetStrokes", mock.Anything, mock.Anything, mock.Anything)
}

func TestLoadHistory_CacheSkipsUndecodableEntries(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	ctx := context.Background()

	raw := append(encodeStrokes(historyStroke("s1")), []byte("{not json"))
	env.cache.On("GetStrokes", ctx, "k3f9q2").Return(raw, nil)
	env.cache.On("IsBoardComplete", ctx, "k3f9q2").Return(true, nil)

	strokes, err := env.svc.LoadHistory(ctx, "k3f9q2")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, strokeIds(strokes))
}

func TestLoadHistory_CacheIncomplete_MergeAndSeed(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	ctx := context.Background()

	env.cache.On("GetStrokes", ctx, "k3f9q2").Return(encodeStrokes(historyStroke("s4"), historyStroke("s2")), nil)
	env.cache.On("IsBoardComplete", ctx, "k3f9q2").Return(false, nil)
	env.store.On("GetStrokes", ctx, "k3f9q2", service.MaxReplayStrokes).
		Return([]models.Stroke{historyStroke("s1"), historyStroke("s2"), historyStroke("s3")}, nil)

	var seeded []cache.StrokeCacheItem
	env.cache.On("AddStrokesBatch", ctx, "k3f9q2", mock.Anything).Run(func(args mock.Arguments) {
		seeded = args.Get(2).([]cache.StrokeCacheItem)
	}).Return(nil)
	env.cache.On("SetBoardComplete", ctx, "k3f9q2").Return(nil)

	strokes, err := env.svc.LoadHistory(ctx, "k3f9q2")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3", "s4"}, strokeIds(strokes))

	require.Len(t, seeded, 3)
	assert.Equal(t, "s1", seeded[0].StrokeId)
	assert.Equal(t, int64(1700000000000), seeded[0].Score)
	env.cache.AssertCalled(t, "SetBoardComplete", ctx, "k3f9q2")
}

func TestLoadHistory_EmptyBoardMarkedComplete(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	ctx := context.Background()

	env.cache.On("GetStrokes", ctx, "k3f9q2").Return([][]byte{}, nil)
	env.cache.On("IsBoardComplete", ctx, "k3f9q2").Return(false, nil)
	env.store.On("GetStrokes", ctx, "k3f9q2", service.MaxReplayStrokes).Return([]models.Stroke{}, nil)
	env.cache.On("SetBoardComplete", ctx, "k3f9q2").Return(nil)

	strokes, err := env.svc.LoadHistory(ctx, "k3f9q2")
	require.NoError(t, err)
	assert.Empty(t, strokes)
	env.cache.AssertNotCalled(t, "AddStrokesBatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestLoadHistory_CacheErrorFallsBackToStore(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	ctx := context.Background()

	env.cache.On("GetStrokes", ctx, "k3f9q2").Return([][]byte(nil), errors.New("redis down"))
	env.cache.On("IsBoardComplete", ctx, "k3f9q2").Return(true, nil)
	env.store.On("GetStrokes", ctx, "k3f9q2", service.MaxReplayStrokes).Return([]models.Stroke{historyStroke("s1")}, nil)
	env.cache.On("AddStrokesBatch", ctx, "k3f9q2", mock.Anything).Return(errors.New("redis down"))

	strokes, err := env.svc.LoadHistory(ctx, "k3f9q2")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, strokeIds(strokes))
	env.cache.AssertNotCalled(t, "SetBoardComplete", mock.Anything, mock.Anything)
}

func TestLoadHistory_TruncatesToNewest(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	ctx := context.Background()

	dbStrokes := make([]models.Stroke, 0, service.MaxReplayStrokes)
	for i := 0; i < service.MaxReplayStrokes; i++ {
		dbStrokes = append(dbStrokes, historyStroke(fmt.Sprintf("a%05d", i)))
	}
	env.cache.On("GetStrokes", ctx, "k3f9q2").Return(encodeStrokes(historyStroke("b00000")), nil)
	env.cache.On("IsBoardComplete", ctx, "k3f9q2").Return(false, nil)
	env.store.On("GetStrokes", ctx, "k3f9q2", service.MaxReplayStrokes).Return(dbStrokes, nil)
	env.cache.On("AddStrokesBatch", ctx, "k3f9q2", mock.Anything).Return(nil)
	env.cache.On("SetBoardComplete", ctx, "k3f9q2").Return(nil)

	strokes, err := env.svc.LoadHistory(ctx, "k3f9q2")
	require.NoError(t, err)
	require.Len(t, strokes, service.MaxReplayStrokes)
	assert.Equal(t, "a00001", strokes[0].Id)
	assert.Equal(t, "b00000", strokes[len(strokes)-1].Id)
}

func TestLoadHistory_UnknownBoard(t *testing.T) {
	env := setupService(t)

	_, err := env.svc.LoadHistory(context.Background(), "zzzzzz")
	assert.ErrorIs(t, err, service.ErrBoardNotFound)
	assert.Empty(t, env.svc.ReplayHistory(context.Background(), "zzzzzz"))
}

func TestLoadHistory_StoreError(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	ctx := context.Background()

	env.cache.On("GetStrokes", ctx, "k3f9q2").Return([][]byte{}, nil)
	env.cache.On("IsBoardComplete", ctx, "k3f9q2").Return(false, nil)
	env.store.On("GetStrokes", ctx, "k3f9q2", service.MaxReplayStrokes).Return([]models.Stroke{}, errors.New("dynamo down"))

	_, err := env.svc.LoadHistory(ctx, "k3f9q2")
	assert.ErrorIs(t, err, service.ErrPersistenceUnavailable)

	replay := env.svc.ReplayHistory(ctx, "k3f9q2")
	assert.NotNil(t, replay)
	assert.Empty(t, replay)
}

func TestLoadHistory_ConcurrentClearInvalidatesSeed(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	require.NoError(t, env.svc.JoinBoard("k3f9q2", newFakeConn("a", "Alice")))
	ctx := context.Background()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go env.strokeBatcher.Run(runCtx)

	env.cache.On("GetStrokes", ctx, "k3f9q2").Return([][]byte{}, nil)
	env.cache.On("IsBoardComplete", ctx, "k3f9q2").Return(false, nil)
	env.store.On("DeleteBoardStrokes", mock.Anything, "k3f9q2").Return(nil)
	env.cache.On("InvalidateBoards", mock.Anything, []string{"k3f9q2"}).Return(nil)
	env.cache.On("AddStrokesBatch", ctx, "k3f9q2", mock.Anything).Return(nil)
	env.cache.On("SetBoardComplete", ctx, "k3f9q2").Return(nil)

	// The clear lands between the store read and the cache seed
	env.store.On("GetStrokes", ctx, "k3f9q2", service.MaxReplayStrokes).Run(func(args mock.Arguments) {
		require.NoError(t, env.svc.ClearBoard(ctx, "k3f9q2", "a", "Alice"))
	}).Return([]models.Stroke{historyStroke("s1")}, nil)

	_, err := env.svc.LoadHistory(ctx, "k3f9q2")
	require.NoError(t, err)

	// Once by the clear, once more by the load that raced it
	env.cache.AssertNumberOfCalls(t, "InvalidateBoards", 2)
}
