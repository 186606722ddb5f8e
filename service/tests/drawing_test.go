package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/doodleup/models"
	"github.com/zlnvch/doodleup/service"
)

func newBoard(t *testing.T, env *testEnv, code string) models.Board {
	t.Helper()
	board := models.Board{Code: code, OwnerKey: "owner", DisplayName: "board", Created: time.Now()}
	require.True(t, env.boards.Restore(board))
	return board
}

func decodeStrokeEvent(t *testing.T, r received) service.StrokeEvent {
	t.Helper()
	var ev service.StrokeEvent
	require.NoError(t, json.Unmarshal(r.Data, &ev))
	return ev
}

func TestJoinBoard_UnknownBoard(t *testing.T) {
	env := setupService(t)

	err := env.svc.JoinBoard("zzzzzz", newFakeConn("a", "Alice"))
	assert.ErrorIs(t, err, service.ErrBoardNotFound)
}

func TestJoinLeave_RosterUpdates(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	a := newFakeConn("a", "Alice")
	b := newFakeConn("b", "Bob")

	require.NoError(t, env.svc.JoinBoard("k3f9q2", a))
	require.NoError(t, env.svc.JoinBoard("k3f9q2", b))

	lists := a.ofType(service.MessageUserList)
	require.Len(t, lists, 2)
	var roster []models.PresenceEntry
	require.NoError(t, json.Unmarshal(lists[1].Data, &roster))
	assert.ElementsMatch(t, []models.PresenceEntry{
		{ConnectionId: "a", DisplayName: "Alice", AvatarRef: "https://doodleup.test/guest.png"},
		{ConnectionId: "b", DisplayName: "Bob", AvatarRef: "https://doodleup.test/guest.png"},
	}, roster)

	env.svc.LeaveBoard("k3f9q2", "b")
	env.svc.LeaveBoard("k3f9q2", "b")
	env.svc.LeaveBoard("gone00", "b")

	lists = a.ofType(service.MessageUserList)
	require.Len(t, lists, 3)
	require.NoError(t, json.Unmarshal(lists[2].Data, &roster))
	assert.Len(t, roster, 1)
}

func TestDrawStroke_RelaysToOthersAndEnqueues(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	env.identities.Register(models.Identity{Key: "alice-key", DisplayName: "Alice"})
	a := newFakeConn("a", "Alice")
	b := newFakeConn("b", "Bob")
	require.NoError(t, env.svc.JoinBoard("k3f9q2", a))
	require.NoError(t, env.svc.JoinBoard("k3f9q2", b))

	seg := models.Segment{X0: 0, Y0: 0, X1: 10, Y1: 10, Color: "black", Width: 2}
	stroke, err := env.svc.DrawStroke(context.Background(), service.DrawParams{
		BoardCode:    "k3f9q2",
		ConnectionId: "a",
		IdentityKey:  "alice-key",
		SenderName:   "Alice",
		Segment:      seg,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, stroke.Id)
	assert.Equal(t, "k3f9q2", stroke.BoardId)

	assert.Empty(t, a.ofType(service.MessageStroke))
	got := b.ofType(service.MessageStroke)
	require.Len(t, got, 1)
	ev := decodeStrokeEvent(t, got[0])
	assert.Equal(t, seg, ev.Stroke.Segment)
	assert.Equal(t, "Alice", ev.SenderName)

	select {
	case queued := <-env.strokeBatcher.WriteCh:
		assert.Equal(t, stroke.Id, queued.Id)
		assert.Equal(t, "k3f9q2", queued.BoardId)
	case <-time.After(100 * time.Millisecond):
		assert.Fail(t, "timed out waiting for stroke batcher")
	}

	select {
	case touch := <-env.activityBatcher.TouchCh:
		assert.Equal(t, "alice-key", touch.Key)
	case <-time.After(100 * time.Millisecond):
		assert.Fail(t, "timed out waiting for activity batcher")
	}
}

func TestDrawStroke_AppliesDefaults(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	require.NoError(t, env.svc.JoinBoard("k3f9q2", newFakeConn("a", "Alice")))

	stroke, err := env.svc.DrawStroke(context.Background(), service.DrawParams{
		BoardCode:    "k3f9q2",
		ConnectionId: "a",
		Segment:      models.Segment{X1: 5, Y1: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, "black", stroke.Color)
	assert.Equal(t, 2.0, stroke.Width)
}

func TestDrawStroke_NotJoinedIsDropped(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	b := newFakeConn("b", "Bob")
	require.NoError(t, env.svc.JoinBoard("k3f9q2", b))

	_, err := env.svc.DrawStroke(context.Background(), service.DrawParams{
		BoardCode:    "k3f9q2",
		ConnectionId: "stale",
		Segment:      models.Segment{X1: 1, Y1: 1, Color: "red", Width: 1},
	})
	assert.ErrorIs(t, err, service.ErrNotJoined)
	assert.Empty(t, b.ofType(service.MessageStroke))
	assert.Len(t, env.strokeBatcher.WriteCh, 0)
}

func TestDrawStroke_InvalidSegment(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	require.NoError(t, env.svc.JoinBoard("k3f9q2", newFakeConn("a", "Alice")))

	_, err := env.svc.DrawStroke(context.Background(), service.DrawParams{
		BoardCode:    "k3f9q2",
		ConnectionId: "a",
		Segment:      models.Segment{X1: 1e9, Color: "red", Width: 1},
	})
	assert.ErrorIs(t, err, service.ErrInvalidArgument)
	assert.Len(t, env.strokeBatcher.WriteCh, 0)
}

func TestDrawStroke_PreservesSenderOrder(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	a := newFakeConn("a", "Alice")
	b := newFakeConn("b", "Bob")
	require.NoError(t, env.svc.JoinBoard("k3f9q2", a))
	require.NoError(t, env.svc.JoinBoard("k3f9q2", b))

	for i := 0; i < 50; i++ {
		_, err := env.svc.DrawStroke(context.Background(), service.DrawParams{
			BoardCode:    "k3f9q2",
			ConnectionId: "a",
			Segment:      models.Segment{X0: float64(i), X1: float64(i), Color: "black", Width: 1},
		})
		require.NoError(t, err)
	}

	got := b.ofType(service.MessageStroke)
	require.Len(t, got, 50)
	for i, r := range got {
		assert.Equal(t, float64(i), decodeStrokeEvent(t, r).Stroke.X0)
	}
}

func TestClearBoard_BroadcastsAfterDelete(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	a := newFakeConn("a", "Alice")
	b := newFakeConn("b", "Bob")
	require.NoError(t, env.svc.JoinBoard("k3f9q2", a))
	require.NoError(t, env.svc.JoinBoard("k3f9q2", b))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.strokeBatcher.Run(ctx)

	var clearSeenDuringDelete bool
	env.store.On("DeleteBoardStrokes", mock.Anything, "k3f9q2").Run(func(args mock.Arguments) {
		clearSeenDuringDelete = len(b.ofType(service.MessageClear)) > 0
	}).Return(nil)
	env.cache.On("InvalidateBoards", mock.Anything, []string{"k3f9q2"}).Return(nil)

	err := env.svc.ClearBoard(context.Background(), "k3f9q2", "a", "Alice")
	require.NoError(t, err)
	assert.False(t, clearSeenDuringDelete)

	for _, conn := range []*fakeConn{a, b} {
		clears := conn.ofType(service.MessageClear)
		require.Len(t, clears, 1)
		assert.JSONEq(t, `"Alice"`, string(clears[0].Data))
	}
	env.store.AssertExpectations(t)
	env.cache.AssertExpectations(t)
}

func TestClearBoard_DropsPendingStrokes(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	require.NoError(t, env.svc.JoinBoard("k3f9q2", newFakeConn("a", "Alice")))

	var mu sync.Mutex
	var written []models.Stroke
	env.store.On("WriteStrokeBatch", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()
		written = append(written, args.Get(1).([]models.Stroke)...)
	}).Return([]models.Stroke{}, nil)
	env.store.On("DeleteBoardStrokes", mock.Anything, "k3f9q2").Return(nil)
	env.cache.On("InvalidateBoards", mock.Anything, []string{"k3f9q2"}).Return(nil)

	_, err := env.svc.DrawStroke(context.Background(), service.DrawParams{
		BoardCode:    "k3f9q2",
		ConnectionId: "a",
		Segment:      models.Segment{X1: 1, Y1: 1},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		env.strokeBatcher.Run(ctx)
		close(runDone)
	}()

	require.NoError(t, env.svc.ClearBoard(context.Background(), "k3f9q2", "a", "Alice"))
	cancel()
	waitFor(t, runDone, "batcher shutdown")

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, written)
}

func TestClearBoard_PersistenceFailureStillBroadcasts(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	a := newFakeConn("a", "Alice")
	require.NoError(t, env.svc.JoinBoard("k3f9q2", a))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.strokeBatcher.Run(ctx)

	env.store.On("DeleteBoardStrokes", mock.Anything, "k3f9q2").Return(errors.New("dynamo down"))
	env.cache.On("InvalidateBoards", mock.Anything, []string{"k3f9q2"}).Return(nil)

	err := env.svc.ClearBoard(context.Background(), "k3f9q2", "a", "Alice")
	assert.ErrorIs(t, err, service.ErrPersistenceUnavailable)
	assert.Len(t, a.ofType(service.MessageClear), 1)
}

func TestClearBoard_NotJoined(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")

	err := env.svc.ClearBoard(context.Background(), "k3f9q2", "stale", "Mallory")
	assert.ErrorIs(t, err, service.ErrNotJoined)
	env.store.AssertNotCalled(t, "DeleteBoardStrokes", mock.Anything, mock.Anything)
}

// Two members see a live stroke; a third who joins before the batcher has
// flushed it still gets it through replay, and so does a fourth who joins
// after it was persisted.
func TestLateJoinerReplaysStroke(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	a := newFakeConn("a", "Alice")
	b := newFakeConn("b", "Bob")
	require.NoError(t, env.svc.JoinBoard("k3f9q2", a))
	require.NoError(t, env.svc.JoinBoard("k3f9q2", b))

	seg := models.Segment{X0: 0, Y0: 0, X1: 10, Y1: 10, Color: "black", Width: 2}
	stroke, err := env.svc.DrawStroke(context.Background(), service.DrawParams{
		BoardCode: "k3f9q2", ConnectionId: "a", SenderName: "Alice", Segment: seg,
	})
	require.NoError(t, err)

	got := b.ofType(service.MessageStroke)
	require.Len(t, got, 1)
	assert.Equal(t, seg, decodeStrokeEvent(t, got[0]).Stroke.Segment)

	// Nothing has been flushed: the store and cache are still empty.
	var mu sync.Mutex
	var persisted []models.Stroke
	env.cache.On("GetStrokes", mock.Anything, "k3f9q2").Return([][]byte{}, nil)
	env.cache.On("IsBoardComplete", mock.Anything, "k3f9q2").Return(false, nil)
	env.store.On("GetStrokes", mock.Anything, "k3f9q2", service.MaxReplayStrokes).
		Return([]models.Stroke{}, nil).Once()
	env.cache.On("SetBoardComplete", mock.Anything, "k3f9q2").Return(nil)

	c := newFakeConn("c", "Carol")
	require.NoError(t, env.svc.JoinBoard("k3f9q2", c))
	assert.Empty(t, c.ofType(service.MessageStroke), "joined after the relay")
	replay := env.svc.ReplayHistory(context.Background(), "k3f9q2")
	require.Len(t, replay, 1)
	assert.Equal(t, stroke.Id, replay[0].Id)
	assert.Equal(t, seg, replay[0].Segment)

	writeDone := make(chan struct{})
	env.store.On("WriteStrokeBatch", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		persisted = append(persisted, args.Get(1).([]models.Stroke)...)
		mu.Unlock()
		close(writeDone)
	}).Return([]models.Stroke{}, nil).Once()
	env.cache.On("AddStrokesBatch", mock.Anything, "k3f9q2", mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		env.strokeBatcher.Run(ctx)
		close(runDone)
	}()
	cancel()
	waitFor(t, runDone, "batcher shutdown")
	waitFor(t, writeDone, "stroke persisted")
	assert.Empty(t, env.strokeBatcher.Pending("k3f9q2"))

	mu.Lock()
	stored := append([]models.Stroke(nil), persisted...)
	mu.Unlock()
	env.store.On("GetStrokes", mock.Anything, "k3f9q2", service.MaxReplayStrokes).Return(stored, nil)

	d := newFakeConn("d", "Dave")
	require.NoError(t, env.svc.JoinBoard("k3f9q2", d))
	replay = env.svc.ReplayHistory(context.Background(), "k3f9q2")
	require.Len(t, replay, 1)
	assert.Equal(t, stroke.Id, replay[0].Id)
}

func TestLoadHistory_MergesPendingIntoCompleteCache(t *testing.T) {
	env := setupService(t)
	newBoard(t, env, "k3f9q2")
	a := newFakeConn("a", "Alice")
	require.NoError(t, env.svc.JoinBoard("k3f9q2", a))

	cached := models.Stroke{
		Id:        "0192f0c4-0000-7000-8000-000000000001",
		BoardId:   "k3f9q2",
		Segment:   models.Segment{X0: 1, Y0: 1, X1: 2, Y1: 2, Color: "black", Width: 2},
		Timestamp: time.UnixMilli(1700000000000).UTC(),
	}
	raw, err := json.Marshal(cached)
	require.NoError(t, err)
	env.cache.On("GetStrokes", mock.Anything, "k3f9q2").Return([][]byte{raw}, nil)
	env.cache.On("IsBoardComplete", mock.Anything, "k3f9q2").Return(true, nil)

	drawn, err := env.svc.DrawStroke(context.Background(), service.DrawParams{
		BoardCode: "k3f9q2", ConnectionId: "a", SenderName: "Alice",
		Segment: models.Segment{X0: 5, Y0: 5, X1: 6, Y1: 6, Color: "red", Width: 3},
	})
	require.NoError(t, err)

	strokes, err := env.svc.LoadHistory(context.Background(), "k3f9q2")
	require.NoError(t, err)
	require.Len(t, strokes, 2)
	assert.Equal(t, cached.Id, strokes[0].Id)
	assert.Equal(t, drawn.Id, strokes[1].Id)
	env.store.AssertNotCalled(t, "GetStrokes", mock.Anything, mock.Anything, mock.Anything)
}
