package service_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	cachemocks "github.com/zlnvch/doodleup/cache/mocks"
	"github.com/zlnvch/doodleup/registry"
	"github.com/zlnvch/doodleup/service"
	storemocks "github.com/zlnvch/doodleup/store/mocks"
	"github.com/zlnvch/doodleup/worker"
)

type testEnv struct {
	svc             *service.Service
	store           *storemocks.MockStore
	cache           *cachemocks.MockCache
	identities      *registry.IdentityRegistry
	boards          *registry.BoardRegistry
	strokeBatcher   *worker.StrokeBatcher
	activityBatcher *worker.ActivityBatcher
}

// Helper to setup the service with mocks. Batchers are real but not
// running; tests read their channels directly.
func setupService(t *testing.T) *testEnv {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)
	identities := registry.NewIdentityRegistry()
	boards := registry.NewBoardRegistry(service.EncodeRoster)

	strokeBatcher := worker.NewStrokeBatcher(mockStore, mockCache, 60000)
	activityBatcher := worker.NewActivityBatcher(identities, 60000)

	svc, err := service.NewService(
		mockStore,
		mockCache,
		identities,
		boards,
		strokeBatcher,
		activityBatcher,
		nil,
		[]byte("secret"),
		service.Settings{DefaultAvatar: "https://doodleup.test/guest.png"},
	)
	require.NoError(t, err)

	return &testEnv{
		svc:             svc,
		store:           mockStore,
		cache:           mockCache,
		identities:      identities,
		boards:          boards,
		strokeBatcher:   strokeBatcher,
		activityBatcher: activityBatcher,
	}
}

// Helper that creates a channel and wraps a mock call to signal when it's called
func wrapMockWithSignal(call *mock.Call) chan struct{} {
	done := make(chan struct{})
	var once sync.Once
	call.Run(func(args mock.Arguments) {
		once.Do(func() { close(done) })
	})
	return done
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		require.Fail(t, "timed out waiting for "+what)
	}
}

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// fakeConn is an in-memory participant that records what it is sent.
type fakeConn struct {
	id   string
	name string
	mu   sync.Mutex
	msgs []received
}

func newFakeConn(id, name string) *fakeConn {
	return &fakeConn{id: id, name: name}
}

func (c *fakeConn) ConnectionId() string { return c.id }
func (c *fakeConn) DisplayName() string  { return c.name }
func (c *fakeConn) AvatarRef() string    { return "https://doodleup.test/guest.png" }

func (c *fakeConn) Deliver(msg []byte) bool {
	var r received
	if err := json.Unmarshal(msg, &r); err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, r)
	return true
}

func (c *fakeConn) ofType(msgType string) []received {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []received
	for _, m := range c.msgs {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}
