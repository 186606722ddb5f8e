package ws

import (
	"context"
	"log/slog"
)

const DefaultMaxConnectionsPerIdentity = 5

type openRequest struct {
	client *Client
	result chan bool
}

// Hub tracks the live connections of every identity and enforces the
// per-identity connection cap. Board fan-out lives in the presence rooms.
type Hub struct {
	OpenCh                    chan openRequest
	CloseCh                   chan *Client
	countCh                   chan countRequest
	identityToClients         map[string]map[*Client]struct{}
	maxConnectionsPerIdentity int
	stopped                   chan struct{}
}

type countRequest struct {
	identityKey string
	result      chan int
}

func NewHub(maxConnectionsPerIdentity int) *Hub {
	if maxConnectionsPerIdentity <= 0 {
		maxConnectionsPerIdentity = DefaultMaxConnectionsPerIdentity
	}
	return &Hub{
		OpenCh:                    make(chan openRequest, 256),
		CloseCh:                   make(chan *Client, 256),
		countCh:                   make(chan countRequest),
		identityToClients:         make(map[string]map[*Client]struct{}),
		maxConnectionsPerIdentity: maxConnectionsPerIdentity,
		stopped:                   make(chan struct{}),
	}
}

func (h *Hub) Run(shutdownCtx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case req := <-h.OpenCh:
			key := req.client.identity.Key
			if _, ok := h.identityToClients[key]; !ok {
				h.identityToClients[key] = make(map[*Client]struct{})
			}

			if len(h.identityToClients[key]) >= h.maxConnectionsPerIdentity {
				slog.Warn("identity reached max connections", "identity", key, "max", h.maxConnectionsPerIdentity)
				req.result <- false
				continue
			}

			h.identityToClients[key][req.client] = struct{}{}
			req.result <- true

		case client := <-h.CloseCh:
			key := client.identity.Key
			delete(h.identityToClients[key], client)
			if len(h.identityToClients[key]) == 0 {
				delete(h.identityToClients, key)
			}

		case req := <-h.countCh:
			req.result <- len(h.identityToClients[req.identityKey])

		case <-shutdownCtx.Done():
			return
		}
	}
}

// Register admits client under its identity's cap. It reports false when
// the cap is reached or ctx ends first.
func (h *Hub) Register(ctx context.Context, client *Client) bool {
	req := openRequest{client: client, result: make(chan bool, 1)}
	select {
	case h.OpenCh <- req:
	case <-ctx.Done():
		return false
	case <-h.stopped:
		return false
	}
	select {
	case ok := <-req.result:
		return ok
	case <-ctx.Done():
		// The hub may still admit it; give the slot back if so.
		go func() {
			select {
			case ok := <-req.result:
				if ok {
					h.Unregister(client)
				}
			case <-h.stopped:
			}
		}()
		return false
	case <-h.stopped:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.CloseCh <- client:
	case <-h.stopped:
	}
}

// ConnectionCount reports how many connections identityKey holds.
func (h *Hub) ConnectionCount(ctx context.Context, identityKey string) int {
	req := countRequest{identityKey: identityKey, result: make(chan int, 1)}
	select {
	case h.countCh <- req:
	case <-ctx.Done():
		return 0
	case <-h.stopped:
		return 0
	}
	return <-req.result
}
