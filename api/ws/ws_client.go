package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"github.com/zlnvch/doodleup/models"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024 * 16

	// Outbound messages buffered per connection before it counts as slow.
	sendBufferSize = 256

	// Live messages held back while the history replay is being loaded.
	maxHeldMessages = 4096

	// Rate limiting: 60 messages per second with a burst of 120
	messagesPerSecond = 60
	burstLimit        = 120
)

type MessageHandler func(client *Client, messageType int, messageBytes []byte)

// Client is a middleman between the websocket connection and the board it
// joined. It implements registry.Participant.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	id          string
	identity    models.Identity
	boardCode   string
	displayName string
	avatarRef   string
	handler     MessageHandler
	onClose     func(*Client)
	Send        chan []byte // Buffered channel of outbound messages.
	replay      chan []byte // Board history, written before anything in Send.
	done        chan struct{}
	mu          sync.Mutex
	replayed    bool
	held        [][]byte // Live messages that arrived before the replay was written.
	closeOnce   sync.Once
	closeReason string
	limiter     *rate.Limiter
}

type ClientParams struct {
	Identity    models.Identity
	BoardCode   string
	DisplayName string
	AvatarRef   string
	Handler     MessageHandler
	OnClose     func(*Client)
}

func NewClient(hub *Hub, conn *websocket.Conn, params ClientParams) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		id:          uuid.Must(uuid.NewV4()).String(),
		identity:    params.Identity,
		boardCode:   params.BoardCode,
		displayName: params.DisplayName,
		avatarRef:   params.AvatarRef,
		handler:     params.Handler,
		onClose:     params.OnClose,
		Send:        make(chan []byte, sendBufferSize),
		replay:      make(chan []byte, 1),
		done:        make(chan struct{}),
		limiter:     rate.NewLimiter(rate.Limit(messagesPerSecond), burstLimit),
	}
}

func (c *Client) ConnectionId() string { return c.id }
func (c *Client) DisplayName() string  { return c.displayName }
func (c *Client) AvatarRef() string    { return c.avatarRef }

// Deliver queues msg without blocking. A client whose buffer is full is
// too slow to keep up and gets disconnected. Until the replay is written,
// messages are held back instead and only a very deep backlog counts as slow.
func (c *Client) Deliver(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.replayed {
		if len(c.held) < maxHeldMessages {
			c.held = append(c.held, msg)
			return true
		}
	} else {
		select {
		case c.Send <- msg:
			return true
		default:
		}
	}

	slog.Warn("closing slow websocket client", "conn", c.id, "board", c.boardCode)
	c.Close("slow consumer")
	return false
}

// markReplayed switches Deliver to the live queue and returns what was held
// back in arrival order.
func (c *Client) markReplayed() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replayed = true
	held := c.held
	c.held = nil
	return held
}

// QueueReplay hands the writer the history message. Only the first call
// per connection is accepted.
func (c *Client) QueueReplay(msg []byte) bool {
	select {
	case c.replay <- msg:
		return true
	default:
		return false
	}
}

// Close stops the writer. A non-empty reason is sent to the peer as a
// policy violation.
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		close(c.done)
	})
}

func (c *Client) ReadPump() {
	defer func() {
		c.Close("")
		c.hub.Unregister(c)
		if c.onClose != nil {
			c.onClose(c)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		messageType, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket close error", "conn", c.id, "err", err)
			}
			break
		}

		if !c.limiter.Allow() {
			slog.Warn("closing websocket client: message rate limit exceeded", "conn", c.id, "identity", c.identity.Key)
			c.Close("rate limit exceeded")
			break
		}

		c.handler(c, messageType, messageBytes)
	}
}

func (c *Client) WritePump(shutdownCtx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	// Live messages wait until the history has been written.
	var live <-chan []byte
	for {
		select {
		case message := <-c.replay:
			if !c.write(message) {
				return
			}
			for _, held := range c.markReplayed() {
				if !c.write(held) {
					return
				}
			}
			live = c.Send

		case message := <-live:
			if !c.write(message) {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			if c.closeReason != "" {
				c.writeClose(websocket.ClosePolicyViolation, c.closeReason)
			}
			return

		case <-shutdownCtx.Done():
			c.writeClose(websocket.CloseGoingAway, "Websocket service shutting down")
			return
		}
	}
}

func (c *Client) write(message []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		slog.Warn("websocket send error", "conn", c.id, "err", err)
		return false
	}
	return true
}

func (c *Client) writeClose(code int, reason string) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}
