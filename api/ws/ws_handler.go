package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zlnvch/doodleup/api/session"
	"github.com/zlnvch/doodleup/models"
	"github.com/zlnvch/doodleup/service"
)

const (
	Subprotocol = "doodleup-v1"

	replayTimeout = 10 * time.Second
	clearTimeout  = 30 * time.Second
)

type Handler struct {
	Service *service.Service
	Hub     *Hub
}

func NewHandler(svc *service.Service, hub *Hub) *Handler {
	return &Handler{
		Service: svc,
		Hub:     hub,
	}
}

// NewWsUpgrader accepts handshakes from allowedOrigins. With an empty list
// only same-host origins pass. A request without an Origin header is
// allowed through.
func (h *Handler) NewWsUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(allowedOrigins) == 0 {
				u, err := url.Parse(origin)
				return err == nil && strings.EqualFold(u.Host, r.Host)
			}
			return slices.Contains(allowedOrigins, origin)
		},
		Subprotocols: []string{Subprotocol},
	}
}

// ServeWS handles websocket requests from the peer.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	query := r.URL.Query()
	boardCode := query.Get("boardId")
	name := query.Get("name")
	avatarRef := query.Get("profile_p")

	identity, authErr := h.Service.VerifyAny(r.Context(), session.ReadTokens(r, true))

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("failed to upgrade ws connection", "err", err)
		return
	}

	// Must upgrade the connection in order to be able to send custom close message
	if boardCode == "" || name == "" || avatarRef == "" {
		rejectConn(conn, "missing handshake parameter")
		return
	}
	if authErr != nil {
		rejectConn(conn, "Unauthenticated")
		return
	}
	if _, err := h.Service.CheckBoard(boardCode); err != nil {
		rejectConn(conn, "board does not exist")
		return
	}
	displayName, err := service.ValidateDisplayName(name)
	if err != nil {
		rejectConn(conn, "invalid name")
		return
	}

	client := NewClient(h.Hub, conn, ClientParams{
		Identity:    identity,
		BoardCode:   boardCode,
		DisplayName: displayName,
		AvatarRef:   avatarRef,
		Handler:     h.HandleWsMessage,
		OnClose:     h.leave,
	})

	if !h.Hub.Register(r.Context(), client) {
		rejectConn(conn, "too many connections")
		return
	}

	go client.WritePump(shutdownCtx)

	// Presence first, then history: anything drawn in between is already
	// in the live queue, which the writer holds back until the replay is out.
	if err := h.Service.JoinBoard(boardCode, client); err != nil {
		client.Close("board does not exist")
		h.Hub.Unregister(client)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), replayTimeout)
	history := h.Service.ReplayHistory(ctx, boardCode)
	cancel()

	msg, err := service.EncodeMessage(service.MessageHistory, history)
	if err != nil {
		slog.Error("failed to encode history", "board", boardCode, "err", err)
		msg, _ = service.EncodeMessage(service.MessageHistory, []models.Stroke{})
	}
	client.QueueReplay(msg)

	h.Service.ActivityBatcher.Record(identity.Key)

	go client.ReadPump()
}

func rejectConn(conn *websocket.Conn, reason string) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(writeWait),
	)
	conn.Close()
}

func (h *Handler) leave(client *Client) {
	h.Service.LeaveBoard(client.boardCode, client.id)
}

// Websocket message structs
type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Clients send either {"stroke": {...}} or the segment fields directly.
type strokeMessage struct {
	Stroke *models.Segment `json:"stroke"`
}

func (h *Handler) HandleWsMessage(client *Client, messageType int, messageBytes []byte) {
	var msg message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		slog.Warn("invalid JSON", "conn", client.id, "err", err)
		return
	}

	switch msg.Type {
	case service.MessageStroke:
		segment, err := decodeSegment(msg.Data)
		if err != nil {
			slog.Warn("invalid stroke data", "conn", client.id, "err", err)
			return
		}
		h.handleStroke(client, segment)

	case service.MessageClear:
		h.handleClear(client)

	default:
		slog.Warn("unknown message type", "conn", client.id, "type", msg.Type)
	}
}

func decodeSegment(data json.RawMessage) (models.Segment, error) {
	var sm strokeMessage
	if err := json.Unmarshal(data, &sm); err != nil {
		return models.Segment{}, err
	}
	if sm.Stroke != nil {
		return *sm.Stroke, nil
	}

	var segment models.Segment
	if err := json.Unmarshal(data, &segment); err != nil {
		return models.Segment{}, err
	}
	return segment, nil
}

func (h *Handler) handleStroke(client *Client, segment models.Segment) {
	_, err := h.Service.DrawStroke(context.Background(), service.DrawParams{
		BoardCode:    client.boardCode,
		ConnectionId: client.id,
		IdentityKey:  client.identity.Key,
		SenderName:   client.displayName,
		Segment:      segment,
	})
	switch {
	case err == nil, errors.Is(err, service.ErrNotJoined):
	case errors.Is(err, service.ErrInvalidArgument):
		slog.Debug("rejected stroke", "conn", client.id, "err", err)
	default:
		slog.Warn("DrawStroke failed", "conn", client.id, "board", client.boardCode, "err", err)
	}
}

func (h *Handler) handleClear(client *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), clearTimeout)
	defer cancel()

	err := h.Service.ClearBoard(ctx, client.boardCode, client.id, client.displayName)
	if err != nil && !errors.Is(err, service.ErrNotJoined) {
		slog.Error("ClearBoard failed", "conn", client.id, "board", client.boardCode, "err", err)
	}
	h.Service.ActivityBatcher.Record(client.identity.Key)
}
