package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gofrs/uuid/v5"
	"github.com/zlnvch/doodleup/models"
	"github.com/zlnvch/doodleup/registry"
)

// Outbound event types.
const (
	MessageHistory  = "history"
	MessageUserList = "userList"
	MessageStroke   = "stroke"
	MessageClear    = "clear"
)

type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type StrokeEvent struct {
	Stroke     models.Stroke `json:"stroke"`
	SenderName string        `json:"senderName"`
}

func EncodeMessage(msgType string, data any) ([]byte, error) {
	return json.Marshal(Message{Type: msgType, Data: data})
}

// EncodeRoster renders a presence roster as a userList event.
func EncodeRoster(roster []models.PresenceEntry) ([]byte, error) {
	return EncodeMessage(MessageUserList, roster)
}

// JoinBoard adds p to the board's presence set. Every member, p included,
// receives the new roster.
func (s *Service) JoinBoard(boardCode string, p registry.Participant) error {
	room, err := s.Boards.Room(boardCode)
	if err != nil {
		return err
	}
	room.Join(p)
	return nil
}

// LeaveBoard is idempotent and ignores boards that are gone.
func (s *Service) LeaveBoard(boardCode string, connectionId string) {
	room, err := s.Boards.Room(boardCode)
	if err != nil {
		return
	}
	room.Leave(connectionId)
}

type DrawParams struct {
	BoardCode    string
	ConnectionId string
	IdentityKey  string
	SenderName   string
	Segment      models.Segment
}

// DrawStroke hands a stroke to the batcher for persistence and relays it to
// the other members of the board. Persistence never delays or fails the
// relay. The stroke is queued before the relay, so a connection that joins
// after the relay finds it in LoadHistory.
func (s *Service) DrawStroke(ctx context.Context, params DrawParams) (models.Stroke, error) {
	seg := ApplySegmentDefaults(params.Segment)
	if err := ValidateSegment(seg); err != nil {
		return models.Stroke{}, err
	}

	room, err := s.Boards.Room(params.BoardCode)
	if err != nil {
		return models.Stroke{}, err
	}
	if !room.Has(params.ConnectionId) {
		return models.Stroke{}, ErrNotJoined
	}

	id, err := uuid.NewV7()
	if err != nil {
		return models.Stroke{}, fmt.Errorf("generating stroke id: %w", err)
	}

	stroke := models.Stroke{
		Id:        id.String(),
		BoardId:   params.BoardCode,
		Segment:   seg,
		Timestamp: s.now().UTC(),
	}

	msg, err := EncodeMessage(MessageStroke, StrokeEvent{Stroke: stroke, SenderName: params.SenderName})
	if err != nil {
		return models.Stroke{}, err
	}

	s.StrokeBatcher.Enqueue(stroke)
	// The sender may have left since the check above; the stroke still
	// counts as drawn.
	room.Broadcast(params.ConnectionId, msg, false)

	if params.IdentityKey != "" {
		s.ActivityBatcher.Record(params.IdentityKey)
	}

	return stroke, nil
}

// ClearBoard erases a board's history and then tells every member,
// requester included. The broadcast waits for the delete to return but is
// sent whether or not it succeeded; a persistence failure is returned after
// the broadcast.
func (s *Service) ClearBoard(ctx context.Context, boardCode, connectionId, requesterName string) error {
	room, err := s.Boards.Room(boardCode)
	if err != nil {
		return err
	}
	if !room.Has(connectionId) {
		return ErrNotJoined
	}

	epoch := s.clearEpoch(boardCode)
	epoch.Add(1)

	var persistErr error
	if err := s.StrokeBatcher.DropPending(ctx, boardCode); err != nil {
		slog.Error("dropping pending strokes", "board", boardCode, "err", err)
	}
	if err := s.Store.DeleteBoardStrokes(ctx, boardCode); err != nil {
		slog.Error("deleting board strokes", "board", boardCode, "err", err)
		persistErr = fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	if err := s.Cache.InvalidateBoards(ctx, []string{boardCode}); err != nil {
		slog.Error("invalidating replay cache", "board", boardCode, "err", err)
	}

	epoch.Add(1)

	msg, err := EncodeMessage(MessageClear, requesterName)
	if err != nil {
		return err
	}
	// The requester may have disconnected during the delete; the others
	// still need to hear about it.
	room.BroadcastAll(msg)

	return persistErr
}
