package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zlnvch/doodleup/models"
	"github.com/zlnvch/doodleup/store"
)

// BoardSummary is a board with its owner's display name resolved.
type BoardSummary struct {
	Code        string
	DisplayName string
	OwnerName   string
	Created     time.Time
}

func (s *Service) CreateBoard(ctx context.Context, owner models.Identity, displayName string) (models.Board, error) {
	if owner.Key == "" {
		return models.Board{}, fmt.Errorf("%w: board owner required", ErrUnauthorized)
	}
	name, err := ValidateDisplayName(displayName)
	if err != nil {
		return models.Board{}, err
	}

	board, err := s.Boards.Create(owner.Key, name, s.now().UTC())
	if err != nil {
		return models.Board{}, fmt.Errorf("creating board: %w", err)
	}

	// Async side-effect - the snapshot only matters after a restart
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Store.PutBoard(ctx, board); err != nil && !errors.Is(err, store.ErrItemExists) {
			slog.Error("persisting board snapshot", "board", board.Code, "err", err)
		}
	}()

	return board, nil
}

func (s *Service) CheckBoard(code string) (BoardSummary, error) {
	board, err := s.Boards.Lookup(code)
	if err != nil {
		return BoardSummary{}, err
	}
	return s.summarize(board), nil
}

func (s *Service) ListBoards() []BoardSummary {
	boards := s.Boards.List()
	summaries := make([]BoardSummary, 0, len(boards))
	for _, b := range boards {
		summaries = append(summaries, s.summarize(b))
	}
	return summaries
}

func (s *Service) summarize(board models.Board) BoardSummary {
	return BoardSummary{
		Code:        board.Code,
		DisplayName: board.DisplayName,
		OwnerName:   s.Identities.DisplayName(board.OwnerKey),
		Created:     board.Created,
	}
}

// RestoreBoards loads persisted board snapshots into the registry. It
// returns how many boards were added.
func (s *Service) RestoreBoards(ctx context.Context) (int, error) {
	boards, err := s.Store.ListBoards(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	restored := 0
	for _, b := range boards {
		if s.Boards.Restore(b) {
			restored++
		}
	}
	return restored, nil
}
