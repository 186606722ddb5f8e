package registry

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/zlnvch/doodleup/models"
)

const (
	// BoardCodeAlphabet omits characters that are easy to misread (0/o, 1/l/i).
	BoardCodeAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"
	BoardCodeLength   = 6
)

var ErrBoardNotFound = errors.New("board does not exist")

type boardEntry struct {
	board models.Board
	room  *Room
}

// BoardRegistry maps board codes to metadata and the live presence room.
// Insertion order is kept so listings are stable.
type BoardRegistry struct {
	mu           sync.RWMutex
	boards       map[string]*boardEntry
	order        []string
	encodeRoster RosterEncoder
	newCode      func() (string, error)
}

func NewBoardRegistry(encodeRoster RosterEncoder) *BoardRegistry {
	return &BoardRegistry{
		boards:       make(map[string]*boardEntry),
		encodeRoster: encodeRoster,
		newCode:      GenerateBoardCode,
	}
}

// WithCodeGenerator replaces the code source. Used by tests to force
// collisions.
func (r *BoardRegistry) WithCodeGenerator(gen func() (string, error)) *BoardRegistry {
	r.newCode = gen
	return r
}

// GenerateBoardCode draws BoardCodeLength characters from BoardCodeAlphabet.
func GenerateBoardCode() (string, error) {
	// Rejection sampling keeps the distribution uniform over the alphabet.
	const limit = 256 - 256%len(BoardCodeAlphabet)

	code := make([]byte, 0, BoardCodeLength)
	buf := make([]byte, BoardCodeLength*2)
	for len(code) < BoardCodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			code = append(code, BoardCodeAlphabet[int(b)%len(BoardCodeAlphabet)])
			if len(code) == BoardCodeLength {
				break
			}
		}
	}
	return string(code), nil
}

// Create registers a new board under a fresh code, regenerating the code
// until it does not collide with a registered board.
func (r *BoardRegistry) Create(ownerKey string, displayName string, at time.Time) (models.Board, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var code string
	for {
		c, err := r.newCode()
		if err != nil {
			return models.Board{}, err
		}
		if _, taken := r.boards[c]; !taken {
			code = c
			break
		}
	}

	board := models.Board{
		Code:        code,
		OwnerKey:    ownerKey,
		DisplayName: displayName,
		Created:     at,
	}
	r.insertLocked(board)
	return board, nil
}

// Restore re-registers a previously created board, e.g. from a snapshot at
// startup. Existing codes are left untouched.
func (r *BoardRegistry) Restore(board models.Board) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.boards[board.Code]; ok {
		return false
	}
	r.insertLocked(board)
	return true
}

func (r *BoardRegistry) insertLocked(board models.Board) {
	r.boards[board.Code] = &boardEntry{board: board, room: newRoom(r.encodeRoster)}
	r.order = append(r.order, board.Code)
}

func (r *BoardRegistry) Lookup(code string) (models.Board, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.boards[code]
	if !ok {
		return models.Board{}, ErrBoardNotFound
	}
	return entry.board, nil
}

// Room returns the presence room of a board.
func (r *BoardRegistry) Room(code string) (*Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.boards[code]
	if !ok {
		return nil, ErrBoardNotFound
	}
	return entry.room, nil
}

func (r *BoardRegistry) List() []models.Board {
	r.mu.RLock()
	defer r.mu.RUnlock()
	boards := make([]models.Board, 0, len(r.order))
	for _, code := range r.order {
		boards = append(boards, r.boards[code].board)
	}
	return boards
}

func (r *BoardRegistry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, len(r.order))
	copy(codes, r.order)
	return codes
}
