package registry

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/zlnvch/doodleup/models"
)

// Participant is one open connection as seen by a room.
type Participant interface {
	ConnectionId() string
	DisplayName() string
	AvatarRef() string
	// Deliver queues msg for the connection without blocking. It returns
	// false when the message could not be queued.
	Deliver(msg []byte) bool
}

// RosterEncoder turns a roster into the message pushed to every member.
type RosterEncoder func(roster []models.PresenceEntry) ([]byte, error)

// Room is the presence set of one board.
type Room struct {
	mu           sync.RWMutex
	participants map[string]Participant
	order        []string
	encodeRoster RosterEncoder
}

func newRoom(encodeRoster RosterEncoder) *Room {
	return &Room{
		participants: make(map[string]Participant),
		encodeRoster: encodeRoster,
	}
}

// Join admits p and pushes the full roster to every member, p included.
func (rm *Room) Join(p Participant) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	id := p.ConnectionId()
	if _, ok := rm.participants[id]; !ok {
		rm.order = append(rm.order, id)
	}
	rm.participants[id] = p
	rm.announceLocked()
}

// Leave removes the connection if present and re-announces the roster.
// Leaving twice is a no-op.
func (rm *Room) Leave(connectionId string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.participants[connectionId]; !ok {
		return false
	}
	delete(rm.participants, connectionId)
	if i := slices.Index(rm.order, connectionId); i >= 0 {
		rm.order = slices.Delete(rm.order, i, i+1)
	}
	rm.announceLocked()
	return true
}

func (rm *Room) Has(connectionId string) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok := rm.participants[connectionId]
	return ok
}

func (rm *Room) Roster() []models.PresenceEntry {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.rosterLocked()
}

func (rm *Room) Len() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.participants)
}

// Broadcast delivers msg to every member on behalf of senderId. The sender
// only receives its own message when includeSender is set. It returns false,
// delivering nothing, when senderId is not a member.
func (rm *Room) Broadcast(senderId string, msg []byte, includeSender bool) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if _, ok := rm.participants[senderId]; !ok {
		return false
	}
	for _, id := range rm.order {
		if id == senderId && !includeSender {
			continue
		}
		rm.participants[id].Deliver(msg)
	}
	return true
}

// BroadcastAll delivers msg to every current member.
func (rm *Room) BroadcastAll(msg []byte) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	for _, id := range rm.order {
		rm.participants[id].Deliver(msg)
	}
}

func (rm *Room) rosterLocked() []models.PresenceEntry {
	roster := make([]models.PresenceEntry, 0, len(rm.order))
	for _, id := range rm.order {
		p := rm.participants[id]
		roster = append(roster, models.PresenceEntry{
			ConnectionId: id,
			DisplayName:  p.DisplayName(),
			AvatarRef:    p.AvatarRef(),
		})
	}
	return roster
}

func (rm *Room) announceLocked() {
	if rm.encodeRoster == nil {
		return
	}
	msg, err := rm.encodeRoster(rm.rosterLocked())
	if err != nil {
		slog.Error("failed to encode roster", "error", err)
		return
	}
	for _, id := range rm.order {
		rm.participants[id].Deliver(msg)
	}
}
