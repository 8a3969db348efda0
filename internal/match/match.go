package match

import (
	"errors"
	"time"

	"arenaclash/server/internal/sim"
	"arenaclash/server/internal/wire"
)

// DefaultCapacity is used when a create or quick-match request omits one.
const DefaultCapacity = 2

var (
	// ErrInvalidPlayer is returned when a request omits the player identity.
	ErrInvalidPlayer = errors.New("player identity must not be empty")
	// ErrMatchNotFound indicates that no match exists under the given code.
	ErrMatchNotFound = errors.New("match not found")
	// ErrMatchStarted rejects joins against a match that already left the lobby.
	ErrMatchStarted = errors.New("match already started")
	// ErrAlreadyJoined rejects a connection that is already a member of a match.
	ErrAlreadyJoined = errors.New("connection already in a match")
	// ErrMatchFull indicates that the match has reached its configured capacity.
	ErrMatchFull = errors.New("match capacity reached")
)

// Status is the lifecycle state of a match.
type Status int

const (
	// StatusWaiting accepts joins; the simulation has not started.
	StatusWaiting Status = iota
	// StatusActive means the simulation is running and the roster is frozen.
	StatusActive
	// StatusFinished retains results during the grace window before reclaim.
	StatusFinished
	// StatusReclaimed is terminal; the registry entry is gone.
	StatusReclaimed
)

// String renders the status the way the lobby protocol spells it.
func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusActive:
		return "active"
	case StatusFinished:
		return "finished"
	case StatusReclaimed:
		return "reclaimed"
	default:
		return "unknown"
	}
}

// Participant is one admitted connection in a match roster.
type Participant struct {
	ConnID   string
	PlayerID string
	Username string
}

// Match is one play session. All fields are guarded by the owning Registry's
// mutex; a Match never escapes the registry except as a snapshot.
type Match struct {
	code     string
	private  bool
	capacity int
	status   Status

	order   []string
	members map[string]Participant

	createdAt  time.Time
	finishedAt time.Time

	engine       *sim.Engine
	result       *wire.MatchEnd
	reclaimTimer *time.Timer
}

func newMatch(code string, capacity int, private bool, createdAt time.Time) *Match {
	if capacity < DefaultCapacity {
		capacity = DefaultCapacity
	}
	return &Match{
		code:      code,
		private:   private,
		capacity:  capacity,
		status:    StatusWaiting,
		members:   make(map[string]Participant, capacity),
		createdAt: createdAt,
	}
}

func (m *Match) addLocked(p Participant) error {
	if m.status != StatusWaiting {
		return ErrMatchStarted
	}
	if _, exists := m.members[p.ConnID]; exists {
		return ErrAlreadyJoined
	}
	if len(m.members) >= m.capacity {
		return ErrMatchFull
	}
	m.members[p.ConnID] = p
	m.order = append(m.order, p.ConnID)
	return nil
}

func (m *Match) removeLocked(connID string) bool {
	if _, exists := m.members[connID]; !exists {
		return false
	}
	delete(m.members, connID)
	for i, id := range m.order {
		if id == connID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

func (m *Match) fullLocked() bool {
	return len(m.members) >= m.capacity
}

func (m *Match) rosterLocked() []sim.RosterEntry {
	roster := make([]sim.RosterEntry, 0, len(m.order))
	for _, connID := range m.order {
		p := m.members[connID]
		roster = append(roster, sim.RosterEntry{ConnID: p.ConnID, PlayerID: p.PlayerID, Username: p.Username})
	}
	return roster
}

// snapshotLocked renders the lobby view of the match in join order.
func (m *Match) snapshotLocked() wire.MatchUpdate {
	update := wire.MatchUpdate{
		Code:       m.code,
		MaxPlayers: m.capacity,
		Status:     m.status.String(),
		Players:    make([]wire.LobbyPlayer, 0, len(m.order)),
	}
	for _, connID := range m.order {
		p := m.members[connID]
		update.Players = append(update.Players, wire.LobbyPlayer{
			ConnID:   p.ConnID,
			PlayerID: p.PlayerID,
			Username: p.Username,
			IsReady:  true,
		})
	}
	return update
}
