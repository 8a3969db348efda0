// Package input throttles per-connection gameplay inputs before they reach a
// simulation. The engine applies at most one movement per tick anyway; the
// gate keeps a flooding client from burning decode and queue work upstream.
package input

import (
	"sync"
	"time"
)

// Channel names one throttled input stream.
type Channel string

const (
	// ChannelMove covers position and facing updates.
	ChannelMove Channel = "move"
	// ChannelShoot covers fire requests.
	ChannelShoot Channel = "shoot"
)

// Config controls the minimum spacing between accepted inputs per channel.
// Zero values disable the corresponding gate.
type Config struct {
	MoveMinInterval  time.Duration
	ShootMinInterval time.Duration
}

// DefaultConfig paces clients slightly faster than the 20 Hz tick so honest
// traffic never gets clipped.
func DefaultConfig() Config {
	return Config{
		MoveMinInterval:  30 * time.Millisecond,
		ShootMinInterval: 30 * time.Millisecond,
	}
}

// DropCounters aggregates per-channel drop counts for one connection.
type DropCounters struct {
	Move  uint64 `json:"move"`
	Shoot uint64 `json:"shoot"`
}

type connState struct {
	lastMove  time.Time
	lastShoot time.Time
	drops     DropCounters
}

// Gate enforces the configured pacing for every connection it sees.
type Gate struct {
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	conns map[string]*connState
}

// GateOption configures optional Gate behaviour at construction time.
type GateOption func(*Gate)

// WithGateClock injects a deterministic time source for tests.
func WithGateClock(clock func() time.Time) GateOption {
	return func(g *Gate) {
		if clock != nil {
			g.now = clock
		}
	}
}

// NewGate builds a gate with the provided pacing configuration.
func NewGate(cfg Config, opts ...GateOption) *Gate {
	gate := &Gate{
		cfg:   cfg,
		now:   time.Now,
		conns: make(map[string]*connState),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gate)
		}
	}
	return gate
}

// Allow reports whether the connection may submit another input on the
// channel right now, and advances its pacing window when it may.
func (g *Gate) Allow(connID string, channel Channel) bool {
	if g == nil {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.conns[connID]
	if !ok {
		state = &connState{}
		g.conns[connID] = state
	}
	now := g.now()
	switch channel {
	case ChannelMove:
		if g.cfg.MoveMinInterval > 0 && now.Sub(state.lastMove) < g.cfg.MoveMinInterval {
			state.drops.Move++
			return false
		}
		state.lastMove = now
	case ChannelShoot:
		if g.cfg.ShootMinInterval > 0 && now.Sub(state.lastShoot) < g.cfg.ShootMinInterval {
			state.drops.Shoot++
			return false
		}
		state.lastShoot = now
	}
	return true
}

// Forget drops the per-connection state when the connection closes.
func (g *Gate) Forget(connID string) {
	if g == nil {
		return
	}
	g.mu.Lock()
	delete(g.conns, connID)
	g.mu.Unlock()
}

// Drops returns a copy of the drop counters for one connection.
func (g *Gate) Drops(connID string) DropCounters {
	if g == nil {
		return DropCounters{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if state, ok := g.conns[connID]; ok {
		return state.drops
	}
	return DropCounters{}
}
