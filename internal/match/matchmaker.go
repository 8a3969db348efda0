package match

import (
	"context"
	"strings"

	"arenaclash/server/internal/events"
	"arenaclash/server/internal/identity"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/sim"
	"arenaclash/server/internal/wire"
)

// CreatePrivateMatch allocates a fresh private match and joins the creator.
// Code generation collisions are retried internally and never surface.
func (r *Registry) CreatePrivateMatch(ctx context.Context, connID string, data wire.PlayerData, maxPlayers int) (wire.MatchCreated, error) {
	if r == nil {
		return wire.MatchCreated{}, ErrMatchNotFound
	}
	profile, err := r.resolve(ctx, data.PlayerID, data.Username)
	if err != nil {
		return wire.MatchCreated{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, occupied := r.byConn[connID]; occupied {
		return wire.MatchCreated{}, ErrAlreadyJoined
	}

	//1.- Allocate the match under the lock so the code is unique by construction.
	m := newMatch(r.newCodeLocked(), maxPlayers, true, r.now())
	if err := m.addLocked(participantFrom(connID, profile)); err != nil {
		return wire.MatchCreated{}, err
	}
	r.matches[m.code] = m
	r.byConn[connID] = m.code

	snapshot := m.snapshotLocked()
	r.bus.Publish(events.KindMatchUpdate, m.code, snapshot)
	r.log.Info("private match created",
		logging.String("match", m.code),
		logging.String("player", profile.PlayerID),
		logging.Int("capacity", m.capacity))
	return wire.MatchCreated{Code: m.code, Match: snapshot}, nil
}

// JoinMatch admits a connection into the match registered under code.
func (r *Registry) JoinMatch(ctx context.Context, connID, code string, data wire.PlayerData) (wire.MatchUpdate, error) {
	if r == nil {
		return wire.MatchUpdate{}, ErrMatchNotFound
	}
	profile, err := r.resolve(ctx, data.PlayerID, data.Username)
	if err != nil {
		return wire.MatchUpdate{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, occupied := r.byConn[connID]; occupied {
		return wire.MatchUpdate{}, ErrAlreadyJoined
	}
	m, ok := r.matches[strings.TrimSpace(code)]
	if !ok {
		return wire.MatchUpdate{}, ErrMatchNotFound
	}
	if err := m.addLocked(participantFrom(connID, profile)); err != nil {
		return wire.MatchUpdate{}, err
	}
	r.byConn[connID] = m.code

	snapshot := m.snapshotLocked()
	r.bus.Publish(events.KindMatchUpdate, m.code, snapshot)
	return snapshot, nil
}

// FindQuickMatch joins the oldest public waiting match of the desired capacity
// with a free slot, creating a new one when nothing fits. The scan and the
// create happen under one lock, so two concurrent callers with no pre-existing
// match land in the same one.
func (r *Registry) FindQuickMatch(ctx context.Context, connID string, data wire.PlayerData, desiredCapacity int) (wire.MatchUpdate, error) {
	if r == nil {
		return wire.MatchUpdate{}, ErrMatchNotFound
	}
	profile, err := r.resolve(ctx, data.PlayerID, data.Username)
	if err != nil {
		return wire.MatchUpdate{}, err
	}
	if desiredCapacity < DefaultCapacity {
		desiredCapacity = DefaultCapacity
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, occupied := r.byConn[connID]; occupied {
		return wire.MatchUpdate{}, ErrAlreadyJoined
	}

	//1.- Scan public waiting matches of the exact capacity, oldest first.
	var target *Match
	for _, m := range r.sortedLocked() {
		if m.private || m.status != StatusWaiting || m.capacity != desiredCapacity || m.fullLocked() {
			continue
		}
		target = m
		break
	}
	//2.- Nothing fit, so open a new public match of the requested size.
	if target == nil {
		target = newMatch(r.newCodeLocked(), desiredCapacity, false, r.now())
		r.matches[target.code] = target
	}
	if err := target.addLocked(participantFrom(connID, profile)); err != nil {
		return wire.MatchUpdate{}, err
	}
	r.byConn[connID] = target.code

	snapshot := target.snapshotLocked()
	r.bus.Publish(events.KindMatchUpdate, target.code, snapshot)
	return snapshot, nil
}

// StartMatch moves a waiting match into the active state, seeding and starting
// its simulation engine. It reports false when the match is missing or not in
// the waiting state, leaving the caller to decide whether that matters.
func (r *Registry) StartMatch(code string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	m, ok := r.matches[code]
	if !ok || m.status != StatusWaiting || len(m.members) == 0 {
		r.mu.Unlock()
		return false
	}
	m.status = StatusActive
	engine := sim.NewEngine(m.code, m.rosterLocked(), r.simCfg, r.bus, r.log,
		sim.WithOnEnd(func(result sim.Result) { r.finishMatch(result) }),
		sim.WithOnAbort(func(err error) { r.abortMatch(code, err) }))
	m.engine = engine
	snapshot := m.snapshotLocked()
	r.mu.Unlock()

	//1.- Publish the lifecycle events before the first tick can emit a snapshot.
	r.bus.Publish(events.KindMatchUpdate, code, snapshot)
	r.bus.Publish(events.KindMatchStart, code, wire.MatchStart{MatchCode: code})
	engine.Start(r.baseCtx)
	r.log.Info("match started",
		logging.String("match", code),
		logging.Int("players", len(snapshot.Players)))
	return true
}

// LeaveMatch detaches a connection from whatever match it occupies. Unknown
// connections are a no-op. An active match keeps the player's entity as an
// eliminated corpse; an emptied waiting match is reclaimed on the spot.
func (r *Registry) LeaveMatch(connID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	code, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byConn, connID)
	m, ok := r.matches[code]
	if !ok {
		r.mu.Unlock()
		return
	}

	var (
		engine   *sim.Engine
		snapshot *wire.MatchUpdate
		empty    bool
	)
	switch m.status {
	case StatusWaiting:
		m.removeLocked(connID)
		if len(m.members) == 0 {
			m.status = StatusReclaimed
			delete(r.matches, m.code)
			empty = true
		} else {
			s := m.snapshotLocked()
			snapshot = &s
		}
	case StatusActive:
		//1.- Keep the roster entry so final results still name the deserter.
		engine = m.engine
	}
	r.mu.Unlock()

	if engine != nil {
		engine.MarkDisconnected(connID)
	}
	if snapshot != nil {
		r.bus.Publish(events.KindMatchUpdate, code, *snapshot)
	}
	if empty {
		r.log.Info("empty match reclaimed", logging.String("match", code))
	}
}

// RouteMove forwards a movement input to the engine of the sender's match.
func (r *Registry) RouteMove(connID string, x, y, rotation float64) {
	if engine := r.engineFor(connID); engine != nil {
		engine.QueueMove(connID, x, y, rotation)
	}
}

// RouteShoot forwards a fire input to the engine of the sender's match.
func (r *Registry) RouteShoot(connID string, angle float64) {
	if engine := r.engineFor(connID); engine != nil {
		engine.QueueShoot(connID, angle)
	}
}

func (r *Registry) engineFor(connID string) *sim.Engine {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.byConn[connID]
	if !ok {
		return nil
	}
	m, ok := r.matches[code]
	if !ok || m.status != StatusActive {
		return nil
	}
	return m.engine
}

// finishMatch records the result, announces it, and arms the reclaim timer.
// It runs on the engine's tick goroutine via the end-of-match callback.
func (r *Registry) finishMatch(result sim.Result) {
	r.mu.Lock()
	m, ok := r.matches[result.MatchCode]
	if !ok || m.status != StatusActive {
		r.mu.Unlock()
		return
	}
	m.status = StatusFinished
	m.finishedAt = r.now()
	m.result = &wire.MatchEnd{
		MatchCode:  result.MatchCode,
		WinnerID:   result.WinnerID,
		WinnerName: result.WinnerName,
		Players:    result.Players,
	}
	summary := *m.result
	code := m.code
	m.reclaimTimer = r.after(r.grace, func() { r.Reclaim(code) })
	r.mu.Unlock()

	r.bus.Publish(events.KindMatchEnd, code, summary)
	r.log.Info("match finished",
		logging.String("match", code),
		logging.String("winner", summary.WinnerID))
}

// abortMatch tears down a match whose simulation detected corrupted state.
// Only that match is affected; its members are told the session is over.
func (r *Registry) abortMatch(code string, cause error) {
	r.mu.Lock()
	m, ok := r.matches[code]
	if !ok || m.status != StatusActive {
		r.mu.Unlock()
		return
	}
	m.status = StatusFinished
	m.finishedAt = r.now()
	m.result = &wire.MatchEnd{MatchCode: code, Players: m.engine.Results()}
	m.reclaimTimer = r.after(r.grace, func() { r.Reclaim(code) })
	r.mu.Unlock()

	r.bus.Publish(events.KindMatchAborted, code, wire.MatchError{Error: "match aborted"})
	r.log.Error("match aborted", logging.String("match", code), logging.Error(cause))
}

// Result returns the final summary of a finished match while it is retained.
func (r *Registry) Result(code string) (wire.MatchEnd, bool) {
	if r == nil {
		return wire.MatchEnd{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[code]
	if !ok || m.result == nil {
		return wire.MatchEnd{}, false
	}
	return *m.result, true
}

func (r *Registry) resolve(ctx context.Context, playerID, username string) (identity.Profile, error) {
	if strings.TrimSpace(playerID) == "" {
		return identity.Profile{}, ErrInvalidPlayer
	}
	return r.resolver.Resolve(ctx, playerID, username)
}

func participantFrom(connID string, profile identity.Profile) Participant {
	return Participant{ConnID: connID, PlayerID: profile.PlayerID, Username: profile.Username}
}
