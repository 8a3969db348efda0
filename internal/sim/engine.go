package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"arenaclash/server/internal/events"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/wire"
)

// ErrInvariantViolated marks corrupted world state that must abort the match.
var ErrInvariantViolated = errors.New("simulation invariant violated")

// RosterEntry seeds one player into the engine at match start.
type RosterEntry struct {
	ConnID   string
	PlayerID string
	Username string
}

// Result is the terminal outcome the engine reports when the match ends.
type Result struct {
	MatchCode  string
	WinnerID   string
	WinnerName string
	Players    []wire.PlayerResult
}

// playerState is the engine-owned mutable state for one roster member.
type playerState struct {
	connID   string
	playerID string
	username string

	x, y     float64
	rotation float64

	health      float64
	ammo        int
	reloading   bool
	reloadLeft  time.Duration
	kills       int
	damageDealt float64
	alive       bool

	disconnected bool
}

// projectile is one live bullet owned by the engine.
type projectile struct {
	id      uint64
	x, y    float64
	vx, vy  float64
	ownerID string
	ttl     time.Duration
}

type moveInput struct {
	x, y     float64
	rotation float64
}

type shootInput struct {
	connID string
	angle  float64
}

// Engine owns all mutable world state for one match and is the single writer
// of player and projectile state. Inputs arriving between ticks are buffered
// and applied atomically at the start of the next tick.
type Engine struct {
	matchCode string
	cfg       Config
	bus       *events.Bus
	log       *logging.Logger

	loop    *Loop
	monitor *TickMonitor
	cancel  context.CancelFunc
	now     func() time.Time

	onEnd   func(Result)
	onAbort func(error)

	inputMu sync.Mutex
	moves   map[string]moveInput
	shots   []shootInput

	mu          sync.Mutex
	players     map[string]*playerState
	order       []string
	projectiles []*projectile
	nextBullet  uint64
	tick        uint64
	total       int
	ended       bool
}

// EngineOption configures optional engine behaviour at construction time.
type EngineOption func(*Engine)

// WithEngineClock injects a deterministic time source for tests.
func WithEngineClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// WithOnEnd registers the callback fired once when the win condition is met.
func WithOnEnd(fn func(Result)) EngineOption {
	return func(e *Engine) {
		e.onEnd = fn
	}
}

// WithOnAbort registers the callback fired when the engine detects corrupted state.
func WithOnAbort(fn func(error)) EngineOption {
	return func(e *Engine) {
		e.onAbort = fn
	}
}

// NewEngine seeds a world with the given roster, spacing spawns around the arena.
func NewEngine(matchCode string, roster []RosterEntry, cfg Config, bus *events.Bus, log *logging.Logger, opts ...EngineOption) *Engine {
	cfg = cfg.normalized()
	if log == nil {
		log = logging.L()
	}
	engine := &Engine{
		matchCode: matchCode,
		cfg:       cfg,
		bus:       bus,
		log:       log.With(logging.String("match", matchCode)),
		monitor:   NewTickMonitor(),
		now:       time.Now,
		moves:     make(map[string]moveInput),
		players:   make(map[string]*playerState, len(roster)),
		total:     len(roster),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}

	//1.- Distribute spawn points evenly on a circle so nobody starts in contact.
	center := cfg.MapSize / 2
	radius := cfg.MapSize * 0.35
	for i, entry := range roster {
		angle := 2 * math.Pi * float64(i) / float64(max(len(roster), 1))
		state := &playerState{
			connID:   entry.ConnID,
			playerID: entry.PlayerID,
			username: entry.Username,
			x:        center + radius*math.Cos(angle),
			y:        center + radius*math.Sin(angle),
			rotation: math.Atan2(-math.Sin(angle), -math.Cos(angle)),
			health:   cfg.MaxHealth,
			ammo:     cfg.MaxAmmo,
			alive:    true,
		}
		engine.players[entry.ConnID] = state
		engine.order = append(engine.order, entry.ConnID)
	}

	engine.loop = NewLoop(cfg.TickHz, engine.step)
	return engine
}

// Start launches the tick loop until the context is cancelled or the match ends.
func (e *Engine) Start(ctx context.Context) {
	if e == nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.loop.Start(runCtx)
	e.log.Info("simulation started",
		logging.Int("players", e.total),
		logging.Duration("step", e.loop.StepDuration()))
}

// Stop cancels the tick loop and waits for it to drain. Safe to call twice.
func (e *Engine) Stop() {
	if e == nil {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.loop.Stop()
}

// QueueMove buffers a movement input to be applied at the next tick.
func (e *Engine) QueueMove(connID string, x, y, rotation float64) {
	if e == nil || !finite(x) || !finite(y) || !finite(rotation) {
		return
	}
	e.inputMu.Lock()
	//1.- Later moves from the same player replace earlier ones within a tick window.
	e.moves[connID] = moveInput{x: x, y: y, rotation: rotation}
	e.inputMu.Unlock()
}

// QueueShoot buffers a fire request to be applied at the next tick.
func (e *Engine) QueueShoot(connID string, angle float64) {
	if e == nil || !finite(angle) {
		return
	}
	e.inputMu.Lock()
	e.shots = append(e.shots, shootInput{connID: connID, angle: angle})
	e.inputMu.Unlock()
}

// MarkDisconnected eliminates a player who left mid-match. The entity stays in
// snapshots as a corpse and counts as already eliminated for the win condition.
func (e *Engine) MarkDisconnected(connID string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if state, ok := e.players[connID]; ok {
		state.disconnected = true
		state.alive = false
	}
	e.mu.Unlock()
}

// Snapshot renders the current world state, mainly for tests and diagnostics.
func (e *Engine) Snapshot() wire.GameState {
	if e == nil {
		return wire.GameState{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Results summarises every player's score, used when capturing match outcomes.
func (e *Engine) Results() []wire.PlayerResult {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resultsLocked()
}

// Metrics exposes aggregated tick timing for the operational surface.
func (e *Engine) Metrics() TickMetricsSnapshot {
	if e == nil {
		return TickMetricsSnapshot{}
	}
	return e.monitor.Snapshot()
}

// TickCount reports how many ticks the engine has advanced.
func (e *Engine) TickCount() uint64 {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// AdvanceTick runs one simulation step synchronously; the test seam behind the loop.
func (e *Engine) AdvanceTick(step time.Duration) {
	if e == nil {
		return
	}
	e.step(step)
}

func (e *Engine) step(step time.Duration) {
	started := e.now()

	//1.- Drain buffered inputs so the whole tick observes one consistent input set.
	e.inputMu.Lock()
	moves := e.moves
	shots := e.shots
	e.moves = make(map[string]moveInput)
	e.shots = nil
	e.inputMu.Unlock()

	type hitRecord struct {
		payload wire.PlayerHit
	}
	type killRecord struct {
		payload wire.PlayerKilled
	}

	var (
		shotBursts []wire.PlayerShot
		hits       []hitRecord
		kills      []killRecord
		result     *Result
		corrupt    error
	)

	e.mu.Lock()
	if e.ended {
		e.mu.Unlock()
		return
	}
	e.tick++
	dt := step.Seconds()

	//2.- Apply movement with max-speed clamping and arena bounds.
	for connID, move := range moves {
		state, ok := e.players[connID]
		if !ok || !state.alive || state.disconnected {
			continue
		}
		maxStep := e.cfg.PlayerSpeed * dt
		dx := move.x - state.x
		dy := move.y - state.y
		dist := math.Hypot(dx, dy)
		if dist > maxStep && dist > 0 {
			scale := maxStep / dist
			dx *= scale
			dy *= scale
		}
		state.x = clamp(state.x+dx, 0, e.cfg.MapSize)
		state.y = clamp(state.y+dy, 0, e.cfg.MapSize)
		state.rotation = move.rotation
	}

	//3.- Finish reloads before applying fire requests from this tick.
	for _, connID := range e.order {
		state := e.players[connID]
		if state == nil || !state.reloading {
			continue
		}
		state.reloadLeft -= step
		if state.reloadLeft <= 0 {
			state.reloading = false
			state.reloadLeft = 0
			state.ammo = e.cfg.MaxAmmo
		}
	}

	//4.- Spawn projectiles for every accepted fire request, grouped per shooter.
	burstByShooter := make(map[string][]wire.BulletSnapshot)
	var burstOrder []string
	for _, shot := range shots {
		state, ok := e.players[shot.connID]
		if !ok || !state.alive || state.disconnected || state.reloading || state.ammo <= 0 {
			continue
		}
		state.ammo--
		if state.ammo == 0 {
			state.reloading = true
			state.reloadLeft = e.cfg.ReloadDuration
		}
		e.nextBullet++
		bullet := &projectile{
			id:      e.nextBullet,
			x:       state.x,
			y:       state.y,
			vx:      math.Cos(shot.angle) * e.cfg.BulletSpeed,
			vy:      math.Sin(shot.angle) * e.cfg.BulletSpeed,
			ownerID: shot.connID,
			ttl:     e.cfg.BulletLifetime,
		}
		e.projectiles = append(e.projectiles, bullet)
		if _, seen := burstByShooter[shot.connID]; !seen {
			burstOrder = append(burstOrder, shot.connID)
		}
		burstByShooter[shot.connID] = append(burstByShooter[shot.connID], bulletSnapshot(bullet))
	}
	for _, shooter := range burstOrder {
		shotBursts = append(shotBursts, wire.PlayerShot{Bullets: burstByShooter[shooter]})
	}

	//5.- Advance projectiles and drop the ones past their lifetime or the bounds.
	live := e.projectiles[:0]
	for _, bullet := range e.projectiles {
		bullet.x += bullet.vx * dt
		bullet.y += bullet.vy * dt
		bullet.ttl -= step
		if bullet.ttl <= 0 || bullet.x < 0 || bullet.x > e.cfg.MapSize || bullet.y < 0 || bullet.y > e.cfg.MapSize {
			continue
		}
		live = append(live, bullet)
	}
	e.projectiles = live

	//6.- Resolve impacts: first living non-owner within the hit radius absorbs the bullet.
	survivors := e.projectiles[:0]
	for _, bullet := range e.projectiles {
		target := e.findImpactLocked(bullet)
		if target == nil {
			survivors = append(survivors, bullet)
			continue
		}
		target.health -= e.cfg.BulletDamage
		if target.health < 0 {
			target.health = 0
		}
		if shooter, ok := e.players[bullet.ownerID]; ok {
			shooter.damageDealt += e.cfg.BulletDamage
		}
		hits = append(hits, hitRecord{payload: wire.PlayerHit{
			TargetID:  target.connID,
			ShooterID: bullet.ownerID,
			Damage:    e.cfg.BulletDamage,
			Health:    target.health,
		}})
		if target.health <= 0 && target.alive {
			target.alive = false
			killerKills := 0
			if shooter, ok := e.players[bullet.ownerID]; ok {
				shooter.kills++
				killerKills = shooter.kills
			}
			kills = append(kills, killRecord{payload: wire.PlayerKilled{
				TargetID:  target.connID,
				ShooterID: bullet.ownerID,
				Kills:     killerKills,
			}})
		}
	}
	e.projectiles = survivors

	//7.- Guard world invariants; corrupted state aborts this match only.
	corrupt = e.validateLocked()

	//8.- Evaluate the win condition: last player standing ends a duel, while a
	// solo match ends only once its lone player is gone.
	if corrupt == nil {
		if alive, last := e.aliveLocked(); alive <= 1 && (e.total >= 2 || alive == 0) {
			e.ended = true
			res := Result{MatchCode: e.matchCode, Players: e.resultsLocked()}
			if last != nil {
				res.WinnerID = last.connID
				res.WinnerName = last.username
			}
			result = &res
		}
	}
	if corrupt != nil {
		e.ended = true
	}

	snapshot := e.snapshotLocked()
	tick := e.tick
	e.mu.Unlock()

	//9.- Publish one-shot events strictly before the snapshot reflecting them.
	for _, burst := range shotBursts {
		e.bus.Publish(events.KindShot, e.matchCode, burst)
	}
	for _, hit := range hits {
		e.bus.Publish(events.KindHit, e.matchCode, hit.payload)
	}
	for _, kill := range kills {
		e.bus.Publish(events.KindKilled, e.matchCode, kill.payload)
	}
	e.bus.Publish(events.KindSnapshot, e.matchCode, snapshot)

	e.monitor.Observe(e.now().Sub(started))

	if corrupt != nil {
		e.log.Error("aborting corrupted match", logging.Error(corrupt), logging.Uint64("tick", tick))
		if e.cancel != nil {
			e.cancel()
		}
		if e.onAbort != nil {
			e.onAbort(corrupt)
		}
		return
	}
	if result != nil {
		e.log.Info("win condition met",
			logging.String("winner", result.WinnerID),
			logging.Uint64("tick", tick))
		if e.cancel != nil {
			e.cancel()
		}
		if e.onEnd != nil {
			e.onEnd(*result)
		}
	}
}

func (e *Engine) findImpactLocked(bullet *projectile) *playerState {
	for _, connID := range e.order {
		state := e.players[connID]
		if state == nil || !state.alive || connID == bullet.ownerID {
			continue
		}
		if math.Hypot(state.x-bullet.x, state.y-bullet.y) <= e.cfg.HitRadius {
			return state
		}
	}
	return nil
}

func (e *Engine) aliveLocked() (int, *playerState) {
	count := 0
	var last *playerState
	for _, state := range e.players {
		if state.alive {
			count++
			last = state
		}
	}
	if count != 1 {
		last = nil
	}
	return count, last
}

func (e *Engine) validateLocked() error {
	for connID, state := range e.players {
		if state.health < 0 || state.health > e.cfg.MaxHealth {
			return fmt.Errorf("%w: player %s health %v", ErrInvariantViolated, connID, state.health)
		}
		if state.ammo < 0 || state.ammo > e.cfg.MaxAmmo {
			return fmt.Errorf("%w: player %s ammo %d", ErrInvariantViolated, connID, state.ammo)
		}
		if !finite(state.x) || !finite(state.y) {
			return fmt.Errorf("%w: player %s position", ErrInvariantViolated, connID)
		}
	}
	return nil
}

func (e *Engine) snapshotLocked() wire.GameState {
	snapshot := wire.GameState{
		Players: make([]wire.PlayerSnapshot, 0, len(e.order)),
		Bullets: make([]wire.BulletSnapshot, 0, len(e.projectiles)),
	}
	for _, connID := range e.order {
		state := e.players[connID]
		if state == nil {
			continue
		}
		snapshot.Players = append(snapshot.Players, wire.PlayerSnapshot{
			ID:          state.connID,
			PlayerID:    state.playerID,
			Username:    state.username,
			X:           state.x,
			Y:           state.y,
			Rotation:    state.rotation,
			Health:      state.health,
			MaxHealth:   e.cfg.MaxHealth,
			Ammo:        state.ammo,
			MaxAmmo:     e.cfg.MaxAmmo,
			IsReloading: state.reloading,
			Kills:       state.kills,
			Damage:      state.damageDealt,
			IsAlive:     state.alive,
		})
	}
	for _, bullet := range e.projectiles {
		snapshot.Bullets = append(snapshot.Bullets, bulletSnapshot(bullet))
	}
	sort.Slice(snapshot.Bullets, func(i, j int) bool { return snapshot.Bullets[i].ID < snapshot.Bullets[j].ID })
	return snapshot
}

func (e *Engine) resultsLocked() []wire.PlayerResult {
	results := make([]wire.PlayerResult, 0, len(e.order))
	for _, connID := range e.order {
		state := e.players[connID]
		if state == nil {
			continue
		}
		results = append(results, wire.PlayerResult{
			ConnID:   state.connID,
			PlayerID: state.playerID,
			Username: state.username,
			Kills:    state.kills,
			Damage:   state.damageDealt,
			IsAlive:  state.alive,
		})
	}
	return results
}

func bulletSnapshot(bullet *projectile) wire.BulletSnapshot {
	return wire.BulletSnapshot{
		ID:      bullet.id,
		X:       bullet.x,
		Y:       bullet.y,
		VX:      bullet.vx,
		VY:      bullet.vy,
		OwnerID: bullet.ownerID,
	}
}

func clamp(value, low, high float64) float64 {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

func finite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}
