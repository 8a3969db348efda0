package match

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"arenaclash/server/internal/events"
	"arenaclash/server/internal/identity"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/sim"
	"arenaclash/server/internal/wire"
)

// DefaultReclaimGrace is how long finished matches keep their results visible
// before the registry entry is dropped.
const DefaultReclaimGrace = 30 * time.Second

// DefaultWaitingTTL is how long a lobby may sit in the waiting state before
// the janitor sweep treats it as abandoned.
const DefaultWaitingTTL = 10 * time.Minute

// Stats summarises the registry population for the operational surface.
type Stats struct {
	Waiting  int `json:"waiting"`
	Active   int `json:"active"`
	Finished int `json:"finished"`
}

// RegistryOption configures optional Registry behaviour at construction time.
type RegistryOption func(*Registry)

// WithRegistryClock injects a deterministic time source for tests.
func WithRegistryClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithReclaimGrace overrides how long finished matches linger before reclaim.
func WithReclaimGrace(grace time.Duration) RegistryOption {
	return func(r *Registry) {
		if grace > 0 {
			r.grace = grace
		}
	}
}

// WithWaitingTTL overrides how long idle lobbies survive before being pruned.
func WithWaitingTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.waitingTTL = ttl
		}
	}
}

// WithResolver installs the identity lookup consulted before admitting players.
func WithResolver(resolver identity.Resolver) RegistryOption {
	return func(r *Registry) {
		if resolver != nil {
			r.resolver = resolver
		}
	}
}

// WithSimConfig overrides the gameplay tunables handed to new engines.
func WithSimConfig(cfg sim.Config) RegistryOption {
	return func(r *Registry) {
		r.simCfg = cfg
	}
}

// WithAfterFunc replaces the reclaim timer source so tests can fire it by hand.
func WithAfterFunc(after func(time.Duration, func()) *time.Timer) RegistryOption {
	return func(r *Registry) {
		if after != nil {
			r.after = after
		}
	}
}

// WithCodeRand seeds match-code generation deterministically for tests.
func WithCodeRand(source rand.Source) RegistryOption {
	return func(r *Registry) {
		if source != nil {
			r.rand = rand.New(source)
		}
	}
}

// Registry owns every live match and the reverse index from connection to
// match code. One mutex serialises all matchmaking operations, which is what
// makes the quick-match scan-then-create atomic.
type Registry struct {
	bus      *events.Bus
	log      *logging.Logger
	resolver identity.Resolver
	simCfg     sim.Config
	grace      time.Duration
	waitingTTL time.Duration

	now   func() time.Time
	after func(time.Duration, func()) *time.Timer
	rand  *rand.Rand

	baseCtx context.Context

	mu      sync.Mutex
	matches map[string]*Match
	byConn  map[string]string
}

// NewRegistry builds an empty registry publishing lifecycle events on bus.
func NewRegistry(ctx context.Context, bus *events.Bus, log *logging.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = logging.L()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	registry := &Registry{
		bus:      bus,
		log:      log.With(logging.String("component", "registry")),
		resolver: identity.PassthroughResolver{},
		simCfg:     sim.DefaultConfig(),
		grace:      DefaultReclaimGrace,
		waitingTTL: DefaultWaitingTTL,
		now:      time.Now,
		after:    time.AfterFunc,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		baseCtx:  ctx,
		matches:  make(map[string]*Match),
		byConn:   make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	return registry
}

// Lookup returns the lobby snapshot for a code, if the match still exists.
func (r *Registry) Lookup(code string) (wire.MatchUpdate, bool) {
	if r == nil {
		return wire.MatchUpdate{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[code]
	if !ok {
		return wire.MatchUpdate{}, false
	}
	return m.snapshotLocked(), true
}

// MatchFor resolves the match code a connection currently occupies.
func (r *Registry) MatchFor(connID string) (string, bool) {
	if r == nil {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.byConn[connID]
	return code, ok
}

// Members lists the connection ids currently admitted to a match.
func (r *Registry) Members(code string) []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[code]
	if !ok {
		return nil
	}
	members := make([]string, len(m.order))
	copy(members, m.order)
	return members
}

// ListOpenMatches returns every joinable public match, oldest first.
func (r *Registry) ListOpenMatches() []wire.MatchUpdate {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	open := make([]wire.MatchUpdate, 0)
	for _, m := range r.sortedLocked() {
		if m.private || m.status != StatusWaiting || m.fullLocked() {
			continue
		}
		open = append(open, m.snapshotLocked())
	}
	return open
}

// Stats counts matches per lifecycle state.
func (r *Registry) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var stats Stats
	for _, m := range r.matches {
		switch m.status {
		case StatusWaiting:
			stats.Waiting++
		case StatusActive:
			stats.Active++
		case StatusFinished:
			stats.Finished++
		}
	}
	return stats
}

// SweepExpired reclaims finished matches whose grace window has passed and
// prunes abandoned lobbies that sat waiting past their TTL. It is the
// janitor's backstop behind the per-match reclaim timers and returns how
// many matches it removed.
func (r *Registry) SweepExpired() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	now := r.now()
	var expired, abandoned []*Match
	for _, m := range r.matches {
		switch m.status {
		case StatusFinished:
			if now.Sub(m.finishedAt) >= r.grace {
				expired = append(expired, m)
			}
		case StatusWaiting:
			if now.Sub(m.createdAt) >= r.waitingTTL {
				abandoned = append(abandoned, m)
			}
		}
	}
	for _, m := range expired {
		r.reclaimLocked(m)
	}
	for _, m := range abandoned {
		r.reclaimLocked(m)
	}
	r.mu.Unlock()

	for _, m := range expired {
		r.stopEngine(m)
	}
	//1.- Members of a pruned lobby are told their session is gone.
	for _, m := range abandoned {
		r.bus.Publish(events.KindMatchAborted, m.code, wire.MatchError{Error: "lobby expired"})
	}
	return len(expired) + len(abandoned)
}

// Reclaim drops a finished match immediately, releasing its registry entry.
// Reclaiming a match that is gone or not yet finished is a no-op.
func (r *Registry) Reclaim(code string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	m, ok := r.matches[code]
	if !ok || m.status != StatusFinished {
		r.mu.Unlock()
		return
	}
	r.reclaimLocked(m)
	r.mu.Unlock()
	r.stopEngine(m)
}

// reclaimLocked removes the match and all reverse-index entries for its
// members. Engine shutdown happens outside the lock; the engine's tick
// goroutine may be blocked on this same mutex in its end-of-match callback.
func (r *Registry) reclaimLocked(m *Match) {
	if m.reclaimTimer != nil {
		m.reclaimTimer.Stop()
		m.reclaimTimer = nil
	}
	for _, connID := range m.order {
		if r.byConn[connID] == m.code {
			delete(r.byConn, connID)
		}
	}
	m.status = StatusReclaimed
	delete(r.matches, m.code)
	r.log.Info("match reclaimed", logging.String("match", m.code))
}

func (r *Registry) stopEngine(m *Match) {
	if m.engine != nil {
		m.engine.Stop()
	}
}

// Shutdown stops every running engine and cancels pending reclaim timers.
// Called on server shutdown after the listener has stopped accepting.
func (r *Registry) Shutdown() {
	if r == nil {
		return
	}
	r.mu.Lock()
	engines := make([]*sim.Engine, 0, len(r.matches))
	for _, m := range r.matches {
		if m.reclaimTimer != nil {
			m.reclaimTimer.Stop()
			m.reclaimTimer = nil
		}
		if m.engine != nil {
			engines = append(engines, m.engine)
		}
	}
	r.mu.Unlock()

	for _, engine := range engines {
		engine.Stop()
	}
}

// sortedLocked returns matches ordered by creation time so quick-match scans
// and listings are deterministic.
func (r *Registry) sortedLocked() []*Match {
	ordered := make([]*Match, 0, len(r.matches))
	for _, m := range r.matches {
		ordered = append(ordered, m)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].createdAt.Equal(ordered[j].createdAt) {
			return ordered[i].code < ordered[j].code
		}
		return ordered[i].createdAt.Before(ordered[j].createdAt)
	})
	return ordered
}

// newCodeLocked generates a registry-unique code, retrying on collision.
func (r *Registry) newCodeLocked() string {
	for {
		code := newCode(r.now(), r.rand)
		if _, taken := r.matches[code]; !taken {
			return code
		}
	}
}
