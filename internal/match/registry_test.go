package match

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arenaclash/server/internal/events"
	"arenaclash/server/internal/identity"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/sim"
	"arenaclash/server/internal/wire"
)

var codePattern = regexp.MustCompile(`^MATCH-\d+-[A-Za-z0-9]{9}$`)

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string, string) (identity.Profile, error) {
	return identity.Profile{}, identity.ErrUnauthenticated
}

func player(id string) wire.PlayerData {
	return wire.PlayerData{PlayerID: id, Username: "name-" + id}
}

func newTestRegistry(t *testing.T, opts ...RegistryOption) *Registry {
	t.Helper()
	base := []RegistryOption{
		WithCodeRand(rand.NewSource(1)),
		WithAfterFunc(func(time.Duration, func()) *time.Timer {
			return time.AfterFunc(24*time.Hour, func() {})
		}),
	}
	return NewRegistry(context.Background(), events.NewBus(), logging.NewTestLogger(), append(base, opts...)...)
}

func TestCreatePrivateMatch(t *testing.T) {
	registry := newTestRegistry(t)

	created, err := registry.CreatePrivateMatch(context.Background(), "conn-1", player("p1"), 4)
	require.NoError(t, err)
	assert.Regexp(t, codePattern, created.Code)
	assert.Equal(t, 4, created.Match.MaxPlayers)
	assert.Equal(t, "waiting", created.Match.Status)
	require.Len(t, created.Match.Players, 1)
	assert.Equal(t, "conn-1", created.Match.Players[0].ConnID)
	assert.True(t, created.Match.Players[0].IsReady)

	code, ok := registry.MatchFor("conn-1")
	require.True(t, ok)
	assert.Equal(t, created.Code, code)

	//1.- A connection already seated somewhere cannot open a second match.
	_, err = registry.CreatePrivateMatch(context.Background(), "conn-1", player("p1"), 2)
	assert.ErrorIs(t, err, ErrAlreadyJoined)
}

func TestCreatePrivateMatchDefaultsCapacity(t *testing.T) {
	registry := newTestRegistry(t)

	created, err := registry.CreatePrivateMatch(context.Background(), "conn-1", player("p1"), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, created.Match.MaxPlayers)
}

func TestJoinMatchErrors(t *testing.T) {
	registry := newTestRegistry(t)
	created, err := registry.CreatePrivateMatch(context.Background(), "host", player("p-host"), 2)
	require.NoError(t, err)

	_, err = registry.JoinMatch(context.Background(), "conn-2", "MATCH-0-nosuchcod", player("p2"))
	assert.ErrorIs(t, err, ErrMatchNotFound)

	_, err = registry.JoinMatch(context.Background(), "conn-2", created.Code, wire.PlayerData{})
	assert.ErrorIs(t, err, ErrInvalidPlayer)

	update, err := registry.JoinMatch(context.Background(), "conn-2", created.Code, player("p2"))
	require.NoError(t, err)
	assert.Len(t, update.Players, 2)

	//1.- Capacity two means the third join must fail with the typed full error.
	_, err = registry.JoinMatch(context.Background(), "conn-3", created.Code, player("p3"))
	assert.ErrorIs(t, err, ErrMatchFull)

	//2.- A seated connection cannot join twice.
	registry.LeaveMatch("conn-3")
	_, err = registry.JoinMatch(context.Background(), "host", created.Code, player("p-host"))
	assert.ErrorIs(t, err, ErrAlreadyJoined)
}

func TestJoinAfterStartRejected(t *testing.T) {
	registry := newTestRegistry(t)
	created, err := registry.CreatePrivateMatch(context.Background(), "host", player("p-host"), 3)
	require.NoError(t, err)
	_, err = registry.JoinMatch(context.Background(), "conn-2", created.Code, player("p2"))
	require.NoError(t, err)

	require.True(t, registry.StartMatch(created.Code))
	defer registry.Shutdown()

	_, err = registry.JoinMatch(context.Background(), "conn-3", created.Code, player("p3"))
	assert.ErrorIs(t, err, ErrMatchStarted)

	//1.- Starting twice reports false instead of erroring.
	assert.False(t, registry.StartMatch(created.Code))
	assert.False(t, registry.StartMatch("MATCH-0-nosuchcod"))
}

func TestQuickMatchPairsTwoCallers(t *testing.T) {
	registry := newTestRegistry(t)

	first, err := registry.FindQuickMatch(context.Background(), "conn-1", player("p1"), 2)
	require.NoError(t, err)
	second, err := registry.FindQuickMatch(context.Background(), "conn-2", player("p2"), 2)
	require.NoError(t, err)

	//1.- Both callers must land in one match rather than opening two.
	assert.Equal(t, first.Code, second.Code)
	assert.Len(t, second.Players, 2)

	//2.- A third caller of the same capacity gets a fresh match; the first is full.
	third, err := registry.FindQuickMatch(context.Background(), "conn-3", player("p3"), 2)
	require.NoError(t, err)
	assert.NotEqual(t, first.Code, third.Code)
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	registry := newTestRegistry(t)
	created, err := registry.CreatePrivateMatch(context.Background(), "host", player("p-host"), 4)
	require.NoError(t, err)

	//1.- Eight racing joins compete for the three remaining seats.
	const contenders = 8
	errs := make([]error, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("conn-%d", i)
			_, errs[i] = registry.JoinMatch(context.Background(), conn, created.Code, player(fmt.Sprintf("p%d", i)))
		}(i)
	}
	wg.Wait()

	admitted, full := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, ErrMatchFull):
			full++
		default:
			t.Fatalf("unexpected join error: %v", err)
		}
	}
	assert.Equal(t, 3, admitted, "exactly the free seats may be won")
	assert.Equal(t, contenders-3, full)

	update, ok := registry.Lookup(created.Code)
	require.True(t, ok)
	assert.Len(t, update.Players, 4)
}

func TestConcurrentQuickMatchSeekersPairExactly(t *testing.T) {
	registry := newTestRegistry(t)

	//1.- Ten racing seekers of capacity two must fill exactly five duels.
	const seekers = 10
	codes := make([]string, seekers)
	var wg sync.WaitGroup
	for i := 0; i < seekers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("conn-%d", i)
			update, err := registry.FindQuickMatch(context.Background(), conn, player(fmt.Sprintf("p%d", i)), 2)
			if err != nil {
				t.Errorf("quick match: %v", err)
				return
			}
			codes[i] = update.Code
		}(i)
	}
	wg.Wait()

	occupancy := make(map[string]int)
	for _, code := range codes {
		require.NotEmpty(t, code)
		occupancy[code]++
	}
	assert.Len(t, occupancy, seekers/2)
	for code, seated := range occupancy {
		assert.Equalf(t, 2, seated, "match %s not exactly paired", code)
		members := registry.Members(code)
		assert.Len(t, members, 2)
	}
}

func TestQuickMatchHonoursCapacityBucket(t *testing.T) {
	registry := newTestRegistry(t)

	duel, err := registry.FindQuickMatch(context.Background(), "conn-1", player("p1"), 2)
	require.NoError(t, err)
	squad, err := registry.FindQuickMatch(context.Background(), "conn-2", player("p2"), 4)
	require.NoError(t, err)
	assert.NotEqual(t, duel.Code, squad.Code)
	assert.Equal(t, 4, squad.MaxPlayers)
}

func TestQuickMatchSkipsPrivateMatches(t *testing.T) {
	registry := newTestRegistry(t)
	created, err := registry.CreatePrivateMatch(context.Background(), "host", player("p-host"), 2)
	require.NoError(t, err)

	update, err := registry.FindQuickMatch(context.Background(), "conn-2", player("p2"), 2)
	require.NoError(t, err)
	assert.NotEqual(t, created.Code, update.Code)
}

func TestLeaveMatchReclaimsEmptyLobby(t *testing.T) {
	registry := newTestRegistry(t)
	created, err := registry.CreatePrivateMatch(context.Background(), "host", player("p-host"), 2)
	require.NoError(t, err)

	//1.- Leaving is idempotent for connections that are nowhere.
	registry.LeaveMatch("conn-ghost")

	registry.LeaveMatch("host")
	_, ok := registry.Lookup(created.Code)
	assert.False(t, ok, "emptied lobby should be reclaimed immediately")
	_, ok = registry.MatchFor("host")
	assert.False(t, ok)
}

func TestLeaveMatchKeepsPartialLobby(t *testing.T) {
	registry := newTestRegistry(t)
	created, err := registry.CreatePrivateMatch(context.Background(), "host", player("p-host"), 3)
	require.NoError(t, err)
	_, err = registry.JoinMatch(context.Background(), "conn-2", created.Code, player("p2"))
	require.NoError(t, err)

	registry.LeaveMatch("host")
	update, ok := registry.Lookup(created.Code)
	require.True(t, ok)
	require.Len(t, update.Players, 1)
	assert.Equal(t, "conn-2", update.Players[0].ConnID)
}

func TestFinishSchedulesReclaim(t *testing.T) {
	var reclaim func()
	registry := newTestRegistry(t, WithAfterFunc(func(_ time.Duration, fn func()) *time.Timer {
		reclaim = fn
		return time.AfterFunc(24*time.Hour, func() {})
	}))
	created, err := registry.CreatePrivateMatch(context.Background(), "host", player("p-host"), 2)
	require.NoError(t, err)
	_, err = registry.JoinMatch(context.Background(), "conn-2", created.Code, player("p2"))
	require.NoError(t, err)
	require.True(t, registry.StartMatch(created.Code))
	defer registry.Shutdown()

	registry.finishMatch(simResult(created.Code, "host"))

	//1.- Results stay readable during the grace window.
	result, ok := registry.Result(created.Code)
	require.True(t, ok)
	assert.Equal(t, "host", result.WinnerID)
	stats := registry.Stats()
	assert.Equal(t, 1, stats.Finished)

	//2.- Firing the timer drops the match and the reverse index.
	require.NotNil(t, reclaim)
	reclaim()
	_, ok = registry.Lookup(created.Code)
	assert.False(t, ok)
	_, ok = registry.MatchFor("host")
	assert.False(t, ok)
}

func TestSweepExpiredBackstop(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	registry := newTestRegistry(t, WithRegistryClock(func() time.Time { return current }))
	created, err := registry.CreatePrivateMatch(context.Background(), "host", player("p-host"), 2)
	require.NoError(t, err)
	_, err = registry.JoinMatch(context.Background(), "conn-2", created.Code, player("p2"))
	require.NoError(t, err)
	require.True(t, registry.StartMatch(created.Code))

	registry.finishMatch(simResult(created.Code, "host"))

	//1.- Inside the grace window nothing is swept.
	assert.Equal(t, 0, registry.SweepExpired())

	current = current.Add(DefaultReclaimGrace + time.Second)
	assert.Equal(t, 1, registry.SweepExpired())
	_, ok := registry.Lookup(created.Code)
	assert.False(t, ok)
}

func TestSweepPrunesAbandonedLobby(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	registry := newTestRegistry(t,
		WithRegistryClock(func() time.Time { return current }),
		WithWaitingTTL(5*time.Minute))
	created, err := registry.CreatePrivateMatch(context.Background(), "host", player("p-host"), 2)
	require.NoError(t, err)

	assert.Equal(t, 0, registry.SweepExpired())

	current = current.Add(6 * time.Minute)
	assert.Equal(t, 1, registry.SweepExpired())
	_, ok := registry.Lookup(created.Code)
	assert.False(t, ok, "stale lobby should be pruned")
	_, ok = registry.MatchFor("host")
	assert.False(t, ok)
}

func TestResolverFailureIsJoinError(t *testing.T) {
	registry := newTestRegistry(t, WithResolver(failingResolver{}))

	_, err := registry.CreatePrivateMatch(context.Background(), "conn-1", player("p1"), 2)
	assert.True(t, errors.Is(err, identity.ErrUnauthenticated))
	assert.Equal(t, Stats{}, registry.Stats())
}

func TestListOpenMatchesOrdersOldestFirst(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	registry := newTestRegistry(t, WithRegistryClock(func() time.Time { return current }))

	first, err := registry.FindQuickMatch(context.Background(), "conn-1", player("p1"), 4)
	require.NoError(t, err)
	current = current.Add(time.Second)
	second, err := registry.FindQuickMatch(context.Background(), "conn-2", player("p2"), 4)
	require.NoError(t, err)
	assert.Equal(t, first.Code, second.Code)
	current = current.Add(time.Second)
	_, err = registry.CreatePrivateMatch(context.Background(), "conn-3", player("p3"), 2)
	require.NoError(t, err)

	open := registry.ListOpenMatches()
	require.Len(t, open, 1, "private matches and full buckets stay hidden")
	assert.Equal(t, first.Code, open[0].Code)
}

func TestCodeFormat(t *testing.T) {
	source := rand.New(rand.NewSource(42))
	seen := make(map[string]struct{})
	at := time.Unix(1_700_000_000, 0)
	for i := 0; i < 1000; i++ {
		code := newCode(at, source)
		require.Regexp(t, codePattern, code)
		_, dup := seen[code]
		require.False(t, dup, "duplicate code %s", code)
		seen[code] = struct{}{}
	}
}

func simResult(code, winner string) sim.Result {
	return sim.Result{MatchCode: code, WinnerID: winner, WinnerName: "name-" + winner}
}
