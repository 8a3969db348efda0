package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"arenaclash/server/internal/events"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/wire"
)

type captureSender struct {
	mu     sync.Mutex
	frames []wire.Frame
	fail   bool
}

func (c *captureSender) Send(frame wire.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("queue full")
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *captureSender) types(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, frame := range c.frames {
		envelope, err := wire.Decode(frame.Kind, frame.Bytes)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		out = append(out, envelope.Type)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestBroadcastReachesMatchMembersOnly(t *testing.T) {
	bus := events.NewBus()
	b := New(bus, logging.NewTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	inMatch := &captureSender{}
	other := &captureSender{}
	b.Attach("MATCH-1", "conn-a", inMatch)
	b.Attach("MATCH-2", "conn-b", other)

	bus.Publish(events.KindMatchStart, "MATCH-1", wire.MatchStart{MatchCode: "MATCH-1"})
	bus.Publish(events.KindSnapshot, "MATCH-1", wire.GameState{})

	waitFor(t, func() bool { return b.Metrics().Delivered >= 2 })
	got := inMatch.types(t)
	if len(got) != 2 || got[0] != wire.TypeMatchStart || got[1] != wire.TypeGameState {
		t.Fatalf("unexpected frames %v", got)
	}
	if len(other.types(t)) != 0 {
		t.Fatalf("other match must not receive frames")
	}
}

func TestBroadcastSkipsFailingSender(t *testing.T) {
	bus := events.NewBus()
	b := New(bus, logging.NewTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	dead := &captureSender{fail: true}
	live := &captureSender{}
	b.Attach("MATCH-1", "conn-dead", dead)
	b.Attach("MATCH-1", "conn-live", live)

	bus.Publish(events.KindSnapshot, "MATCH-1", wire.GameState{})

	waitFor(t, func() bool {
		metrics := b.Metrics()
		return metrics.Delivered == 1 && metrics.Dropped == 1
	})
	if len(live.types(t)) != 1 {
		t.Fatalf("live sender should still receive the frame")
	}
}

func TestDetachStopsDelivery(t *testing.T) {
	bus := events.NewBus()
	b := New(bus, logging.NewTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	sender := &captureSender{}
	b.Attach("MATCH-1", "conn-a", sender)
	bus.Publish(events.KindSnapshot, "MATCH-1", wire.GameState{})
	waitFor(t, func() bool { return b.Metrics().Delivered == 1 })

	b.Detach("conn-a")
	bus.Publish(events.KindSnapshot, "MATCH-1", wire.GameState{})
	bus.Publish(events.KindMatchEnd, "MATCH-1", wire.MatchEnd{MatchCode: "MATCH-1"})

	//1.- Give the loop a moment; nothing further may arrive for the detached conn.
	time.Sleep(50 * time.Millisecond)
	if got := len(sender.types(t)); got != 1 {
		t.Fatalf("detached sender received %d frames", got)
	}
}

func TestTerminalEventReleasesMatchGroup(t *testing.T) {
	bus := events.NewBus()
	b := New(bus, logging.NewTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	groups := func() int {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return len(b.members)
	}

	sender := &captureSender{}
	b.Attach("MATCH-1", "conn-a", sender)

	//1.- The members still receive the terminal frame itself.
	bus.Publish(events.KindMatchEnd, "MATCH-1", wire.MatchEnd{MatchCode: "MATCH-1"})
	waitFor(t, func() bool { return b.Metrics().Delivered == 1 })

	//2.- Anything published under the dead code afterwards reaches nobody.
	bus.Publish(events.KindSnapshot, "MATCH-1", wire.GameState{})
	bus.Publish(events.KindMatchStart, "MATCH-2", wire.MatchStart{MatchCode: "MATCH-2"})
	waitFor(t, func() bool { return b.Metrics().Delivered == 1 && groups() == 0 })
	if got := sender.types(t); len(got) != 1 || got[0] != wire.TypeMatchEnd {
		t.Fatalf("stale group still delivers after the terminal event: %v", got)
	}

	//3.- An abort releases the group the same way.
	b.Attach("MATCH-3", "conn-a", sender)
	bus.Publish(events.KindMatchAborted, "MATCH-3", wire.MatchError{Error: "match aborted"})
	waitFor(t, func() bool { return b.Metrics().Delivered == 2 && groups() == 0 })
}

func TestDetachRemovesEveryMembership(t *testing.T) {
	bus := events.NewBus()
	b := New(bus, logging.NewTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	sender := &captureSender{}
	b.Attach("MATCH-1", "conn-a", sender)
	b.Attach("MATCH-2", "conn-a", sender)
	b.Detach("conn-a")

	bus.Publish(events.KindSnapshot, "MATCH-1", wire.GameState{})
	bus.Publish(events.KindSnapshot, "MATCH-2", wire.GameState{})

	time.Sleep(50 * time.Millisecond)
	if got := len(sender.types(t)); got != 0 {
		t.Fatalf("detached sender received %d frames", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	bus := events.NewBus()
	b := New(bus, logging.NewTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	if err := b.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	cancel()
	b.Wait()
}
