package input

import (
	"testing"
	"time"
)

func TestGatePacesChannel(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	gate := NewGate(Config{MoveMinInterval: 30 * time.Millisecond},
		WithGateClock(func() time.Time { return current }))

	if !gate.Allow("conn-1", ChannelMove) {
		t.Fatalf("first input must pass")
	}
	if gate.Allow("conn-1", ChannelMove) {
		t.Fatalf("immediate repeat must be clipped")
	}
	current = current.Add(31 * time.Millisecond)
	if !gate.Allow("conn-1", ChannelMove) {
		t.Fatalf("input after the interval must pass")
	}
	if drops := gate.Drops("conn-1"); drops.Move != 1 {
		t.Fatalf("move drops = %d, want 1", drops.Move)
	}
}

func TestGateChannelsAreIndependent(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	gate := NewGate(DefaultConfig(), WithGateClock(func() time.Time { return current }))

	if !gate.Allow("conn-1", ChannelMove) || !gate.Allow("conn-1", ChannelShoot) {
		t.Fatalf("distinct channels must not share a window")
	}
}

func TestGateZeroConfigDisables(t *testing.T) {
	gate := NewGate(Config{})
	for i := 0; i < 10; i++ {
		if !gate.Allow("conn-1", ChannelShoot) {
			t.Fatalf("disabled gate clipped input %d", i)
		}
	}
}

func TestGateForgetResetsState(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	gate := NewGate(DefaultConfig(), WithGateClock(func() time.Time { return current }))

	gate.Allow("conn-1", ChannelMove)
	gate.Allow("conn-1", ChannelMove)
	gate.Forget("conn-1")
	if !gate.Allow("conn-1", ChannelMove) {
		t.Fatalf("forgotten connection must start fresh")
	}
	if drops := gate.Drops("conn-1"); drops.Move != 0 {
		t.Fatalf("counters must reset, got %d", drops.Move)
	}
}
