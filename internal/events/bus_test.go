package events

import (
	"testing"
	"time"
)

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	clock := func() time.Time { return time.Unix(100, 0) }
	bus := NewBus(WithBusClock(clock))
	sub, err := bus.Subscribe(8)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	bus.Publish(KindKilled, "MATCH-1", "first")
	bus.Publish(KindSnapshot, "MATCH-1", "second")

	killed := <-sub.Events()
	if killed.Kind != KindKilled || killed.Sequence != 1 {
		t.Fatalf("expected the kill before the snapshot, got %+v", killed)
	}
	snapshot := <-sub.Events()
	if snapshot.Kind != KindSnapshot || snapshot.Sequence != 2 {
		t.Fatalf("unexpected second event %+v", snapshot)
	}
	if !snapshot.OccurredAt.Equal(time.Unix(100, 0)) {
		t.Fatalf("clock not applied: %v", snapshot.OccurredAt)
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	sub, err := bus.Subscribe(1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(KindSnapshot, "MATCH-1", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publisher blocked on a full subscriber buffer")
	}
	if bus.Dropped() == 0 {
		t.Fatalf("expected dropped deliveries to be counted")
	}
}

func TestCloseDetachesSubscriber(t *testing.T) {
	bus := NewBus()
	sub, err := bus.Subscribe(4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub.Close()
	sub.Close()

	if _, open := <-sub.Events(); open {
		t.Fatalf("channel should be closed after Close")
	}
	bus.Publish(KindSnapshot, "MATCH-1", nil)
}
