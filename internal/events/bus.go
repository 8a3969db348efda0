package events

import (
	"errors"
	"sync"
	"time"
)

// Kind enumerates the gameplay and lifecycle events carried by the bus.
type Kind string

const (
	KindSnapshot     Kind = "snapshot"
	KindShot         Kind = "shot"
	KindHit          Kind = "hit"
	KindKilled       Kind = "killed"
	KindMatchUpdate  Kind = "matchUpdate"
	KindMatchStart   Kind = "matchStart"
	KindMatchEnd     Kind = "matchEnd"
	KindMatchAborted Kind = "matchAborted"
)

// Event pairs a payload with its match and sequencing metadata.
type Event struct {
	Sequence   uint64
	Kind       Kind
	MatchCode  string
	OccurredAt time.Time
	Payload    any
}

// Bus delivers events to subscribers in publish order without blocking publishers.
type Bus struct {
	mu          sync.Mutex
	nextSeq     uint64
	nextSub     uint64
	subscribers map[uint64]*subscriberState
	now         func() time.Time
	dropped     uint64
}

type subscriberState struct {
	ch     chan Event
	active bool
}

// Subscription exposes the ordered delivery channel for one bus consumer.
type Subscription struct {
	id   uint64
	bus  *Bus
	ch   <-chan Event
	once sync.Once
}

// BusOption configures optional bus behaviour at construction time.
type BusOption func(*Bus)

// WithBusClock injects a deterministic time source for tests.
func WithBusClock(clock func() time.Time) BusOption {
	return func(b *Bus) {
		//1.- Swap the timestamp source so published events become reproducible.
		if clock != nil {
			b.now = clock
		}
	}
}

// NewBus constructs an empty bus ready for publishers and subscribers.
func NewBus(opts ...BusOption) *Bus {
	bus := &Bus{
		subscribers: make(map[uint64]*subscriberState),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(bus)
		}
	}
	return bus
}

// Subscribe attaches a consumer with the given channel buffer size.
func (b *Bus) Subscribe(buffer int) (*Subscription, error) {
	if b == nil {
		return nil, errors.New("nil bus")
	}
	if buffer <= 0 {
		buffer = 256
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.nextSub++
	id := b.nextSub
	b.subscribers[id] = &subscriberState{ch: ch, active: true}
	b.mu.Unlock()

	return &Subscription{id: id, bus: b, ch: ch}, nil
}

// Events returns the subscriber's ordered delivery channel.
func (s *Subscription) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

// Close detaches the subscriber and closes its channel.
func (s *Subscription) Close() {
	if s == nil || s.bus == nil {
		return
	}
	s.once.Do(func() {
		s.bus.unsubscribe(s.id)
	})
}

// Publish stamps the event and hands it to every active subscriber.
func (b *Bus) Publish(kind Kind, matchCode string, payload any) uint64 {
	if b == nil {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSeq++
	event := Event{
		Sequence:   b.nextSeq,
		Kind:       kind,
		MatchCode:  matchCode,
		OccurredAt: b.now(),
		Payload:    payload,
	}
	for _, state := range b.subscribers {
		if !state.active {
			continue
		}
		//1.- Deliver without blocking so a stalled consumer cannot stall a tick loop.
		select {
		case state.ch <- event:
		default:
			b.dropped++
		}
	}
	return b.nextSeq
}

// Dropped reports how many deliveries were discarded against full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	state, ok := b.subscribers[id]
	if ok {
		state.active = false
		close(state.ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}
