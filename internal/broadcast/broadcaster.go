// Package broadcast fans match events out to the websocket connections that
// belong to each match. It is the only consumer of the event bus; per-event
// encoding happens once, then the same frame goes to every member.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"arenaclash/server/internal/events"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/wire"
)

// subscriptionBuffer absorbs tick bursts from many concurrent matches.
const subscriptionBuffer = 1024

// Sender delivers one encoded frame to a single connection. Implementations
// must not block; a full outbound queue should drop and return an error.
type Sender interface {
	Send(frame wire.Frame) error
}

// Metrics counts delivery outcomes since the broadcaster started.
type Metrics struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Unmapped  uint64 `json:"unmapped"`
}

// Broadcaster routes bus events to the senders attached to each match.
type Broadcaster struct {
	bus *events.Bus
	log *logging.Logger

	mu      sync.RWMutex
	members map[string]map[string]Sender

	delivered atomic.Uint64
	dropped   atomic.Uint64
	unmapped  atomic.Uint64

	done chan struct{}
}

// New constructs a broadcaster reading from bus.
func New(bus *events.Bus, log *logging.Logger) *Broadcaster {
	if log == nil {
		log = logging.L()
	}
	return &Broadcaster{
		bus:     bus,
		log:     log.With(logging.String("component", "broadcast")),
		members: make(map[string]map[string]Sender),
	}
}

// Attach registers a connection as a recipient of one match's events.
func (b *Broadcaster) Attach(matchCode, connID string, sender Sender) {
	if b == nil || sender == nil {
		return
	}
	b.mu.Lock()
	group, ok := b.members[matchCode]
	if !ok {
		group = make(map[string]Sender)
		b.members[matchCode] = group
	}
	group[connID] = sender
	b.mu.Unlock()
}

// Detach removes a connection from every match group holding it. A client
// re-admitted before its old group drained may appear in more than one.
func (b *Broadcaster) Detach(connID string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	for code, group := range b.members {
		if _, ok := group[connID]; ok {
			delete(group, connID)
			if len(group) == 0 {
				delete(b.members, code)
			}
		}
	}
	b.mu.Unlock()
}

// DropMatch removes the whole recipient group of a match that reached a
// terminal state. Dispatch calls it after delivering matchEnd or matchError.
func (b *Broadcaster) DropMatch(matchCode string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	delete(b.members, matchCode)
	b.mu.Unlock()
}

// Run consumes bus events until the context is cancelled. It is intended to
// run on its own goroutine; Wait blocks until the loop has drained.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b == nil {
		return nil
	}
	sub, err := b.bus.Subscribe(subscriptionBuffer)
	if err != nil {
		return err
	}
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sub.Events():
				if !ok {
					return
				}
				b.dispatch(event)
			}
		}
	}()
	return nil
}

// Wait blocks until the dispatch loop started by Run has exited.
func (b *Broadcaster) Wait() {
	if b == nil || b.done == nil {
		return
	}
	<-b.done
}

// Metrics reports delivery counters for the operational surface.
func (b *Broadcaster) Metrics() Metrics {
	if b == nil {
		return Metrics{}
	}
	return Metrics{
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
		Unmapped:  b.unmapped.Load(),
	}
}

func (b *Broadcaster) dispatch(event events.Event) {
	msgType, ok := messageType(event.Kind)
	if !ok {
		b.unmapped.Add(1)
		return
	}
	//1.- Encode once so every member receives the identical frame.
	frame, err := wire.Encode(msgType, event.Payload)
	if err != nil {
		b.log.Error("encode event", logging.Error(err), logging.String("type", msgType))
		return
	}

	b.mu.RLock()
	group := b.members[event.MatchCode]
	recipients := make([]Sender, 0, len(group))
	for _, sender := range group {
		recipients = append(recipients, sender)
	}
	b.mu.RUnlock()

	//2.- A slow or dead connection only costs itself; the rest still get the frame.
	for _, sender := range recipients {
		if err := sender.Send(frame); err != nil {
			b.dropped.Add(1)
			continue
		}
		b.delivered.Add(1)
	}

	//3.- Nothing follows a terminal event under this code; release the group.
	if event.Kind == events.KindMatchEnd || event.Kind == events.KindMatchAborted {
		b.DropMatch(event.MatchCode)
	}
}

// messageType maps an internal event kind onto its protocol message type.
func messageType(kind events.Kind) (string, bool) {
	switch kind {
	case events.KindSnapshot:
		return wire.TypeGameState, true
	case events.KindShot:
		return wire.TypePlayerShot, true
	case events.KindHit:
		return wire.TypePlayerHit, true
	case events.KindKilled:
		return wire.TypePlayerKilled, true
	case events.KindMatchUpdate:
		return wire.TypeMatchUpdate, true
	case events.KindMatchStart:
		return wire.TypeMatchStart, true
	case events.KindMatchEnd:
		return wire.TypeMatchEnd, true
	case events.KindMatchAborted:
		return wire.TypeMatchError, true
	default:
		return "", false
	}
}
