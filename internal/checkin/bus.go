// Package checkin runs the day-of-event check-in board and fans its updates
// out to connected front-desk devices.
package checkin

import (
	"context"
	"sync"
	"time"
)

// Message types sent on the live update stream.
const (
	TypeConnected = "connected"
	TypeHeartbeat = "heartbeat"
	TypeUpdated   = "checkin_updated"
)

// Message is one server-pushed update.
type Message struct {
	Type        string `json:"type"`
	PlayerID    string `json:"playerId,omitempty"`
	IsCheckedIn bool   `json:"isCheckedIn"`
	Timestamp   string `json:"timestamp"`
}

// UpdateMessage builds a checkin_updated message.
func UpdateMessage(playerID string, checkedIn bool, at time.Time) Message {
	return Message{
		Type:        TypeUpdated,
		PlayerID:    playerID,
		IsCheckedIn: checkedIn,
		Timestamp:   at.UTC().Format(time.RFC3339Nano),
	}
}

// Bus publishes check-in updates to every subscriber. Delivery is best
// effort: listeners re-fetch the board after reconnecting.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe returns a channel of messages and a cancel func that
	// releases the subscription. The channel is closed after cancel or
	// when ctx is done.
	Subscribe(ctx context.Context) (<-chan Message, func(), error)
}

// subscriberBuffer bounds how far a slow subscriber may fall behind before
// messages to it are dropped.
const subscriberBuffer = 16

// MemoryBus is an in-process Bus. It only reaches subscribers in the same
// process, so a deployment with more than one server instance needs RedisBus.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[int]chan Message
	nextID int
	drops  int
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]chan Message)}
}

// Publish delivers msg to every subscriber with room in its buffer.
func (b *MemoryBus) Publish(_ context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			b.drops++
		}
	}
	return nil
}

// Subscribe registers a new subscriber.
func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan Message, func(), error) {
	ch := make(chan Message, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}

// Subscribers returns the number of live subscriptions.
func (b *MemoryBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns how many messages were dropped for slow subscribers.
func (b *MemoryBus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drops
}
