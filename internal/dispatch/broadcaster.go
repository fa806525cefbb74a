// Package dispatch carries committed state changes out of the engine: a
// realtime room broadcaster for subscribed clients and a push notifier for
// offline players. Both are invoked strictly after the transaction commits
// and never feed back into game state.
package dispatch

import (
	"context"
	"sync"
	"time"
)

// Event types fanned out over the realtime channel.
const (
	EventGameTurn       = "game:turn"
	EventGameLetter     = "game:letter"
	EventGameEnded      = "game:ended"
	EventGamePaused     = "game:paused"
	EventGameResumed    = "game:resumed"
	EventRoundDisputed  = "game:disputed"
	EventBattleVote     = "battle:vote"
	EventBattleComplete = "battle:complete"

	defaultRoomSize = 16
)

// Message is one realtime state delta. Payload values use empty-string
// fallbacks rather than absent keys so transports never serialize a field
// away.
type Message struct {
	RoomID    string
	EventType string
	Payload   map[string]string
	Timestamp time.Time
}

// Broadcaster fans committed state deltas out to subscribers grouped in rooms
// keyed by game or battle id. Sends are non-blocking: a slow subscriber drops
// messages instead of holding up dispatch.
type Broadcaster struct {
	mu         sync.RWMutex
	rooms      map[string]map[int64]*subscriber
	nextID     int64
	bufferSize int
}

type subscriber struct {
	id     int64
	stream chan Message
}

// NewBroadcaster constructs an empty room broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		rooms:      make(map[string]map[int64]*subscriber),
		bufferSize: defaultRoomSize,
	}
}

// Subscribe joins the room and returns the message stream plus a cleanup
// function. The subscription is removed when the context is done.
func (b *Broadcaster) Subscribe(ctx context.Context, roomID string) (<-chan Message, func()) {
	if roomID == "" {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     b.nextSequence(),
		stream: make(chan Message, b.bufferSize),
	}
	b.register(roomID, sub)
	cleanup := func() {
		b.unregister(roomID, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish fans the message out to every subscriber in its room.
func (b *Broadcaster) Publish(message Message) {
	if message.RoomID == "" || message.EventType == "" {
		return
	}
	b.mu.RLock()
	room := b.rooms[message.RoomID]
	if len(room) == 0 {
		b.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(room))
	for _, sub := range room {
		copies = append(copies, sub)
	}
	b.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- message:
		default:
		}
	}
}

func (b *Broadcaster) nextSequence() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func (b *Broadcaster) register(roomID string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.rooms[roomID]; !ok {
		b.rooms[roomID] = make(map[int64]*subscriber)
	}
	b.rooms[roomID][sub.id] = sub
}

func (b *Broadcaster) unregister(roomID string, subscriberID int64) {
	b.mu.Lock()
	room := b.rooms[roomID]
	if room != nil {
		delete(room, subscriberID)
		if len(room) == 0 {
			delete(b.rooms, roomID)
		}
	}
	b.mu.Unlock()
}
