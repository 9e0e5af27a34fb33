// Package broadcast tracks which conversation each live connection is
// viewing and fans new messages and conversations out to the connections
// that should see them. Delivery is best-effort: a failed push is logged
// and the connection is left for its own read loop to tear down.
package broadcast

import (
	"sync"

	"github.com/google/uuid"

	"parley/pkg/logger"
	"parley/pkg/models"
)

// Subscriber is a live connection that can receive unsolicited push
// frames. Implementations must serialize their own writes.
type Subscriber interface {
	PushMessage(conversation uuid.UUID, m models.Message) error
	PushConversation(s models.ConversationSummary) error
}

// System is the fan-out registry. The zero value is not usable; call New.
type System struct {
	mu sync.RWMutex
	// viewing maps each live connection to the conversation it is
	// subscribed to; uuid.Nil means connected but unsubscribed.
	viewing map[Subscriber]uuid.UUID
}

func New() *System {
	return &System{viewing: map[Subscriber]uuid.UUID{}}
}

// Register adds a connection in the unsubscribed state.
func (b *System) Register(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.viewing[s] = uuid.Nil
}

// Unregister removes a disconnected connection and its subscription.
func (b *System) Unregister(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.viewing, s)
}

// SwitchConversation moves a connection's subscription from old to new.
// Either may be nil: nil old means first join, nil new means leaving.
func (b *System) SwitchConversation(s Subscriber, old, next *models.ConversationSummary) {
	target := uuid.Nil
	if next != nil {
		target = next.ID
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.viewing[s]; !ok {
		return
	}
	b.viewing[s] = target
}

// AddMessage delivers m to every connection subscribed to its conversation.
func (b *System) AddMessage(conversation uuid.UUID, m models.Message) {
	for _, s := range b.subscribersOf(conversation) {
		if err := s.PushMessage(conversation, m); err != nil {
			logger.Warn("broadcast_message_failed", "conversation", conversation, "error", err)
		}
	}
}

// AddConversation delivers a new conversation summary to every live
// connection, subscribed or not, so clients can list it immediately.
func (b *System) AddConversation(summary models.ConversationSummary) {
	b.mu.RLock()
	targets := make([]Subscriber, 0, len(b.viewing))
	for s := range b.viewing {
		targets = append(targets, s)
	}
	b.mu.RUnlock()
	for _, s := range targets {
		if err := s.PushConversation(summary); err != nil {
			logger.Warn("broadcast_conversation_failed", "conversation", summary.ID, "error", err)
		}
	}
}

// Viewing returns the conversation a connection is subscribed to.
func (b *System) Viewing(s Subscriber) (uuid.UUID, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.viewing[s]
	return id, ok
}

// Size returns the number of live connections.
func (b *System) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.viewing)
}

func (b *System) subscribersOf(conversation uuid.UUID) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Subscriber, 0, 4)
	for s, c := range b.viewing {
		if c == conversation {
			out = append(out, s)
		}
	}
	return out
}
