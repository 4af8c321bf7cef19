// Package events provides the in-process event bus used for scan lifecycle
// and playback notifications. Subscribers receive events over buffered
// channels; slow subscribers drop events rather than block publishers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the core.
const (
	EventScanStarted   = "scan.started"
	EventScanProgress  = "scan.progress"
	EventScanCompleted = "scan.completed"
	EventScanFailed    = "scan.failed"
	EventMediaAdded    = "media.added"
	EventMediaRemoved  = "media.removed"
	EventSessionEnded  = "playback.session_ended"
)

// Event is a system notification.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewSystemEvent creates an event with a fresh id and timestamp.
func NewSystemEvent(eventType, title, message string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Bus fans events out to subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan Event)}
}

// PublishAsync delivers the event to every subscriber without blocking.
func (b *Bus) PublishAsync(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; drop rather than stall a scan.
		}
	}
}

// Subscribe registers a new subscriber and returns its id and channel.
func (b *Bus) Subscribe() (string, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	ch := make(chan Event, 64)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
