package sidecar

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/shopcrawl/models"
)

// EventType names a supervisor notification.
type EventType string

const (
	EventStatusChange      EventType = "status-change"
	EventError             EventType = "error"
	EventTaskStarted       EventType = "task-started"
	EventTaskCompleted     EventType = "task-completed"
	EventHealthCheckFailed EventType = "health-check-failed"
)

// Event is one notification. Only the fields relevant to Type are set.
type Event struct {
	Type    EventType           `json:"type"`
	Status  Status              `json:"status,omitempty"`
	Message string              `json:"message,omitempty"`
	TaskID  string              `json:"taskId,omitempty"`
	Task    *models.CrawlTask   `json:"task,omitempty"`
	Result  *models.CrawlResult `json:"result,omitempty"`
	Time    time.Time           `json:"time"`
}

const defaultSubscriberBuffer = 64

// Bus fans events out to subscribers. Emit never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	dropped atomic.Int64
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size (a default
// is used when buffer <= 0). Calling the returned func unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Emit delivers evt to every subscriber that has room for it.
func (b *Bus) Emit(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			if n := b.dropped.Add(1); n%100 == 1 {
				slog.Warn("supervisor events dropped, subscriber too slow", "dropped", n, "type", evt.Type)
			}
		}
	}
}

// Dropped reports how many deliveries were skipped.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
