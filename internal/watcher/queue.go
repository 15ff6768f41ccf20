package watcher

import (
	"sync"

	"asisaid.cn/versync/internal/common/errors"
)

// EventQueue is a bounded FIFO of filesystem events, safe for concurrent use.
type EventQueue struct {
	mu      sync.Mutex
	items   []*Event
	maxSize int
}

// NewEventQueue creates a queue holding at most maxSize events.
func NewEventQueue(maxSize int) *EventQueue {
	return &EventQueue{
		items:   make([]*Event, 0),
		maxSize: maxSize,
	}
}

// Push appends an event. It fails with ErrQueueFull when the queue is at
// capacity.
func (q *EventQueue) Push(event *Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.maxSize {
		return errors.ErrQueueFull
	}

	q.items = append(q.items, event)
	return nil
}

// Pop removes and returns the oldest event, or nil.
func (q *EventQueue) Pop() *Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	event := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return event
}

// PopN removes and returns up to n events in arrival order.
func (q *EventQueue) PopN(n int) []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 || n <= 0 {
		return nil
	}

	count := min(n, len(q.items))
	events := make([]*Event, count)
	copy(events, q.items[:count])
	q.items = q.items[count:]
	return events
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every queued event.
func (q *EventQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
}
