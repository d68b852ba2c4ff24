// Package events implements the run execution core's lifecycle event bus
// (spec.md §4.6): run.planning.started/ended, task.started/ended,
// run.synthesizing.started/ended, run.completed/failed/blocked. Grounded in
// the teacher's pkg/events/publisher.go typed-method/best-effort shape; the
// teacher's Postgres LISTEN/NOTIFY + WebSocket transport is dropped as
// HTTP/WS-layer and out of scope (spec.md §1) — this bus is in-process
// fan-out only (SPEC_FULL.md §12).
package events

import (
	"log/slog"
	"sync"
)

// Kind discriminates the lifecycle event types spec.md §4.6 names.
type Kind string

const (
	KindPlanningStarted     Kind = "run.planning.started"
	KindPlanningEnded       Kind = "run.planning.ended"
	KindTaskStarted         Kind = "task.started"
	KindTaskEnded           Kind = "task.ended"
	KindSynthesizingStarted Kind = "run.synthesizing.started"
	KindSynthesizingEnded   Kind = "run.synthesizing.ended"
	KindRunCompleted        Kind = "run.completed"
	KindRunFailed           Kind = "run.failed"
	KindRunBlocked          Kind = "run.blocked"
)

// Event is a single lifecycle notification.
type Event struct {
	Kind      Kind
	RunID     string
	SessionID string
	TaskID    string // empty unless Kind is task.*
	Detail    string
}

// Bus is an in-process fan-out publisher. Subscriber failure (a full channel)
// is best-effort and dropped with a log line, never propagated to the
// publisher — matching spec.md §4.6's "best-effort... not part of the
// correctness boundary" framing, the same posture the teacher's
// publishStageStatus/publishSessionProgress helpers take in
// pkg/queue/executor.go.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	logger      *slog.Logger
}

// NewBus constructs an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subscribers: make(map[int]chan Event), logger: logger}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is buffered; a slow subscriber has its
// events dropped rather than blocking the publisher.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			close(existing)
			delete(b.subscribers, id)
		}
	}
	return ch, unsubscribe
}

// Publish fans e out to every subscriber, best-effort.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			b.logger.Warn("dropping lifecycle event for slow subscriber",
				"kind", e.Kind, "run_id", e.RunID)
		}
	}
}
