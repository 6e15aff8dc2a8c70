package history

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart    EventType = "start"
	EventStop     EventType = "stop"
	EventRestart  EventType = "restart"
	EventExited   EventType = "exited"
	EventCleanup  EventType = "cleanup"
	EventShutdown EventType = "shutdown"
)

// Event is one worker lifecycle transition.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid,omitempty"`
	StartedAt  int64     `json:"started_at,omitempty"` // epoch seconds of the worker start, 0 when idle
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Store is a Sink that can also return what it recorded, newest first.
type Store interface {
	Sink
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close() error
}

// Memory keeps the last Cap events in process. It is used when no database
// DSN is configured.
type Memory struct {
	Cap int

	mu     sync.Mutex
	events []Event
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 100
	}
	return &Memory{Cap: capacity}
}

func (m *Memory) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	if over := len(m.events) - m.Cap; over > 0 {
		m.events = append(m.events[:0:0], m.events[over:]...)
	}
	return nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

// Recorder sends events to a sink without ever failing the caller.
type Recorder struct {
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration
}

// NewRecorder wraps sink. A nil sink makes Record a no-op.
func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, logger: logger, timeout: 2 * time.Second}
}

func (r *Recorder) Record(e Event) {
	if r == nil || r.sink == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.sink.Send(ctx, e); err != nil {
		r.logger.Warn("history send failed", "event", e.Type, "error", err)
	}
}
