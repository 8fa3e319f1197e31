package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind names what happened.
type EventKind string

const (
	KindRunStarted      EventKind = "run.started"
	KindRunCompleted    EventKind = "run.completed"
	KindRunFailed       EventKind = "run.failed"
	KindNodeCompleted   EventKind = "node.completed"
	KindNodeFailed      EventKind = "node.failed"
	KindSessionLost     EventKind = "session.lost"
	KindPolicyViolation EventKind = "policy.violation"
	KindModelChanged    EventKind = "model.changed"
)

// Severity orders events for filtering.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// MarshalText renders the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is a notable occurrence during a run, a watch or a policy check.
type Event struct {
	ID       string         `json:"id"`
	Time     time.Time      `json:"time"`
	Kind     EventKind      `json:"kind"`
	Source   string         `json:"source"`
	Severity Severity       `json:"severity"`
	RunID    string         `json:"run_id,omitempty"`
	NodePath string         `json:"node_path,omitempty"`
	Resource string         `json:"resource,omitempty"`
	Message  string         `json:"message"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

// Handler receives delivered events.
type Handler func(Event)

// Match selects events. A subscription with several matchers receives an
// event only if all of them accept it.
type Match func(Event) bool

// ErrBusClosed is returned by Emit after Close.
var ErrBusClosed = errors.New("event bus closed")

// ErrQueueFull is returned when an asynchronous bus cannot take another event.
var ErrQueueFull = errors.New("event queue full, event dropped")

// EventBus delivers events to subscribers in emission order. With
// EnableAsync, events are queued and delivered in batches by a single
// dispatcher goroutine; otherwise handlers run on the emitting goroutine.
type EventBus struct {
	cfg EventsConfig

	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID uint64

	queue     chan Event
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	closed    bool
}

type subscription struct {
	handler Handler
	matches []Match
}

// Subscription is returned by Subscribe.
type Subscription struct {
	bus *EventBus
	id  uint64
}

// Unsubscribe stops delivery to the handler.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
}

// NewEventBus creates an event bus. A disabled bus accepts and drops events.
func NewEventBus(cfg EventsConfig) *EventBus {
	b := &EventBus{
		cfg:  cfg,
		subs: make(map[uint64]subscription),
	}
	if cfg.Enabled && cfg.EnableAsync {
		b.queue = make(chan Event, cfg.BufferSize)
		b.quit = make(chan struct{})
		b.stopped = make(chan struct{})
		go b.dispatch()
	}
	return b
}

// Subscribe registers a handler for the events accepted by every matcher.
func (b *EventBus) Subscribe(h Handler, matches ...Match) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[b.nextID] = subscription{handler: h, matches: matches}
	return &Subscription{bus: b, id: b.nextID}
}

// Emit stamps the event and delivers or queues it.
func (b *EventBus) Emit(e Event) error {
	if b == nil || !b.cfg.Enabled {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}

	if b.queue == nil {
		b.deliver(e)
		return nil
	}
	select {
	case b.queue <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

func (b *EventBus) dispatch() {
	defer close(b.stopped)

	interval := b.cfg.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	size := b.cfg.MaxBatchSize
	if size <= 0 {
		size = 1
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pending := make([]Event, 0, size)
	flush := func() {
		for _, e := range pending {
			b.deliver(e)
		}
		pending = pending[:0]
	}

	for {
		select {
		case e := <-b.queue:
			pending = append(pending, e)
			if len(pending) >= size {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-b.quit:
			for {
				select {
				case e := <-b.queue:
					pending = append(pending, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (b *EventBus) deliver(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for id := uint64(1); id <= b.nextID; id++ {
		sub, ok := b.subs[id]
		if ok && accepts(sub.matches, e) {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

func accepts(matches []Match, e Event) bool {
	for _, m := range matches {
		if m != nil && !m(e) {
			return false
		}
	}
	return true
}

// Close stops accepting events and waits for queued ones to be delivered.
func (b *EventBus) Close(ctx context.Context) error {
	if b == nil {
		return nil
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		if b.quit != nil {
			close(b.quit)
		}
	})
	if b.stopped == nil {
		return nil
	}
	select {
	case <-b.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus close: %w", ctx.Err())
	}
}

// RunStarted emits run.started.
func (b *EventBus) RunStarted(runID, operation, resource string) error {
	return b.Emit(Event{
		Kind:     KindRunStarted,
		Source:   "engine",
		RunID:    runID,
		Resource: resource,
		Message:  fmt.Sprintf("Run %s started: %s on %s", runID, operation, resource),
		Attrs:    map[string]any{"operation": operation},
	})
}

// RunCompleted emits run.completed. Runs whose root result is not SUCCESS
// are emitted as warnings.
func (b *EventBus) RunCompleted(runID, state string, elapsed time.Duration) error {
	sev := SeverityInfo
	if state != "SUCCESS" {
		sev = SeverityWarning
	}
	return b.Emit(Event{
		Kind:     KindRunCompleted,
		Source:   "engine",
		Severity: sev,
		RunID:    runID,
		Message:  fmt.Sprintf("Run %s completed: %s", runID, state),
		Attrs:    map[string]any{"state": state, "seconds": elapsed.Seconds()},
	})
}

// RunFailed emits run.failed for runs that could not complete.
func (b *EventBus) RunFailed(runID string, cause error) error {
	return b.Emit(Event{
		Kind:     KindRunFailed,
		Source:   "engine",
		Severity: SeverityError,
		RunID:    runID,
		Message:  fmt.Sprintf("Run %s failed: %v", runID, cause),
	})
}

// NodeCompleted emits the outcome of a visited node. FAILURE and ERROR are
// emitted as node.failed.
func (b *EventBus) NodeCompleted(runID, path, state string, elapsed time.Duration) error {
	kind, sev := KindNodeCompleted, SeverityInfo
	switch state {
	case "FAILURE":
		kind, sev = KindNodeFailed, SeverityWarning
	case "ERROR":
		kind, sev = KindNodeFailed, SeverityError
	}
	return b.Emit(Event{
		Kind:     kind,
		Source:   "director",
		Severity: sev,
		RunID:    runID,
		NodePath: path,
		Message:  fmt.Sprintf("%s: %s", path, state),
		Attrs:    map[string]any{"state": state, "seconds": elapsed.Seconds()},
	})
}

// SessionLost emits session.lost.
func (b *EventBus) SessionLost(runID, resource string, cause error) error {
	return b.Emit(Event{
		Kind:     KindSessionLost,
		Source:   "session",
		Severity: SeverityError,
		RunID:    runID,
		Resource: resource,
		Message:  fmt.Sprintf("Session to %s lost: %v", resource, cause),
	})
}

// PolicyViolation emits policy.violation for a rejected document.
func (b *EventBus) PolicyViolation(document, policy, message string) error {
	return b.Emit(Event{
		Kind:     KindPolicyViolation,
		Source:   "policy",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%s violates %s: %s", document, policy, message),
		Attrs:    map[string]any{"document": document, "policy": policy},
	})
}

// ModelChanged emits model.changed for files seen by the watcher.
func (b *EventBus) ModelChanged(paths []string) error {
	return b.Emit(Event{
		Kind:    KindModelChanged,
		Source:  "watcher",
		Message: fmt.Sprintf("%d model file(s) changed", len(paths)),
		Attrs:   map[string]any{"paths": paths},
	})
}

// AtLeast accepts events of the given severity or worse.
func AtLeast(min Severity) Match {
	return func(e Event) bool { return e.Severity >= min }
}

// OfKind accepts events of the listed kinds.
func OfKind(kinds ...EventKind) Match {
	return func(e Event) bool {
		for _, k := range kinds {
			if e.Kind == k {
				return true
			}
		}
		return false
	}
}

// ForRun accepts events of one run.
func ForRun(runID string) Match {
	return func(e Event) bool { return e.RunID == runID }
}

// ForResource accepts events about one live-system resource.
func ForResource(resource string) Match {
	return func(e Event) bool { return e.Resource == resource }
}
