// Package lifecycle implements the lifecycle event bus: a
// process-wide event publisher subscribers attach handlers to, delivering
// lifecycle and tool events in emission order.
package lifecycle

import (
	"sync"
)

// Phase discriminates a lifecycle event's stage.
type Phase string

const (
	PhaseStart Phase = "start"
	PhaseEnd   Phase = "end"
	PhaseError Phase = "error"
)

// ToolStatus discriminates a tool event's stage.
type ToolStatus string

const (
	ToolStatusCalled    ToolStatus = "called"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusError     ToolStatus = "error"
)

// Stream discriminates the kind of event carried in an Event's Data
// field. Stream filtering is a subscriber concern.
type Stream string

const (
	StreamLifecycle Stream = "lifecycle"
	StreamTool      Stream = "tool"
)

// LifecycleData is the payload of a Stream == StreamLifecycle event.
type LifecycleData struct {
	Phase     Phase  `json:"phase"`
	StartedAt *int64 `json:"startedAt,omitempty"`
	EndedAt   *int64 `json:"endedAt,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ToolData is the payload of a Stream == StreamTool event.
type ToolData struct {
	ToolName string     `json:"toolName"`
	Status   ToolStatus `json:"status"`
	Result   any        `json:"result,omitempty"`
}

// Event is the envelope every subscriber receives.
type Event struct {
	Stream     Stream
	RunID      string
	SessionKey string
	Data       any // *LifecycleData or *ToolData, selected by Stream
}

// Handler receives every published event; stream filtering is the
// handler's own responsibility.
type Handler func(Event)

// Unsubscribe detaches a previously-registered handler.
type Unsubscribe func()

// Bus is the Lifecycle Bus: a process-wide, in-memory pub-sub publisher.
// Handler invocations are sequential in the publisher's emission order:
// a direct synchronous handler call rather than a channel-based
// fan-out, so ordering is exact
// rather than best-effort.
type Bus struct {
	mu       sync.Mutex
	handlers map[int]Handler
	nextID   int
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{handlers: map[int]Handler{}}
}

// defaultBus is the process-wide singleton; components
// that do not hold an explicit *Bus reference call the package-level
// functions, which delegate to it.
var defaultBus = New()

// Default returns the process-wide Bus singleton. Prefer constructing a
// *Bus explicitly via New and threading it through constructors; Default
// exists for callers at the program's composition root.
func Default() *Bus {
	return defaultBus
}

// Subscribe attaches handler to the bus, returning an Unsubscribe
// handle.
func (b *Bus) Subscribe(handler Handler) Unsubscribe {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish delivers event to every current subscriber, in registration
// order, synchronously on the calling goroutine.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.handlers))
	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	sortInts(ids)
	for _, id := range ids {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

// RemoveAllListeners clears every subscriber.
func (b *Bus) RemoveAllListeners() {
	b.mu.Lock()
	b.handlers = map[int]Handler{}
	b.mu.Unlock()
}

// PublishLifecycle is a convenience wrapper building a StreamLifecycle
// Event.
func (b *Bus) PublishLifecycle(runID, sessionKey string, data LifecycleData) {
	b.Publish(Event{Stream: StreamLifecycle, RunID: runID, SessionKey: sessionKey, Data: &data})
}

// PublishTool is a convenience wrapper building a StreamTool Event.
func (b *Bus) PublishTool(runID, sessionKey string, data ToolData) {
	b.Publish(Event{Stream: StreamTool, RunID: runID, SessionKey: sessionKey, Data: &data})
}

// sortInts is a tiny insertion sort, adequate for the handler counts a
// single process accumulates, kept dependency-free rather than pulling in
// sort for a handful of ints.
func sortInts(vals []int) {
	for i := 1; i < len(vals); i++ {
		v := vals[i]
		j := i - 1
		for j >= 0 && vals[j] > v {
			vals[j+1] = vals[j]
			j--
		}
		vals[j+1] = v
	}
}
