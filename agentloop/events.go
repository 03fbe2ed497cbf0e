package agentloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of session event.
type EventKind string

const (
	EventSessionStart           EventKind = "session_start"
	EventSessionEnd             EventKind = "session_end"
	EventUserInput              EventKind = "user_input"
	EventDecision               EventKind = "decision"
	EventActionRejected         EventKind = "action_rejected"
	EventTemplateRejected       EventKind = "template_rejected"
	EventToolCallStart          EventKind = "tool_call_start"
	EventToolCallEnd            EventKind = "tool_call_end"
	EventStepRecorded           EventKind = "step_recorded"
	EventStatusChanged          EventKind = "status_changed"
	EventClarificationRequested EventKind = "clarification_requested"
	EventRouted                 EventKind = "routed"
	EventLoopDetection          EventKind = "loop_detection"
	EventPersistFailed          EventKind = "persist_failed"
	EventError                  EventKind = "error"
)

// SessionEvent is a typed event emitted by the control loop.
type SessionEvent struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventEmitter delivers typed events to the host application via a channel.
type EventEmitter struct {
	sessionID string
	ch        chan SessionEvent
	closed    bool
	mu        sync.Mutex
}

// NewEventEmitter creates a new EventEmitter with a buffered channel.
func NewEventEmitter(sessionID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		sessionID: sessionID,
		ch:        make(chan SessionEvent, bufferSize),
	}
}

// Emit sends an event to the channel. If the emitter is closed, the event
// is silently dropped.
func (e *EventEmitter) Emit(kind EventKind, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := SessionEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
		// Channel full; drop the event rather than stall a tick.
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan SessionEvent {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
