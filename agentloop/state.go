package agentloop

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle status of a session.
type Status string

const (
	StatusActive            Status = "active"
	StatusAwaitingUserInput Status = "awaiting_user_input"
	StatusCompleted         Status = "completed"
	StatusError             Status = "error"
)

// Terminal reports whether the loop must stop in this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Meta holds the bookkeeping fields of a session.
type Meta struct {
	SessionID      string    `json:"session_id"`
	Status         Status    `json:"status"`
	StatusReason   string    `json:"status_reason,omitempty"`
	StartTime      time.Time `json:"start_time"`
	IterationCount int       `json:"iteration_count"`
	// RunStartIteration is IterationCount when the current run began; the
	// loop ceilings count from here.
	RunStartIteration int `json:"run_start_iteration,omitempty"`
}

// Interaction holds the single pending, unconsumed user message.
type Interaction struct {
	LastUserResponse string `json:"last_user_response,omitempty"`
	Source           string `json:"source,omitempty"` // "text" or "audio"
}

// UIRequest is a clarification surfaced to the presentation layer.
type UIRequest struct {
	Kind    string   `json:"kind"`
	Title   string   `json:"title"`
	Message string   `json:"message"`
	Options []string `json:"options"`
}

// PlanItem is one entry of the plan set by update_plan.
type PlanItem struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// KnowledgeState records what the indexing action has seen.
type KnowledgeState struct {
	IndexedPaths  []string   `json:"indexed_paths"`
	LastIndexTime *time.Time `json:"last_index_time,omitempty"`
}

// Step is one entry of the append-only audit log.
type Step struct {
	StepID    int            `json:"step_id"`
	Phase     string         `json:"phase"`
	Action    string         `json:"action"`
	Arguments map[string]any `json:"arguments"`
	Result    string         `json:"result"`
	Timestamp time.Time      `json:"timestamp"`
}

// FinalOutput is set once, when the session completes.
type FinalOutput struct {
	Summary string `json:"summary"`
}

// SessionState is the durable record of one agent run.
type SessionState struct {
	Meta             Meta             `json:"meta"`
	Interaction      Interaction      `json:"interaction"`
	PendingUIRequest *UIRequest       `json:"pending_ui_request,omitempty"`
	Plan             []PlanItem       `json:"plan"`
	Knowledge        KnowledgeState   `json:"knowledge_state"`
	Steps            []Step           `json:"steps"`
	Artifacts        []map[string]any `json:"artifacts"`
	FinalOutput      *FinalOutput     `json:"final_output,omitempty"`
}

// NewSessionState returns a fresh, Active state for sessionID.
func NewSessionState(sessionID string) *SessionState {
	return &SessionState{
		Meta: Meta{
			SessionID: sessionID,
			Status:    StatusActive,
			StartTime: time.Now(),
		},
		Plan:      []PlanItem{},
		Knowledge: KnowledgeState{IndexedPaths: []string{}},
		Steps:     []Step{},
		Artifacts: []map[string]any{},
	}
}

// HasPendingResponse reports whether an unconsumed user message exists.
func (s *SessionState) HasPendingResponse() bool {
	return s.Interaction.LastUserResponse != ""
}

// ApplyUserResponse stores text as the pending user message and clears any
// outstanding clarification request.
func (s *SessionState) ApplyUserResponse(text, source string) {
	s.Interaction.LastUserResponse = text
	s.Interaction.Source = source
	s.PendingUIRequest = nil
}

// ClearPendingResponse drops the pending user message.
func (s *SessionState) ClearPendingResponse() {
	s.Interaction.LastUserResponse = ""
	s.Interaction.Source = ""
}

// RecordStep appends an execution step. Step ids start at 1 and increase by
// one; existing steps are never modified.
func (s *SessionState) RecordStep(phase, action string, args map[string]any, result string) Step {
	step := Step{
		StepID:    len(s.Steps) + 1,
		Phase:     phase,
		Action:    action,
		Arguments: args,
		Result:    result,
		Timestamp: time.Now(),
	}
	s.Steps = append(s.Steps, step)
	return step
}

// TransitionTo moves the session to status, recording why. Entering a
// terminal status clears the pending user message.
func (s *SessionState) TransitionTo(status Status, reason string) {
	s.Meta.Status = status
	s.Meta.StatusReason = reason
	if status.Terminal() {
		s.ClearPendingResponse()
	}
}

// Complete marks the session Completed with a final summary.
func (s *SessionState) Complete(summary, reason string) {
	if s.FinalOutput == nil {
		s.FinalOutput = &FinalOutput{Summary: summary}
	}
	s.TransitionTo(StatusCompleted, reason)
}

// Clone returns a deep copy that shares nothing with s.
func (s *SessionState) Clone() *SessionState {
	data, err := json.Marshal(s)
	if err != nil {
		// Every field is JSON-representable; arguments come from JSON or YAML.
		panic("agentloop: session state not serializable: " + err.Error())
	}
	var out SessionState
	if err := json.Unmarshal(data, &out); err != nil {
		panic("agentloop: session state not deserializable: " + err.Error())
	}
	return &out
}
