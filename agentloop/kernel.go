package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrKernelRunning is returned when Run is called on a running kernel.
	ErrKernelRunning = errors.New("kernel already running")
	// ErrEmptyInput is returned when submitting blank user text.
	ErrEmptyInput = errors.New("empty user input")
)

// KernelConfig holds the loop's pacing and termination settings.
type KernelConfig struct {
	TickInterval             time.Duration  `json:"tick_interval"`
	IdleInterval             time.Duration  `json:"idle_interval"`
	TemplateRetryDelay       time.Duration  `json:"template_retry_delay"`
	RejectionRetryDelay      time.Duration  `json:"rejection_retry_delay"`
	MaxIterations            int            `json:"max_iterations"`             // above this: Error
	StallIterations          int            `json:"stall_iterations"`           // above this with no input: Completed
	MaxConsecutiveRejections int            `json:"max_consecutive_rejections"` // 0 = never escalate
	InputTimeout             time.Duration  `json:"input_timeout"`              // 0 = wait forever
	LoopDetectionWindow      int            `json:"loop_detection_window"`      // 0 = disabled
	ResultCharLimits         map[string]int `json:"result_char_limits,omitempty"`
	PersistTimeout           time.Duration  `json:"persist_timeout"`
	ExitWhenIdle             bool           `json:"exit_when_idle"` // Run returns instead of idling
}

// DefaultKernelConfig returns the default configuration.
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		TickInterval:             time.Second,
		IdleInterval:             time.Second,
		TemplateRetryDelay:       time.Second,
		RejectionRetryDelay:      200 * time.Millisecond,
		MaxIterations:            50,
		StallIterations:          20,
		MaxConsecutiveRejections: 5,
		LoopDetectionWindow:      6,
		PersistTimeout:           5 * time.Second,
	}
}

type inboundMessage struct {
	text   string
	source string
}

// Kernel is the control loop for one session. Exactly one tick runs at a
// time; external callers only submit user input or read snapshots.
type Kernel struct {
	cfg       KernelConfig
	registry  *ActionRegistry
	decider   DecisionSource
	env       ExecutionEnvironment
	router    *Router
	persister Persister
	logger    *zap.Logger
	emitter   *EventEmitter

	mu    sync.Mutex
	state *SessionState

	inbox   chan inboundMessage
	wake    chan struct{}
	running atomic.Bool

	// Owned by the loop goroutine.
	lastAction  string
	rejectCount int
}

// KernelOption configures a Kernel.
type KernelOption func(*Kernel)

// WithKernelConfig replaces the default configuration.
func WithKernelConfig(cfg KernelConfig) KernelOption {
	return func(k *Kernel) {
		k.cfg = cfg
	}
}

// WithPersister sets where snapshots are saved after each mutation.
func WithPersister(p Persister) KernelOption {
	return func(k *Kernel) {
		k.persister = p
	}
}

// WithRouter replaces the default deterministic router.
func WithRouter(r *Router) KernelOption {
	return func(k *Kernel) {
		k.router = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) KernelOption {
	return func(k *Kernel) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) KernelOption {
	return func(k *Kernel) {
		k.emitter = NewEventEmitter(k.state.Meta.SessionID, n)
	}
}

// NewKernel creates the control loop for state.
func NewKernel(state *SessionState, registry *ActionRegistry, decider DecisionSource, env ExecutionEnvironment, opts ...KernelOption) (*Kernel, error) {
	switch {
	case state == nil:
		return nil, errors.New("agentloop: session state is required")
	case registry == nil:
		return nil, errors.New("agentloop: action registry is required")
	case decider == nil:
		return nil, errors.New("agentloop: decision source is required")
	case env == nil:
		return nil, errors.New("agentloop: execution environment is required")
	}

	k := &Kernel{
		cfg:      DefaultKernelConfig(),
		registry: registry,
		decider:  decider,
		env:      env,
		router:   DefaultRouter(),
		logger:   zap.NewNop(),
		state:    state,
		inbox:    make(chan inboundMessage, 1),
		wake:     make(chan struct{}, 1),
	}
	k.emitter = NewEventEmitter(state.Meta.SessionID, 256)
	for _, opt := range opts {
		opt(k)
	}
	k.logger = k.logger.With(zap.String("session_id", state.Meta.SessionID))
	return k, nil
}

// ID returns the session identifier.
func (k *Kernel) ID() string { return k.state.Meta.SessionID }

// Events returns the event channel for the host application.
func (k *Kernel) Events() <-chan SessionEvent { return k.emitter.Events() }

// Close closes the event channel.
func (k *Kernel) Close() { k.emitter.Close() }

// Snapshot returns an immutable copy of the session state.
func (k *Kernel) Snapshot() *SessionState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.Clone()
}

// Status returns the current session status.
func (k *Kernel) Status() Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.Meta.Status
}

// SubmitUserResponse sets the pending user message. If the loop is waiting
// for input it is unblocked; if the session had finished, a new run starts.
func (k *Kernel) SubmitUserResponse(text string) error {
	return k.submit(text, "text")
}

// SubmitTranscript delivers text transcribed from audio.
func (k *Kernel) SubmitTranscript(text string) error {
	return k.submit(text, "audio")
}

func (k *Kernel) submit(text, source string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}

	k.mu.Lock()
	reopened := false
	if k.state.Meta.Status.Terminal() {
		k.reopenLocked()
		reopened = true
	}
	if k.state.Meta.Status == StatusAwaitingUserInput {
		select {
		case <-k.inbox:
		default:
		}
		k.inbox <- inboundMessage{text: text, source: source}
	}
	k.state.ApplyUserResponse(text, source)
	k.persistLocked()
	k.mu.Unlock()

	k.emitter.Emit(EventUserInput, map[string]any{"content": text, "source": source})
	if reopened {
		select {
		case k.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// reopenLocked starts a new run on a finished session. The audit log and
// plan are kept; ceilings count from the current iteration.
func (k *Kernel) reopenLocked() {
	s := k.state
	s.Meta.Status = StatusActive
	s.Meta.StatusReason = ""
	s.Meta.RunStartIteration = s.Meta.IterationCount
	s.FinalOutput = nil
	s.PendingUIRequest = nil
	k.logger.Info("session reopened", zap.Int("iteration", s.Meta.IterationCount))
}

// Serve runs the loop for the lifetime of ctx, starting a new run whenever
// input arrives for a finished session.
func (k *Kernel) Serve(ctx context.Context) error {
	for {
		if err := k.Run(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-k.wake:
		}
	}
}

// Run drives the loop until the session reaches a terminal status (nil),
// ctx ends (ctx.Err()), or, with ExitWhenIdle, nothing is left to do.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.running.CompareAndSwap(false, true) {
		return ErrKernelRunning
	}
	defer k.running.Store(false)

	k.lastAction = ""
	k.rejectCount = 0
	k.emitter.Emit(EventSessionStart, map[string]any{"status": string(k.Status())})
	defer func() {
		k.emitter.Emit(EventSessionEnd, map[string]any{"status": string(k.Status())})
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := k.tick(ctx)
		if err != nil {
			return err
		}

		var pause time.Duration
		switch res.outcome {
		case tickHalt:
			return nil
		case tickIdle:
			if k.cfg.ExitWhenIdle {
				return nil
			}
			pause = k.cfg.IdleInterval
		case tickImmediate:
			continue
		case tickRetry:
			pause = res.delay
		default:
			pause = k.cfg.TickInterval
		}
		if err := sleepContext(ctx, pause); err != nil {
			return err
		}
	}
}

type tickOutcome int

const (
	tickContinue  tickOutcome = iota // pause for TickInterval
	tickImmediate                    // run the next tick at once
	tickRetry                        // pause for the given delay
	tickIdle                         // nothing pending
	tickHalt                         // terminal status reached
)

type tickResult struct {
	outcome tickOutcome
	delay   time.Duration
}

// tick runs one iteration of the state machine. The only error it returns
// is ctx's.
func (k *Kernel) tick(ctx context.Context) (tickResult, error) {
	k.mu.Lock()
	status := k.state.Meta.Status
	iterations := k.state.Meta.IterationCount - k.state.Meta.RunStartIteration
	pending := k.state.Interaction.LastUserResponse
	k.mu.Unlock()

	switch {
	case status.Terminal():
		return tickResult{outcome: tickHalt}, nil
	case iterations > k.cfg.MaxIterations:
		k.transition(StatusError, "iteration limit exceeded")
		return tickResult{outcome: tickHalt}, nil
	case iterations > k.cfg.StallIterations && pending == "":
		k.transition(StatusCompleted, "stalled: no new input")
		return tickResult{outcome: tickHalt}, nil
	case status == StatusAwaitingUserInput:
		return k.awaitInput(ctx)
	case pending == "":
		return tickResult{outcome: tickIdle}, nil
	}

	if rule, ok := k.router.Route(ctx, routeRuntime{k}, pending); ok {
		if err := ctx.Err(); err != nil {
			return tickResult{}, err
		}
		k.logger.Info("request routed", zap.String("rule", rule))
		k.emitter.Emit(EventRouted, map[string]any{"rule": rule})
		return tickResult{outcome: tickHalt}, nil
	}

	excluded := ExcludedActions(pending)
	allowed := k.registry.Allowed(excluded...)
	schema := k.registry.SchemaString(excluded...)

	raw, err := k.decider.Propose(ctx, k.Snapshot(), schema)
	if err != nil {
		if ctx.Err() != nil {
			return tickResult{}, ctx.Err()
		}
		k.emitter.Emit(EventError, map[string]any{"error": err.Error()})
		k.transition(StatusError, fmt.Sprintf("decision source failed: %v", err))
		return tickResult{outcome: tickHalt}, nil
	}
	k.logger.Debug("decision", zap.String("raw", raw))
	k.emitter.Emit(EventDecision, map[string]any{"raw": raw})

	proposed, ok := ExtractAction(raw)
	if !ok {
		if IsCompletionText(raw) {
			k.update(func(s *SessionState) {
				s.Complete(raw, "decision source reported completion")
			})
		} else {
			k.transition(StatusError, "non-actionable decision output")
		}
		return tickResult{outcome: tickHalt}, nil
	}

	if proposed.IsTemplateArtifact() {
		k.logger.Debug("template artifact rejected", zap.String("action", proposed.Name))
		k.emitter.Emit(EventTemplateRejected, map[string]any{"action": proposed.Name, "arguments": proposed.RawArgs})
		k.update(func(s *SessionState) { s.Meta.IterationCount++ })
		return tickResult{outcome: tickRetry, delay: k.cfg.TemplateRetryDelay}, nil
	}

	args, err := ParseArguments(proposed.RawArgs)
	if err != nil {
		k.emitter.Emit(EventError, map[string]any{"error": err.Error(), "action": proposed.Name})
		k.transition(StatusError, err.Error())
		return tickResult{outcome: tickHalt}, nil
	}

	if proposed.Name == ActionOpenApp && !HasOpenIntent(pending) {
		k.transition(StatusCompleted, "application launch without open intent")
		return tickResult{outcome: tickHalt}, nil
	}

	if !allowed[proposed.Name] {
		return k.reject(proposed.Name), nil
	}
	k.rejectCount = 0

	if proposed.Name == ActionOpenApp {
		if app, ok := ResolveApplicationName(pending); ok {
			args["app_name"] = app
		}
	}

	if proposed.Name == ActionReadFile {
		if req := checkReadPath(args, k.env); req != nil {
			k.requestClarification(req, "file path needed")
			return tickResult{outcome: tickContinue}, nil
		}
	}

	signature := actionSignature(proposed.Name, args)
	if signature == k.lastAction {
		k.logger.Info("repeated action, stopping", zap.String("action", proposed.Name))
		k.transition(StatusCompleted, "repeated action")
		return tickResult{outcome: tickHalt}, nil
	}

	if proposed.Name == ActionAskUser {
		k.requestClarification(askUserRequest(args), "question asked")
		return tickResult{outcome: tickContinue}, nil
	}

	result, err := k.invoke(ctx, proposed.Name, args)
	if err != nil {
		return tickResult{}, err
	}
	k.lastAction = signature
	k.update(func(s *SessionState) {
		k.recordStepLocked(s, proposed.Name, args, result)
		if s.Meta.Status != StatusAwaitingUserInput {
			s.ClearPendingResponse()
		}
		s.Meta.IterationCount++
	})
	k.checkLoop()
	return tickResult{outcome: tickContinue}, nil
}

// reject handles a proposal outside the exposed capability set.
func (k *Kernel) reject(name string) tickResult {
	k.rejectCount++
	escalate := k.cfg.MaxConsecutiveRejections > 0 && k.rejectCount >= k.cfg.MaxConsecutiveRejections
	k.logger.Warn("action rejected", zap.String("action", name), zap.Int("consecutive", k.rejectCount))
	k.emitter.Emit(EventActionRejected, map[string]any{"action": name, "consecutive": k.rejectCount})

	k.update(func(s *SessionState) {
		s.Meta.IterationCount++
		if escalate {
			s.TransitionTo(StatusError, "too many rejected actions")
			return
		}
		s.Interaction.LastUserResponse += rejectionNudge
	})
	if escalate {
		return tickResult{outcome: tickHalt}
	}
	return tickResult{outcome: tickRetry, delay: k.cfg.RejectionRetryDelay}
}

func (k *Kernel) requestClarification(req *UIRequest, reason string) {
	k.update(func(s *SessionState) {
		s.PendingUIRequest = req
		s.TransitionTo(StatusAwaitingUserInput, reason)
		s.Meta.IterationCount++
	})
	k.emitter.Emit(EventClarificationRequested, map[string]any{"title": req.Title, "message": req.Message})
}

// awaitInput blocks until a user message, ctx cancellation, or the
// optional input timeout.
func (k *Kernel) awaitInput(ctx context.Context) (tickResult, error) {
	var timeout <-chan time.Time
	if k.cfg.InputTimeout > 0 {
		timer := time.NewTimer(k.cfg.InputTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return tickResult{}, ctx.Err()
	case msg := <-k.inbox:
		k.update(func(s *SessionState) {
			s.ApplyUserResponse(msg.text, msg.source)
			s.TransitionTo(StatusActive, "")
		})
		return tickResult{outcome: tickImmediate}, nil
	case <-timeout:
		k.transition(StatusCompleted, "input timeout")
		return tickResult{outcome: tickHalt}, nil
	}
}

// invoke runs an action and applies its state updates. Tool failures come
// back as {"error": ...} results; only ctx cancellation is an error.
func (k *Kernel) invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	k.emitter.Emit(EventToolCallStart, map[string]any{"action": name, "arguments": args})
	start := time.Now()

	res, err := k.registry.Invoke(ctx, name, args, k.env)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res = InvokeResult{Value: map[string]any{"error": err.Error()}}
	}
	if len(res.Updates) > 0 {
		k.update(func(s *SessionState) {
			for _, fn := range res.Updates {
				fn(s)
			}
		})
	}

	output := formatResult(res.Value)
	if msg, failed := errorResult(res.Value); failed {
		k.logger.Warn("action failed", zap.String("action", name), zap.String("error", msg), zap.Bool("timed_out", res.TimedOut))
	}
	k.emitter.Emit(EventToolCallEnd, map[string]any{
		"action":     name,
		"output":     output,
		"timed_out":  res.TimedOut,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return res.Value, nil
}

func (k *Kernel) recordStepLocked(s *SessionState, action string, args map[string]any, result any) {
	text := TruncateStepResult(formatResult(result), action, k.cfg.ResultCharLimits)
	step := s.RecordStep("execution", action, args, text)
	k.emitter.Emit(EventStepRecorded, map[string]any{"step_id": step.StepID, "action": action})
}

// checkLoop emits an advisory event when recent steps repeat a pattern.
func (k *Kernel) checkLoop() {
	if k.cfg.LoopDetectionWindow <= 0 {
		return
	}
	k.mu.Lock()
	looping := DetectLoop(k.state.Steps, k.cfg.LoopDetectionWindow)
	k.mu.Unlock()
	if looping {
		msg := fmt.Sprintf("the last %d steps follow a repeating pattern", k.cfg.LoopDetectionWindow)
		k.logger.Warn("loop detected", zap.Int("window", k.cfg.LoopDetectionWindow))
		k.emitter.Emit(EventLoopDetection, map[string]any{"message": msg})
	}
}

func (k *Kernel) transition(status Status, reason string) {
	k.update(func(s *SessionState) {
		s.TransitionTo(status, reason)
	})
}

// update applies fn under the lock and persists the result.
func (k *Kernel) update(fn func(s *SessionState)) {
	k.mu.Lock()
	defer k.mu.Unlock()

	before := k.state.Meta.Status
	fn(k.state)
	after := k.state.Meta.Status
	k.persistLocked()

	if before != after {
		fields := []zap.Field{
			zap.String("from", string(before)),
			zap.String("to", string(after)),
			zap.String("reason", k.state.Meta.StatusReason),
		}
		if after.Terminal() {
			k.logger.Info("session finished", fields...)
		} else {
			k.logger.Debug("status changed", fields...)
		}
		k.emitter.Emit(EventStatusChanged, map[string]any{
			"from":   string(before),
			"to":     string(after),
			"reason": k.state.Meta.StatusReason,
		})
	}
}

// persistLocked saves the current state. Failures are logged and never
// stop the loop.
func (k *Kernel) persistLocked() {
	if k.persister == nil {
		return
	}
	timeout := k.cfg.PersistTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := k.persister.Save(ctx, k.state); err != nil {
		k.logger.Warn("persist failed", zap.Error(err))
		k.emitter.Emit(EventPersistFailed, map[string]any{"error": err.Error()})
	}
}

// routeRuntime gives deterministic routes access to the kernel.
type routeRuntime struct {
	k *Kernel
}

func (r routeRuntime) Invoke(ctx context.Context, action string, args map[string]any) any {
	v, err := r.k.invoke(ctx, action, args)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return v
}

func (r routeRuntime) RecordStep(action string, args map[string]any, result any) {
	r.k.update(func(s *SessionState) {
		r.k.recordStepLocked(s, action, args, result)
	})
}

func (r routeRuntime) Complete(summary string) {
	r.k.update(func(s *SessionState) {
		s.Complete(summary, "routed")
	})
}

// formatResult renders an action result as audit-log text.
func formatResult(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func errorResult(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	e, ok := m["error"]
	if !ok {
		return "", false
	}
	return fmt.Sprint(e), true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
