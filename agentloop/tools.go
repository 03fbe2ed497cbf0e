package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnknownAction is returned when invoking a name that is not registered.
	ErrUnknownAction = errors.New("unknown action")
	// ErrDuplicateAction is returned when registering a name twice.
	ErrDuplicateAction = errors.New("duplicate action")
	// ErrInvalidDefinition is returned for malformed action definitions.
	ErrInvalidDefinition = errors.New("invalid action definition")
)

// DefaultToolTimeout bounds a single action invocation.
const DefaultToolTimeout = 10 * time.Second

var actionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Param describes one argument of an action.
type Param struct {
	Name     string
	Type     string // "string", "array", "object", ...
	Required bool
	Example  any // rendered in the schema string
}

// ActionHandler executes an action. Handlers must honor ctx cancellation.
type ActionHandler func(ctx context.Context, inv *Invocation) (any, error)

// ActionDefinition pairs an argument schema with its handler.
type ActionDefinition struct {
	Name        string
	Description string
	Params      []Param
	Handler     ActionHandler
}

// Invocation carries the arguments and environment for a single call.
// Handlers that need to change session state record an update instead of
// touching the state directly; the loop applies it after the call returns.
type Invocation struct {
	Action string
	Args   map[string]any
	Env    ExecutionEnvironment

	mu      sync.Mutex
	updates []func(*SessionState)
}

// String returns a string argument.
func (inv *Invocation) String(key string) (string, bool) {
	v, ok := inv.Args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Update records a session state mutation to apply after the call.
func (inv *Invocation) Update(fn func(*SessionState)) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.updates = append(inv.updates, fn)
}

func (inv *Invocation) pendingUpdates() []func(*SessionState) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.updates
}

// InvokeResult is the outcome of ActionRegistry.Invoke.
type InvokeResult struct {
	Value    any
	TimedOut bool
	Updates  []func(*SessionState)
}

// ActionRegistry is the capability set: named, validated action descriptors
// kept in registration order.
type ActionRegistry struct {
	actions map[string]*ActionDefinition
	order   []string
	timeout time.Duration
	mu      sync.RWMutex
}

// NewActionRegistry creates an empty registry. A non-positive timeout means
// DefaultToolTimeout.
func NewActionRegistry(timeout time.Duration) *ActionRegistry {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	return &ActionRegistry{
		actions: make(map[string]*ActionDefinition),
		timeout: timeout,
	}
}

// Register validates def and adds it to the registry.
func (r *ActionRegistry) Register(def ActionDefinition) error {
	if !actionNamePattern.MatchString(def.Name) {
		return fmt.Errorf("%w: bad name %q", ErrInvalidDefinition, def.Name)
	}
	if def.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidDefinition, def.Name)
	}
	seen := make(map[string]bool, len(def.Params))
	for _, p := range def.Params {
		if p.Name == "" || seen[p.Name] {
			return fmt.Errorf("%w: %s has an empty or repeated parameter", ErrInvalidDefinition, def.Name)
		}
		seen[p.Name] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, def.Name)
	}
	r.actions[def.Name] = &def
	r.order = append(r.order, def.Name)
	return nil
}

// MustRegister is Register for static tool tables; it panics on error.
func (r *ActionRegistry) MustRegister(def ActionDefinition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Has reports whether name is registered.
func (r *ActionRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Get returns a copy of the definition for name.
func (r *ActionRegistry) Get(name string) (ActionDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.actions[name]
	if !ok {
		return ActionDefinition{}, false
	}
	return *def, true
}

// Names returns the registered names in registration order.
func (r *ActionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Allowed returns the registered names minus exclude.
func (r *ActionRegistry) Allowed(exclude ...string) map[string]bool {
	allowed := make(map[string]bool)
	for _, name := range r.Names() {
		allowed[name] = true
	}
	for _, name := range exclude {
		delete(allowed, name)
	}
	return allowed
}

// SchemaString describes the available actions for the decision source,
// one "- name {json example}" line per action.
func (r *ActionRegistry) SchemaString(exclude ...string) string {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	lines := []string{"Tools (use JSON args):"}
	for _, name := range r.order {
		if skip[name] {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s %s", name, exampleArgs(r.actions[name].Params)))
	}
	return strings.Join(lines, "\n")
}

// exampleArgs renders params as a JSON object in declaration order.
func exampleArgs(params []Param) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		example := p.Example
		if example == nil {
			example = p.Type
		}
		value, err := json.Marshal(example)
		if err != nil {
			value = []byte(`"` + p.Type + `"`)
		}
		key, _ := json.Marshal(p.Name)
		parts = append(parts, fmt.Sprintf("%s: %s", key, value))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Invoke runs the named action under the registry timeout. A timeout is not
// an error: the result value becomes {"error": "tool_timeout"}.
func (r *ActionRegistry) Invoke(ctx context.Context, name string, args map[string]any, env ExecutionEnvironment) (InvokeResult, error) {
	def, ok := r.Get(name)
	if !ok {
		return InvokeResult{}, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	for _, p := range def.Params {
		if _, present := args[p.Name]; p.Required && !present {
			return InvokeResult{}, fmt.Errorf("%s: missing argument %q", name, p.Name)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	inv := &Invocation{Action: name, Args: args, Env: env}
	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := def.Handler(ctx, inv)
		done <- outcome{v, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return InvokeResult{Value: map[string]any{"error": out.err.Error()}}, nil
		}
		return InvokeResult{Value: out.value, Updates: inv.pendingUpdates()}, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return InvokeResult{Value: map[string]any{"error": "tool_timeout"}, TimedOut: true}, nil
		}
		return InvokeResult{}, ctx.Err()
	}
}
