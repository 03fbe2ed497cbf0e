package agentloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/martinemde/aethel/knowledge"
	"github.com/stretchr/testify/require"
)

// fakeEnv runs file operations in a temp dir and records application launches.
type fakeEnv struct {
	*LocalExecutionEnvironment

	mu     sync.Mutex
	opened []string
}

func newFakeEnv(t *testing.T) *fakeEnv {
	t.Helper()
	return &fakeEnv{LocalExecutionEnvironment: NewLocalExecutionEnvironment(t.TempDir())}
}

func (e *fakeEnv) OpenApplication(_ context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened = append(e.opened, name)
	return nil
}

func (e *fakeEnv) Opened() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.opened...)
}

// scriptedDecider replays outputs in order, repeating the last one.
type scriptedDecider struct {
	mu      sync.Mutex
	outputs []string
	err     error
	calls   int
	seen    []string
	schemas []string
}

func (d *scriptedDecider) Propose(_ context.Context, state *SessionState, schema string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, state.Interaction.LastUserResponse)
	d.schemas = append(d.schemas, schema)
	if d.err != nil {
		return "", d.err
	}
	if len(d.outputs) == 0 {
		return "", errors.New("no scripted output")
	}
	i := d.calls
	if i >= len(d.outputs) {
		i = len(d.outputs) - 1
	}
	d.calls++
	return d.outputs[i], nil
}

func (d *scriptedDecider) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func call(name, args string) string {
	return "<start_function_call>call:" + name + args + "<end_function_call>"
}

func testConfig() KernelConfig {
	cfg := DefaultKernelConfig()
	cfg.TickInterval = time.Millisecond
	cfg.IdleInterval = time.Millisecond
	cfg.TemplateRetryDelay = time.Millisecond
	cfg.RejectionRetryDelay = time.Millisecond
	cfg.ExitWhenIdle = true
	return cfg
}

func newTestRegistry(t *testing.T) *ActionRegistry {
	t.Helper()
	reg := NewActionRegistry(time.Second)
	require.NoError(t, RegisterCoreTools(reg, ToolDeps{Index: knowledge.NewIndex()}))
	return reg
}

func newTestKernel(t *testing.T, state *SessionState, decider DecisionSource, env ExecutionEnvironment, opts ...KernelOption) *Kernel {
	t.Helper()
	opts = append([]KernelOption{WithKernelConfig(testConfig())}, opts...)
	k, err := NewKernel(state, newTestRegistry(t), decider, env, opts...)
	require.NoError(t, err)
	t.Cleanup(k.Close)
	return k
}

func pendingState(id, text string) *SessionState {
	s := NewSessionState(id)
	s.ApplyUserResponse(text, "text")
	return s
}
