package agentloop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runKernel(t *testing.T, k *Kernel) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, k.Run(ctx))
}

// runAsync starts Run and returns a channel with its result.
func runAsync(ctx context.Context, k *Kernel) <-chan error {
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()
	return done
}

func TestNewKernelValidation(t *testing.T) {
	env := newFakeEnv(t)
	reg := NewActionRegistry(0)
	d := &scriptedDecider{}

	_, err := NewKernel(nil, reg, d, env)
	assert.Error(t, err)
	_, err = NewKernel(NewSessionState("s"), nil, d, env)
	assert.Error(t, err)
	_, err = NewKernel(NewSessionState("s"), reg, nil, env)
	assert.Error(t, err)
	_, err = NewKernel(NewSessionState("s"), reg, d, nil)
	assert.Error(t, err)
}

func TestKernelExecutesActionAndRecordsStep(t *testing.T) {
	env := newFakeEnv(t)
	d := &scriptedDecider{outputs: []string{call("fs_mkdir", `{"path": "projects"}`)}}
	k := newTestKernel(t, pendingState("s1", "make a projects folder"), d, env)

	runKernel(t, k)

	snap := k.Snapshot()
	require.Len(t, snap.Steps, 1)
	assert.Equal(t, 1, snap.Steps[0].StepID)
	assert.Equal(t, ActionMakeDir, snap.Steps[0].Action)
	assert.Contains(t, snap.Steps[0].Result, `"status":"created"`)
	assert.Equal(t, StatusActive, snap.Meta.Status)
	assert.False(t, snap.HasPendingResponse())
	assert.Equal(t, 1, snap.Meta.IterationCount)
	assert.DirExists(t, filepath.Join(env.WorkingDirectory(), "projects"))
}

func TestKernelStepIDsIncrease(t *testing.T) {
	env := newFakeEnv(t)
	d := &scriptedDecider{outputs: []string{
		call("fs_mkdir", `{"path": "a"}`),
		call("fs_mkdir", `{"path": "b"}`),
	}}
	k := newTestKernel(t, pendingState("s1", "make a"), d, env)
	runKernel(t, k)
	require.NoError(t, k.SubmitUserResponse("make b"))
	runKernel(t, k)

	snap := k.Snapshot()
	require.Len(t, snap.Steps, 2)
	for i, step := range snap.Steps {
		assert.Equal(t, i+1, step.StepID)
	}
}

func TestKernelRepeatedActionCompletes(t *testing.T) {
	env := newFakeEnv(t)
	d := &scriptedDecider{outputs: []string{call("fs_mkdir", `{"path": "a"}`)}}
	cfg := testConfig()
	cfg.ExitWhenIdle = false
	k := newTestKernel(t, pendingState("s1", "make a"), d, env, WithKernelConfig(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := runAsync(ctx, k)

	require.Eventually(t, func() bool { return len(k.Snapshot().Steps) == 1 }, 2*time.Second, time.Millisecond)
	require.NoError(t, k.SubmitUserResponse("make a again"))
	require.NoError(t, <-done)

	snap := k.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Meta.Status)
	assert.Equal(t, "repeated action", snap.Meta.StatusReason)
	assert.Len(t, snap.Steps, 1)
}

func TestKernelCompoundFileTask(t *testing.T) {
	env := newFakeEnv(t)
	d := &scriptedDecider{}
	k := newTestKernel(t, pendingState("s1",
		"Create a folder named demo, add a README.md with content 'hello', then read it back."), d, env)

	runKernel(t, k)

	snap := k.Snapshot()
	assert.Zero(t, d.Calls())
	assert.Equal(t, StatusCompleted, snap.Meta.Status)
	require.NotNil(t, snap.FinalOutput)
	assert.Equal(t, "hello", snap.FinalOutput.Summary)
	require.Len(t, snap.Steps, 1)
	assert.Equal(t, ActionReadFile, snap.Steps[0].Action)
	assert.Len(t, snap.Plan, 3)

	data, err := os.ReadFile(filepath.Join(env.WorkingDirectory(), "demo", "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestKernelPrefixRoute(t *testing.T) {
	env := newFakeEnv(t)
	require.NoError(t, env.WriteFile("notes/todo.md", "buy milk"))
	d := &scriptedDecider{}
	k := newTestKernel(t, pendingState("s1", "Index folder notes"), d, env)

	runKernel(t, k)

	snap := k.Snapshot()
	assert.Zero(t, d.Calls())
	assert.Equal(t, StatusCompleted, snap.Meta.Status)
	require.Len(t, snap.Steps, 1)
	assert.Equal(t, ActionIndexFolder, snap.Steps[0].Action)
	assert.Equal(t, []string{"notes"}, snap.Knowledge.IndexedPaths)
	require.NotNil(t, snap.FinalOutput)
	assert.Contains(t, snap.FinalOutput.Summary, `"files_indexed":1`)
}

func TestKernelOpenAppWithoutIntentCompletes(t *testing.T) {
	env := newFakeEnv(t)
	d := &scriptedDecider{outputs: []string{call("mac_open_app", `{"app_name": "Calendar"}`)}}
	k := newTestKernel(t, pendingState("s1", "what is on my calendar today"), d, env)

	runKernel(t, k)

	snap := k.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Meta.Status)
	assert.Empty(t, snap.Steps)
	assert.Empty(t, env.Opened())
	assert.NotContains(t, d.schemas[0], ActionOpenApp)
}

func TestKernelOpenAppResolvesAlias(t *testing.T) {
	env := newFakeEnv(t)
	d := &scriptedDecider{outputs: []string{call("mac_open_app", `{"app_name": "Note Taker"}`)}}
	k := newTestKernel(t, pendingState("s1", "open notes"), d, env)

	runKernel(t, k)

	assert.Equal(t, []string{"Notes"}, env.Opened())
	snap := k.Snapshot()
	require.Len(t, snap.Steps, 1)
	assert.Equal(t, "Notes", snap.Steps[0].Arguments["app_name"])
	assert.Contains(t, d.schemas[0], ActionOpenApp)
}

func TestKernelPlaceholderReadAwaitsInput(t *testing.T) {
	env := newFakeEnv(t)
	d := &scriptedDecider{outputs: []string{call("fs_read", `{"path": "file.txt"}`)}}
	cfg := testConfig()
	k := newTestKernel(t, pendingState("s1", "read my file"), d, env, WithKernelConfig(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, k)

	require.Eventually(t, func() bool { return k.Status() == StatusAwaitingUserInput }, 2*time.Second, time.Millisecond)
	snap := k.Snapshot()
	require.NotNil(t, snap.PendingUIRequest)
	assert.Equal(t, "Input Needed", snap.PendingUIRequest.Title)
	assert.Equal(t, "Which file path should I read? (e.g., notes/todo.md)", snap.PendingUIRequest.Message)
	assert.Empty(t, snap.Steps)
	assert.Equal(t, "read my file", snap.Interaction.LastUserResponse)
	assert.Equal(t, 1, snap.Meta.IterationCount)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestKernelMissingFileTimesOut(t *testing.T) {
	env := newFakeEnv(t)
	d := &scriptedDecider{outputs: []string{call("fs_read", `{"path": "missing.md"}`)}}
	cfg := testConfig()
	cfg.InputTimeout = 20 * time.Millisecond
	k := newTestKernel(t, pendingState("s1", "read missing.md"), d, env, WithKernelConfig(cfg))

	runKernel(t, k)

	snap := k.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Meta.Status)
	assert.Equal(t, "input timeout", snap.Meta.StatusReason)
	require.NotNil(t, snap.PendingUIRequest)
	assert.Equal(t, "File Not Found", snap.PendingUIRequest.Title)
	assert.Equal(t, "File not found: missing.md. Provide an existing path.", snap.PendingUIRequest.Message)
}

func TestKernelAskUserResumesOnResponse(t *testing.T) {
	env := newFakeEnv(t)
	d := &scriptedDecider{outputs: []string{
		call("ask_user", `{"question": "Which folder?"}`),
		call("fs_mkdir", `{"path": "projects"}`),
	}}
	k := newTestKernel(t, pendingState("s1", "make a folder"), d, env)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := runAsync(ctx, k)

	require.Eventually(t, func() bool { return k.Status() == StatusAwaitingUserInput }, 2*time.Second, time.Millisecond)
	snap := k.Snapshot()
	require.NotNil(t, snap.PendingUIRequest)
	assert.Equal(t, "Which folder?", snap.PendingUIRequest.Message)
	assert.Equal(t, []string{"Yes", "No"}, snap.PendingUIRequest.Options)

	require.NoError(t, k.SubmitUserResponse("projects"))
	require.NoError(t, <-done)

	snap = k.Snapshot()
	assert.Equal(t, StatusActive, snap.Meta.Status)
	assert.Nil(t, snap.PendingUIRequest)
	require.Len(t, snap.Steps, 1)
	assert.Equal(t, ActionMakeDir, snap.Steps[0].Action)
	require.Len(t, d.seen, 2)
	assert.Equal(t, "projects", d.seen[1])
}

func TestKernelIterationCeiling(t *testing.T) {
	state := pendingState("s1", "keep going")
	state.Meta.IterationCount = 51
	d := &scriptedDecider{}
	k := newTestKernel(t, state, d, newFakeEnv(t))

	runKernel(t, k)

	assert.Equal(t, StatusError, k.Status())
	assert.Zero(t, d.Calls())
}

func TestKernelStallCeiling(t *testing.T) {
	state := NewSessionState("s1")
	state.Meta.IterationCount = 21
	k := newTestKernel(t, state, &scriptedDecider{}, newFakeEnv(t))

	runKernel(t, k)

	snap := k.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Meta.Status)
	assert.Equal(t, "stalled: no new input", snap.Meta.StatusReason)
}

func TestKernelRejectionEscalates(t *testing.T) {
	d := &scriptedDecider{outputs: []string{call("launch_rockets", `{}`)}}
	k := newTestKernel(t, pendingState("s1", "do something"), d, newFakeEnv(t))

	runKernel(t, k)

	snap := k.Snapshot()
	assert.Equal(t, StatusError, snap.Meta.Status)
	assert.Equal(t, "too many rejected actions", snap.Meta.StatusReason)
	assert.Equal(t, 5, d.Calls())
	assert.Equal(t, 5, snap.Meta.IterationCount)
	assert.Empty(t, snap.Steps)
}

func TestKernelRejectionNudgesThenRecovers(t *testing.T) {
	d := &scriptedDecider{outputs: []string{
		call("launch_rockets", `{}`),
		call("fs_mkdir", `{"path": "a"}`),
	}}
	k := newTestKernel(t, pendingState("s1", "make a"), d, newFakeEnv(t))

	runKernel(t, k)

	require.Len(t, d.seen, 2)
	assert.Equal(t, "make a"+rejectionNudge, d.seen[1])
	assert.Len(t, k.Snapshot().Steps, 1)
}

func TestKernelTemplateArtifactRetries(t *testing.T) {
	d := &scriptedDecider{outputs: []string{
		call("tool_name", `{args}`),
		call("fs_mkdir", `{"path": "a"}`),
	}}
	k := newTestKernel(t, pendingState("s1", "make a"), d, newFakeEnv(t))

	runKernel(t, k)

	snap := k.Snapshot()
	require.Len(t, snap.Steps, 1)
	assert.Equal(t, 2, snap.Meta.IterationCount)
}

func TestKernelDecisionOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		decider *scriptedDecider
		status  Status
		summary string
	}{
		{
			name:    "decision error",
			decider: &scriptedDecider{err: errors.New("model offline")},
			status:  StatusError,
		},
		{
			name:    "non-actionable text",
			decider: &scriptedDecider{outputs: []string{"I am not sure what you mean."}},
			status:  StatusError,
		},
		{
			name:    "completion text",
			decider: &scriptedDecider{outputs: []string{"Done. Everything is in place."}},
			status:  StatusCompleted,
			summary: "Done. Everything is in place.",
		},
		{
			name:    "malformed arguments",
			decider: &scriptedDecider{outputs: []string{call("fs_mkdir", `{path: [}`)}},
			status:  StatusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := newTestKernel(t, pendingState("s1", "do it"), tt.decider, newFakeEnv(t))
			runKernel(t, k)

			snap := k.Snapshot()
			assert.Equal(t, tt.status, snap.Meta.Status)
			assert.Empty(t, snap.Steps)
			if tt.summary != "" {
				require.NotNil(t, snap.FinalOutput)
				assert.Equal(t, tt.summary, snap.FinalOutput.Summary)
			}
		})
	}
}

func TestKernelPersistsEveryMutation(t *testing.T) {
	p := NewMemoryPersister()
	d := &scriptedDecider{outputs: []string{call("fs_mkdir", `{"path": "a"}`)}}
	k := newTestKernel(t, pendingState("s1", "make a"), d, newFakeEnv(t), WithPersister(p))

	runKernel(t, k)

	assert.Greater(t, p.Saves(), 0)
	stored, err := p.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, k.Snapshot().Steps[0].Result, stored.Steps[0].Result)
	assert.Equal(t, k.Snapshot().Meta.IterationCount, stored.Meta.IterationCount)
}

func TestKernelEvents(t *testing.T) {
	d := &scriptedDecider{outputs: []string{call("fs_mkdir", `{"path": "a"}`)}}
	k := newTestKernel(t, pendingState("s1", "make a"), d, newFakeEnv(t))

	runKernel(t, k)

	kinds := map[EventKind]bool{}
	for len(k.Events()) > 0 {
		ev := <-k.Events()
		assert.Equal(t, "s1", ev.SessionID)
		kinds[ev.Kind] = true
	}
	for _, want := range []EventKind{EventSessionStart, EventDecision, EventToolCallStart, EventToolCallEnd, EventStepRecorded, EventSessionEnd} {
		assert.True(t, kinds[want], "missing %s", want)
	}
}

func TestKernelServeReopensFinishedSession(t *testing.T) {
	state := NewSessionState("s1")
	state.Meta.IterationCount = 30
	state.Complete("earlier work", "done")
	d := &scriptedDecider{outputs: []string{call("fs_mkdir", `{"path": "a"}`)}}
	k := newTestKernel(t, state, d, newFakeEnv(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Serve(ctx) }()

	require.NoError(t, k.SubmitUserResponse("make a"))
	require.Eventually(t, func() bool { return len(k.Snapshot().Steps) == 1 }, 2*time.Second, time.Millisecond)

	snap := k.Snapshot()
	assert.Equal(t, StatusActive, snap.Meta.Status)
	assert.Nil(t, snap.FinalOutput)
	assert.Equal(t, 30, snap.Meta.RunStartIteration)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestKernelRejectsConcurrentRun(t *testing.T) {
	state := NewSessionState("s1")
	state.TransitionTo(StatusAwaitingUserInput, "question asked")
	k := newTestKernel(t, state, &scriptedDecider{}, newFakeEnv(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, k)
	require.Eventually(t, k.running.Load, time.Second, time.Millisecond)

	assert.ErrorIs(t, k.Run(ctx), ErrKernelRunning)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSubmitRejectsBlankInput(t *testing.T) {
	k := newTestKernel(t, NewSessionState("s1"), &scriptedDecider{}, newFakeEnv(t))
	assert.ErrorIs(t, k.SubmitUserResponse("   "), ErrEmptyInput)
}

func TestSubmitTranscriptRecordsSource(t *testing.T) {
	k := newTestKernel(t, NewSessionState("s1"), &scriptedDecider{}, newFakeEnv(t))
	require.NoError(t, k.SubmitTranscript("open safari"))
	snap := k.Snapshot()
	assert.Equal(t, "open safari", snap.Interaction.LastUserResponse)
	assert.Equal(t, "audio", snap.Interaction.Source)
}

func TestFormatResult(t *testing.T) {
	assert.Equal(t, "", formatResult(nil))
	assert.Equal(t, "plain", formatResult("plain"))
	assert.Equal(t, `{"status":"moved"}`, formatResult(map[string]any{"status": "moved"}))
}
