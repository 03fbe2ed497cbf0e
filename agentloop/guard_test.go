package agentloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasOpenIntent(t *testing.T) {
	for _, text := range []string{"open notes", "Please LAUNCH safari", "run the terminal", "start spotify"} {
		assert.True(t, HasOpenIntent(text), text)
	}
	for _, text := range []string{"what is on my calendar", "reopened files", "list my notes"} {
		assert.False(t, HasOpenIntent(text), text)
	}
}

func TestExcludedActions(t *testing.T) {
	assert.Equal(t, []string{ActionOpenApp}, ExcludedActions("read my todo list"))
	assert.Empty(t, ExcludedActions("open calendar"))
}

func TestResolveApplicationName(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"open notes", "Notes", true},
		{"open my note please", "Notes", true},
		{"launch google chrome", "Google Chrome", true},
		{"open visual studio code", "Visual Studio Code", true},
		{"open visual studio code\n\nIMPORTANT: nudge", "Visual Studio Code", true},
		{"launch something", "", false},
	}
	for _, tt := range tests {
		got, ok := ResolveApplicationName(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func TestCheckReadPath(t *testing.T) {
	env := newFakeEnv(t)
	assert.NoError(t, env.WriteFile("notes/todo.md", "x"))

	req := checkReadPath(map[string]any{}, env)
	if assert.NotNil(t, req) {
		assert.Equal(t, "Input Needed", req.Title)
	}
	req = checkReadPath(map[string]any{"path": "path/to/file"}, env)
	if assert.NotNil(t, req) {
		assert.Equal(t, "Input Needed", req.Title)
	}
	req = checkReadPath(map[string]any{"path": "ghost.md"}, env)
	if assert.NotNil(t, req) {
		assert.Equal(t, "File Not Found", req.Title)
		assert.Equal(t, "File not found: ghost.md. Provide an existing path.", req.Message)
	}
	assert.Nil(t, checkReadPath(map[string]any{"path": "notes/todo.md"}, env))
}

func TestAskUserRequest(t *testing.T) {
	req := askUserRequest(map[string]any{})
	assert.Equal(t, "Continue?", req.Message)
	assert.Equal(t, []string{"Yes", "No"}, req.Options)
}
