package agentloop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedPlatform is returned by OpenApplication where no launcher exists.
var ErrUnsupportedPlatform = errors.New("application launch not supported on this platform")

// ExecutionEnvironment abstracts where tool operations run.
type ExecutionEnvironment interface {
	// File operations. Relative paths resolve against WorkingDirectory.
	ReadFile(path string) (string, error)
	WriteFile(path string, content string) error
	MakeDir(path string) error
	Move(src, dst string) error
	FileExists(path string) bool
	ResolvePath(path string) string

	// OpenApplication launches a desktop application by name.
	OpenApplication(ctx context.Context, name string) error

	// Metadata.
	WorkingDirectory() string
	Platform() string
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that launched applications must not inherit.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always passed through regardless of filtering.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true, "DISPLAY": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_RUNTIME_DIR": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

// filterEnvironment returns the process environment without secrets.
func filterEnvironment() []string {
	var filtered []string
	for _, env := range os.Environ() {
		name, _, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// LocalExecutionEnvironment runs tools on the local machine.
type LocalExecutionEnvironment struct {
	workingDir string
	platform   string

	// launcher builds the command that opens an application; replaced in tests.
	launcher func(ctx context.Context, name string) (*exec.Cmd, error)
}

// NewLocalExecutionEnvironment creates a local execution environment.
func NewLocalExecutionEnvironment(workingDir string) *LocalExecutionEnvironment {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	return &LocalExecutionEnvironment{
		workingDir: workingDir,
		platform:   runtime.GOOS,
		launcher:   platformLauncher(runtime.GOOS),
	}
}

func platformLauncher(goos string) func(ctx context.Context, name string) (*exec.Cmd, error) {
	return func(ctx context.Context, name string) (*exec.Cmd, error) {
		switch goos {
		case "darwin":
			return exec.CommandContext(ctx, "open", "-a", name), nil
		case "linux":
			return exec.CommandContext(ctx, "gtk-launch", strings.ToLower(name)), nil
		case "windows":
			return exec.CommandContext(ctx, "cmd.exe", "/c", "start", "", name), nil
		default:
			return nil, ErrUnsupportedPlatform
		}
	}
}

func (e *LocalExecutionEnvironment) WorkingDirectory() string {
	return e.workingDir
}

func (e *LocalExecutionEnvironment) Platform() string {
	return e.platform
}

func (e *LocalExecutionEnvironment) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.workingDir, path)
}

func (e *LocalExecutionEnvironment) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(e.ResolvePath(path))
	if err != nil {
		return "", fmt.Errorf("fs_read: %w", err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("fs_read: %s is binary or not UTF-8", path)
	}
	return string(data), nil
}

func (e *LocalExecutionEnvironment) WriteFile(path string, content string) error {
	resolved := e.ResolvePath(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("fs_write: create parent directory: %w", err)
	}
	return os.WriteFile(resolved, []byte(content), 0o644)
}

func (e *LocalExecutionEnvironment) MakeDir(path string) error {
	if err := os.MkdirAll(e.ResolvePath(path), 0o755); err != nil {
		return fmt.Errorf("fs_mkdir: %w", err)
	}
	return nil
}

func (e *LocalExecutionEnvironment) Move(src, dst string) error {
	from, to := e.ResolvePath(src), e.ResolvePath(dst)
	if _, err := os.Stat(from); err != nil {
		return fmt.Errorf("fs_move: source not found: %s", src)
	}
	if info, err := os.Stat(to); err == nil && info.IsDir() {
		to = filepath.Join(to, filepath.Base(from))
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("fs_move: %w", err)
	}
	return nil
}

func (e *LocalExecutionEnvironment) FileExists(path string) bool {
	_, err := os.Stat(e.ResolvePath(path))
	return err == nil
}

func (e *LocalExecutionEnvironment) OpenApplication(ctx context.Context, name string) error {
	cmd, err := e.launcher(ctx, name)
	if err != nil {
		return err
	}
	cmd.Dir = e.workingDir
	cmd.Env = filterEnvironment()
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("open %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}
