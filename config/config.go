// Package config handles Aethel configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/martinemde/aethel/agentloop"
	"gopkg.in/yaml.v3"
)

// APIKeyEnv overrides llm.api_key when set.
const APIKeyEnv = "AETHEL_LLM_API_KEY"

// Config is the root configuration.
type Config struct {
	SessionID  string           `yaml:"session_id"`
	Workspace  string           `yaml:"workspace"`
	LogLevel   string           `yaml:"log_level"`
	Store      StoreConfig      `yaml:"store"`
	Listen     ListenConfig     `yaml:"listen"`
	LLM        LLMConfig        `yaml:"llm"`
	Loop       LoopConfig       `yaml:"loop"`
	Search     SearchConfig     `yaml:"search"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
}

// StoreConfig selects session persistence.
type StoreConfig struct {
	Kind string `yaml:"kind"` // file or sqlite
	Path string `yaml:"path"`
}

// ListenConfig is the HTTP listen address.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// Addr returns host:port.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}

// LLMConfig configures the decision source.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	MaxRetries  int     `yaml:"max_retries"`
}

// LoopConfig holds the control loop pacing and ceilings.
type LoopConfig struct {
	TickInterval             time.Duration `yaml:"tick_interval"`
	IdleInterval             time.Duration `yaml:"idle_interval"`
	ToolTimeout              time.Duration `yaml:"tool_timeout"`
	TemplateRetryDelay       time.Duration `yaml:"template_retry_delay"`
	RejectionRetryDelay      time.Duration `yaml:"rejection_retry_delay"`
	MaxIterations            int           `yaml:"max_iterations"`
	StallIterations          int           `yaml:"stall_iterations"`
	MaxConsecutiveRejections int           `yaml:"max_consecutive_rejections"`
	InputTimeout             time.Duration `yaml:"input_timeout"`
	LoopDetectionWindow      int           `yaml:"loop_detection_window"`
}

// KernelConfig converts to the control loop configuration.
func (l LoopConfig) KernelConfig() agentloop.KernelConfig {
	cfg := agentloop.DefaultKernelConfig()
	cfg.TickInterval = l.TickInterval
	cfg.IdleInterval = l.IdleInterval
	cfg.TemplateRetryDelay = l.TemplateRetryDelay
	cfg.RejectionRetryDelay = l.RejectionRetryDelay
	cfg.MaxIterations = l.MaxIterations
	cfg.StallIterations = l.StallIterations
	cfg.MaxConsecutiveRejections = l.MaxConsecutiveRejections
	cfg.InputTimeout = l.InputTimeout
	cfg.LoopDetectionWindow = l.LoopDetectionWindow
	return cfg
}

// SearchConfig configures search_web.
type SearchConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxResults int           `yaml:"max_results"`
}

// TranscribeConfig configures POST /audio.
type TranscribeConfig struct {
	Provider string `yaml:"provider"` // "openai" or "" (disabled)
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

// KnowledgeConfig configures index_folder.
type KnowledgeConfig struct {
	MaxFileBytes int64 `yaml:"max_file_bytes"`
	Watch        bool  `yaml:"watch"`
}

// Default returns the default configuration.
func Default() *Config {
	kc := agentloop.DefaultKernelConfig()
	return &Config{
		SessionID: "demo_session",
		Workspace: ".",
		LogLevel:  "info",
		Store:     StoreConfig{Kind: "file", Path: filepath.Join("data", "sessions")},
		Listen:    ListenConfig{Address: "127.0.0.1", Port: 8000},
		LLM: LLMConfig{
			Provider:    "ollama",
			MaxTokens:   128,
			Temperature: 0.2,
			MaxRetries:  2,
		},
		Loop: LoopConfig{
			TickInterval:             kc.TickInterval,
			IdleInterval:             kc.IdleInterval,
			ToolTimeout:              agentloop.DefaultToolTimeout,
			TemplateRetryDelay:       kc.TemplateRetryDelay,
			RejectionRetryDelay:      kc.RejectionRetryDelay,
			MaxIterations:            kc.MaxIterations,
			StallIterations:          kc.StallIterations,
			MaxConsecutiveRejections: kc.MaxConsecutiveRejections,
			InputTimeout:             kc.InputTimeout,
			LoopDetectionWindow:      kc.LoopDetectionWindow,
		},
		Search:    SearchConfig{Timeout: 10 * time.Second, MaxResults: 5},
		Knowledge: KnowledgeConfig{MaxFileBytes: 200_000, Watch: true},
	}
}

// DefaultSearchPaths returns the config file search order:
// ./config.yaml, ~/.config/aethel/config.yaml, /etc/aethel/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "aethel", "config.yaml"))
	}
	return append(paths, "/etc/aethel/config.yaml")
}

// FindConfig locates a config file. An explicit path must exist; otherwise
// the first existing search path is returned, or "" when there is none.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// Load reads the config at path over the defaults, expanding environment
// variables. An empty path yields the defaults. The API key override is
// applied and the result validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if key := os.Getenv(APIKeyEnv); key != "" {
		cfg.LLM.APIKey = key
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.SessionID) == "" {
		errs = append(errs, errors.New("session_id is required"))
	}
	switch c.Store.Kind {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("store.kind %q must be file or sqlite", c.Store.Kind))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Loop.MaxIterations <= 0 {
		errs = append(errs, errors.New("loop.max_iterations must be positive"))
	}
	if c.Loop.StallIterations <= 0 {
		errs = append(errs, errors.New("loop.stall_iterations must be positive"))
	}
	if c.Loop.MaxConsecutiveRejections < 0 {
		errs = append(errs, errors.New("loop.max_consecutive_rejections must not be negative"))
	}
	if c.Loop.ToolTimeout <= 0 {
		errs = append(errs, errors.New("loop.tool_timeout must be positive"))
	}
	if c.Loop.InputTimeout < 0 {
		errs = append(errs, errors.New("loop.input_timeout must not be negative"))
	}
	switch c.Transcribe.Provider {
	case "", "openai":
	default:
		errs = append(errs, fmt.Errorf("transcribe.provider %q is not supported", c.Transcribe.Provider))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
