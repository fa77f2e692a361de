// Package config provides the loop's configuration record: YAML file
// loading with defaults and validation, plus encrypted secrets storage.
package config

import (
	"fmt"
	"time"
)

// Backend kinds.
const (
	BackendAPI = "api" // direct provider API with client-side sessions
	BackendCLI = "cli" // external coding-agent executable
)

// Provider names for the API backend.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGoogle    = "google"
)

// Default model per provider.
const (
	ModelClaudeSonnetLatest = "claude-sonnet-4-5"
	ModelGPT5               = "gpt-5"
	ModelOllamaDefault      = "qwen2.5-coder:14b"
	ModelGeminiDefault      = "gemini-2.5-pro"
)

// Secret names resolved through the secrets store or environment.
const (
	SecretAnthropicAPIKey = "ANTHROPIC_API_KEY"
	SecretOpenAIAPIKey    = "OPENAI_API_KEY"
	SecretGeminiAPIKey    = "GEMINI_API_KEY"
)

// Backend configures how the loop talks to the coding agent.
type Backend struct {
	Kind     string   `yaml:"kind"`               // "api" or "cli"
	Provider string   `yaml:"provider,omitempty"` // api: anthropic, openai, ollama, google
	Model    string   `yaml:"model,omitempty"`
	Host     string   `yaml:"host,omitempty"`    // ollama server URL
	Command  []string `yaml:"command,omitempty"` // cli: argv of the agent executable
}

// Paths configures the on-disk layout the loop works against.
type Paths struct {
	WorkDir     string `yaml:"work_dir"`
	PlanFile    string `yaml:"plan_file"`
	StateFile   string `yaml:"state_file"`
	MetricsFile string `yaml:"metrics_file"`
	HistoryDB   string `yaml:"history_db"`
	IdeasDir    string `yaml:"ideas_dir"`
	ArchiveDir  string `yaml:"archive_dir"`
}

// Retry configures the backoff policy for phase operations.
type Retry struct {
	MaxRetries   int      `yaml:"max_retries"`
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
}

// Timing configures loop pacing and timeouts.
type Timing struct {
	CycleTimeout   Duration `yaml:"cycle_timeout"`
	TaskDelay      Duration `yaml:"task_delay"`
	RequestTimeout Duration `yaml:"request_timeout"`
	GraceWindow    Duration `yaml:"grace_window"` // process teardown grace before SIGKILL
}

// Limits bounds the size of inputs sent to the backend.
type Limits struct {
	MaxIdeaBytes    int `yaml:"max_idea_bytes"`
	MaxPromptTokens int `yaml:"max_prompt_tokens"`
}

// Config is the opaque configuration record consumed by the loop. Argument
// parsing and file loading happen here; the loop only reads fields.
type Config struct {
	Backend Backend `yaml:"backend"`
	Paths   Paths   `yaml:"paths"`
	Retry   Retry   `yaml:"retry"`
	Timing  Timing  `yaml:"timing"`
	Limits  Limits  `yaml:"limits"`

	Debug        bool     `yaml:"debug"`
	DebugDomains []string `yaml:"debug_domains,omitempty"`
}

// Default returns the configuration defaults for a given working directory.
func Default(workDir string) *Config {
	return &Config{
		Backend: Backend{
			Kind:     BackendAPI,
			Provider: ProviderAnthropic,
			Model:    ModelClaudeSonnetLatest,
		},
		Paths: Paths{
			WorkDir:     workDir,
			PlanFile:    "PLAN.md",
			StateFile:   ".devloop/state.json",
			MetricsFile: ".devloop/metrics.json",
			HistoryDB:   ".devloop/history.db",
			IdeasDir:    "ideas",
			ArchiveDir:  "ideas/history",
		},
		Retry: Retry{
			MaxRetries:   3,
			InitialDelay: Duration(2 * time.Second),
			MaxDelay:     Duration(5 * time.Minute),
		},
		Timing: Timing{
			CycleTimeout:   Duration(2 * time.Hour),
			TaskDelay:      Duration(5 * time.Second),
			RequestTimeout: Duration(15 * time.Minute),
			GraceWindow:    Duration(10 * time.Second),
		},
		Limits: Limits{
			MaxIdeaBytes:    16 * 1024,
			MaxPromptTokens: 100000,
		},
	}
}

// Validate checks the configuration for values the loop cannot run with.
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case BackendAPI:
		switch c.Backend.Provider {
		case ProviderAnthropic, ProviderOpenAI, ProviderOllama, ProviderGoogle:
		default:
			return fmt.Errorf("unknown backend provider: %q", c.Backend.Provider)
		}
	case BackendCLI:
		if len(c.Backend.Command) == 0 {
			return fmt.Errorf("cli backend requires a command")
		}
	default:
		return fmt.Errorf("unknown backend kind: %q", c.Backend.Kind)
	}

	if c.Paths.WorkDir == "" {
		return fmt.Errorf("work_dir cannot be empty")
	}
	if c.Paths.PlanFile == "" || c.Paths.StateFile == "" {
		return fmt.Errorf("plan_file and state_file cannot be empty")
	}
	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1")
	}
	if c.Retry.InitialDelay <= 0 || c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("invalid retry delays: initial=%s max=%s", c.Retry.InitialDelay, c.Retry.MaxDelay)
	}
	if c.Limits.MaxIdeaBytes < 1 {
		return fmt.Errorf("max_idea_bytes must be positive")
	}
	return nil
}
