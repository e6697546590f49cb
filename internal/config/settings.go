// Package config loads the settings file and the global project registry.
//
// Loading takes injectable getenv/readFile seams so tests never touch the
// real environment. Viper handles flag and environment binding at the CLI
// boundary; this package owns the typed tree, defaults, and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Environment variables recognized by the core.
const (
	EnvSettingsFile     = "IXADO_SETTINGS_FILE"
	EnvGlobalConfigFile = "IXADO_GLOBAL_CONFIG_FILE"
	EnvCLILogFile       = "IXADO_CLI_LOG_FILE"
	EnvWebRuntimeFile   = "IXADO_WEB_RUNTIME_FILE"
	EnvWebLogFile       = "IXADO_WEB_LOG_FILE"
)

// Getenv resolves an environment variable; injectable for tests.
type Getenv func(string) string

// ReadFile reads a file; injectable for tests.
type ReadFile func(string) ([]byte, error)

// AdapterSettings configures one coding-CLI adapter.
type AdapterSettings struct {
	Command string   `json:"command,omitempty" mapstructure:"command"`
	Args    []string `json:"args,omitempty" mapstructure:"args"`
	Model   string   `json:"model,omitempty" mapstructure:"model"`

	// TimeoutMs bounds a whole run; exceeding it kills the child.
	TimeoutMs int `json:"timeoutMs,omitempty" mapstructure:"timeoutMs"`

	// StartupSilenceTimeoutMs kills a child that never speaks.
	StartupSilenceTimeoutMs int `json:"startupSilenceTimeoutMs,omitempty" mapstructure:"startupSilenceTimeoutMs"`
}

// Timeout returns TimeoutMs as a duration.
func (a AdapterSettings) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// StartupSilenceTimeout returns StartupSilenceTimeoutMs as a duration.
func (a AdapterSettings) StartupSilenceTimeout() time.Duration {
	return time.Duration(a.StartupSilenceTimeoutMs) * time.Millisecond
}

// CISettings controls the CI integration arm of the phase runner.
type CISettings struct {
	Enabled        bool `json:"enabled" mapstructure:"enabled"`
	PollIntervalMs int  `json:"pollIntervalMs,omitempty" mapstructure:"pollIntervalMs"`

	// TerminalObservationCount is how many identical consecutive readings
	// make a CI status terminal. Minimum 2; guards against flapping.
	TerminalObservationCount int `json:"terminalObservationCount,omitempty" mapstructure:"terminalObservationCount"`

	CIFixMaxFanOut int `json:"ciFixMaxFanOut,omitempty" mapstructure:"ciFixMaxFanOut"`
	CIFixMaxDepth  int `json:"ciFixMaxDepth,omitempty" mapstructure:"ciFixMaxDepth"`
}

// RecoverySettings bounds the exception-recovery policy.
// MaxAttempts is a pointer so an explicit 0 (recovery disabled) survives
// default application.
type RecoverySettings struct {
	MaxAttempts *int `json:"maxAttempts,omitempty" mapstructure:"maxAttempts"`
}

// Attempts returns the effective attempt cap.
func (r RecoverySettings) Attempts() int {
	if r.MaxAttempts == nil {
		return DefaultRecoveryMaxAttempts
	}
	return *r.MaxAttempts
}

// TelegramSettings configures the Telegram consumer. Nil disables it.
type TelegramSettings struct {
	BotToken           string `json:"botToken" mapstructure:"botToken"`
	ChatID             int64  `json:"chatId" mapstructure:"chatId"`
	NoiseLevel         string `json:"noiseLevel,omitempty" mapstructure:"noiseLevel"`
	SuppressDuplicates bool   `json:"suppressDuplicates,omitempty" mapstructure:"suppressDuplicates"`
}

// WebSettings configures the SSE control plane.
type WebSettings struct {
	Addr string `json:"addr,omitempty" mapstructure:"addr"`
}

// AgentSettings tunes supervision of spawned subprocesses.
type AgentSettings struct {
	OutputTailLimit     int `json:"outputTailLimit,omitempty" mapstructure:"outputTailLimit"`
	HeartbeatIntervalMs int `json:"heartbeatIntervalMs,omitempty" mapstructure:"heartbeatIntervalMs"`
	IdleThresholdMs     int `json:"idleThresholdMs,omitempty" mapstructure:"idleThresholdMs"`
}

// Settings is the full settings document.
type Settings struct {
	Adapters          map[string]AdapterSettings `json:"adapters,omitempty" mapstructure:"adapters"`
	DefaultAssignee   string                     `json:"defaultAssignee,omitempty" mapstructure:"defaultAssignee"`
	CI                CISettings                 `json:"ci" mapstructure:"ci"`
	ExceptionRecovery RecoverySettings           `json:"exceptionRecovery" mapstructure:"exceptionRecovery"`
	Telegram          *TelegramSettings          `json:"telegram,omitempty" mapstructure:"telegram"`
	Web               WebSettings                `json:"web" mapstructure:"web"`
	Agents            AgentSettings              `json:"agents" mapstructure:"agents"`
}

// Defaults, applied for any unset field.
const (
	DefaultAdapterTimeoutMs         = 3_600_000
	DefaultStartupSilenceTimeoutMs  = 60_000
	DefaultCIPollIntervalMs         = 15_000
	DefaultTerminalObservationCount = 2
	DefaultCIFixMaxFanOut           = 10
	DefaultCIFixMaxDepth            = 3
	MaxCIFixFanOut                  = 50
	MaxCIFixDepth                   = 10
	DefaultRecoveryMaxAttempts      = 1
	MaxRecoveryAttempts             = 10
	DefaultWebAddr                  = "127.0.0.1:4145"
	DefaultOutputTailLimit          = 200
	DefaultHeartbeatIntervalMs      = 60_000
	DefaultIdleThresholdMs          = 120_000
	DefaultTelegramNoiseLevel       = "important"
)

// SettingsPath resolves the settings file location in precedence order:
// explicit flag, environment override, project-local, home.
func SettingsPath(getenv Getenv, flagPath, rootDir string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := getenv(EnvSettingsFile); p != "" {
		return p
	}
	if rootDir != "" {
		local := filepath.Join(rootDir, ".ixado", "settings.json")
		if _, err := os.Stat(local); err == nil {
			return local
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".ixado", "settings.json")
	}
	return filepath.Join(home, ".ixado", "settings.json")
}

// LoadSettings reads, validates, and defaults the settings document.
// A missing file yields pure defaults; that is not an error.
func LoadSettings(readFile ReadFile, path string) (*Settings, error) {
	s := &Settings{}

	raw, err := readFile(path)
	switch {
	case err == nil:
		if err := validateSettingsDocument(raw); err != nil {
			return nil, fmt.Errorf("settings file %s: %w", path, err)
		}
		if err := json.Unmarshal(raw, s); err != nil {
			return nil, fmt.Errorf("settings file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	applyDefaults(s)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func applyDefaults(s *Settings) {
	if s.Adapters == nil {
		s.Adapters = map[string]AdapterSettings{}
	}
	for _, id := range []string{"CODEX_CLI", "CLAUDE_CLI", "GEMINI_CLI", "MOCK_CLI"} {
		a := s.Adapters[id]
		if a.TimeoutMs == 0 {
			a.TimeoutMs = DefaultAdapterTimeoutMs
		}
		if a.StartupSilenceTimeoutMs == 0 {
			a.StartupSilenceTimeoutMs = DefaultStartupSilenceTimeoutMs
		}
		s.Adapters[id] = a
	}

	if s.CI.PollIntervalMs == 0 {
		s.CI.PollIntervalMs = DefaultCIPollIntervalMs
	}
	if s.CI.TerminalObservationCount == 0 {
		s.CI.TerminalObservationCount = DefaultTerminalObservationCount
	}
	if s.CI.CIFixMaxFanOut == 0 {
		s.CI.CIFixMaxFanOut = DefaultCIFixMaxFanOut
	}
	if s.CI.CIFixMaxDepth == 0 {
		s.CI.CIFixMaxDepth = DefaultCIFixMaxDepth
	}

	if s.Web.Addr == "" {
		s.Web.Addr = DefaultWebAddr
	}

	if s.Agents.OutputTailLimit == 0 {
		s.Agents.OutputTailLimit = DefaultOutputTailLimit
	}
	if s.Agents.HeartbeatIntervalMs == 0 {
		s.Agents.HeartbeatIntervalMs = DefaultHeartbeatIntervalMs
	}
	if s.Agents.IdleThresholdMs == 0 {
		s.Agents.IdleThresholdMs = DefaultIdleThresholdMs
	}

	if s.Telegram != nil && s.Telegram.NoiseLevel == "" {
		s.Telegram.NoiseLevel = DefaultTelegramNoiseLevel
	}
}

// Validate enforces documented bounds.
func (s *Settings) Validate() error {
	if s.CI.TerminalObservationCount < 2 {
		return fmt.Errorf("ci.terminalObservationCount must be at least 2, got %d", s.CI.TerminalObservationCount)
	}
	if s.CI.CIFixMaxFanOut < 1 || s.CI.CIFixMaxFanOut > MaxCIFixFanOut {
		return fmt.Errorf("ci.ciFixMaxFanOut must be in 1..%d, got %d", MaxCIFixFanOut, s.CI.CIFixMaxFanOut)
	}
	if s.CI.CIFixMaxDepth < 1 || s.CI.CIFixMaxDepth > MaxCIFixDepth {
		return fmt.Errorf("ci.ciFixMaxDepth must be in 1..%d, got %d", MaxCIFixDepth, s.CI.CIFixMaxDepth)
	}
	if n := s.ExceptionRecovery.Attempts(); n < 0 || n > MaxRecoveryAttempts {
		return fmt.Errorf("exceptionRecovery.maxAttempts must be in 0..%d, got %d", MaxRecoveryAttempts, n)
	}
	if s.DefaultAssignee != "" && !knownAdapter(s.DefaultAssignee) {
		return fmt.Errorf("defaultAssignee %q is not a known adapter", s.DefaultAssignee)
	}
	if s.Telegram != nil {
		switch s.Telegram.NoiseLevel {
		case "all", "important", "critical":
		default:
			return fmt.Errorf("telegram.noiseLevel must be all, important, or critical, got %q", s.Telegram.NoiseLevel)
		}
		if s.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.botToken is required when telegram is configured")
		}
		if s.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chatId is required when telegram is configured")
		}
	}
	for id := range s.Adapters {
		if !knownAdapter(id) {
			return fmt.Errorf("adapters.%s is not a known adapter", id)
		}
	}
	return nil
}

func knownAdapter(id string) bool {
	switch id {
	case "CODEX_CLI", "CLAUDE_CLI", "GEMINI_CLI", "MOCK_CLI":
		return true
	}
	return false
}

// Adapter returns the effective settings for an adapter id.
func (s *Settings) Adapter(id string) AdapterSettings {
	a := s.Adapters[id]
	if a.TimeoutMs == 0 {
		a.TimeoutMs = DefaultAdapterTimeoutMs
	}
	if a.StartupSilenceTimeoutMs == 0 {
		a.StartupSilenceTimeoutMs = DefaultStartupSilenceTimeoutMs
	}
	return a
}
