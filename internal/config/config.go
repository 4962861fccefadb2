package config

import (
	"fmt"
	"time"
)

// Config represents the main agent configuration
type Config struct {
	// Hub holds scheduler settings
	Hub HubConfig `json:"hub" mapstructure:"hub"`

	// Engine holds reasoning engine settings
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Approvals holds approval workflow settings
	Approvals ApprovalsConfig `json:"approvals" mapstructure:"approvals"`

	// Gateway holds dashboard server settings
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Schedules holds recurring task definitions
	Schedules []ScheduleConfig `json:"schedules" mapstructure:"schedules"`

	// Logging holds logging settings
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// DataDir is the base directory for persisted state
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// HubConfig holds task scheduler configuration
type HubConfig struct {
	// LaneLimits maps lane names to concurrency ceilings
	LaneLimits map[string]int `json:"lane_limits" mapstructure:"lane_limits"`

	SessionTTL    time.Duration `json:"session_ttl" mapstructure:"session_ttl"`
	ResultTTL     time.Duration `json:"result_ttl" mapstructure:"result_ttl"`
	MaxIterations int           `json:"max_iterations" mapstructure:"max_iterations"`
}

// EngineConfig holds reasoning engine configuration
type EngineConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	Model       string  `json:"model" mapstructure:"model"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxRetries  int     `json:"max_retries" mapstructure:"max_retries"`
}

// ApprovalsConfig holds approval workflow configuration
type ApprovalsConfig struct {
	AutoApproveThreshold float64       `json:"auto_approve_threshold" mapstructure:"auto_approve_threshold"`
	DefaultTimeout       time.Duration `json:"default_timeout" mapstructure:"default_timeout"`
}

// GatewayConfig holds dashboard server configuration
type GatewayConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// ScheduleConfig defines a recurring task enqueued into the cron lane
type ScheduleConfig struct {
	Name     string `json:"name" mapstructure:"name"`
	Kind     string `json:"kind" mapstructure:"kind"` // at, every, cron
	At       string `json:"at,omitempty" mapstructure:"at"`
	EveryMs  int64  `json:"every_ms,omitempty" mapstructure:"every_ms"`
	Expr     string `json:"expr,omitempty" mapstructure:"expr"`
	TZ       string `json:"tz,omitempty" mapstructure:"tz"`
	Prompt   string `json:"prompt" mapstructure:"prompt"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			LaneLimits: map[string]int{
				"main":     1,
				"research": 3,
				"monitor":  2,
				"cron":     1,
			},
			SessionTTL:    time.Hour,
			ResultTTL:     5 * time.Minute,
			MaxIterations: 10,
		},
		Engine: EngineConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   4096,
			Temperature: 0.7,
			MaxRetries:  3,
		},
		Approvals: ApprovalsConfig{
			AutoApproveThreshold: 0.05,
			DefaultTimeout:       5 * time.Minute,
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8787,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	for lane, limit := range c.Hub.LaneLimits {
		if limit < 1 {
			return fmt.Errorf("lane %q has non-positive concurrency limit %d", lane, limit)
		}
	}
	if c.Hub.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Hub.ResultTTL <= 0 {
		return fmt.Errorf("result TTL must be positive")
	}
	if c.Hub.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1")
	}
	switch c.Engine.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown engine provider %q", c.Engine.Provider)
	}
	if c.Engine.Model == "" {
		return fmt.Errorf("engine model cannot be empty")
	}
	if c.Approvals.AutoApproveThreshold < 0 {
		return fmt.Errorf("auto-approve threshold cannot be negative")
	}
	if c.Approvals.DefaultTimeout <= 0 {
		return fmt.Errorf("approval timeout must be positive")
	}
	if c.Gateway.Enabled && (c.Gateway.Port < 1 || c.Gateway.Port > 65535) {
		return fmt.Errorf("invalid gateway port %d", c.Gateway.Port)
	}
	for _, s := range c.Schedules {
		switch s.Kind {
		case "at", "every", "cron":
		default:
			return fmt.Errorf("schedule %q has unknown kind %q", s.Name, s.Kind)
		}
		if s.Prompt == "" {
			return fmt.Errorf("schedule %q has empty prompt", s.Name)
		}
	}
	return nil
}
