package config

import (
	"fmt"
	"time"
)

// Config represents the main Mihu configuration
type Config struct {
	// AI provider settings
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Tool settings
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Conversation store settings
	Conversation ConversationConfig `json:"conversation" mapstructure:"conversation"`

	// Response cache settings
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// HTTP server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// AIConfig holds LLM provider configuration
type AIConfig struct {
	Provider     string  `json:"provider" mapstructure:"provider"` // groq, anthropic
	APIKey       string  `json:"api_key" mapstructure:"api_key"`
	BaseURL      string  `json:"base_url" mapstructure:"base_url"`
	Model        string  `json:"model" mapstructure:"model"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries   int     `json:"max_retries" mapstructure:"max_retries"`
	MaxToolTurns int     `json:"max_tool_turns" mapstructure:"max_tool_turns"`
}

// ToolsConfig holds tool configuration
type ToolsConfig struct {
	TavilyAPIKey  string        `json:"tavily_api_key" mapstructure:"tavily_api_key"`
	SearchTimeout time.Duration `json:"search_timeout" mapstructure:"search_timeout"`
}

// ConversationConfig holds session store configuration
type ConversationConfig struct {
	MaxHistory    int           `json:"max_history" mapstructure:"max_history"`
	IdleTimeout   time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
}

// CacheConfig holds response cache configuration
type CacheConfig struct {
	MaxEntries    int           `json:"max_entries" mapstructure:"max_entries"`
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Provider:     "groq",
			BaseURL:      "https://api.groq.com/openai/v1",
			Model:        "openai/gpt-oss-120b",
			Temperature:  0,
			MaxTokens:    1024,
			MaxRetries:   3,
			MaxToolTurns: 8,
		},
		Tools: ToolsConfig{
			SearchTimeout: 30 * time.Second,
		},
		Conversation: ConversationConfig{
			MaxHistory:    20,
			IdleTimeout:   30 * time.Minute,
			SweepInterval: 10 * time.Minute,
		},
		Cache: CacheConfig{
			MaxEntries:    1000,
			SweepInterval: 10 * time.Minute,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3002,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// Validate checks the configuration for invalid values. Missing credentials
// are not an error here: the agent degrades to a deterministic apology, so
// a credential-less config must still load.
func (c *Config) Validate() error {
	switch c.AI.Provider {
	case "groq", "anthropic":
	default:
		return fmt.Errorf("unsupported ai provider: %s", c.AI.Provider)
	}
	if c.AI.Model == "" {
		return fmt.Errorf("ai model cannot be empty")
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 1 {
		return fmt.Errorf("ai temperature must be between 0 and 1")
	}
	if c.AI.MaxRetries < 1 {
		return fmt.Errorf("ai max_retries must be at least 1")
	}
	if c.AI.MaxToolTurns < 1 {
		return fmt.Errorf("ai max_tool_turns must be at least 1")
	}
	if c.Conversation.MaxHistory < 1 {
		return fmt.Errorf("conversation max_history must be at least 1")
	}
	if c.Conversation.IdleTimeout <= 0 {
		return fmt.Errorf("conversation idle_timeout must be positive")
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache max_entries must be at least 1")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	return nil
}

// HasCredentials reports whether the configured AI provider has an API key.
func (c *Config) HasCredentials() bool {
	return c.AI.APIKey != ""
}
