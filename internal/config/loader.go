package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file and environment
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".mihu", "mihu.json")
	}

	v := viper.New()
	v.SetEnvPrefix("MIHU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Register every key with its default value. Viper only consults the
	// environment for keys it already knows about, so without this the
	// MIHU_* overrides never reach Unmarshal.
	defaults, err := defaultSettings()
	if err != nil {
		return nil, err
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// defaultSettings renders DefaultConfig as the nested map form viper's
// SetDefault expects.
func defaultSettings() (map[string]interface{}, error) {
	data, err := json.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to encode default config: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode default config: %w", err)
	}
	return out, nil
}

// applyEnvOverrides honors the bare environment variables the original
// deployment used, in addition to the MIHU_* prefixed forms.
func applyEnvOverrides(cfg *Config) {
	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = os.Getenv("GROQ_API_KEY")
	}
	if cfg.AI.Provider == "anthropic" && cfg.AI.APIKey == "" {
		cfg.AI.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Tools.TavilyAPIKey == "" {
		cfg.Tools.TavilyAPIKey = os.Getenv("TAVILY_API_KEY")
	}
	if port := os.Getenv("PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil && p > 0 {
			cfg.Server.Port = p
		}
	}
}
