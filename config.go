package ghostlet

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	defaults "github.com/Paranoid-AF/ghostlet/default"
	"github.com/Paranoid-AF/ghostlet/errors"
)

// Config represents the user's ghostlet configuration.
type Config struct {
	Version    int              `toml:"version" json:"version"`
	Generation GenerationConfig `toml:"generation" json:"generation"`
	Telemetry  TelemetryConfig  `toml:"telemetry" json:"telemetry"`
	Server     ServerConfig     `toml:"server" json:"server"`
}

// GenerationConfig holds settings for the generation API.
type GenerationConfig struct {
	BaseURL        string   `toml:"base_url" json:"base_url"`
	APIKey         string   `toml:"api_key" json:"api_key"`
	APIType        string   `toml:"api_type" json:"api_type"`
	Model          string   `toml:"model" json:"model"`
	MaxTokens      int      `toml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Temperature    float64  `toml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP           float64  `toml:"top_p,omitempty" json:"top_p,omitempty"`
	Stop           []string `toml:"stop,omitempty" json:"stop,omitempty"`
	TimeoutSeconds int      `toml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// TelemetryConfig holds settings for accept/reject event delivery.
type TelemetryConfig struct {
	// Sink is "log", "http" or "none".
	Sink             string  `toml:"sink" json:"sink"`
	Endpoint         string  `toml:"endpoint" json:"endpoint"`
	QueueSize        int     `toml:"queue_size,omitempty" json:"queue_size,omitempty"`
	EventsPerSecond  float64 `toml:"events_per_second,omitempty" json:"events_per_second,omitempty"`
	RecordTTLMinutes *int    `toml:"record_ttl_minutes,omitempty" json:"record_ttl_minutes,omitempty"`
	OpenRouter       *bool   `toml:"openrouter,omitempty" json:"openrouter,omitempty"`
}

// ServerConfig selects how the language server is reached.
type ServerConfig struct {
	// Transport is "stdio", "tcp" or "websocket".
	Transport string `toml:"transport" json:"transport"`
	Address   string `toml:"address" json:"address"`
}

// ConfigDir returns the config directory path.
// Resolution order: $GHOSTLET_CONFIG_DIR > $XDG_CONFIG_HOME/ghostlet > ~/.config/ghostlet
func ConfigDir() string {
	if dir := os.Getenv("GHOSTLET_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "ghostlet")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "ghostlet-config")
	}
	return filepath.Join(home, ".config", "ghostlet")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// PromptPath returns the prompt file path.
func PromptPath() string {
	return filepath.Join(ConfigDir(), "prompt.md")
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if err := toml.Unmarshal(defaults.DefaultConfigTOML, &cfg); err != nil {
		panic("ghostlet: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from disk or returns defaults if not found.
func LoadConfig() (*Config, error) {
	path := ConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	// Apply defaults for missing fields
	defaults := DefaultConfig()
	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}
	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = defaults.Generation.BaseURL
	}
	if cfg.Generation.APIType == "" {
		cfg.Generation.APIType = defaults.Generation.APIType
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = defaults.Generation.Model
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = defaults.Generation.MaxTokens
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = defaults.Generation.Temperature
	}
	if cfg.Generation.TopP == 0 {
		cfg.Generation.TopP = defaults.Generation.TopP
	}
	if cfg.Generation.TimeoutSeconds == 0 {
		cfg.Generation.TimeoutSeconds = defaults.Generation.TimeoutSeconds
	}
	if cfg.Telemetry.Sink == "" {
		cfg.Telemetry.Sink = defaults.Telemetry.Sink
	}
	if cfg.Telemetry.QueueSize == 0 {
		cfg.Telemetry.QueueSize = defaults.Telemetry.QueueSize
	}
	if cfg.Telemetry.EventsPerSecond == 0 {
		cfg.Telemetry.EventsPerSecond = defaults.Telemetry.EventsPerSecond
	}
	if cfg.Telemetry.RecordTTLMinutes == nil {
		cfg.Telemetry.RecordTTLMinutes = defaults.Telemetry.RecordTTLMinutes
	}
	if cfg.Telemetry.OpenRouter == nil {
		cfg.Telemetry.OpenRouter = defaults.Telemetry.OpenRouter
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = defaults.Server.Transport
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = defaults.Server.Address
	}

	return &cfg, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if ResolveGenerationAPIKey(cfg) == "" {
		warnings = append(warnings, "generation api_key is not configured; completions will fail until GHOSTLET_GENERATION_API_KEY is set")
	}
	switch cfg.Generation.APIType {
	case "completions", "chat_completions", "responses":
	default:
		warnings = append(warnings, "unknown generation api_type "+cfg.Generation.APIType+"; falling back to completions")
	}
	switch cfg.Telemetry.Sink {
	case "log", "none":
	case "http":
		if ResolveTelemetryEndpoint(cfg) == "" {
			warnings = append(warnings, "telemetry sink is http but no endpoint is configured; events will be logged instead")
		}
	default:
		warnings = append(warnings, "unknown telemetry sink "+cfg.Telemetry.Sink+"; events will be logged")
	}
	switch cfg.Server.Transport {
	case "stdio", "tcp", "websocket":
	default:
		warnings = append(warnings, "unknown server transport "+cfg.Server.Transport)
	}
	return warnings
}

// ResolveGenerationBaseURL returns the generation API base URL.
// Priority: $GHOSTLET_GENERATION_API_BASE_URL env > config value.
func ResolveGenerationBaseURL(cfg *Config) string {
	if url := os.Getenv("GHOSTLET_GENERATION_API_BASE_URL"); url != "" {
		return url
	}
	if cfg != nil {
		return cfg.Generation.BaseURL
	}
	return ""
}

// ResolveGenerationAPIKey returns the generation API key.
// Priority: $GHOSTLET_GENERATION_API_KEY env > config value.
func ResolveGenerationAPIKey(cfg *Config) string {
	if key := os.Getenv("GHOSTLET_GENERATION_API_KEY"); key != "" {
		return key
	}
	if cfg != nil {
		return cfg.Generation.APIKey
	}
	return ""
}

// ResolveGenerationModel returns the generation model name.
// Priority: $GHOSTLET_GENERATION_MODEL env > config value.
func ResolveGenerationModel(cfg *Config) string {
	if model := os.Getenv("GHOSTLET_GENERATION_MODEL"); model != "" {
		return model
	}
	if cfg != nil {
		return cfg.Generation.Model
	}
	return ""
}

// ResolveTelemetryEndpoint returns the HTTP endpoint for telemetry events.
// Priority: $GHOSTLET_TELEMETRY_ENDPOINT env > config value.
func ResolveTelemetryEndpoint(cfg *Config) string {
	if url := os.Getenv("GHOSTLET_TELEMETRY_ENDPOINT"); url != "" {
		return url
	}
	if cfg != nil {
		return cfg.Telemetry.Endpoint
	}
	return ""
}

// GenerationTimeout returns the per-call timeout for the generation API.
func GenerationTimeout(cfg *Config) time.Duration {
	if cfg == nil || cfg.Generation.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(cfg.Generation.TimeoutSeconds) * time.Second
}

// RecordTTL returns how long an unanswered correlation record is kept.
// Zero means records live until accepted, rejected or their document closes.
func RecordTTL(cfg *Config) time.Duration {
	if cfg == nil || cfg.Telemetry.RecordTTLMinutes == nil {
		return time.Hour
	}
	if *cfg.Telemetry.RecordTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(*cfg.Telemetry.RecordTTLMinutes) * time.Minute
}

// OpenRouterTelemetryEnabled returns whether OpenRouter attribution headers should be sent.
func OpenRouterTelemetryEnabled(cfg *Config) bool {
	if cfg == nil || cfg.Telemetry.OpenRouter == nil {
		return true // default true
	}
	return *cfg.Telemetry.OpenRouter
}
