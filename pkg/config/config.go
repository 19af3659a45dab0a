// Package config defines the application configuration and its loading
// pipeline: YAML → env-var expansion → struct decode → defaults → validation.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration document.
type Config struct {
	Server        ServerConfig                  `yaml:"server" mapstructure:"server"`
	Auth          AuthConfig                    `yaml:"auth" mapstructure:"auth"`
	LLMs          map[string]*LLMProviderConfig `yaml:"llms" mapstructure:"llms"`
	DefaultLLM    string                        `yaml:"default_llm" mapstructure:"default_llm"`
	EmbeddingLLM  string                        `yaml:"embedding_llm" mapstructure:"embedding_llm"`
	Vector        VectorConfig                  `yaml:"vector" mapstructure:"vector"`
	Store         StoreConfig                   `yaml:"store" mapstructure:"store"`
	Cache         CacheConfig                   `yaml:"cache" mapstructure:"cache"`
	Session       SessionConfig                 `yaml:"session" mapstructure:"session"`
	Observability ObservabilityConfig           `yaml:"observability" mapstructure:"observability"`
	Logging       LoggingConfig                 `yaml:"logging" mapstructure:"logging"`
	PromptDir     string                        `yaml:"prompt_dir" mapstructure:"prompt_dir"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Host           string        `yaml:"host" mapstructure:"host"`
	Port           int           `yaml:"port" mapstructure:"port"`
	TurnTimeout    time.Duration `yaml:"turn_timeout" mapstructure:"turn_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// Address returns the host:port listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig configures JWT validation. When Disabled is true every request
// is treated as an anonymous public principal (development only).
type AuthConfig struct {
	Disabled bool   `yaml:"disabled" mapstructure:"disabled"`
	JWKSURL  string `yaml:"jwks_url" mapstructure:"jwks_url"`
	Issuer   string `yaml:"issuer" mapstructure:"issuer"`
	Audience string `yaml:"audience" mapstructure:"audience"`
}

// LLMProviderConfig configures one LLM provider entry.
type LLMProviderConfig struct {
	Type           string        `yaml:"type" mapstructure:"type"` // openai | anthropic | ollama
	Model          string        `yaml:"model" mapstructure:"model"`
	APIKey         string        `yaml:"api_key" mapstructure:"api_key"`
	Host           string        `yaml:"host" mapstructure:"host"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens      int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature    float64       `yaml:"temperature" mapstructure:"temperature"`
	EmbeddingModel string        `yaml:"embedding_model" mapstructure:"embedding_model"`
}

// VectorConfig selects the embedding index backend.
type VectorConfig struct {
	Backend    string `yaml:"backend" mapstructure:"backend"` // memory | chromem | qdrant
	Path       string `yaml:"path" mapstructure:"path"`       // chromem persistence dir
	Host       string `yaml:"host" mapstructure:"host"`       // qdrant host
	Port       int    `yaml:"port" mapstructure:"port"`       // qdrant port
	Collection string `yaml:"collection" mapstructure:"collection"`
	Dimension  int    `yaml:"dimension" mapstructure:"dimension"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // memory | sqlite | postgres
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// CacheConfig configures the ephemeral key/value cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Size    int           `yaml:"size" mapstructure:"size"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// SessionConfig configures the session tracker.
type SessionConfig struct {
	WindowSize  int           `yaml:"window_size" mapstructure:"window_size"`
	GracePeriod time.Duration `yaml:"grace_period" mapstructure:"grace_period"`
}

// ObservabilityConfig toggles metrics and tracing.
type ObservabilityConfig struct {
	MetricsEnabled bool `yaml:"metrics_enabled" mapstructure:"metrics_enabled"`
	TracingEnabled bool `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // simple | verbose | json
}

// SetDefaults fills zero values with sensible defaults.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.TurnTimeout == 0 {
		c.Server.TurnTimeout = 30 * time.Second
	}
	if c.Auth.Audience == "" {
		c.Auth.Audience = "authenticated"
	}
	if c.LLMs == nil {
		c.LLMs = make(map[string]*LLMProviderConfig)
	}
	for _, llm := range c.LLMs {
		if llm.Timeout == 0 {
			llm.Timeout = 60 * time.Second
		}
		if llm.MaxTokens == 0 {
			llm.MaxTokens = 1024
		}
	}
	if c.DefaultLLM == "" && len(c.LLMs) == 1 {
		for name := range c.LLMs {
			c.DefaultLLM = name
		}
	}
	if c.EmbeddingLLM == "" {
		c.EmbeddingLLM = c.DefaultLLM
	}
	if c.Vector.Backend == "" {
		c.Vector.Backend = "memory"
	}
	if c.Vector.Collection == "" {
		c.Vector.Collection = "pendo_memory"
	}
	if c.Vector.Dimension == 0 {
		c.Vector.Dimension = 1536
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Cache.Size == 0 {
		c.Cache.Size = 4096
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 5 * time.Minute
	}
	if c.Session.WindowSize == 0 {
		c.Session.WindowSize = 20
	}
	if c.Session.GracePeriod == 0 {
		c.Session.GracePeriod = 10 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	for name, llm := range c.LLMs {
		switch llm.Type {
		case "openai", "anthropic", "ollama":
		default:
			return fmt.Errorf("llms.%s: unsupported type %q (supported: openai, anthropic, ollama)", name, llm.Type)
		}
		if llm.Model == "" {
			return fmt.Errorf("llms.%s: model is required", name)
		}
	}
	if c.DefaultLLM != "" {
		if _, ok := c.LLMs[c.DefaultLLM]; !ok {
			return fmt.Errorf("default_llm %q is not defined under llms", c.DefaultLLM)
		}
	}
	switch c.Vector.Backend {
	case "memory", "chromem", "qdrant":
	default:
		return fmt.Errorf("vector.backend %q unsupported (supported: memory, chromem, qdrant)", c.Vector.Backend)
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver %q unsupported (supported: memory, sqlite, postgres)", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
	}
	if !c.Auth.Disabled && c.Auth.JWKSURL == "" {
		return fmt.Errorf("auth.jwks_url is required unless auth.disabled is set")
	}
	return nil
}
