// Package config defines the service configuration loaded from YAML with
// environment variable expansion.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the service.
type Config struct {
	Server        ServerConfig            `yaml:"server"`
	Database      DatabaseConfig          `yaml:"database"`
	Vector        VectorConfig            `yaml:"vector"`
	Embedder      EmbedderConfig          `yaml:"embedder"`
	LLMs          map[string]LLMConfig    `yaml:"llms"`
	Agent         AgentConfig             `yaml:"agent"`
	Registry      RegistryConfig          `yaml:"registry"`
	Chunker       ChunkerConfig           `yaml:"chunker"`
	Ingest        IngestConfig            `yaml:"ingest"`
	Observability ObservabilityConfig     `yaml:"observability"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host      string          `yaml:"host"`
	Port      int             `yaml:"port"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// RateLimitConfig throttles authenticated callers. Limits apply per
// user in fixed one-minute windows.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute,omitempty"`
}

func (c *RateLimitConfig) SetDefaults() {
	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = 60
	}
}

func (c *RateLimitConfig) Validate() error {
	if c.Enabled && c.RequestsPerMinute < 1 {
		return fmt.Errorf("requests_per_minute must be positive")
	}
	return nil
}

// AuthConfig configures request authentication.
//
// Two modes are supported:
//   - "static": bearer tokens from StaticKeys map (token -> user_id)
//   - "jwt": tokens validated against a JWKS endpoint
type AuthConfig struct {
	Mode       string            `yaml:"mode"`
	StaticKeys map[string]string `yaml:"static_keys,omitempty"`
	JWKSURL    string            `yaml:"jwks_url,omitempty"`
	Issuer     string            `yaml:"issuer,omitempty"`
	Audience   string            `yaml:"audience,omitempty"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Database string `yaml:"database,omitempty"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`
	// Path is the database file for sqlite.
	Path     string `yaml:"path,omitempty"`
	MaxConns int    `yaml:"max_conns,omitempty"`
	MaxIdle  int    `yaml:"max_idle,omitempty"`
}

// ConnectionString builds the driver-specific DSN.
func (c *DatabaseConfig) ConnectionString() string {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Database)
	case "sqlite":
		return c.Path
	default:
		return ""
	}
}

// SetDefaults applies default values.
func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.Driver == "sqlite" && c.Path == "" {
		c.Path = "kepler.db"
	}
	if c.Driver == "postgres" {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 5432
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
	}
	if c.Driver == "mysql" {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 3306
		}
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}
}

// Validate checks the configuration.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", c.Driver)
	}
	if c.Driver == "sqlite" && c.Path == "" {
		return fmt.Errorf("sqlite driver requires a path")
	}
	if c.Driver != "sqlite" && c.Database == "" {
		return fmt.Errorf("%s driver requires a database name", c.Driver)
	}
	return nil
}

// VectorConfig selects and configures the vector backend.
type VectorConfig struct {
	Type       string         `yaml:"type"`
	Collection string         `yaml:"collection"`
	Chromem    *ChromemConfig `yaml:"chromem,omitempty"`
	Qdrant     *QdrantConfig  `yaml:"qdrant,omitempty"`
}

// ChromemConfig configures the embedded vector backend.
type ChromemConfig struct {
	PersistPath string `yaml:"persist_path,omitempty"`
	Compress    bool   `yaml:"compress,omitempty"`
}

// QdrantConfig configures the Qdrant vector backend.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls,omitempty"`
}

func (c *VectorConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Collection == "" {
		c.Collection = "papers"
	}
	if c.Type == "chromem" && c.Chromem == nil {
		c.Chromem = &ChromemConfig{}
	}
}

func (c *VectorConfig) Validate() error {
	switch c.Type {
	case "chromem":
		return nil
	case "qdrant":
		if c.Qdrant == nil {
			return fmt.Errorf("qdrant configuration is required")
		}
		if c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant host is required")
		}
		return nil
	default:
		return fmt.Errorf("unsupported vector backend: %s (supported: chromem, qdrant)", c.Type)
	}
}

// EmbedderConfig configures the embeddings client.
type EmbedderConfig struct {
	Type      string `yaml:"type"`
	Model     string `yaml:"model,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	Host      string `yaml:"host,omitempty"`
	Dimension int    `yaml:"dimension,omitempty"`
	BatchSize int    `yaml:"batch_size,omitempty"`
	// Timeout in seconds.
	Timeout    int `yaml:"timeout,omitempty"`
	MaxRetries int `yaml:"max_retries,omitempty"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.APIKey == "" {
		c.APIKey = ProviderAPIKey(c.Type)
	}
}

// LLMConfig configures one LLM provider.
type LLMConfig struct {
	Type   string `yaml:"type"`
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key,omitempty"`
	Host   string `yaml:"host,omitempty"`
	// Temperature is a pointer so 0 can be distinguished from unset.
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
	// Timeout in seconds.
	Timeout    int `yaml:"timeout,omitempty"`
	MaxRetries int `yaml:"max_retries,omitempty"`
	// RetryDelay in seconds between retry attempts.
	RetryDelay int `yaml:"retry_delay,omitempty"`
}

func (c *LLMConfig) SetDefaults() {
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
	if c.APIKey == "" {
		c.APIKey = ProviderAPIKey(c.Type)
	}
}

func (c *LLMConfig) Validate() error {
	switch c.Type {
	case "openai", "anthropic", "gemini", "ollama":
	default:
		return fmt.Errorf("unsupported LLM provider: %s (supported: openai, anthropic, gemini, ollama)", c.Type)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required for LLM provider %s", c.Type)
	}
	return nil
}

// AgentConfig holds the defaults for the orchestration loop. Per-request
// values from StreamOptions override these.
type AgentConfig struct {
	DefaultProvider      string  `yaml:"default_provider"`
	MaxIterations        int     `yaml:"max_iterations"`
	MaxRetrievalAttempts int     `yaml:"max_retrieval_attempts"`
	GuardrailThreshold   int     `yaml:"guardrail_threshold"`
	TopK                 int     `yaml:"top_k"`
	ConversationWindow   int     `yaml:"conversation_window"`
	Temperature          float64 `yaml:"temperature"`
	// TimeoutSeconds bounds a single stream request.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// CheckpointTTLSeconds bounds how long a paused run can be resumed.
	CheckpointTTLSeconds int `yaml:"checkpoint_ttl_seconds"`
}

func (c *AgentConfig) SetDefaults() {
	if c.DefaultProvider == "" {
		c.DefaultProvider = "openai"
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 3
	}
	if c.MaxRetrievalAttempts == 0 {
		c.MaxRetrievalAttempts = 2
	}
	if c.GuardrailThreshold == 0 {
		c.GuardrailThreshold = 75
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.ConversationWindow == 0 {
		c.ConversationWindow = 5
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 300
	}
	if c.CheckpointTTLSeconds == 0 {
		c.CheckpointTTLSeconds = 1800
	}
}

// RegistryConfig configures the external paper registry client.
type RegistryConfig struct {
	BaseURL    string `yaml:"base_url,omitempty"`
	MaxResults int    `yaml:"max_results,omitempty"`
	// Timeout in seconds.
	Timeout    int `yaml:"timeout,omitempty"`
	MaxRetries int `yaml:"max_retries,omitempty"`
}

func (c *RegistryConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://export.arxiv.org/api/query"
	}
	if c.MaxResults == 0 {
		c.MaxResults = 10
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// ChunkerConfig configures paper chunking.
type ChunkerConfig struct {
	TargetTokens  int    `yaml:"target_tokens,omitempty"`
	OverlapTokens int    `yaml:"overlap_tokens,omitempty"`
	Encoding      string `yaml:"encoding,omitempty"`
}

func (c *ChunkerConfig) SetDefaults() {
	if c.TargetTokens == 0 {
		c.TargetTokens = 512
	}
	if c.OverlapTokens == 0 {
		c.OverlapTokens = 64
	}
	if c.Encoding == "" {
		c.Encoding = "cl100k_base"
	}
}

func (c *ChunkerConfig) Validate() error {
	if c.TargetTokens <= 0 {
		return fmt.Errorf("target_tokens must be positive, got %d", c.TargetTokens)
	}
	if c.OverlapTokens < 0 {
		return fmt.Errorf("overlap_tokens must be non-negative, got %d", c.OverlapTokens)
	}
	if c.OverlapTokens >= c.TargetTokens {
		return fmt.Errorf("overlap_tokens (%d) must be less than target_tokens (%d)", c.OverlapTokens, c.TargetTokens)
	}
	return nil
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	Concurrency int `yaml:"concurrency,omitempty"`
}

func (c *IngestConfig) SetDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = 3
	}
}

// ObservabilityConfig configures tracing.
type ObservabilityConfig struct {
	TracingEnabled bool   `yaml:"tracing_enabled"`
	ServiceName    string `yaml:"service_name,omitempty"`
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "kepler"
	}
}

// SetDefaults applies defaults to all sections.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Auth.Mode == "" {
		c.Server.Auth.Mode = "static"
	}
	c.Server.RateLimit.SetDefaults()
	c.Database.SetDefaults()
	c.Vector.SetDefaults()
	c.Embedder.SetDefaults()
	if c.LLMs == nil {
		c.LLMs = map[string]LLMConfig{}
	}
	for name, llm := range c.LLMs {
		if llm.Type == "" {
			llm.Type = name
		}
		llm.SetDefaults()
		c.LLMs[name] = llm
	}
	c.Agent.SetDefaults()
	c.Registry.SetDefaults()
	c.Chunker.SetDefaults()
	c.Ingest.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks all sections.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}
	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llms.%s: %w", name, err)
		}
	}
	if err := c.Chunker.Validate(); err != nil {
		return fmt.Errorf("chunker: %w", err)
	}
	if _, ok := c.LLMs[c.Agent.DefaultProvider]; !ok && len(c.LLMs) > 0 {
		return fmt.Errorf("agent.default_provider %q is not configured under llms", c.Agent.DefaultProvider)
	}
	switch c.Server.Auth.Mode {
	case "static", "jwt", "none":
	default:
		return fmt.Errorf("server.auth.mode must be one of static, jwt, none")
	}
	if c.Server.Auth.Mode == "jwt" && c.Server.Auth.JWKSURL == "" {
		return fmt.Errorf("server.auth.jwks_url is required in jwt mode")
	}
	if err := c.Server.RateLimit.Validate(); err != nil {
		return fmt.Errorf("server.rate_limit: %w", err)
	}
	return nil
}

// Load reads, expands, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	expanded := ExpandEnvVarsInData(raw)

	// Round-trip through YAML so the expanded tree lands in typed structs.
	expandedYAML, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode expanded config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expandedYAML, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied and no providers.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}
