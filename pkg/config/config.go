// Package config defines the engine's configuration surface.
//
// Configuration objects are immutable after construction: the loader in
// cmd/docurag populates a Config once, Validate is called per selected
// backend, and the result is passed down by value. Components never
// mutate their config at runtime.
package config

import (
	"fmt"
	"time"
)

// AI provider names accepted by Config.AIProvider.
const (
	ProviderOpenAI      = "OpenAI"
	ProviderAnthropic   = "Anthropic"
	ProviderGemini      = "Gemini"
	ProviderAzureOpenAI = "AzureOpenAI"
	ProviderCustom      = "Custom"
)

// Storage provider names accepted by Config.StorageProvider and
// Config.ConversationStorageProvider.
const (
	StorageInMemory   = "InMemory"
	StorageSQLite     = "SQLite"
	StorageRedis      = "Redis"
	StorageQdrant     = "Qdrant"
	StorageFileSystem = "FileSystem"
)

// Retry policy names.
const (
	RetryNone               = "None"
	RetryFixedDelay         = "FixedDelay"
	RetryLinearBackoff      = "LinearBackoff"
	RetryExponentialBackoff = "ExponentialBackoff"
)

// Config is the root configuration object.
type Config struct {
	AIProvider                  string `json:"ai_provider" mapstructure:"ai_provider"`
	StorageProvider             string `json:"storage_provider" mapstructure:"storage_provider"`
	ConversationStorageProvider string `json:"conversation_storage_provider,omitempty" mapstructure:"conversation_storage_provider"`

	Chunking  ChunkingConfig  `json:"chunking" mapstructure:"chunking"`
	Retry     RetryConfig     `json:"retry" mapstructure:"retry"`
	Retrieval RetrievalConfig `json:"retrieval" mapstructure:"retrieval"`
	Session   SessionConfig   `json:"session" mapstructure:"session"`
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`

	EnableFallbackProviders bool     `json:"enable_fallback_providers" mapstructure:"enable_fallback_providers"`
	FallbackProviders       []string `json:"fallback_providers,omitempty" mapstructure:"fallback_providers"`

	// Per-provider options, keyed by provider name.
	Providers map[string]ProviderConfig `json:"providers" mapstructure:"providers"`

	Storage   StorageConfig  `json:"storage" mapstructure:"storage"`
	Watcher   WatcherConfig  `json:"watcher" mapstructure:"watcher"`
	MCP       MCPConfig      `json:"mcp" mapstructure:"mcp"`
	Databases DatabaseConfig `json:"databases" mapstructure:"databases"`
}

// ProviderConfig holds the options recognized per AI backend. Only the
// subset required by the selected backend is validated.
type ProviderConfig struct {
	APIKey                 string  `json:"api_key,omitempty" mapstructure:"api_key"`
	Endpoint               string  `json:"endpoint,omitempty" mapstructure:"endpoint"`
	Model                  string  `json:"model,omitempty" mapstructure:"model"`
	EmbeddingModel         string  `json:"embedding_model,omitempty" mapstructure:"embedding_model"`
	EmbeddingAPIKey        string  `json:"embedding_api_key,omitempty" mapstructure:"embedding_api_key"`
	EmbeddingEndpoint      string  `json:"embedding_endpoint,omitempty" mapstructure:"embedding_endpoint"`
	MaxTokens              int     `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
	Temperature            float32 `json:"temperature,omitempty" mapstructure:"temperature"`
	SystemMessage          string  `json:"system_message,omitempty" mapstructure:"system_message"`
	APIVersion             string  `json:"api_version,omitempty" mapstructure:"api_version"`
	EmbeddingMinIntervalMs int     `json:"embedding_min_interval_ms,omitempty" mapstructure:"embedding_min_interval_ms"`
}

// EmbeddingMinInterval returns the minimum inter-request interval for
// the provider's embedding endpoint, or zero when unset.
func (p ProviderConfig) EmbeddingMinInterval() time.Duration {
	return time.Duration(p.EmbeddingMinIntervalMs) * time.Millisecond
}

// ChunkingConfig controls the sentence-aware splitter. Sizes are in
// characters.
type ChunkingConfig struct {
	MaxChunkSize int `json:"max_chunk_size" mapstructure:"max_chunk_size"`
	MinChunkSize int `json:"min_chunk_size" mapstructure:"min_chunk_size"`
	ChunkOverlap int `json:"chunk_overlap" mapstructure:"chunk_overlap"`
}

// RetryConfig controls the resilient caller.
type RetryConfig struct {
	MaxRetryAttempts int    `json:"max_retry_attempts" mapstructure:"max_retry_attempts"`
	RetryDelayMs     int    `json:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	RetryPolicy      string `json:"retry_policy" mapstructure:"retry_policy"`
}

// BaseDelay returns the configured delay as a duration.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.RetryDelayMs) * time.Millisecond
}

// RetrievalConfig controls hybrid scoring and context assembly. The
// fusion weights are surfaced here rather than hard-coded; they must
// sum to 1.
type RetrievalConfig struct {
	TopK             int     `json:"top_k" mapstructure:"top_k"`
	SemanticWeight   float32 `json:"semantic_weight" mapstructure:"semantic_weight"`
	LexicalWeight    float32 `json:"lexical_weight" mapstructure:"lexical_weight"`
	ScoreThreshold   float32 `json:"score_threshold" mapstructure:"score_threshold"`
	MaxContextTokens int     `json:"max_context_tokens" mapstructure:"max_context_tokens"`
}

// SessionConfig bounds conversation history.
type SessionConfig struct {
	MaxTurns  int `json:"max_turns" mapstructure:"max_turns"`
	MaxTokens int `json:"max_tokens" mapstructure:"max_tokens"`
}

// EmbeddingConfig controls the batcher.
type EmbeddingConfig struct {
	BatchSize    int `json:"batch_size" mapstructure:"batch_size"`
	Workers      int `json:"workers" mapstructure:"workers"`
	BatchDelayMs int `json:"batch_delay_ms" mapstructure:"batch_delay_ms"`
	CacheSize    int `json:"cache_size" mapstructure:"cache_size"`
}

// StorageConfig holds backend-specific storage options.
type StorageConfig struct {
	Dimension        int    `json:"dimension,omitempty" mapstructure:"dimension"`
	SQLitePath       string `json:"sqlite_path,omitempty" mapstructure:"sqlite_path"`
	RedisAddr        string `json:"redis_addr,omitempty" mapstructure:"redis_addr"`
	RedisPassword    string `json:"redis_password,omitempty" mapstructure:"redis_password"`
	RedisDB          int    `json:"redis_db,omitempty" mapstructure:"redis_db"`
	QdrantHost       string `json:"qdrant_host,omitempty" mapstructure:"qdrant_host"`
	QdrantPort       int    `json:"qdrant_port,omitempty" mapstructure:"qdrant_port"`
	QdrantCollection string `json:"qdrant_collection,omitempty" mapstructure:"qdrant_collection"`
	FileSystemDir    string `json:"file_system_dir,omitempty" mapstructure:"file_system_dir"`
}

// WatcherConfig controls the folder watcher.
type WatcherConfig struct {
	Enable        bool     `json:"enable" mapstructure:"enable"`
	BaseDirectory string   `json:"base_directory,omitempty" mapstructure:"base_directory"`
	Folders       []string `json:"folders,omitempty" mapstructure:"folders"`
	Extensions    []string `json:"extensions,omitempty" mapstructure:"extensions"`
	DebounceMs    int      `json:"debounce_ms" mapstructure:"debounce_ms"`
}

// MCPServerConfig describes one external tool server.
type MCPServerConfig struct {
	Name      string   `json:"name" mapstructure:"name"`
	URL       string   `json:"url" mapstructure:"url"`
	Transport string   `json:"transport,omitempty" mapstructure:"transport"` // "http" (default) or "websocket"
	Keywords  []string `json:"keywords,omitempty" mapstructure:"keywords"`
	TimeoutMs int      `json:"timeout_ms,omitempty" mapstructure:"timeout_ms"`
}

// MCPConfig controls external tool search.
type MCPConfig struct {
	Enable     bool              `json:"enable" mapstructure:"enable"`
	Servers    []MCPServerConfig `json:"servers,omitempty" mapstructure:"servers"`
	CacheTTLMs int               `json:"cache_ttl_ms" mapstructure:"cache_ttl_ms"`
}

// DatabaseConnection describes one relational database available to the
// query router.
type DatabaseConnection struct {
	Name        string   `json:"name" mapstructure:"name"`
	Driver      string   `json:"driver" mapstructure:"driver"`
	DSN         string   `json:"dsn" mapstructure:"dsn"`
	SchemaTerms []string `json:"schema_terms,omitempty" mapstructure:"schema_terms"`
}

// DatabaseConfig controls the multi-database query path.
type DatabaseConfig struct {
	Connections                         []DatabaseConnection `json:"connections,omitempty" mapstructure:"connections"`
	EnableAutoSchemaAnalysis            bool                 `json:"enable_auto_schema_analysis" mapstructure:"enable_auto_schema_analysis"`
	EnablePeriodicSchemaRefresh         bool                 `json:"enable_periodic_schema_refresh" mapstructure:"enable_periodic_schema_refresh"`
	DefaultSchemaRefreshIntervalMinutes int                  `json:"default_schema_refresh_interval_minutes" mapstructure:"default_schema_refresh_interval_minutes"`
}

// Default returns the engine defaults.
func Default() *Config {
	return &Config{
		AIProvider:      ProviderOpenAI,
		StorageProvider: StorageInMemory,
		Chunking: ChunkingConfig{
			MaxChunkSize: 1000,
			MinChunkSize: 100,
			ChunkOverlap: 200,
		},
		Retry: RetryConfig{
			MaxRetryAttempts: 3,
			RetryDelayMs:     1000,
			RetryPolicy:      RetryExponentialBackoff,
		},
		Retrieval: RetrievalConfig{
			TopK:             5,
			SemanticWeight:   0.8,
			LexicalWeight:    0.2,
			ScoreThreshold:   0.25,
			MaxContextTokens: 4000,
		},
		Session: SessionConfig{
			MaxTurns:  20,
			MaxTokens: 4000,
		},
		Embedding: EmbeddingConfig{
			BatchSize:    200,
			Workers:      3,
			BatchDelayMs: 200,
			CacheSize:    10000,
		},
		Providers: make(map[string]ProviderConfig),
		Watcher: WatcherConfig{
			DebounceMs: 500,
			Extensions: []string{".txt", ".md", ".pdf", ".docx"},
		},
		MCP: MCPConfig{
			CacheTTLMs: 300000,
		},
		Databases: DatabaseConfig{
			DefaultSchemaRefreshIntervalMinutes: 60,
		},
	}
}

// Provider returns the options for the named provider, or a zero value
// when none are configured.
func (c *Config) Provider(name string) ProviderConfig {
	if c.Providers == nil {
		return ProviderConfig{}
	}
	return c.Providers[name]
}

// Validate checks the cross-cutting options and the names of the
// selected backends. Provider-specific required fields are validated by
// the provider constructors at first use.
func (c *Config) Validate() error {
	switch c.AIProvider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderAzureOpenAI, ProviderCustom:
	default:
		return fmt.Errorf("config: unknown ai_provider %q", c.AIProvider)
	}

	if err := validateStorageName("storage_provider", c.StorageProvider); err != nil {
		return err
	}
	if c.ConversationStorageProvider != "" {
		if err := validateStorageName("conversation_storage_provider", c.ConversationStorageProvider); err != nil {
			return err
		}
	}

	if c.Chunking.MaxChunkSize <= 0 {
		return fmt.Errorf("config: max_chunk_size must be positive")
	}
	if c.Chunking.MinChunkSize < 0 || c.Chunking.MinChunkSize > c.Chunking.MaxChunkSize {
		return fmt.Errorf("config: min_chunk_size must be in [0, max_chunk_size]")
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.MaxChunkSize {
		return fmt.Errorf("config: chunk_overlap must be in [0, max_chunk_size)")
	}

	switch c.Retry.RetryPolicy {
	case RetryNone, RetryFixedDelay, RetryLinearBackoff, RetryExponentialBackoff:
	default:
		return fmt.Errorf("config: unknown retry_policy %q", c.Retry.RetryPolicy)
	}

	sum := c.Retrieval.SemanticWeight + c.Retrieval.LexicalWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("config: fusion weights must sum to 1, got %.3f", sum)
	}

	if c.EnableFallbackProviders {
		for _, name := range c.FallbackProviders {
			switch name {
			case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderAzureOpenAI, ProviderCustom:
			default:
				return fmt.Errorf("config: unknown fallback provider %q", name)
			}
		}
	}

	return nil
}

func validateStorageName(key, name string) error {
	switch name {
	case StorageInMemory, StorageSQLite, StorageRedis, StorageQdrant, StorageFileSystem:
		return nil
	}
	return fmt.Errorf("config: unknown %s %q", key, name)
}
