// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Data    DataConfig    `mapstructure:"data"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Chunk   ChunkConfig   `mapstructure:"chunk"`
	Embed   EmbedConfig   `mapstructure:"embedding"`
	Rerank  RerankConfig  `mapstructure:"reranker"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Query   QueryConfig   `mapstructure:"query"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DataConfig sets paths for on-disk artifacts.
type DataConfig struct {
	Dir       string `mapstructure:"dir"`
	StateFile string `mapstructure:"state_file"`
	IndexFile string `mapstructure:"index_file"`
}

// CrawlerConfig governs the harvesting loop.
type CrawlerConfig struct {
	ListURL          string `mapstructure:"list_url"`
	ListURLTemplate  string `mapstructure:"list_url_template"`
	Source           string `mapstructure:"source"`
	UserAgent        string `mapstructure:"user_agent"`
	Concurrency      int    `mapstructure:"concurrency"`
	MaxPagesDefault  int    `mapstructure:"max_pages_default"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	MaxBodyBytes     int64  `mapstructure:"max_body_bytes"`
	MinContentChars  int    `mapstructure:"min_content_chars"`
}

// ChunkConfig controls text windowing before embedding.
type ChunkConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

// EmbedConfig points at the embedding service.
type EmbedConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	BatchSize int    `mapstructure:"batch_size"`
}

// RerankConfig points at the rerank scoring service.
type RerankConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	BatchSize int    `mapstructure:"batch_size"`
}

// LLMConfig describes one generation provider endpoint.
type LLMConfig struct {
	Primary  ProviderConfig `mapstructure:"primary"`
	Fallback ProviderConfig `mapstructure:"fallback"`
	Timeout  int            `mapstructure:"timeout_seconds"`
}

// ProviderConfig holds the connection details for a chat-completions API.
type ProviderConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// QueryConfig tunes the retrieval pipeline.
type QueryConfig struct {
	TopK        int `mapstructure:"top_k"`
	ContextDocs int `mapstructure:"context_docs"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8001)
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.state_file", "crawler_state.json")
	v.SetDefault("data.index_file", "vector_index.bin")
	v.SetDefault("crawler.list_url", "https://is.nju.edu.cn/57162/list.htm")
	v.SetDefault("crawler.list_url_template", "https://is.nju.edu.cn/57162/list%d.htm")
	v.SetDefault("crawler.source", "is.nju.edu.cn")
	v.SetDefault("crawler.user_agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("crawler.concurrency", 3)
	v.SetDefault("crawler.max_pages_default", 50)
	v.SetDefault("crawler.timeout_seconds", 10)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.backoff_initial_ms", 2000)
	v.SetDefault("crawler.backoff_max_ms", 10000)
	v.SetDefault("crawler.max_body_bytes", 5*1024*1024)
	v.SetDefault("crawler.min_content_chars", 50)
	v.SetDefault("chunk.size", 512)
	v.SetDefault("chunk.overlap", 64)
	v.SetDefault("embedding.base_url", "http://localhost:9001/v1")
	v.SetDefault("embedding.model", "bge-small-zh-v1.5")
	v.SetDefault("embedding.batch_size", 8)
	v.SetDefault("reranker.base_url", "http://localhost:9002/v1")
	v.SetDefault("reranker.model", "bge-reranker-base")
	v.SetDefault("reranker.batch_size", 8)
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("llm.primary.name", "doubao")
	v.SetDefault("llm.primary.base_url", "https://ark.cn-beijing.volces.com/api/v3")
	v.SetDefault("llm.primary.model", "doubao-seed-1-6-251015")
	v.SetDefault("llm.fallback.name", "openai")
	v.SetDefault("llm.fallback.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.fallback.model", "gpt-3.5-turbo")
	v.SetDefault("query.top_k", 20)
	v.SetDefault("query.context_docs", 5)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.ListURL == "" || !strings.Contains(c.Crawler.ListURLTemplate, "%d") {
		return fmt.Errorf("crawler.list_url and a list_url_template containing %%d are required")
	}
	if c.Chunk.Size <= 0 || c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("chunk.overlap must be in [0, chunk.size)")
	}
	if c.Query.TopK <= 0 || c.Query.ContextDocs <= 0 {
		return fmt.Errorf("query.top_k and query.context_docs must be > 0")
	}
	return nil
}

// FetchTimeout returns the per-request fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// GenerateTimeout returns the per-call generation budget.
func (c Config) GenerateTimeout() time.Duration {
	return time.Duration(c.LLM.Timeout) * time.Second
}
