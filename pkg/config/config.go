package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Graph     GraphConfig
	Neo4j     Neo4jConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Pipeline  PipelineConfig
	Cascade   CascadeConfig
	Quality   QualityConfig
	Weights   WeightsConfig
	Retrieval RetrievalConfig
	Metrics   MetricsConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        int
	WriteTimeout       int
	BodyLimit          int
	RateLimitPerMinute int
}

// GraphConfig selects the graph storage backend. "neo4j" is the production
// backend; "memory" keeps the graph in-process for local runs and tests.
type GraphConfig struct {
	Backend string
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Provider        string
	BaseURL         string
	APIKey          string
	Temperature     float32
	MaxTokens       int
	MaxPromptTokens int
	Encoding        string
}

type PipelineConfig struct {
	WindowSize         int
	WindowOverlap      int
	MaxParallelWindows int
	Language           string
}

// CascadeConfig holds the per-rank model identifiers and timeout budgets.
// There is no in-rank retry; a rank gets exactly one attempt per window.
type CascadeConfig struct {
	PrimaryModel        string
	PrimaryTimeoutSec   int
	SecondaryModel      string
	SecondaryTimeoutSec int
}

type QualityConfig struct {
	NoiseTypes     []string
	MinNameLength  int
	TypeMinLengths map[string]int
	Articles       map[string][]string
}

type WeightsConfig struct {
	NeutralDefault float64
}

type RetrievalConfig struct {
	DefaultMaxHops int
	MaxHops        int
	DefaultLimit   int
	MaxLimit       int
	Presets        map[string]float64
	CacheTTLSec    int
}

type MetricsConfig struct {
	BufferSize         int
	RetentionSec       int
	DefaultLookbackSec int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/kgforge")

	viper.SetEnvPrefix("KGFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)
	viper.SetDefault("server.rateLimitPerMinute", 120)

	viper.SetDefault("graph.backend", "neo4j")

	viper.SetDefault("neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "password")
	viper.SetDefault("neo4j.database", "neo4j")

	viper.SetDefault("sqlite.path", "./data/kgforge.db")

	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.baseURL", "")
	viper.SetDefault("llm.temperature", 0.1)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.maxPromptTokens", 6000)
	viper.SetDefault("llm.encoding", "cl100k_base")

	viper.SetDefault("pipeline.windowSize", 3)
	viper.SetDefault("pipeline.windowOverlap", 1)
	viper.SetDefault("pipeline.maxParallelWindows", 4)
	viper.SetDefault("pipeline.language", "en")

	viper.SetDefault("cascade.primaryModel", "gpt-4o")
	viper.SetDefault("cascade.primaryTimeoutSec", 30)
	viper.SetDefault("cascade.secondaryModel", "gpt-4o-mini")
	viper.SetDefault("cascade.secondaryTimeoutSec", 20)

	viper.SetDefault("quality.noiseTypes", []string{
		"CARDINAL", "ORDINAL", "MONEY", "PERCENT", "QUANTITY", "TIME",
	})
	viper.SetDefault("quality.minNameLength", 2)
	viper.SetDefault("quality.typeMinLengths", map[string]int{"DATE": 4})
	viper.SetDefault("quality.articles.en", []string{"the", "a", "an"})
	viper.SetDefault("quality.articles.de", []string{"der", "die", "das", "ein", "eine"})
	viper.SetDefault("quality.articles.fr", []string{"le", "la", "les", "un", "une", "l'"})
	viper.SetDefault("quality.articles.es", []string{"el", "la", "los", "las", "un", "una"})

	viper.SetDefault("weights.neutralDefault", 0.5)

	viper.SetDefault("retrieval.defaultMaxHops", 2)
	viper.SetDefault("retrieval.maxHops", 4)
	viper.SetDefault("retrieval.defaultLimit", 20)
	viper.SetDefault("retrieval.maxLimit", 100)
	viper.SetDefault("retrieval.presets", map[string]float64{
		"exploratory": 0.25,
		"balanced":    0.5,
		"strict":      0.75,
	})
	viper.SetDefault("retrieval.cacheTTLSec", 300)

	viper.SetDefault("metrics.bufferSize", 1024)
	viper.SetDefault("metrics.retentionSec", 3600)
	viper.SetDefault("metrics.defaultLookbackSec", 600)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
