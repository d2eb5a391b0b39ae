package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Stores     StoresConfig
	Redis      RedisConfig
	Cache      CacheConfig
	Models     ModelsConfig
	LLM        LLMConfig
	Embedding  EmbeddingConfig
	Vector     VectorConfig
	Ingestion  IngestionConfig
	Extract    ExtractConfig
	RateLimit  RateLimitConfig
	Security   SecurityConfig
	Validation ValidationConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

// StoresConfig holds the two logical document stores: the experiment-keyed
// store and the flat answer ledger.
type StoresConfig struct {
	Experiments StoreConfig
	Ledger      StoreConfig
	MaxRetries  int
}

// StoreConfig mirrors the connection parameters of a document store.
// Driver is one of "redis", "sqlite" or "memory".
type StoreConfig struct {
	Driver   string
	Host     string
	User     string
	Password string
	Bucket   string
	Document string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CacheConfig struct {
	Enabled bool
	TTLSec  int
}

type ModelsConfig struct {
	Path string
}

type LLMConfig struct {
	SummaryModel string
	Temperature  float32
	MaxTokens    int
	TimeoutSec   int
}

type EmbeddingConfig struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKeyEnv string
	Dim       int
}

// VectorConfig selects the chunk index: "memory", "milvus"/"zilliz" or
// "pgvector".
type VectorConfig struct {
	Type     string
	Milvus   MilvusConfig
	Postgres PostgresConfig
}

type PostgresConfig struct {
	DSN   string
	Table string
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
}

type IngestionConfig struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

type ExtractConfig struct {
	TimeoutSec int
	MaxChars   int
	UserAgent  string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type SecurityConfig struct {
	AllowedOrigins []string
	IsDevelopment  bool
}

type ValidationConfig struct {
	MaxQuestionLength int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads config.yaml (optional) and WEBQA_* environment overrides.
// A .env file in the working directory is loaded first when present.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/webqa")
	}

	v.SetEnvPrefix("WEBQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 300)
	v.SetDefault("server.bodyLimit", 10485760)

	v.SetDefault("stores.experiments.driver", "redis")
	v.SetDefault("stores.experiments.host", "localhost:6379")
	v.SetDefault("stores.experiments.bucket", "bench")
	v.SetDefault("stores.experiments.document", "experiments")
	v.SetDefault("stores.ledger.driver", "redis")
	v.SetDefault("stores.ledger.host", "localhost:6379")
	v.SetDefault("stores.ledger.bucket", "chatbot")
	v.SetDefault("stores.ledger.document", "results")
	v.SetDefault("stores.maxRetries", 10)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttlSec", 3600)

	v.SetDefault("models.path", "config/models.yaml")

	v.SetDefault("llm.summaryModel", "")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 2048)
	v.SetDefault("llm.timeoutSec", 300)

	v.SetDefault("embedding.provider", "ollama")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.baseURL", "http://localhost:11434")
	v.SetDefault("embedding.dim", 768)

	v.SetDefault("vector.type", "memory")
	v.SetDefault("vector.milvus.endpoint", "localhost:19530")
	v.SetDefault("vector.milvus.collectionName", "web_chunks")
	v.SetDefault("vector.postgres.dsn", "postgres://localhost:5432/webqa?sslmode=disable")
	v.SetDefault("vector.postgres.table", "web_chunks")

	v.SetDefault("ingestion.chunkSize", 1000)
	v.SetDefault("ingestion.chunkOverlap", 100)
	v.SetDefault("ingestion.topK", 5)

	v.SetDefault("extract.timeoutSec", 30)
	v.SetDefault("extract.maxChars", 200000)
	v.SetDefault("extract.userAgent", "Mozilla/5.0 (compatible; web-chatbot/1.0)")

	v.SetDefault("rateLimit.requestsPerMinute", 120)

	v.SetDefault("security.isDevelopment", true)

	v.SetDefault("validation.maxQuestionLength", 5000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
