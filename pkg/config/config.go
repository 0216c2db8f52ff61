package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	SQLite   SQLiteConfig
	Redis    RedisConfig
	Scorer   ScorerConfig
	Matching MatchingConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
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

type ScorerConfig struct {
	Mode           string
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
}

type MatchingConfig struct {
	AcceptThreshold   int
	CoveredThreshold  int
	FailureBudget     float64
	RunTimeoutSec     int
	CandidatePageSize int
	ScoreCacheTTLMin  int
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
	viper.AddConfigPath("/etc/covermap")

	viper.SetEnvPrefix("COVERMAP")
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
	viper.SetDefault("server.writeTimeout", 180)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/covermap.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("scorer.mode", "llm")
	viper.SetDefault("scorer.model", "gpt-4")
	viper.SetDefault("scorer.embeddingModel", "text-embedding-3-large")
	viper.SetDefault("scorer.temperature", 0.1)
	viper.SetDefault("scorer.maxTokens", 300)

	viper.SetDefault("matching.acceptThreshold", 60)
	viper.SetDefault("matching.coveredThreshold", 80)
	viper.SetDefault("matching.failureBudget", 0.5)
	viper.SetDefault("matching.runTimeoutSec", 120)
	viper.SetDefault("matching.candidatePageSize", 100)
	viper.SetDefault("matching.scoreCacheTTLMin", 1440)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
