package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Corpus     CorpusConfig
	Router     RouterConfig
	Judge      JudgeConfig
	Registry   RegistryConfig
	Datasets   DatasetsConfig
	Evaluation EvaluationConfig
	Logging    LoggingConfig
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

type LLMConfig struct {
	APIKey          string
	Model           string
	JudgeModel      string
	EmbeddingModel  string
	ChatTemperature float32
	MaxTokens       int
}

type CorpusConfig struct {
	Paths        []string
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

type RouterConfig struct {
	Keywords []string
}

type JudgeConfig struct {
	PromptName string
}

type RegistryConfig struct {
	BaseURL    string
	APIKey     string
	TimeoutSec int
}

type DatasetsConfig struct {
	Source  string
	Result  string
	History string
}

type EvaluationConfig struct {
	DelayMS  int
	Schedule string
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
	viper.AddConfigPath("/etc/ev-agent")

	viper.SetEnvPrefix("EV_AGENT")
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

	viper.SetDefault("sqlite.path", "./data/evagent.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.model", "gpt-4o")
	viper.SetDefault("llm.judgeModel", "gpt-4o")
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.chatTemperature", 0.7)
	viper.SetDefault("llm.maxTokens", 2048)

	viper.SetDefault("corpus.paths", []string{"./docs/tesla_kr.md", "./docs/rivian_kr.md"})
	viper.SetDefault("corpus.chunkSize", 800)
	viper.SetDefault("corpus.chunkOverlap", 120)
	viper.SetDefault("corpus.topK", 6)

	// A keyword hit decides RAG outright; the LLM classifier is never consulted.
	viper.SetDefault("router.keywords", []string{
		"ev", "전기차", "배터리", "주행거리", "충전", "충전소", "슈퍼차저", "초급속",
		"테슬라", "리비안", "rivian", "tesla", "모델 y", "모델 3", "model y", "model 3",
		"r1t", "r1s", "heat pump", "오토파일럿", "fsd", "기가팩토리", "ota",
	})

	viper.SetDefault("judge.promptName", "accuracy_judge_prompt")

	viper.SetDefault("registry.baseURL", "")
	viper.SetDefault("registry.timeoutSec", 10)

	viper.SetDefault("datasets.source", "Agent_QA_Scenario")
	viper.SetDefault("datasets.result", "Agent_QA_Scenario_Judge_Result")
	viper.SetDefault("datasets.history", "Agent_QA_Scenario_Judge_History")

	viper.SetDefault("evaluation.delayMs", 1000)
	viper.SetDefault("evaluation.schedule", "")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
