package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LLMConfig configures the answer generation model.
type LLMConfig struct {
	BaseURL           string  `yaml:"base_url"`
	Model             string  `yaml:"model"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
}

// EmbeddingConfig configures the embedding model. Dimension must match the
// model; it is fixed for the lifetime of the index.
type EmbeddingConfig struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	Dimension      int    `yaml:"dimension"`
	MaxInputTokens int    `yaml:"max_input_tokens"`
}

// RerankConfig configures the relevance scorer.
type RerankConfig struct {
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// DatabaseConfig configures the pgvector backend. An empty URL selects the
// in-memory index.
type DatabaseConfig struct {
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
	BatchSize int    `yaml:"batch_size"`
}

// ChunkerConfig bounds chunk sizes in tokens of the generation model's
// tokenizer family.
type ChunkerConfig struct {
	MaxTokens     int    `yaml:"max_tokens"`
	OverlapTokens int    `yaml:"overlap_tokens"`
	Encoding      string `yaml:"encoding"`
}

// PipelineConfig sets the retrieval/rerank widths and the decline phrases
// that mark an answer as "no answer".
type PipelineConfig struct {
	TopK                int      `yaml:"top_k"`
	TopN                int      `yaml:"top_n"`
	DeclinePatterns     []string `yaml:"decline_patterns"`
	StageTimeoutSeconds int      `yaml:"stage_timeout_seconds"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Database  DatabaseConfig  `yaml:"database"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Server    ServerConfig    `yaml:"server"`
}

// LoadConfig reads a YAML config file, merges environment variables and
// applies defaults. All values are fixed at process start.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/minirag/config.yaml"),
			"/etc/minirag/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "llama3.1"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1024
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.1
	}
	if config.LLM.RequestsPerMinute == 0 {
		config.LLM.RequestsPerMinute = 30
	}

	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = config.LLM.BaseURL
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text:latest"
	}
	if config.Embedding.Dimension == 0 {
		config.Embedding.Dimension = 768
	}
	if config.Embedding.MaxInputTokens == 0 {
		config.Embedding.MaxInputTokens = 8192
	}

	if config.Rerank.Model == "" {
		config.Rerank.Model = config.LLM.Model
	}
	if config.Rerank.TimeoutSeconds == 0 {
		config.Rerank.TimeoutSeconds = 30
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "chunks"
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Chunker.MaxTokens == 0 {
		config.Chunker.MaxTokens = 1000
	}
	if config.Chunker.OverlapTokens == 0 {
		config.Chunker.OverlapTokens = 120
	}
	if config.Chunker.Encoding == "" {
		config.Chunker.Encoding = "cl100k_base"
	}

	if config.Pipeline.TopK == 0 {
		config.Pipeline.TopK = 20
	}
	if config.Pipeline.TopN == 0 {
		config.Pipeline.TopN = 5
	}
	if len(config.Pipeline.DeclinePatterns) == 0 {
		config.Pipeline.DeclinePatterns = []string{
			"cannot answer",
			"don't have enough information",
			"not mentioned in",
			"no information about",
			"doesn't contain",
			"does not contain",
		}
	}
	if config.Pipeline.StageTimeoutSeconds == 0 {
		config.Pipeline.StageTimeoutSeconds = 60
	}

	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Port = port
	}
}
