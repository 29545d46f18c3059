// Package config loads embedtune settings: defaults, then a YAML file, then
// EMBEDTUNE_* environment variables, then validation.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/klejdi94/embedtune/artifact/s3blob"
	"github.com/klejdi94/embedtune/core"
	"github.com/klejdi94/embedtune/index"
	"github.com/klejdi94/embedtune/training"
)

// EnvPrefix prefixes every environment override, e.g. EMBEDTUNE_EVALUATION_TOP_K.
const EnvPrefix = "EMBEDTUNE"

// Config holds all settings of a fine-tune and evaluate run.
type Config struct {
	Dataset    DatasetConfig    `yaml:"dataset" envconfig:"DATASET"`
	Training   TrainingConfig   `yaml:"training" envconfig:"TRAINING"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts" envconfig:"ARTIFACTS"`
	Embedding  EmbeddingConfig  `yaml:"embedding" envconfig:"EMBEDDING"`
	Evaluation EvaluationConfig `yaml:"evaluation" envconfig:"EVALUATION"`
	Results    ResultsConfig    `yaml:"results" envconfig:"RESULTS"`
	Log        LogConfig        `yaml:"log" envconfig:"LOG"`
}

// DatasetConfig points at the local dataset files produced by the setup step.
type DatasetConfig struct {
	Train      string `yaml:"train" split_words:"true"`
	Validation string `yaml:"validation" split_words:"true"`
}

// TrainingConfig describes the fine-tuning job.
type TrainingConfig struct {
	Namespace         string        `yaml:"namespace" split_words:"true"`
	Image             string        `yaml:"image" split_words:"true"`
	JobName           string        `yaml:"job_name" split_words:"true"`
	BaseModel         string        `yaml:"base_model" split_words:"true"`
	TrainDataURI      string        `yaml:"train_data_uri" split_words:"true"`
	ValidationDataURI string        `yaml:"validation_data_uri" split_words:"true"`
	OutputURI         string        `yaml:"output_uri" split_words:"true"`
	PollInterval      time.Duration `yaml:"poll_interval" split_words:"true"`

	training.Hyperparameters `yaml:",inline"`
}

// Request builds the training request for these settings.
func (t TrainingConfig) Request() training.Request {
	return training.Request{
		Name:              t.JobName,
		BaseModel:         t.BaseModel,
		TrainDataURI:      t.TrainDataURI,
		ValidationDataURI: t.ValidationDataURI,
		OutputURI:         t.OutputURI,
		Image:             t.Image,
		Hyperparameters:   t.Hyperparameters,
	}
}

// ArtifactsConfig controls where model artifacts are fetched from and unpacked to.
type ArtifactsConfig struct {
	// URI of the model archive; empty uses the URI reported by the training job.
	ModelURI string        `yaml:"model_uri" split_words:"true"`
	DestDir  string        `yaml:"dest_dir" split_words:"true"`
	S3       s3blob.Config `yaml:"s3" envconfig:"S3"`
}

// EmbeddingConfig selects the inference endpoint serving both model variants.
type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url" split_words:"true"`
	APIKey  string `yaml:"api_key" split_words:"true"`
	// FineTunedBaseURL serves the fine-tuned model when it is not behind BaseURL.
	FineTunedBaseURL string `yaml:"finetuned_base_url" split_words:"true"`
	// FineTunedModel is the name the endpoint serves the fine-tuned model under;
	// empty sends the local model directory.
	FineTunedModel string        `yaml:"finetuned_model" split_words:"true"`
	Timeout        time.Duration `yaml:"timeout" split_words:"true"`
	RateLimit      float64       `yaml:"rate_limit" split_words:"true"`
	Burst          int           `yaml:"burst" split_words:"true"`
	MaxRetries     int           `yaml:"max_retries" split_words:"true"`
	Cache          string        `yaml:"cache" split_words:"true"` // none, memory, redis
	CacheTTL       time.Duration `yaml:"cache_ttl" split_words:"true"`
	RedisAddr      string        `yaml:"redis_addr" split_words:"true"`
}

// EvaluationConfig controls the evaluators.
type EvaluationConfig struct {
	RunName   string             `yaml:"run_name" split_words:"true"`
	TopK      int                `yaml:"top_k" split_words:"true"`
	Metric    string             `yaml:"metric" split_words:"true"`
	Index     string             `yaml:"index" split_words:"true"` // memory, qdrant
	Qdrant    index.QdrantConfig `yaml:"qdrant" envconfig:"QDRANT"`
	OutputDir string             `yaml:"output_dir" split_words:"true"`
}

// ResultsConfig selects the results store and server address.
type ResultsConfig struct {
	Store      string `yaml:"store" split_words:"true"` // memory, postgres, redis
	DSN        string `yaml:"dsn" split_words:"true"`
	Table      string `yaml:"table" split_words:"true"`
	RedisAddr  string `yaml:"redis_addr" split_words:"true"`
	RedisKey   string `yaml:"redis_key" split_words:"true"`
	MaxRecords int    `yaml:"max_records" split_words:"true"`
	Addr       string `yaml:"addr" split_words:"true"`
}

// LogConfig controls the zap logger built by the commands.
type LogConfig struct {
	Level       string `yaml:"level" split_words:"true"`
	Development bool   `yaml:"development" split_words:"true"`
}

// Load reads configuration: defaults, then the YAML file at path (if any), then
// environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config: processing env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Dataset: DatasetConfig{
			Train:      "data/train_dataset.json",
			Validation: "data/val_dataset.json",
		},
		Training: TrainingConfig{
			Namespace:       "default",
			BaseModel:       "BAAI/bge-small-en-v1.5",
			PollInterval:    training.DefaultPollInterval,
			Hyperparameters: training.DefaultHyperparameters(),
		},
		Artifacts: ArtifactsConfig{
			DestDir: "model",
		},
		Embedding: EmbeddingConfig{
			Timeout:    60 * time.Second,
			MaxRetries: 3,
			Cache:      "none",
			CacheTTL:   24 * time.Hour,
		},
		Evaluation: EvaluationConfig{
			RunName:   "embedtune",
			TopK:      5,
			Metric:    string(index.Cosine),
			Index:     "memory",
			OutputDir: "results",
			Qdrant: index.QdrantConfig{
				Host:   "localhost",
				Port:   6334,
				Prefix: index.DefaultQdrantPrefix,
				Batch:  index.DefaultQdrantBatch,
			},
		},
		Results: ResultsConfig{
			Store:      "memory",
			MaxRecords: 10000,
			Addr:       ":8080",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	if err := c.Training.Hyperparameters.Validate(); err != nil {
		return err
	}
	if c.Evaluation.TopK <= 0 {
		return &core.ValidationError{Field: "evaluation.top_k", Value: c.Evaluation.TopK, Message: "must be positive"}
	}
	if _, err := index.ParseMetric(c.Evaluation.Metric); err != nil {
		return &core.ValidationError{Field: "evaluation.metric", Value: c.Evaluation.Metric, Message: err.Error()}
	}
	switch c.Evaluation.Index {
	case "memory":
	case "qdrant":
		if c.Evaluation.Qdrant.Host == "" {
			return &core.ValidationError{Field: "evaluation.qdrant.host", Message: "required when index is qdrant"}
		}
	default:
		return &core.ValidationError{Field: "evaluation.index", Value: c.Evaluation.Index, Message: "must be memory or qdrant"}
	}
	switch c.Embedding.Cache {
	case "", "none", "memory":
	case "redis":
		if c.Embedding.RedisAddr == "" {
			return &core.ValidationError{Field: "embedding.redis_addr", Message: "required when cache is redis"}
		}
	default:
		return &core.ValidationError{Field: "embedding.cache", Value: c.Embedding.Cache, Message: "must be none, memory or redis"}
	}
	if c.Embedding.MaxRetries < 0 {
		return &core.ValidationError{Field: "embedding.max_retries", Value: c.Embedding.MaxRetries, Message: "must not be negative"}
	}
	switch c.Results.Store {
	case "memory":
	case "postgres":
		if c.Results.DSN == "" {
			return &core.ValidationError{Field: "results.dsn", Message: "required when store is postgres"}
		}
	case "redis":
		if c.Results.RedisAddr == "" {
			return &core.ValidationError{Field: "results.redis_addr", Message: "required when store is redis"}
		}
	default:
		return &core.ValidationError{Field: "results.store", Value: c.Results.Store, Message: "must be memory, postgres or redis"}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return &core.ValidationError{Field: "log.level", Value: c.Log.Level, Message: err.Error()}
	}
	return nil
}
