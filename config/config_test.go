package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klejdi94/embedtune/core"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "embedtune.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Evaluation.TopK)
	assert.Equal(t, "cosine", cfg.Evaluation.Metric)
	assert.Equal(t, 3, cfg.Training.Epochs)
	assert.Equal(t, 32, cfg.Training.BatchSize)
	assert.Equal(t, 50, cfg.Training.EvaluationSteps)
	assert.Equal(t, "memory", cfg.Results.Store)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeYAML(t, `
training:
  base_model: sentence-transformers/all-MiniLM-L6-v2
  epochs: 5
  batch_size: 16
evaluation:
  top_k: 10
  metric: dot
embedding:
  base_url: http://tei:8080/v1
  timeout: 30s
`)
	t.Setenv("EMBEDTUNE_EVALUATION_TOP_K", "3")
	t.Setenv("EMBEDTUNE_TRAINING_EPOCHS", "7")
	t.Setenv("EMBEDTUNE_ARTIFACTS_S3_ENDPOINT", "http://minio:9000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sentence-transformers/all-MiniLM-L6-v2", cfg.Training.BaseModel, "file overrides default")
	assert.Equal(t, 16, cfg.Training.BatchSize)
	assert.Equal(t, 7, cfg.Training.Epochs, "env overrides file")
	assert.Equal(t, 3, cfg.Evaluation.TopK)
	assert.Equal(t, "dot", cfg.Evaluation.Metric)
	assert.Equal(t, 50, cfg.Training.EvaluationSteps, "default kept")
	assert.Equal(t, 30*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, "http://minio:9000", cfg.Artifacts.S3.Endpoint)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"top k", "evaluation:\n  top_k: 0\n", "evaluation.top_k"},
		{"metric", "evaluation:\n  metric: manhattan\n", "evaluation.metric"},
		{"index", "evaluation:\n  index: faiss\n", "evaluation.index"},
		{"hyperparameters", "training:\n  evaluation_steps: -1\n", "training.evaluation_steps"},
		{"postgres dsn", "results:\n  store: postgres\n", "results.dsn"},
		{"redis cache", "embedding:\n  cache: redis\n", "embedding.redis_addr"},
		{"log level", "log:\n  level: loud\n", "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeYAML(t, tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrInvalidConfig)
			assert.ErrorContains(t, err, tt.field)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("EMBEDTUNE_EVALUATION_TOP_K", "many")
	_, err := Load("")
	assert.ErrorContains(t, err, "processing env")
}

func TestTrainingConfig_Request(t *testing.T) {
	cfg := Default()
	cfg.Training.Image = "trainer:1"
	cfg.Training.TrainDataURI = "s3://b/train.json"
	cfg.Training.OutputURI = "s3://b/out"
	req := cfg.Training.Request()
	require.NoError(t, req.Validate())
	assert.Equal(t, cfg.Training.Hyperparameters, req.Hyperparameters)
}
