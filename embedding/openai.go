package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "text-embedding-3-small"

// ErrNoEmbedding is returned when the endpoint answers without vectors.
var ErrNoEmbedding = errors.New("embedding: no embedding returned")

// Spec selects an embedding model behind an OpenAI-compatible /v1/embeddings endpoint.
//
// The base variant names a pre-trained model id (e.g. "BAAI/bge-small-en-v1.5").
// The fine-tuned variant points Path at the unpacked artifact; inference servers such as
// TEI or vLLM serve a local model directory under its path, so Path is sent as the model
// name when Model is empty.
type Spec struct {
	Model      string
	Path       string
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// ModelName is the model identifier sent to the endpoint.
func (s Spec) ModelName() string {
	if s.Model != "" {
		return s.Model
	}
	if s.Path != "" {
		return s.Path
	}
	return defaultOpenAIModel
}

// OpenAI calls an OpenAI-compatible embeddings API.
type OpenAI struct {
	client *openai.Client
	model  string
}

var _ BatchEmbedder = (*OpenAI)(nil)

// Open builds an embedder for spec.
func Open(spec Spec) (*OpenAI, error) {
	if spec.BaseURL == "" && spec.APIKey == "" {
		return nil, fmt.Errorf("embedding: API key required for the default OpenAI endpoint")
	}
	cfg := openai.DefaultConfig(spec.APIKey)
	if spec.BaseURL != "" {
		cfg.BaseURL = spec.BaseURL
	}
	if spec.HTTPClient != nil {
		cfg.HTTPClient = spec.HTTPClient
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  spec.ModelName(),
	}, nil
}

// Model returns the model name sent with each request.
func (e *OpenAI) Model() string { return e.model }

// Embed implements Embedder.
func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements BatchEmbedder. Results follow the input order.
func (e *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding %s: %w", e.model, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: model %s returned %d vectors for %d inputs", ErrNoEmbedding, e.model, len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding %s: index %d out of range", e.model, d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: model %s, input %d", ErrNoEmbedding, e.model, i)
		}
	}
	return out, nil
}
