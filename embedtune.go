// Package embedtune fine-tunes a sentence-embedding model and measures whether
// the fine-tuned copy retrieves the right documents more often than its base.
//
// Quick start:
//
//	cfg, _ := config.Load("embedtune.yaml")
//	session := embedtune.NewSession(cfg, logger)
//	defer session.Close()
//
//	base, _ := session.Embedder(embedding.Spec{Model: cfg.Training.BaseModel})
//	tuned, _ := session.Embedder(embedding.Spec{Path: "model/finetuned"})
//	report, err := embedtune.NewPipeline(session).
//		WithVariant("base", cfg.Training.BaseModel, base).
//		WithVariant("finetuned", "model/finetuned", tuned).
//		WithTopK(5).
//		Run(ctx)
package embedtune

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/klejdi94/embedtune/artifact"
	"github.com/klejdi94/embedtune/config"
	"github.com/klejdi94/embedtune/core"
	"github.com/klejdi94/embedtune/embedding"
	"github.com/klejdi94/embedtune/index"
	"github.com/klejdi94/embedtune/results"
	"github.com/klejdi94/embedtune/training"
)

// Variant names used by Session.Run.
const (
	BaseVariant      = "base"
	FineTunedVariant = "finetuned"
)

const (
	retryBase = 200 * time.Millisecond
	retryMax  = 5 * time.Second
)

// ErrNoTrainer is returned by Session.Train when no training backend is configured.
var ErrNoTrainer = errors.New("embedtune: no training backend")

// Session carries everything a run needs. It replaces process-wide state: every
// step receives its configuration and collaborators from the session.
type Session struct {
	Config  *config.Config
	Logger  logr.Logger
	Trainer training.Backend
	// Artifacts resolves model archive keys; nil opens the store named by each URI.
	Artifacts artifact.BlobStore
	Results   results.Store
	// Registerer receives embedding metrics; nil disables them.
	Registerer prometheus.Registerer

	mu      sync.Mutex
	metrics *embedding.Metrics
	cache   embedding.Cache
	closers []func() error
}

// NewSession creates a session with an in-memory results store.
func NewSession(cfg *config.Config, log logr.Logger) *Session {
	return &Session{
		Config:  cfg,
		Logger:  log,
		Results: results.NewMemoryStore(cfg.Results.MaxRecords),
	}
}

// OnClose registers fn to run when the session is closed.
func (s *Session) OnClose(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, fn)
}

// Close releases clients opened by the session, newest first.
func (s *Session) Close() error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) context(ctx context.Context) context.Context {
	return logr.NewContext(ctx, s.Logger)
}

// LoadDataset reads the validation dataset named in the configuration.
func (s *Session) LoadDataset() (*core.Dataset, error) {
	ds, err := core.LoadDataset(s.Config.Dataset.Validation)
	if err != nil {
		return nil, fmt.Errorf("embedtune: load dataset: %w", err)
	}
	return ds, nil
}

// Train submits the configured fine-tuning job and waits for it to finish.
func (s *Session) Train(ctx context.Context) (*training.Job, error) {
	if s.Trainer == nil {
		return nil, ErrNoTrainer
	}
	ctx = s.context(ctx)
	req := s.Config.Training.Request()
	s.Logger.Info("starting fine-tuning", "base_model", req.BaseModel, "epochs", req.Hyperparameters.Epochs,
		"batch_size", req.Hyperparameters.BatchSize, "evaluation_steps", req.Hyperparameters.EvaluationSteps)
	return training.Run(ctx, s.Trainer, req)
}

// FetchModel downloads and unpacks the model archive at uri into the configured
// destination directory and returns the model directory. An empty uri uses
// the configured model URI.
func (s *Session) FetchModel(ctx context.Context, uri string) (string, error) {
	ctx = s.context(ctx)
	if uri == "" {
		uri = s.Config.Artifacts.ModelURI
	}
	if uri == "" {
		return "", &core.ValidationError{Field: "artifacts.model_uri", Message: "is required"}
	}
	store, key := s.Artifacts, ""
	if store != nil {
		loc, err := artifact.ParseURI(uri)
		if err != nil {
			return "", err
		}
		key = loc.Key
	} else {
		var err error
		store, key, err = artifact.Open(ctx, uri, s.Config.Artifacts.S3)
		if err != nil {
			return "", err
		}
	}
	return artifact.Fetch(ctx, store, key, s.Config.Artifacts.DestDir)
}

// Embedder opens an embedding endpoint for spec with the configured middleware:
// logging, metrics, cache, retries and rate limit. The result implements
// embedding.BatchEmbedder. Empty BaseURL and APIKey are taken from the
// configuration.
func (s *Session) Embedder(spec embedding.Spec) (embedding.Embedder, error) {
	ec := s.Config.Embedding
	if spec.BaseURL == "" {
		spec.BaseURL = ec.BaseURL
	}
	if spec.APIKey == "" {
		spec.APIKey = ec.APIKey
	}
	if spec.HTTPClient == nil && ec.Timeout > 0 {
		spec.HTTPClient = &http.Client{Timeout: ec.Timeout}
	}
	e, err := embedding.Open(spec)
	if err != nil {
		return nil, err
	}
	model := e.Model()
	mws := []embedding.Middleware{embedding.Logging(s.Logger, model)}
	if m := s.embeddingMetrics(); m != nil {
		mws = append(mws, m.Middleware(model))
	}
	cache, err := s.embeddingCache()
	if err != nil {
		return nil, err
	}
	if cache != nil {
		mws = append(mws, embedding.CacheMiddleware(cache, model, ec.CacheTTL))
	}
	if ec.MaxRetries > 0 {
		mws = append(mws, embedding.Retry(ec.MaxRetries, embedding.ExponentialBackoff(retryBase, retryMax)))
	}
	if ec.RateLimit > 0 {
		mws = append(mws, embedding.RateLimit(ec.RateLimit, ec.Burst))
	}
	return embedding.Chain(e, mws...), nil
}

func (s *Session) embeddingMetrics() *embedding.Metrics {
	if s.Registerer == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metrics == nil {
		s.metrics = embedding.NewMetrics(s.Registerer)
	}
	return s.metrics
}

func (s *Session) embeddingCache() (embedding.Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil {
		return s.cache, nil
	}
	switch s.Config.Embedding.Cache {
	case "memory":
		s.cache = embedding.NewInMemoryCache()
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: s.Config.Embedding.RedisAddr})
		s.closers = append(s.closers, client.Close)
		s.cache = embedding.NewRedisCache(client, "")
	}
	return s.cache, nil
}

// IndexFactory returns the similarity index configured for evaluation.
func (s *Session) IndexFactory() (index.Factory, error) {
	ev := s.Config.Evaluation
	metric, err := index.ParseMetric(ev.Metric)
	if err != nil {
		return nil, err
	}
	if ev.Index != "qdrant" {
		return index.MemoryFactory(metric), nil
	}
	client, err := index.NewQdrantClient(ev.Qdrant)
	if err != nil {
		return nil, err
	}
	s.OnClose(client.Close)
	return index.QdrantFactory(client, metric, ev.Qdrant), nil
}

// OpenResults replaces the session's results store with the one named in the
// configuration. Postgres and Redis connections are closed with the session.
func (s *Session) OpenResults(ctx context.Context) error {
	rc := s.Config.Results
	switch rc.Store {
	case "", "memory":
		s.Results = results.NewMemoryStore(rc.MaxRecords)
	case "postgres":
		db, err := sql.Open("postgres", rc.DSN)
		if err != nil {
			return fmt.Errorf("embedtune: postgres: %w", err)
		}
		pg, err := results.NewPostgresStore(ctx, db, rc.Table)
		if err != nil {
			db.Close()
			return err
		}
		s.OnClose(db.Close)
		s.Results = pg
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: rc.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("embedtune: redis %s: %w", rc.RedisAddr, err)
		}
		s.OnClose(client.Close)
		s.Results = results.NewRedisStore(client, rc.RedisKey)
	default:
		return fmt.Errorf("embedtune: unknown results store %q", rc.Store)
	}
	s.Logger.V(1).Info("results store opened", "store", rc.Store)
	return nil
}
