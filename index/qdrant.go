package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	// DefaultQdrantPrefix is prepended to every evaluation collection name.
	DefaultQdrantPrefix = "embedtune_"

	// DefaultQdrantBatch is the number of points sent per upsert.
	DefaultQdrantBatch = 256

	docIDField = "doc_id"
)

// qdrantAPI is the subset of *qdrant.Client the index uses.
type qdrantAPI interface {
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	DeleteCollection(ctx context.Context, collectionName string) error
}

// QdrantConfig holds connection settings for a Qdrant server (gRPC port).
type QdrantConfig struct {
	Host    string        `yaml:"host" split_words:"true"`
	Port    int           `yaml:"port" split_words:"true"`
	APIKey  string        `yaml:"api_key" split_words:"true"`
	UseTLS  bool          `yaml:"use_tls" split_words:"true"`
	Prefix  string        `yaml:"collection_prefix" split_words:"true"`
	Batch   int           `yaml:"batch" split_words:"true"`
	Timeout time.Duration `yaml:"timeout" split_words:"true"`
}

// NewQdrantClient dials Qdrant with cfg, filling in local defaults.
func NewQdrantClient(cfg QdrantConfig) (*qdrant.Client, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("index: create qdrant client: %w", err)
	}
	return client, nil
}

// Qdrant is an approximate index backed by a throwaway Qdrant collection.
// The collection is created on the first Add (when the dimension is known) and
// dropped by Close. Adds are buffered and flushed before each Search.
type Qdrant struct {
	api        qdrantAPI
	metric     Metric
	collection string
	batch      int
	timeout    time.Duration

	dim     uint64
	created bool
	ids     map[string]struct{}
	pending []*qdrant.PointStruct
}

// NewQdrant creates an index over a fresh, uniquely named collection.
func NewQdrant(api qdrantAPI, metric Metric, cfg QdrantConfig) *Qdrant {
	if metric == "" {
		metric = Cosine
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultQdrantPrefix
	}
	batch := cfg.Batch
	if batch <= 0 {
		batch = DefaultQdrantBatch
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Qdrant{
		api:        api,
		metric:     metric,
		collection: prefix + strings.ReplaceAll(uuid.NewString(), "-", ""),
		batch:      batch,
		timeout:    timeout,
		ids:        make(map[string]struct{}),
	}
}

// QdrantFactory returns a Factory creating one collection per evaluation run.
func QdrantFactory(api qdrantAPI, metric Metric, cfg QdrantConfig) Factory {
	return func(context.Context) (Index, error) {
		return NewQdrant(api, metric, cfg), nil
	}
}

// Collection returns the backing collection name.
func (q *Qdrant) Collection() string { return q.collection }

// Add implements Index.
func (q *Qdrant) Add(ctx context.Context, id string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: id %q", ErrEmptyVector, id)
	}
	if !q.created {
		if err := q.createCollection(ctx, uint64(len(vec))); err != nil {
			return err
		}
	} else if uint64(len(vec)) != q.dim {
		return fmt.Errorf("%w: id %q has %d, want %d", ErrDimensionMismatch, id, len(vec), q.dim)
	}
	q.pending = append(q.pending, &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(pointID(id)),
		Vectors: qdrant.NewVectors(vec...),
		Payload: qdrant.NewValueMap(map[string]any{docIDField: id}),
	})
	// Upsert replaces a point with the same id.
	q.ids[id] = struct{}{}
	if len(q.pending) >= q.batch {
		return q.flush(ctx)
	}
	return nil
}

// Search implements Index.
func (q *Qdrant) Search(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if k <= 0 || !q.created {
		return nil, nil
	}
	if uint64(len(vec)) != q.dim {
		return nil, fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(vec), q.dim)
	}
	if err := q.flush(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	points, err := q.api.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("index: qdrant query: %w", err)
	}
	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		id := p.GetPayload()[docIDField].GetStringValue()
		if id == "" {
			return nil, fmt.Errorf("index: qdrant point %s has no %s payload", p.GetId().GetUuid(), docIDField)
		}
		score := float64(p.GetScore())
		if q.metric == Euclidean {
			score = -score
		}
		hits = append(hits, Hit{ID: id, Score: score})
	}
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Len implements Index.
func (q *Qdrant) Len() int { return len(q.ids) }

// Close drops the collection.
func (q *Qdrant) Close(ctx context.Context) error {
	if !q.created {
		return nil
	}
	if err := q.api.DeleteCollection(ctx, q.collection); err != nil {
		return fmt.Errorf("index: drop qdrant collection %s: %w", q.collection, err)
	}
	q.created = false
	return nil
}

func (q *Qdrant) createCollection(ctx context.Context, dim uint64) error {
	distance, err := qdrantDistance(q.metric)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	err = q.api.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dim,
			Distance: distance,
		}),
	})
	if err != nil {
		return fmt.Errorf("index: create qdrant collection %s: %w", q.collection, err)
	}
	q.dim = dim
	q.created = true
	return nil
}

func (q *Qdrant) flush(ctx context.Context) error {
	if len(q.pending) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	_, err := q.api.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         q.pending,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("index: qdrant upsert: %w", err)
	}
	q.pending = nil
	return nil
}

func qdrantDistance(m Metric) (qdrant.Distance, error) {
	switch m {
	case Cosine:
		return qdrant.Distance_Cosine, nil
	case DotProduct:
		return qdrant.Distance_Dot, nil
	case Euclidean:
		return qdrant.Distance_Euclid, nil
	}
	return qdrant.Distance_UnknownDistance, fmt.Errorf("%w: %q", ErrUnknownMetric, m)
}

// pointID maps an arbitrary document id to the UUID Qdrant requires.
func pointID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(docID)).String()
}
