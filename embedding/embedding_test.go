package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingsServer(t *testing.T, gotModel *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*gotModel = req.Model
		type item struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		// answer in reverse order to exercise index mapping
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{Object: "embedding", Index: i, Embedding: []float32{float32(len(req.Input[i])), 1}})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"object": "list", "data": data, "model": req.Model})
	}))
}

func TestOpenAI_EmbedBatch(t *testing.T) {
	var model string
	srv := embeddingsServer(t, &model)
	defer srv.Close()

	e, err := Open(Spec{Path: "/models/finetuned", BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "/models/finetuned", e.Model())

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "abc"})
	require.NoError(t, err)
	assert.Equal(t, "/models/finetuned", model)
	assert.Equal(t, [][]float32{{1, 1}, {3, 1}}, vecs)

	vec, err := e.Embed(context.Background(), "abcd")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 1}, vec)
}

func TestOpenAI_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model not loaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	e, err := Open(Spec{Model: "base", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestOpen_RequiresKeyForDefaultEndpoint(t *testing.T) {
	_, err := Open(Spec{Model: "text-embedding-3-small"})
	assert.Error(t, err)
	assert.Equal(t, "m", Spec{Model: "m", Path: "/p"}.ModelName())
	assert.Equal(t, defaultOpenAIModel, Spec{}.ModelName())
}

func TestChain_Order(t *testing.T) {
	var trace []string
	mw := func(name string) Middleware {
		return func(next Embedder) Embedder {
			return Func(func(ctx context.Context, text string) ([]float32, error) {
				trace = append(trace, name)
				return next.Embed(ctx, text)
			})
		}
	}
	base := Func(func(ctx context.Context, text string) ([]float32, error) {
		trace = append(trace, "base")
		return []float32{1}, nil
	})
	_, err := Chain(base, mw("outer"), mw("inner")).Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner", "base"}, trace)
}

func TestCacheMiddleware(t *testing.T) {
	var calls atomic.Int32
	base := Func(func(ctx context.Context, text string) ([]float32, error) {
		calls.Add(1)
		return []float32{0.25, -1.5, float32(len(text))}, nil
	})
	cache := NewInMemoryCache()
	e := Chain(base, CacheMiddleware(cache, "m", time.Minute))

	first, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	other := Chain(base, CacheMiddleware(cache, "other-model", time.Minute))
	_, err = other.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "cache keys include the model")
}

func TestDecodeVector_Corrupt(t *testing.T) {
	_, err := decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
	v, err := decodeVector(encodeVector([]float32{1, 2}))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, v)
}

func TestRetry(t *testing.T) {
	var calls int
	flaky := Func(func(ctx context.Context, text string) ([]float32, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("temporary")
		}
		return []float32{1}, nil
	})
	noWait := func(int) time.Duration { return 0 }

	vec, err := Chain(flaky, Retry(2, noWait)).Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vec)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = Chain(flaky, Retry(1, noWait)).Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "after 2 attempts")
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(100*time.Millisecond, time.Second)
	assert.Equal(t, 100*time.Millisecond, b(0))
	assert.Equal(t, 400*time.Millisecond, b(2))
	assert.Equal(t, time.Second, b(5))
}

func TestRateLimit_HonoursContext(t *testing.T) {
	base := Func(func(ctx context.Context, text string) ([]float32, error) { return []float32{1}, nil })
	e := Chain(base, RateLimit(0.001, 1))
	_, err := e.Embed(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = e.Embed(ctx, "second")
	assert.Error(t, err)
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	fail := Func(func(ctx context.Context, text string) ([]float32, error) { return nil, errors.New("boom") })
	ok := Func(func(ctx context.Context, text string) ([]float32, error) { return []float32{1}, nil })

	_, _ = Chain(ok, m.Middleware("base"), Logging(logr.Discard(), "base")).Embed(context.Background(), "x")
	_, _ = Chain(fail, m.Middleware("base"), Logging(logr.Discard(), "base")).Embed(context.Background(), "x")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("base", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("base", "error")))
}

// countingServer answers every embeddings request and records how many inputs
// each one carried.
func countingServer(t *testing.T, inputs *[]int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*inputs = append(*inputs, len(req.Input))
		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, len(req.Input))
		for i, text := range req.Input {
			data[i] = item{Index: i, Embedding: []float32{float32(len(text)), 1}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChain_KeepsBatching(t *testing.T) {
	var inputs []int
	srv := countingServer(t, &inputs)
	e, err := Open(Spec{Model: "base", BaseURL: srv.URL})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	chained := Chain(e,
		Logging(logr.Discard(), "base"),
		m.Middleware("base"),
		CacheMiddleware(NewInMemoryCache(), "base", time.Minute),
		Retry(2, func(int) time.Duration { return 0 }),
		RateLimit(1000, 10),
	)
	be, ok := chained.(BatchEmbedder)
	require.True(t, ok)

	vecs, err := be.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 1}, {3, 1}}, vecs)
	assert.Equal(t, []int{3}, inputs)

	vecs, err = be.EmbedBatch(context.Background(), []string{"bb", "dddd", "a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 1}, {4, 1}, {1, 1}}, vecs)
	assert.Equal(t, []int{3, 1}, inputs, "only the cache miss is sent")

	_, err = be.EmbedBatch(context.Background(), []string{"a", "dddd"})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1}, inputs)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Requests.WithLabelValues("base", "success")))
}

func TestChain_WithoutBatchingInner(t *testing.T) {
	base := Func(func(ctx context.Context, text string) ([]float32, error) { return []float32{1}, nil })
	e := Chain(base, Logging(logr.Discard(), "m"), CacheMiddleware(NewInMemoryCache(), "m", time.Minute))
	_, ok := e.(BatchEmbedder)
	assert.False(t, ok)

	vecs, err := EmbedAll(context.Background(), e, []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {1}}, vecs)
}

func TestRetry_OnlyTransientFailures(t *testing.T) {
	for _, tc := range []struct {
		name   string
		status int
		body   string
		calls  int
	}{
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad input","type":"invalid_request_error"}}`, 1},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"no key"}}`, 1},
		{"not found", http.StatusNotFound, `not found`, 1},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, 3},
		{"unavailable", http.StatusServiceUnavailable, `model not loaded`, 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			e, err := Open(Spec{Model: "base", BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = Chain(e, Retry(2, func(int) time.Duration { return 0 })).Embed(context.Background(), "x")
			require.Error(t, err)
			assert.Equal(t, int32(tc.calls), calls.Load())
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(errors.New("connection reset")))
	assert.True(t, Retryable(fmt.Errorf("wrapped: %w", &openai.APIError{HTTPStatusCode: http.StatusBadGateway})))
	assert.False(t, Retryable(fmt.Errorf("wrapped: %w", &openai.APIError{HTTPStatusCode: http.StatusBadRequest})))
	assert.False(t, Retryable(&openai.RequestError{HTTPStatusCode: http.StatusForbidden}))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(ErrNoEmbedding))
	assert.False(t, Retryable(nil))
}
