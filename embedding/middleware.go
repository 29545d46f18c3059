package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Middleware wraps an embedder with additional behavior (logging, metrics, cache, etc.).
type Middleware func(Embedder) Embedder

// Chain wraps e with all middlewares in order (first middleware is outermost).
func Chain(e Embedder, mws ...Middleware) Embedder {
	for i := len(mws) - 1; i >= 0; i-- {
		e = mws[i](e)
	}
	return e
}

// around runs call once per request to the wrapped embedder; texts holds the
// inputs of that request.
type around func(ctx context.Context, texts []string, call func(context.Context) error) error

// wrap applies fn to every call of next. The result batches only when next does.
func wrap(next Embedder, fn around) Embedder {
	one := Func(func(ctx context.Context, text string) ([]float32, error) {
		var vec []float32
		err := fn(ctx, []string{text}, func(ctx context.Context) error {
			var err error
			vec, err = next.Embed(ctx, text)
			return err
		})
		return vec, err
	})
	be, ok := next.(BatchEmbedder)
	if !ok {
		return one
	}
	return BatchFunc{One: one, Many: func(ctx context.Context, texts []string) ([][]float32, error) {
		var vecs [][]float32
		err := fn(ctx, texts, func(ctx context.Context) error {
			var err error
			vecs, err = be.EmbedBatch(ctx, texts)
			return err
		})
		return vecs, err
	}}
}

// Logging returns a middleware that logs each call at V(1) and every failure.
func Logging(log logr.Logger, model string) Middleware {
	log = log.WithValues("model", model)
	return func(next Embedder) Embedder {
		return wrap(next, func(ctx context.Context, texts []string, call func(context.Context) error) error {
			start := time.Now()
			if err := call(ctx); err != nil {
				log.Error(err, "embed failed", "texts", len(texts), "text_len", textLen(texts))
				return err
			}
			log.V(1).Info("embedded", "texts", len(texts), "text_len", textLen(texts), "took", time.Since(start))
			return nil
		})
	}
}

func textLen(texts []string) int {
	n := 0
	for _, t := range texts {
		n += len(t)
	}
	return n
}

// Metrics counts embedding calls and observes their latency, labelled by model.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the embedding collectors and registers them with reg (nil skips registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "embedtune",
			Name:      "embed_requests_total",
			Help:      "Embedding calls by model and status.",
		}, []string{"model", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "embedtune",
			Name:      "embed_duration_seconds",
			Help:      "Embedding call latency.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"model"}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Duration)
	}
	return m
}

// Middleware returns a middleware recording into m under the model label.
// A batch counts as one request.
func (m *Metrics) Middleware(model string) Middleware {
	return func(next Embedder) Embedder {
		return wrap(next, func(ctx context.Context, texts []string, call func(context.Context) error) error {
			start := time.Now()
			err := call(ctx)
			m.Duration.WithLabelValues(model).Observe(time.Since(start).Seconds())
			status := "success"
			if err != nil {
				status = "error"
			}
			m.Requests.WithLabelValues(model, status).Inc()
			return err
		})
	}
}

// Cache stores encoded vectors by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// CacheMiddleware caches vectors by (model, text). Cache write failures are ignored.
// Batches only send the texts that missed the cache to next.
func CacheMiddleware(cache Cache, model string, ttl time.Duration) Middleware {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return func(next Embedder) Embedder {
		one := Func(func(ctx context.Context, text string) ([]float32, error) {
			key := cacheKey(model, text)
			if vec, ok := cachedVector(ctx, cache, key); ok {
				return vec, nil
			}
			vec, err := next.Embed(ctx, text)
			if err != nil {
				return nil, err
			}
			_ = cache.Set(ctx, key, encodeVector(vec), ttl)
			return vec, nil
		})
		be, ok := next.(BatchEmbedder)
		if !ok {
			return one
		}
		return BatchFunc{One: one, Many: func(ctx context.Context, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			var (
				missed []string
				at     []int
			)
			for i, text := range texts {
				if vec, ok := cachedVector(ctx, cache, cacheKey(model, text)); ok {
					out[i] = vec
					continue
				}
				missed = append(missed, text)
				at = append(at, i)
			}
			if len(missed) == 0 {
				return out, nil
			}
			vecs, err := be.EmbedBatch(ctx, missed)
			if err != nil {
				return nil, err
			}
			if len(vecs) != len(missed) {
				return nil, fmt.Errorf("%w: %d vectors for %d inputs", ErrNoEmbedding, len(vecs), len(missed))
			}
			for j, vec := range vecs {
				out[at[j]] = vec
				_ = cache.Set(ctx, cacheKey(model, missed[j]), encodeVector(vec), ttl)
			}
			return out, nil
		}}
	}
}

func cachedVector(ctx context.Context, cache Cache, key string) ([]float32, bool) {
	raw, ok := cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	vec, err := decodeVector(raw)
	return vec, err == nil
}

func cacheKey(model, text string) string {
	h := sha256.Sum256([]byte(model + "\x00" + text))
	return model + ":" + hex.EncodeToString(h[:])
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, fmt.Errorf("embedding: corrupt cached vector (%d bytes)", len(raw))
	}
	v := make([]float32, len(raw)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return v, nil
}

// InMemoryCache is a simple in-memory cache (for testing/single process).
type InMemoryCache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
}

type cacheEntry struct {
	val     []byte
	expires time.Time
}

func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{store: make(map[string]cacheEntry)}
}

func (m *InMemoryCache) Get(ctx context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.store[key]
	m.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.val, true
}

func (m *InMemoryCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	m.store[key] = cacheEntry{val: val, expires: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// RateLimit allows at most perSecond requests per second with the given burst.
// A batch is one request. Waiting honours ctx cancellation.
func RateLimit(perSecond float64, burst int) Middleware {
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(next Embedder) Embedder {
		return wrap(next, func(ctx context.Context, _ []string, call func(context.Context) error) error {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			return call(ctx)
		})
	}
}

// BackoffFunc returns delay before the next retry (attempt is 0-based).
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff returns delay = base * 2^attempt, capped at max.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		d := base * time.Duration(math.Pow(2, float64(attempt)))
		if d > max {
			return max
		}
		return d
	}
}

// Retry retries failed calls up to maxRetries times. Only rate limiting, server
// errors and transport failures are retried; see Retryable.
func Retry(maxRetries int, backoff BackoffFunc) Middleware {
	if backoff == nil {
		backoff = ExponentialBackoff(500*time.Millisecond, 30*time.Second)
	}
	return func(next Embedder) Embedder {
		return wrap(next, func(ctx context.Context, _ []string, call func(context.Context) error) error {
			var lastErr error
			attempts := 0
			for attempt := 0; attempt <= maxRetries; attempt++ {
				attempts++
				err := call(ctx)
				if err == nil {
					return nil
				}
				lastErr = err
				if ctx.Err() != nil || !Retryable(err) || attempt == maxRetries {
					break
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(backoff(attempt)):
				}
			}
			return fmt.Errorf("embedding after %d attempts: %w", attempts, lastErr)
		})
	}
}

// Retryable reports whether a failed embedding call may succeed when repeated.
// HTTP responses are retryable on 429 and 5xx; errors without a status are
// treated as transport failures. Context errors never are.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return !errors.Is(err, ErrNoEmbedding)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
