package results

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klejdi94/embedtune/evaluator"
)

func TestMemoryStore_RecordAndQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Record(ctx, Summary{RunName: "r1", Variant: "base", HitRate: 0.5, At: t0}))
	require.NoError(t, s.Record(ctx, Summary{RunName: "r1", Variant: "finetuned", HitRate: 0.8, At: t0.Add(time.Minute)}))
	require.NoError(t, s.Record(ctx, Summary{RunName: "r2", Variant: "base", HitRate: 0.6, At: t0.Add(2 * time.Minute)}))

	all, err := s.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r2", all[0].RunName, "newest first")

	r1, err := s.Query(ctx, Query{RunName: "r1"})
	require.NoError(t, err)
	assert.Len(t, r1, 2)

	base, err := s.Query(ctx, Query{Variant: "base", From: t0.Add(time.Second)})
	require.NoError(t, err)
	require.Len(t, base, 1)
	assert.Equal(t, 0.6, base[0].HitRate)

	limited, err := s.Query(ctx, Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryStore_Bounded(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	for _, v := range []string{"a", "b", "c"} {
		require.NoError(t, s.Record(ctx, Summary{RunName: "r", Variant: v}))
	}
	out, err := s.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, sum := range out {
		assert.NotEqual(t, "a", sum.Variant)
		assert.False(t, sum.At.IsZero())
	}
}

func TestLatest(t *testing.T) {
	t0 := time.Now()
	out := Latest([]Summary{
		{RunName: "r", Variant: "finetuned", HitRate: 0.7, At: t0},
		{RunName: "r", Variant: "base", HitRate: 0.4, At: t0},
		{RunName: "r", Variant: "finetuned", HitRate: 0.9, At: t0.Add(time.Second)},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "base", out[0].Variant)
	assert.Equal(t, 0.9, out[1].HitRate)
}

func TestFromReport(t *testing.T) {
	r := &evaluator.Report{
		Suite: "run-1",
		TopK:  5,
		Variants: []evaluator.VariantReport{
			{Variant: "base", Model: "bge-small", Hits: 3, Total: 4, HitRate: 0.75},
		},
	}
	out := FromReport(r)
	require.Len(t, out, 1)
	assert.Equal(t, Summary{RunName: "run-1", Variant: "base", Model: "bge-small", TopK: 5, Queries: 4, Hits: 3, HitRate: 0.75}, out[0])
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("EMBEDTUNE_TEST_REDIS")
	if addr == "" {
		t.Skip("EMBEDTUNE_TEST_REDIS not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	key := "embedtune:test:" + t.Name()
	defer client.Del(ctx, key)

	s := NewRedisStore(client, key)
	t0 := time.Now().Add(-time.Hour)
	require.NoError(t, s.Record(ctx, Summary{RunName: "r", Variant: "base", HitRate: 0.5, At: t0}))
	require.NoError(t, s.Record(ctx, Summary{RunName: "r", Variant: "finetuned", HitRate: 0.8, At: t0.Add(time.Minute)}))

	out, err := s.Query(ctx, Query{RunName: "r"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "finetuned", out[0].Variant)

	out, err = s.Query(ctx, Query{Variant: "base"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 0.5, out[0].HitRate)
}
