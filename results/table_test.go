package results

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klejdi94/embedtune/core"
	"github.com/klejdi94/embedtune/embedding"
	"github.com/klejdi94/embedtune/evaluator"
)

func writeIRResults(t *testing.T, dir, name string, emb func(string) []float32) {
	t.Helper()
	ds := core.NewDataset(
		map[string]string{"d1": "alpha", "d2": "beta"},
		map[string]string{"q1": "alpha?"},
		map[string][]string{"q1": {"d1"}},
	)
	e := embedding.Func(func(_ context.Context, text string) ([]float32, error) { return emb(text), nil })
	_, err := evaluator.NewInformationRetrieval(ds, name).Evaluate(context.Background(), e, dir)
	require.NoError(t, err)
}

func TestLoadIRTables(t *testing.T) {
	dir := t.TempDir()
	good := func(text string) []float32 {
		if strings.HasPrefix(text, "alpha") {
			return []float32{1, 0}
		}
		return []float32{0, 1}
	}
	bad := func(text string) []float32 {
		if text == "alpha" {
			return []float32{0, 1}
		}
		return []float32{1, 0}
	}
	writeIRResults(t, dir, "finetuned", good)
	writeIRResults(t, dir, "base", bad)

	table, err := LoadIRTables(dir, map[string]string{"finetuned": "finetuned", "base": "base"})
	require.NoError(t, err)
	assert.Equal(t, "variant", table.Columns[0])
	assert.Equal(t, []string{"base", "finetuned"}, table.Column("variant"))
	assert.Equal(t, []string{"0", "1"}, table.Column("cos_sim-Accuracy@1"))
	assert.Nil(t, table.Column("missing"))

	_, err = LoadIRTables(dir, map[string]string{"other": "nope"})
	assert.ErrorContains(t, err, "variant other")
}

func TestLoadIRTables_SharedRunName(t *testing.T) {
	dir := t.TempDir()
	writeIRResults(t, dir, "shared", func(string) []float32 { return []float32{1, 0} })

	_, err := LoadIRTables(dir, map[string]string{"base": "shared", "finetuned": "shared"})
	assert.ErrorContains(t, err, "variants base and finetuned share run shared")
}

func TestHitRateTable_Render(t *testing.T) {
	table := HitRateTable([]Summary{
		{RunName: "r", Variant: "base", Model: "bge-small", TopK: 5, Queries: 4, Hits: 2, HitRate: 0.5},
		{RunName: "r", Variant: "finetuned", Model: "/models/ft", TopK: 5, Queries: 4, Hits: 3, HitRate: 0.75},
	})
	assert.Equal(t, []string{"0.5000", "0.7500"}, table.Column("hit_rate"))

	var buf bytes.Buffer
	require.NoError(t, table.Render(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "run  variant"))
	assert.Contains(t, lines[2], "finetuned")
	assert.Equal(t, strings.Index(lines[0], "model"), strings.Index(lines[1], "bge-small"), "columns are aligned")
}
