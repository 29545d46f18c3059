package evaluator

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klejdi94/embedtune/core"
	"github.com/klejdi94/embedtune/index"
)

func TestInformationRetrieval_Evaluate(t *testing.T) {
	ds, emb := mammals()
	ds.RelevantDocs["q1"] = []string{"d1", "d3"}
	dir := t.TempDir()

	ir := NewInformationRetrieval(ds, RunName("fine tuned"))
	report, err := ir.Evaluate(context.Background(), emb, dir)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Queries)
	assert.Equal(t, 1.0, report.Accuracy[1])
	assert.Equal(t, 1.0, report.Precision[1])
	assert.InDelta(t, 2.0/3, report.Precision[3], 1e-12)
	assert.Equal(t, 1.0, report.Recall[3])
	assert.Equal(t, 1.0, report.MRR[10])
	assert.Equal(t, 1.0, report.NDCG[10])
	assert.Equal(t, 1.0, report.MAP[100])
	assert.Equal(t, 1.0, report.Primary())

	want := filepath.Join(dir, "Information-Retrieval_evaluation_fine_tuned_results.csv")
	assert.Equal(t, want, report.Path)

	_, err = ir.EvaluateAt(context.Background(), emb, dir, 1, 50)
	require.NoError(t, err)

	f, err := os.Open(want)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3, "header written once, one row per evaluation")
	assert.Equal(t, ir.Columns(), rows[0])
	assert.Equal(t, []string{"epoch", "steps", "cos_sim-Accuracy@1"}, rows[0][:3])
	assert.Equal(t, "cos_sim-MAP@100", rows[0][len(rows[0])-1])
	assert.Equal(t, []string{"-1", "-1"}, rows[1][:2])
	assert.Equal(t, []string{"1", "50"}, rows[2][:2])
}

func TestInformationRetrieval_SeparateFilesPerRun(t *testing.T) {
	ds, emb := mammals()
	dir := t.TempDir()
	for _, name := range []string{"base", "finetuned"} {
		_, err := NewInformationRetrieval(ds, name).Evaluate(context.Background(), emb, dir)
		require.NoError(t, err)
	}
	assert.FileExists(t, ResultsFile(dir, "base"))
	assert.FileExists(t, ResultsFile(dir, "finetuned"))
}

func TestInformationRetrieval_SkipsQueriesWithoutRelevant(t *testing.T) {
	ds, emb := mammals()
	ds.Queries["q2"] = "what is a mammal"
	ds.QueryOrder = append(ds.QueryOrder, "q2")

	report, err := NewInformationRetrieval(ds, "base").Evaluate(context.Background(), emb, "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Queries)
	assert.Empty(t, report.Path)
}

func TestInformationRetrieval_Errors(t *testing.T) {
	_, emb := mammals()
	_, err := NewInformationRetrieval(core.NewDataset(nil, nil, nil), "x").Evaluate(context.Background(), emb, "")
	assert.ErrorIs(t, err, core.ErrEmptyCorpus)

	ds, _ := mammals()
	_, err = NewInformationRetrieval(ds, "").Evaluate(context.Background(), emb, "")
	assert.Error(t, err)
}

func TestInformationRetrieval_CustomCutoffs(t *testing.T) {
	ds, _ := mammals()
	ir := NewInformationRetrieval(ds, "x")
	ir.AccuracyAtK = []int{3, 1}
	ir.MAPAtK = []int{5}
	cols := ir.Columns()
	assert.Contains(t, cols, "cos_sim-Accuracy@1")
	assert.Contains(t, cols, "cos_sim-MAP@5")
	assert.NotContains(t, cols, "cos_sim-MAP@100")
	assert.Equal(t, []int{10}, DefaultMRRAtK, "defaults are not mutated")
	assert.Equal(t, []int{3, 1}, ir.AccuracyAtK, "caller's cut-offs are not sorted in place")
	assert.Less(t, indexOf(cols, "cos_sim-Accuracy@1"), indexOf(cols, "cos_sim-Accuracy@3"))

	ir.Metric = ""
	assert.Equal(t, "cos_sim-Accuracy@1", ir.Columns()[2])
	assert.Empty(t, ir.Metric)
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}

func TestInformationRetrieval_HeaderMismatch(t *testing.T) {
	ds, emb := mammals()
	dir := t.TempDir()
	ir := NewInformationRetrieval(ds, "base")
	_, err := ir.Evaluate(context.Background(), emb, dir)
	require.NoError(t, err)

	ir.MAPAtK = []int{5}
	_, err = ir.Evaluate(context.Background(), emb, dir)
	assert.ErrorIs(t, err, ErrHeaderMismatch)

	dot := NewInformationRetrieval(ds, "base")
	dot.Metric = index.DotProduct
	_, err = dot.Evaluate(context.Background(), emb, dir)
	assert.ErrorIs(t, err, ErrHeaderMismatch)

	_, rows, err := ReadIRResults(ResultsFile(dir, "base"))
	require.NoError(t, err)
	assert.Len(t, rows, 1, "rejected runs append nothing")
}

func TestInformationRetrieval_EmptyFileGetsHeader(t *testing.T) {
	ds, emb := mammals()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(ResultsFile(dir, "base"), nil, 0o644))
	_, err := NewInformationRetrieval(ds, "base").Evaluate(context.Background(), emb, dir)
	require.NoError(t, err)
	header, rows, err := ReadIRResults(ResultsFile(dir, "base"))
	require.NoError(t, err)
	assert.Equal(t, "epoch", header[0])
	assert.Len(t, rows, 1)
}

func TestInformationRetrieval_DatasetWithoutOrder(t *testing.T) {
	ds, emb := mammals()
	lit := &core.Dataset{Corpus: ds.Corpus, Queries: ds.Queries, RelevantDocs: ds.RelevantDocs}
	report, err := NewInformationRetrieval(lit, "base").Evaluate(context.Background(), emb, "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Queries)
}

func TestRunName(t *testing.T) {
	assert.Equal(t, "fine_tuned_v2", RunName("fine tuned/v2"))
	assert.Equal(t, "base-1.0", RunName(" base-1.0 "))
}

func TestReadIRResults(t *testing.T) {
	ds, emb := mammals()
	dir := t.TempDir()
	ir := NewInformationRetrieval(ds, "base")
	_, err := ir.EvaluateAt(context.Background(), emb, dir, 0, 10)
	require.NoError(t, err)

	header, rows, err := ReadIRResults(ResultsFile(dir, "base"))
	require.NoError(t, err)
	assert.Equal(t, ir.Columns(), header)
	require.Len(t, rows, 1)
	assert.Equal(t, 10, rows[0].Steps)
	assert.Equal(t, 1.0, rows[0].Scores["cos_sim-Accuracy@1"])

	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("a,b\n1,2\n"), 0o644))
	_, _, err = ReadIRResults(bad)
	assert.Error(t, err)

	_, _, err = ReadIRResults(filepath.Join(dir, "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
