package evaluator

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/klejdi94/embedtune/core"
	"github.com/klejdi94/embedtune/embedding"
	"github.com/klejdi94/embedtune/index"
)

// IR metric cut-offs used when the evaluator leaves them empty.
var (
	DefaultAccuracyAtK        = []int{1, 3, 5, 10}
	DefaultPrecisionRecallAtK = []int{1, 3, 5, 10}
	DefaultMRRAtK             = []int{10}
	DefaultNDCGAtK            = []int{10}
	DefaultMAPAtK             = []int{100}
)

// InformationRetrieval computes ranking metrics (accuracy, precision, recall, MRR,
// nDCG, MAP at several cut-offs) over every relevant document of each query, and
// appends one row per evaluation to a CSV file named after the run.
//
// Queries without relevant documents are skipped.
type InformationRetrieval struct {
	Dataset *core.Dataset
	Name    string
	Metric  index.Metric
	Index   index.Factory

	AccuracyAtK        []int
	PrecisionRecallAtK []int
	MRRAtK             []int
	NDCGAtK            []int
	MAPAtK             []int
}

// NewInformationRetrieval creates an evaluator over ds writing results under name.
func NewInformationRetrieval(ds *core.Dataset, name string) *InformationRetrieval {
	return &InformationRetrieval{Dataset: ds, Name: name, Metric: index.Cosine}
}

// IRReport holds the mean of each metric over the evaluated queries, keyed by k.
type IRReport struct {
	Name      string
	Metric    index.Metric
	Queries   int
	Accuracy  map[int]float64
	Precision map[int]float64
	Recall    map[int]float64
	MRR       map[int]float64
	NDCG      map[int]float64
	MAP       map[int]float64
	// Path is the CSV file the report was appended to ("" if not written).
	Path string
}

// RunName turns a model variant label into a results name safe for file names,
// e.g. "fine tuned/v2" -> "fine_tuned_v2".
func RunName(variant string) string {
	out := []rune(strings.TrimSpace(variant))
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// ResultsFile is the CSV path an evaluator named name writes in dir.
func ResultsFile(dir, name string) string {
	return filepath.Join(dir, "Information-Retrieval_evaluation_"+name+"_results.csv")
}

// Evaluate scores emb and appends the result to ResultsFile(outputDir, Name).
// An empty outputDir skips writing.
func (e *InformationRetrieval) Evaluate(ctx context.Context, emb embedding.Embedder, outputDir string) (*IRReport, error) {
	return e.EvaluateAt(ctx, emb, outputDir, -1, -1)
}

// EvaluateAt is Evaluate with the training epoch and step recorded in the CSV row.
func (e *InformationRetrieval) EvaluateAt(ctx context.Context, emb embedding.Embedder, outputDir string, epoch, steps int) (*IRReport, error) {
	if e.Dataset == nil || len(e.Dataset.Corpus) == 0 {
		return nil, fmt.Errorf("evaluator: %w", core.ErrEmptyCorpus)
	}
	if e.Name == "" {
		return nil, errors.New("evaluator: information retrieval run name is required")
	}
	ds, err := e.Dataset.Normalized()
	if err != nil {
		return nil, fmt.Errorf("evaluator: %w", err)
	}
	st := e.settings()
	log := logr.FromContextOrDiscard(ctx).WithValues("run", e.Name)

	newIndex := e.Index
	if newIndex == nil {
		newIndex = index.MemoryFactory(st.metric)
	}
	idx, release, err := buildIndex(ctx, ds, emb, newIndex)
	if err != nil {
		return nil, err
	}
	defer release()

	maxK := st.maxK()
	report := &IRReport{
		Name:      e.Name,
		Metric:    st.metric,
		Accuracy:  make(map[int]float64),
		Precision: make(map[int]float64),
		Recall:    make(map[int]float64),
		MRR:       make(map[int]float64),
		NDCG:      make(map[int]float64),
		MAP:       make(map[int]float64),
	}
	for _, qid := range ds.QueryOrder {
		rel := ds.RelevantDocs[qid]
		if len(rel) == 0 {
			continue
		}
		retrieved, err := retrieve(ctx, idx, emb, qid, ds.Queries[qid], maxK)
		if err != nil {
			return nil, err
		}
		relevant := toSet(rel)
		report.Queries++
		for _, k := range st.accuracy {
			report.Accuracy[k] += AccuracyAtK(retrieved, relevant, k)
		}
		for _, k := range st.precisionRecall {
			report.Precision[k] += PrecisionAtK(retrieved, relevant, k)
			report.Recall[k] += RecallAtK(retrieved, relevant, k)
		}
		for _, k := range st.mrr {
			report.MRR[k] += MRRAtK(retrieved, relevant, k)
		}
		for _, k := range st.ndcg {
			report.NDCG[k] += NDCGAtK(retrieved, relevant, k)
		}
		for _, k := range st.mAP {
			report.MAP[k] += APAtK(retrieved, relevant, k)
		}
	}
	if report.Queries > 0 {
		n := float64(report.Queries)
		for _, m := range []map[int]float64{report.Accuracy, report.Precision, report.Recall, report.MRR, report.NDCG, report.MAP} {
			for k := range m {
				m[k] /= n
			}
		}
	}
	log.Info("information retrieval evaluation done", "queries", report.Queries, "map", report.Primary())

	if outputDir != "" {
		path := ResultsFile(outputDir, e.Name)
		if err := appendCSV(path, st.columns(), st.row(report, epoch, steps)); err != nil {
			return nil, err
		}
		report.Path = path
	}
	return report, nil
}

// Primary is the headline score: MAP at the largest cut-off.
func (r *IRReport) Primary() float64 {
	best, k := 0.0, -1
	for kk, v := range r.MAP {
		if kk > k {
			k, best = kk, v
		}
	}
	return best
}

// Columns returns the CSV header for the evaluator's metrics, in file order.
func (e *InformationRetrieval) Columns() []string {
	return e.settings().columns()
}

// irSettings are the evaluator's metric and cut-offs with defaults applied,
// each cut-off list a sorted copy.
type irSettings struct {
	metric          index.Metric
	accuracy        []int
	precisionRecall []int
	mrr             []int
	ndcg            []int
	mAP             []int
}

func (e *InformationRetrieval) settings() irSettings {
	cutoffs := func(ks, def []int) []int {
		if len(ks) == 0 {
			ks = def
		}
		out := append([]int(nil), ks...)
		sort.Ints(out)
		return out
	}
	metric := e.Metric
	if metric == "" {
		metric = index.Cosine
	}
	return irSettings{
		metric:          metric,
		accuracy:        cutoffs(e.AccuracyAtK, DefaultAccuracyAtK),
		precisionRecall: cutoffs(e.PrecisionRecallAtK, DefaultPrecisionRecallAtK),
		mrr:             cutoffs(e.MRRAtK, DefaultMRRAtK),
		ndcg:            cutoffs(e.NDCGAtK, DefaultNDCGAtK),
		mAP:             cutoffs(e.MAPAtK, DefaultMAPAtK),
	}
}

func (st irSettings) columns() []string {
	prefix := scoreName(st.metric)
	cols := []string{"epoch", "steps"}
	add := func(metric string, ks []int) {
		for _, k := range ks {
			cols = append(cols, fmt.Sprintf("%s-%s@%d", prefix, metric, k))
		}
	}
	add("Accuracy", st.accuracy)
	add("Precision", st.precisionRecall)
	add("Recall", st.precisionRecall)
	add("MRR", st.mrr)
	add("NDCG", st.ndcg)
	add("MAP", st.mAP)
	return cols
}

func (st irSettings) row(r *IRReport, epoch, steps int) []string {
	row := []string{strconv.Itoa(epoch), strconv.Itoa(steps)}
	add := func(m map[int]float64, ks []int) {
		for _, k := range ks {
			row = append(row, strconv.FormatFloat(m[k], 'f', -1, 64))
		}
	}
	add(r.Accuracy, st.accuracy)
	add(r.Precision, st.precisionRecall)
	add(r.Recall, st.precisionRecall)
	add(r.MRR, st.mrr)
	add(r.NDCG, st.ndcg)
	add(r.MAP, st.mAP)
	return row
}

func (st irSettings) maxK() int {
	k := 0
	for _, ks := range [][]int{st.accuracy, st.precisionRecall, st.mrr, st.ndcg, st.mAP} {
		for _, v := range ks {
			k = max(k, v)
		}
	}
	return k
}

// ErrHeaderMismatch is returned when appending to a results file written with
// different metrics or cut-offs.
var ErrHeaderMismatch = errors.New("results file header does not match")

// appendCSV appends row to path, writing header first when the file is new or
// empty. An existing header must equal header.
func appendCSV(path string, header, row []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("evaluator: results dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("evaluator: open results: %w", err)
	}
	defer f.Close()

	existing, err := csv.NewReader(f).Read()
	switch {
	case errors.Is(err, io.EOF):
		existing = nil
	case err != nil:
		return fmt.Errorf("evaluator: read results header %s: %w", path, err)
	case !slices.Equal(existing, header):
		return fmt.Errorf("evaluator: %s: %w: have %v, want %v", path, ErrHeaderMismatch, existing, header)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("evaluator: seek results: %w", err)
	}
	w := csv.NewWriter(f)
	if existing == nil {
		if err := w.Write(header); err != nil {
			return err
		}
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("evaluator: write results: %w", err)
	}
	return nil
}

func scoreName(m index.Metric) string {
	switch m {
	case index.DotProduct:
		return "dot_score"
	case index.Euclidean:
		return "euclidean"
	default:
		return "cos_sim"
	}
}

// IRRow is one parsed line of an IR results file.
type IRRow struct {
	Epoch  int
	Steps  int
	Scores map[string]float64
}

// ReadIRResults parses a results file written by InformationRetrieval. It returns
// the header and one row per evaluation, in file order.
func ReadIRResults(path string) ([]string, []IRRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("evaluator: open results: %w", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("evaluator: read results %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("evaluator: results %s: missing header", path)
	}
	header := records[0]
	if len(header) < 2 || header[0] != "epoch" || header[1] != "steps" {
		return nil, nil, fmt.Errorf("evaluator: results %s: unexpected header %v", path, header)
	}
	rows := make([]IRRow, 0, len(records)-1)
	for n, rec := range records[1:] {
		row := IRRow{Scores: make(map[string]float64, len(header)-2)}
		if row.Epoch, err = strconv.Atoi(rec[0]); err != nil {
			return nil, nil, fmt.Errorf("evaluator: results %s line %d: epoch: %w", path, n+2, err)
		}
		if row.Steps, err = strconv.Atoi(rec[1]); err != nil {
			return nil, nil, fmt.Errorf("evaluator: results %s line %d: steps: %w", path, n+2, err)
		}
		for i, col := range header[2:] {
			v, err := strconv.ParseFloat(rec[i+2], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("evaluator: results %s line %d: %s: %w", path, n+2, col, err)
			}
			row.Scores[col] = v
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}
