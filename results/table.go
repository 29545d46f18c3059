package results

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/klejdi94/embedtune/evaluator"
)

// Table is a rectangular set of string cells with named columns.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Column returns the values of the named column, or nil if the table has none.
func (t *Table) Column(name string) []string {
	for i, c := range t.Columns {
		if c == name {
			out := make([]string, len(t.Rows))
			for j, r := range t.Rows {
				out[j] = r[i]
			}
			return out
		}
	}
	return nil
}

// Render writes t as aligned text columns.
func (t *Table) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.Columns, "\t"))
	for _, r := range t.Rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

// HitRateTable lays out summaries one per row, in the given order.
func HitRateTable(summaries []Summary) *Table {
	t := &Table{Columns: []string{"run", "variant", "model", "top_k", "queries", "hits", "hit_rate"}}
	for _, s := range summaries {
		t.Rows = append(t.Rows, []string{
			s.RunName,
			s.Variant,
			s.Model,
			strconv.Itoa(s.TopK),
			strconv.Itoa(s.Queries),
			strconv.Itoa(s.Hits),
			strconv.FormatFloat(s.HitRate, 'f', 4, 64),
		})
	}
	return t
}

// LoadIRTables reads the IR results file of every variant in runs (variant -> run
// name) from dir and concatenates them, tagging each row with its variant.
// Variants are ordered by name and need distinct run names; all files must
// share the same header.
func LoadIRTables(dir string, runs map[string]string) (*Table, error) {
	variants := make([]string, 0, len(runs))
	for v := range runs {
		variants = append(variants, v)
	}
	sort.Strings(variants)
	owner := make(map[string]string, len(runs))
	for _, v := range variants {
		if prev, ok := owner[runs[v]]; ok {
			return nil, fmt.Errorf("results: variants %s and %s share run %s", prev, v, runs[v])
		}
		owner[runs[v]] = v
	}

	var t *Table
	for _, v := range variants {
		header, rows, err := evaluator.ReadIRResults(evaluator.ResultsFile(dir, runs[v]))
		if err != nil {
			return nil, fmt.Errorf("results: variant %s: %w", v, err)
		}
		if t == nil {
			t = &Table{Columns: append([]string{"variant"}, header...)}
		} else if strings.Join(header, ",") != strings.Join(t.Columns[1:], ",") {
			return nil, fmt.Errorf("results: variant %s: header differs from other runs", v)
		}
		for _, r := range rows {
			row := []string{v, strconv.Itoa(r.Epoch), strconv.Itoa(r.Steps)}
			for _, col := range header[2:] {
				row = append(row, strconv.FormatFloat(r.Scores[col], 'f', -1, 64))
			}
			t.Rows = append(t.Rows, row)
		}
	}
	if t == nil {
		t = &Table{Columns: []string{"variant"}}
	}
	return t, nil
}
