package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// Dataset is a labeled retrieval dataset: a corpus of documents, a set of queries,
// and for each query the ids of its relevant documents (most relevant first).
//
// Maps carry no order, so the dataset records the id order explicitly. Evaluators
// iterate QueryOrder and index documents in CorpusOrder.
type Dataset struct {
	Corpus       map[string]string   `json:"corpus"`
	Queries      map[string]string   `json:"queries"`
	RelevantDocs map[string][]string `json:"relevant_docs"`

	CorpusOrder []string `json:"-"`
	QueryOrder  []string `json:"-"`
}

// NewDataset builds a dataset from plain maps. Ids are ordered lexically.
func NewDataset(corpus, queries map[string]string, relevant map[string][]string) *Dataset {
	d := &Dataset{
		Corpus:       corpus,
		Queries:      queries,
		RelevantDocs: relevant,
	}
	if d.Corpus == nil {
		d.Corpus = map[string]string{}
	}
	if d.Queries == nil {
		d.Queries = map[string]string{}
	}
	if d.RelevantDocs == nil {
		d.RelevantDocs = map[string][]string{}
	}
	d.CorpusOrder = sortedKeys(d.Corpus)
	d.QueryOrder = sortedKeys(d.Queries)
	return d
}

// Expected returns the single document the hit-rate evaluator looks for: the first
// relevant id of the query.
func (d *Dataset) Expected(queryID string) (string, error) {
	docs := d.RelevantDocs[queryID]
	if len(docs) == 0 {
		return "", fmt.Errorf("%w: %q", ErrMissingRelevant, queryID)
	}
	return docs[0], nil
}

// Normalized returns a shallow copy of d whose id orders cover the maps exactly.
// A nil order is derived from the map keys in lexical order, as NewDataset does;
// an order that disagrees with its map is ErrInvalidDataset.
func (d *Dataset) Normalized() (*Dataset, error) {
	if d == nil {
		return nil, ErrEmptyCorpus
	}
	out := *d
	var err error
	if out.CorpusOrder, err = normalizeOrder("corpus", d.CorpusOrder, d.Corpus); err != nil {
		return nil, err
	}
	if out.QueryOrder, err = normalizeOrder("queries", d.QueryOrder, d.Queries); err != nil {
		return nil, err
	}
	return &out, nil
}

func normalizeOrder(name string, order []string, m map[string]string) ([]string, error) {
	if order == nil {
		return sortedKeys(m), nil
	}
	if len(order) != len(m) {
		return nil, fmt.Errorf("%w: %s order has %d ids, map has %d", ErrInvalidDataset, name, len(order), len(m))
	}
	seen := make(map[string]struct{}, len(order))
	for _, id := range order {
		if _, ok := m[id]; !ok {
			return nil, fmt.Errorf("%w: %s order names unknown id %q", ErrInvalidDataset, name, id)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s order repeats id %q", ErrInvalidDataset, name, id)
		}
		seen[id] = struct{}{}
	}
	return order, nil
}

// UnmarshalJSON decodes the dataset format, keeping corpus and query ids in
// document order.
func (d *Dataset) UnmarshalJSON(data []byte) error {
	parsed, err := ReadDataset(bytes.NewReader(data))
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

// Validate checks the invariants evaluators rely on: a non-empty corpus and a
// relevant-docs entry for every query.
func (d *Dataset) Validate() error {
	if d == nil || len(d.Corpus) == 0 {
		return ErrEmptyCorpus
	}
	n, err := d.Normalized()
	if err != nil {
		return err
	}
	for _, q := range n.QueryOrder {
		if _, err := d.Expected(q); err != nil {
			return err
		}
	}
	return nil
}

// LoadDataset reads a dataset JSON file written by the setup step.
func LoadDataset(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	defer f.Close()
	d, err := ReadDataset(f)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", path, err)
	}
	return d, nil
}

// ReadDataset decodes {"corpus":{...},"queries":{...},"relevant_docs":{...}},
// keeping corpus and query ids in file order. Unknown top-level keys are skipped.
func ReadDataset(r io.Reader) (*Dataset, error) {
	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	d := &Dataset{
		Corpus:       map[string]string{},
		Queries:      map[string]string{},
		RelevantDocs: map[string][]string{},
	}
	for dec.More() {
		key, err := stringToken(dec)
		if err != nil {
			return nil, err
		}
		switch key {
		case "corpus":
			d.CorpusOrder, err = readOrderedStrings(dec, d.Corpus)
		case "queries":
			d.QueryOrder, err = readOrderedStrings(dec, d.Queries)
		case "relevant_docs":
			err = dec.Decode(&d.RelevantDocs)
		default:
			var skip json.RawMessage
			err = dec.Decode(&skip)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDataset, key, err)
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return d, nil
}

// WriteDataset encodes d in the format ReadDataset accepts, preserving id order.
func WriteDataset(w io.Writer, d *Dataset) error {
	if _, err := io.WriteString(w, "{\n"); err != nil {
		return err
	}
	if err := writeOrderedStrings(w, "corpus", d.CorpusOrder, d.Corpus); err != nil {
		return err
	}
	if _, err := io.WriteString(w, ",\n"); err != nil {
		return err
	}
	if err := writeOrderedStrings(w, "queries", d.QueryOrder, d.Queries); err != nil {
		return err
	}
	rel, err := json.Marshal(d.RelevantDocs)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, ",\n\"relevant_docs\": %s\n}\n", rel)
	return err
}

func readOrderedStrings(dec *json.Decoder, into map[string]string) ([]string, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	var order []string
	for dec.More() {
		id, err := stringToken(dec)
		if err != nil {
			return nil, err
		}
		var text string
		if err := dec.Decode(&text); err != nil {
			return nil, fmt.Errorf("id %q: %w", id, err)
		}
		if _, dup := into[id]; !dup {
			order = append(order, id)
		}
		into[id] = text
	}
	return order, expectDelim(dec, '}')
}

func writeOrderedStrings(w io.Writer, name string, order []string, m map[string]string) error {
	if _, err := fmt.Fprintf(w, "%q: {", name); err != nil {
		return err
	}
	for i, id := range order {
		k, _ := json.Marshal(id)
		v, _ := json.Marshal(m[id])
		sep := ","
		if i == len(order)-1 {
			sep = ""
		}
		if _, err := fmt.Fprintf(w, "\n  %s: %s%s", k, v, sep); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "}")
	return err
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q, got %v", ErrInvalidDataset, want, tok)
	}
	return nil
}

func stringToken(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	s, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected key, got %v", ErrInvalidDataset, tok)
	}
	return s, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
