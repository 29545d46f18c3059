package results

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes a Store over HTTP: POST/GET /summaries, GET /compare, GET /health, GET /metrics.
type Server struct {
	Store    Store
	Addr     string
	Gatherer prometheus.Gatherer
	Log      logr.Logger
}

// NewServer creates a server that uses the given Store.
func NewServer(store Store, addr string) *Server {
	if addr == "" {
		addr = ":8080"
	}
	return &Server{Store: store, Addr: addr, Gatherer: prometheus.DefaultGatherer, Log: logr.Discard()}
}

type summariesResponse struct {
	Summaries []Summary `json:"summaries"`
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /summaries", s.handleRecord)
	mux.HandleFunc("GET /summaries", s.handleQuery)
	mux.HandleFunc("GET /compare", s.handleCompare)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{Addr: s.Addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	return srv.ListenAndServe()
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var sum Summary
	if err := json.NewDecoder(r.Body).Decode(&sum); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if sum.RunName == "" || sum.Variant == "" {
		http.Error(w, "run_name and variant required", http.StatusBadRequest)
		return
	}
	if sum.HitRate < 0 || sum.HitRate > 1 {
		http.Error(w, "hit_rate must be in [0, 1]", http.StatusBadRequest)
		return
	}
	if err := s.Store.Record(r.Context(), sum); err != nil {
		s.Log.Error(err, "record summary", "run", sum.RunName, "variant", sum.Variant)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q, ok := parseQuery(w, r)
	if !ok {
		return
	}
	out, err := s.Store.Query(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, summariesResponse{Summaries: out})
}

// handleCompare returns the latest summary per variant as a table.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	q, ok := parseQuery(w, r)
	if !ok {
		return
	}
	q.Limit = 0
	out, err := s.Store.Query(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, HitRateTable(Latest(out)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func parseQuery(w http.ResponseWriter, r *http.Request) (Query, bool) {
	v := r.URL.Query()
	q := Query{RunName: v.Get("run"), Variant: v.Get("variant"), Model: v.Get("model")}
	for name, dst := range map[string]*time.Time{"from": &q.From, "to": &q.To} {
		if raw := v.Get(name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				http.Error(w, name+": "+err.Error(), http.StatusBadRequest)
				return q, false
			}
			*dst = t
		}
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return q, false
		}
		q.Limit = n
	}
	return q, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
