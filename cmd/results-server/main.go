// Command results-server exposes recorded hit-rate summaries over HTTP
// (POST/GET /summaries, GET /compare, GET /health, GET /metrics).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/klejdi94/embedtune"
	"github.com/klejdi94/embedtune/config"
	"github.com/klejdi94/embedtune/results"
)

func main() {
	configPath := flag.String("config", os.Getenv("EMBEDTUNE_CONFIG"), "Path to YAML config (EMBEDTUNE_* env vars override it)")
	addr := flag.String("addr", "", "Listen address (default results.addr)")
	storeKind := flag.String("store", "", "Store: memory, postgres, redis (default results.store)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Results.Addr = *addr
	}
	if *storeKind != "" {
		cfg.Results.Store = *storeKind
		if err := cfg.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	log := zap.New(zap.UseDevMode(cfg.Log.Development), zap.Level(level))

	session := embedtune.NewSession(cfg, log)
	defer session.Close()
	if err := session.OpenResults(context.Background()); err != nil {
		log.Error(err, "opening results store", "store", cfg.Results.Store)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	gauges := results.NewGauges(reg)

	srv := results.NewServer(gauges.Recording(session.Results), cfg.Results.Addr)
	srv.Gatherer = reg
	srv.Log = log.WithName("results-server")
	log.Info("results server listening", "addr", cfg.Results.Addr, "store", cfg.Results.Store)
	if err := srv.ListenAndServe(); err != nil {
		log.Error(err, "server stopped")
		session.Close()
		os.Exit(1)
	}
}
