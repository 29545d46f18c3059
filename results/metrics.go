package results

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Gauges exports the latest hit rate per variant and model.
type Gauges struct {
	HitRate *prometheus.GaugeVec
}

// NewGauges registers the hit-rate gauge on reg.
func NewGauges(reg prometheus.Registerer) *Gauges {
	g := &Gauges{
		HitRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "embedtune_hit_rate",
			Help: "Latest top-k retrieval hit rate of a model variant.",
		}, []string{"variant", "model"}),
	}
	reg.MustRegister(g.HitRate)
	return g
}

// Observe sets the gauge for s.
func (g *Gauges) Observe(s Summary) {
	g.HitRate.WithLabelValues(s.Variant, s.Model).Set(s.HitRate)
}

// Recording wraps store so every recorded summary also updates g.
func (g *Gauges) Recording(store Store) Store {
	return &gaugedStore{Store: store, gauges: g}
}

type gaugedStore struct {
	Store
	gauges *Gauges
}

func (s *gaugedStore) Record(ctx context.Context, sum Summary) error {
	if err := s.Store.Record(ctx, sum); err != nil {
		return err
	}
	s.gauges.Observe(sum)
	return nil
}
