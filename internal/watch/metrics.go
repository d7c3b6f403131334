package watch

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	cycles        *prometheus.CounterVec
	cycleSeconds  prometheus.Histogram
	events        *prometheus.CounterVec
	fetchFailures prometheus.Counter
	watched       prometheus.Gauge
}

func newMetrics() *metrics {
	return &metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "steamwatch", Subsystem: "watch", Name: "cycles_total",
			Help: "Poll cycles by outcome.",
		}, []string{"result"}),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "steamwatch", Subsystem: "watch", Name: "cycle_duration_seconds",
			Help:    "Poll cycle duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "steamwatch", Subsystem: "watch", Name: "events_total",
			Help: "Presence transitions emitted.",
		}, []string{"kind"}),
		fetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steamwatch", Subsystem: "watch", Name: "fetch_failures_total",
			Help: "Cycles whose presence fetch failed.",
		}),
		watched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "steamwatch", Subsystem: "watch", Name: "watched_identities",
			Help: "Size of the watch set at the last cycle.",
		}),
	}
}

func (e *Engine) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{e.m.cycles, e.m.cycleSeconds, e.m.events, e.m.fetchFailures, e.m.watched} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
