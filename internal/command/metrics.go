package command

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	rejected *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "steamwatch",
			Subsystem: "command",
			Name:      "requests_total",
			Help:      "Handled /sw commands by command and result.",
		}, []string{"cmd", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "steamwatch",
			Subsystem: "command",
			Name:      "duration_seconds",
			Help:      "Command handling latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"cmd"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "steamwatch",
			Subsystem: "command",
			Name:      "rejected_total",
			Help:      "Commands not run, by reason.",
		}, []string{"reason"}),
	}
}

// Register adds the dispatcher's collectors to reg.
func (d *Dispatcher) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{d.metrics.requests, d.metrics.duration, d.metrics.rejected} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
