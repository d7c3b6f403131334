package notifier

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	deliveries *prometheus.CounterVec
	deduped    prometheus.Counter
	dropped    prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "steamwatch",
			Subsystem: "notifier",
			Name:      "deliveries_total",
			Help:      "Audience deliveries by platform and result.",
		}, []string{"platform", "result"}),
		deduped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steamwatch",
			Subsystem: "notifier",
			Name:      "deduped_total",
			Help:      "Deliveries suppressed by the dedup window.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steamwatch",
			Subsystem: "notifier",
			Name:      "dropped_total",
			Help:      "Events dropped because no audience was subscribed.",
		}),
	}
}

// Register adds the router's collectors to r.
func (r *Router) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{r.m.deliveries, r.m.deduped, r.m.dropped} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
