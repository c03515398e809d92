package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"portal/cmd/internal/invite"
	"portal/cmd/internal/message"
	"portal/cmd/internal/realtime"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route pattern and status class.",
	}, []string{"route", "status_class"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "portal",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

// newRegistry returns a registry holding the runtime collectors and every
// package's metrics.
func newRegistry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()

	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequestsTotal,
		httpRequestDuration,
	}
	cs = append(cs, invite.Collectors()...)
	cs = append(cs, message.Collectors()...)
	cs = append(cs, realtime.Collectors()...)

	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
