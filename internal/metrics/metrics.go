// Package metrics records request and streaming metrics for the service.
//
// Callers depend on the Recorder interface; Nop is used when metrics are
// disabled and Prometheus exposes the collectors for scraping.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics sink used by the service.
type Recorder interface {
	// ObserveRequest records one RPC call and its outcome code ("OK" or an
	// error kind).
	ObserveRequest(method, database, code string, d time.Duration)
	// AddRows counts rows streamed by Query.
	AddRows(database string, n int)
	// SetDatabases records the number of registered databases.
	SetDatabases(n int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObserveRequest(string, string, string, time.Duration) {}
func (Nop) AddRows(string, int)                                  {}
func (Nop) SetDatabases(int)                                     {}

// Prometheus is a Recorder backed by client_golang collectors on a private
// registry.
type Prometheus struct {
	reg *prometheus.Registry

	requests  *prometheus.CounterVec // datasink_requests_total
	duration  *prometheus.SummaryVec // datasink_request_duration_seconds
	rows      *prometheus.CounterVec // datasink_streamed_rows_total
	databases prometheus.Gauge       // datasink_databases
}

// NewPrometheus creates and registers the collectors, plus the Go runtime
// and process collectors.
func NewPrometheus() (*Prometheus, error) {
	reg := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datasink_requests_total",
			Help: "RPC calls partitioned by method, database and outcome code.",
		},
		[]string{"method", "database", "code"},
	)
	duration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "datasink_request_duration_seconds",
			Help:       "RPC latency in seconds, partitioned by method.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"method"},
	)
	rows := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datasink_streamed_rows_total",
			Help: "Rows streamed by Query, partitioned by database.",
		},
		[]string{"database"},
	)
	databases := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "datasink_databases",
		Help: "Number of registered databases.",
	})

	for _, c := range []prometheus.Collector{
		requests, duration, rows, databases,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register collector: %w", err)
		}
	}

	return &Prometheus{
		reg:       reg,
		requests:  requests,
		duration:  duration,
		rows:      rows,
		databases: databases,
	}, nil
}

func (p *Prometheus) ObserveRequest(method, database, code string, d time.Duration) {
	p.requests.WithLabelValues(method, database, code).Inc()
	p.duration.WithLabelValues(method).Observe(d.Seconds())
}

func (p *Prometheus) AddRows(database string, n int) {
	if n <= 0 {
		return
	}
	p.rows.WithLabelValues(database).Add(float64(n))
}

func (p *Prometheus) SetDatabases(n int) {
	p.databases.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}
