/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package stats

import "github.com/prometheus/client_golang/prometheus"

// Registry mirrors the shared region's counters as prometheus metrics
// for operators who scrape /metrics on the master instead of (or in
// addition to) polling /stats. It is updated from the same call site
// as the shared region - RecordRequest and ConnectionOpened/Closed -
// so the two views of server activity never diverge.
type Registry struct {
	requests    *prometheus.CounterVec
	bytes       prometheus.Counter
	activeConns prometheus.Gauge
	respTime    prometheus.Histogram
}

// NewRegistry builds and registers the core's prometheus metrics
// against reg. Pass prometheus.NewRegistry() for an isolated registry,
// or prometheus.DefaultRegisterer to fold into the default one.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concurrentd_requests_total",
			Help: "Total HTTP requests served, labeled by status class.",
		}, []string{"status"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concurrentd_bytes_transferred_total",
			Help: "Total response bytes written to clients.",
		}),
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "concurrentd_active_connections",
			Help: "Connections currently being served across all workers.",
		}),
		respTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "concurrentd_response_time_ms",
			Help:    "Request handling latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
	}

	reg.MustRegister(r.requests, r.bytes, r.activeConns, r.respTime)

	return r
}

// ObserveRequest records one completed request. Call alongside
// Region.RecordRequest, never instead of it.
func (r *Registry) ObserveRequest(outcome Outcome, bytesSent int64, elapsedMs int64) {
	r.requests.WithLabelValues(outcomeLabel(outcome)).Inc()
	r.bytes.Add(float64(bytesSent))
	r.respTime.Observe(float64(elapsedMs))
}

// SetActiveConnections sets the active-connections gauge to n. Called
// periodically from the same monitor loop that logs the dashboard
// snapshot, not per-connection, since it reads the authoritative value
// from the shared region rather than tracking its own delta.
func (r *Registry) SetActiveConnections(n int64) {
	r.activeConns.Set(float64(n))
}

func outcomeLabel(o Outcome) string {
	switch o {
	case Outcome2xx:
		return "2xx"
	case Outcome3xx:
		return "3xx"
	case Outcome4xx:
		return "4xx"
	default:
		return "5xx"
	}
}
