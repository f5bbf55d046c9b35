// Package metrics records patcher activity as Prometheus series. A nil
// *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "patcher"

type Recorder struct {
	reg *prom.Registry

	files        *prom.CounterVec
	bytes        prom.Counter
	retries      prom.Counter
	fileDuration prom.Histogram
	runs         *prom.CounterVec
	runDuration  *prom.HistogramVec
	busy         prom.Gauge
}

func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		reg: reg,
		files: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files processed by the download pipeline, by result",
		}, []string{"result"}),
		bytes: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "Bytes received from the patch host",
		}),
		retries: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_retries_total",
			Help:      "Transfer attempts that failed and were retried",
		}),
		fileDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Time spent on one file including retries",
			Buckets:   prom.DefBuckets,
		}),
		runs: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Engine runs by kind and outcome",
		}, []string{"kind", "outcome"}),
		runDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Engine run duration",
			Buckets:   prom.ExponentialBuckets(1, 4, 8),
		}, []string{"kind"}),
		busy: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "busy",
			Help:      "1 while an engine run is in flight",
		}),
	}
	reg.MustRegister(r.files, r.bytes, r.retries, r.fileDuration, r.runs, r.runDuration, r.busy)
	return r
}

func (r *Recorder) ObserveFile(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.files.WithLabelValues(result).Inc()
	r.fileDuration.Observe(d.Seconds())
}

func (r *Recorder) AddBytes(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.bytes.Add(float64(n))
}

func (r *Recorder) IncRetry() {
	if r == nil {
		return
	}
	r.retries.Inc()
}

func (r *Recorder) ObserveRun(kind, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(kind, outcome).Inc()
	r.runDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (r *Recorder) SetBusy(busy bool) {
	if r == nil {
		return
	}
	if busy {
		r.busy.Set(1)
		return
	}
	r.busy.Set(0)
}

// Handler serves the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prom.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
