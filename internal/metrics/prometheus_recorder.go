package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "llmstxt"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	runDuration     prom.Histogram
	runOutcome      *prom.CounterVec
	sectionDuration *prom.HistogramVec
	itemsWritten    *prom.CounterVec
	batchSize       prom.Gauge
	memoryPeak      prom.Gauge
	cacheOps        *prom.CounterVec
	triggers        *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Total generation run duration",
			Buckets:   prom.ExponentialBuckets(0.1, 2, 12),
		}),
		runOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "run_outcomes_total",
			Help:      "Generation runs by final status",
		}, []string{"outcome"}),
		sectionDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "section_duration_seconds",
			Help:      "Duration of writing individual output sections",
			Buckets:   prom.DefBuckets,
		}, []string{"file", "section"}),
		itemsWritten: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "items_written_total",
			Help:      "Cache rows written to the output files by pass",
		}, []string{"pass"}),
		batchSize: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Current adaptive batch size of the running generation",
		}),
		memoryPeak: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_peak_bytes",
			Help:      "Peak heap usage observed during the last generation run",
		}),
		cacheOps: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Cache maintenance operations by kind",
		}, []string{"op"}),
		triggers: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Generation requests by trigger source",
		}, []string{"source"}),
	}
	reg.MustRegister(pr.runDuration, pr.runOutcome, pr.sectionDuration, pr.itemsWritten,
		pr.batchSize, pr.memoryPeak, pr.cacheOps, pr.triggers)
	return pr
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRunOutcome(outcome Outcome) {
	if p == nil {
		return
	}
	p.runOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObserveSectionDuration(file, section string, d time.Duration) {
	if p == nil {
		return
	}
	p.sectionDuration.WithLabelValues(file, section).Observe(d.Seconds())
}

func (p *PrometheusRecorder) AddItemsWritten(pass string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.itemsWritten.WithLabelValues(pass).Add(float64(n))
}

func (p *PrometheusRecorder) SetBatchSize(n int) {
	if p == nil {
		return
	}
	p.batchSize.Set(float64(n))
}

func (p *PrometheusRecorder) SetMemoryPeak(bytes uint64) {
	if p == nil {
		return
	}
	p.memoryPeak.Set(float64(bytes))
}

func (p *PrometheusRecorder) IncCacheOp(op CacheOp) {
	if p == nil {
		return
	}
	p.cacheOps.WithLabelValues(string(op)).Inc()
}

func (p *PrometheusRecorder) IncTrigger(source string) {
	if p == nil {
		return
	}
	p.triggers.WithLabelValues(source).Inc()
}
