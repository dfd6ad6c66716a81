package metrics

import (
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "sitepush"

// PrometheusRecorder implements Recorder on a dedicated Prometheus registry.
// Flush writes the registry in text exposition format for node_exporter's
// textfile collector.
type PrometheusRecorder struct {
	reg          *prom.Registry
	textfile     string
	stepDuration *prom.HistogramVec
	stepResults  *prom.CounterVec
	syncedFiles  *prom.CounterVec
	itemFailures *prom.CounterVec
	lastRun      prom.Gauge
}

// NewPrometheusRecorder registers the sitepush metrics on reg (a fresh
// registry when nil). textfile may be empty, in which case Flush is a no-op.
func NewPrometheusRecorder(reg *prom.Registry, textfile string) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		reg:      reg,
		textfile: textfile,
		stepDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of individual workflow steps",
			Buckets:   prom.DefBuckets,
		}, []string{"step"}),
		stepResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "step_results_total",
			Help:      "Workflow step results by outcome",
		}, []string{"step", "result"}),
		syncedFiles: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "synced_files_total",
			Help:      "Files written to the shared-content tree by action",
		}, []string{"action"}),
		itemFailures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "sync_item_failures_total",
			Help:      "Shared-content items that failed to sync",
		}, []string{"item"}),
		lastRun: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed run",
		}),
	}
	reg.MustRegister(pr.stepDuration, pr.stepResults, pr.syncedFiles, pr.itemFailures, pr.lastRun)
	return pr
}

func (p *PrometheusRecorder) ObserveStepDuration(step string, d time.Duration) {
	p.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStepResult(step string, result ResultLabel) {
	p.stepResults.WithLabelValues(step, string(result)).Inc()
}

func (p *PrometheusRecorder) AddSyncedFiles(action string, n int) {
	if n <= 0 {
		return
	}
	p.syncedFiles.WithLabelValues(action).Add(float64(n))
}

func (p *PrometheusRecorder) IncSyncItemFailure(item string) {
	p.itemFailures.WithLabelValues(item).Inc()
}

func (p *PrometheusRecorder) SetLastRun(t time.Time) {
	p.lastRun.Set(float64(t.Unix()))
}

// Flush writes the registry to the configured textfile.
func (p *PrometheusRecorder) Flush() error {
	if p.textfile == "" {
		return nil
	}
	if err := prom.WriteToTextfile(p.textfile, p.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
