package ruleimport

import (
	"expvar"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the Prometheus collectors of the package. It's served by the
// admin listener.
var Registry = prometheus.NewRegistry()

var (
	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ruleimport",
		Name:      "run_duration_seconds",
		Help:      "Duration of import runs.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	})
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ruleimport",
		Name:      "runs_total",
		Help:      "Import runs by result.",
	}, []string{"result"})
	sourcesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ruleimport",
		Name:      "sources_total",
		Help:      "Processed sources by status.",
	}, []string{"status"})
	rulesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ruleimport",
		Name:      "rules_imported_total",
		Help:      "Rules written by committed import runs.",
	})
)

func init() {
	Registry.MustRegister(runDuration, runsTotal, sourcesTotal, rulesTotal)
}

// ImportMetrics tracks the runs of one importer. Counters are published via
// expvar, totals across importers via Prometheus.
type ImportMetrics struct {
	// Runs by result.
	committed *expvar.Int
	aborted   *expvar.Int
	failed    *expvar.Int
	// Rule count of each source after the last committed run.
	sourceRules *expvar.Map
}

func NewImportMetrics(id string) *ImportMetrics {
	return &ImportMetrics{
		committed:   getVarInt("importer", id, "committed"),
		aborted:     getVarInt("importer", id, "aborted"),
		failed:      getVarInt("importer", id, "failed"),
		sourceRules: getVarMap("importer", id, "rules"),
	}
}

func (m *ImportMetrics) runCommitted(summary ImportSummary) {
	m.committed.Add(1)
	runsTotal.WithLabelValues("committed").Inc()
	runDuration.Observe(summary.Duration.Seconds())
	for _, res := range summary.Sources {
		sourcesTotal.WithLabelValues(res.Status.String()).Inc()
		count := new(expvar.Int)
		count.Set(int64(res.Rules))
		if res.Status == SourceFailed {
			count.Set(0)
		}
		m.sourceRules.Set(res.Source.Name, count)
		if res.Status != SourceUnchanged {
			rulesTotal.Add(float64(res.Rules))
		}
	}
}

func (m *ImportMetrics) runAborted(start time.Time) {
	m.aborted.Add(1)
	runsTotal.WithLabelValues("aborted").Inc()
	runDuration.Observe(time.Since(start).Seconds())
}

func (m *ImportMetrics) runFailed(start time.Time) {
	m.failed.Add(1)
	runsTotal.WithLabelValues("failed").Inc()
	runDuration.Observe(time.Since(start).Seconds())
}
