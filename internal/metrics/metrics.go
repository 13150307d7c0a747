package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	groupSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kill_orphan",
		Name:      "group_signals_total",
		Help:      "Signals delivered to the supervised process group.",
	}, []string{"signal"})

	signalErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kill_orphan",
		Name:      "signal_errors_total",
		Help:      "Group signal deliveries that failed for a reason other than the group being gone.",
	})

	livenessProbes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kill_orphan",
		Name:      "liveness_probes_total",
		Help:      "Parent liveness probes by result (alive, dead, inconclusive).",
	}, []string{"result"})

	detectionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kill_orphan",
		Name:      "detection_latency_seconds",
		Help:      "Time between the last successful liveness probe and parent death detection.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	outcome = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kill_orphan",
		Name:      "outcome",
		Help:      "Termination outcome of the supervised run (1 for the recorded outcome).",
	}, []string{"outcome"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kill_orphan",
		Name:      "build_info",
		Help:      "Build metadata for the running kill-orphan binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

// Probe results accepted by ObserveLivenessProbe.
const (
	ProbeAlive        = "alive"
	ProbeDead         = "dead"
	ProbeInconclusive = "inconclusive"
)

func init() {
	registry.MustRegister(groupSignals, signalErrors, livenessProbes, detectionLatency, outcome, buildInfo)
}

// Registry returns the Prometheus registry containing all kill-orphan metrics.
func Registry() *prometheus.Registry {
	return registry
}

// IncGroupSignal counts a signal sent to the supervised group.
func IncGroupSignal(signal string) {
	if signal == "" {
		return
	}
	groupSignals.WithLabelValues(signal).Inc()
}

// IncSignalError counts a failed group signal delivery.
func IncSignalError() {
	signalErrors.Inc()
}

// ObserveLivenessProbe records the result of a single parent liveness probe.
func ObserveLivenessProbe(result string) {
	switch result {
	case ProbeAlive, ProbeDead, ProbeInconclusive:
		livenessProbes.WithLabelValues(result).Inc()
	}
}

// ObserveDetectionLatency records how long parent death went unnoticed at most.
func ObserveDetectionLatency(d time.Duration) {
	if d < 0 {
		return
	}
	detectionLatency.Observe(d.Seconds())
}

// SetOutcome marks name as the recorded termination outcome.
func SetOutcome(name string) {
	if name == "" {
		return
	}
	outcome.Reset()
	outcome.WithLabelValues(name).Set(1)
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

// WriteTextfile dumps the registry in the text exposition format, suitable
// for the node exporter textfile collector. An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, registry)
}
