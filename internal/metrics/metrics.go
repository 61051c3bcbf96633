// Package metrics exports the outcome of a run in the node-exporter
// textfile collector format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"modelprov/pkg/types"
)

const namespace = "modelprov"

var states = []types.ServiceState{types.StateAbsent, types.StateInstalledStopped, types.StateInstalledRunning}

// Recorder holds run metrics in a private registry so that nothing global
// leaks into the textfile.
type Recorder struct {
	reg *prometheus.Registry

	serviceState     *prometheus.GaugeVec
	runDuration      *prometheus.GaugeVec
	runSuccess       *prometheus.GaugeVec
	probeSuccess     *prometheus.GaugeVec
	artifactsChanged *prometheus.GaugeVec
	profileCreations *prometheus.GaugeVec
	lastRun          *prometheus.GaugeVec
}

func New() *Recorder {
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}
	r := &Recorder{
		reg:              prometheus.NewRegistry(),
		serviceState:     gauge("service_state", "Observed service state after the last run (1 for the current state).", "service", "kind", "state"),
		runDuration:      gauge("run_duration_seconds", "Wall time of the last run.", "service"),
		runSuccess:       gauge("run_success", "1 when the last run converged without a fatal error.", "service"),
		probeSuccess:     gauge("probe_success", "Smoke probe outcome of the last run.", "service", "probe"),
		artifactsChanged: gauge("artifacts_changed", "Artifacts rewritten by the last run.", "service"),
		profileCreations: gauge("profile_creations", "Derived profiles created by the last run.", "service"),
		lastRun:          gauge("last_run_timestamp_seconds", "Unix time the last run finished.", "service"),
	}
	r.reg.MustRegister(r.serviceState, r.runDuration, r.runSuccess, r.probeSuccess,
		r.artifactsChanged, r.profileCreations, r.lastRun)
	return r
}

// Registry exposes the private registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Observe records a finished run. runErr is the fatal error, if any.
func (r *Recorder) Observe(rep types.Report, runErr error, now time.Time) {
	svc := rep.Service
	for _, s := range states {
		v := 0.0
		if s == rep.State {
			v = 1
		}
		r.serviceState.WithLabelValues(svc, string(rep.Kind), string(s)).Set(v)
	}
	r.runDuration.WithLabelValues(svc).Set(rep.Duration.Seconds())
	if runErr == nil {
		r.runSuccess.WithLabelValues(svc).Set(1)
	} else {
		r.runSuccess.WithLabelValues(svc).Set(0)
	}
	for _, p := range rep.Probes {
		if p.Skipped {
			continue
		}
		v := 0.0
		if p.OK {
			v = 1
		}
		r.probeSuccess.WithLabelValues(svc, p.Name).Set(v)
	}
	r.artifactsChanged.WithLabelValues(svc).Set(float64(rep.ArtifactsChanged))
	r.profileCreations.WithLabelValues(svc).Set(float64(rep.ProfileCreations))
	r.lastRun.WithLabelValues(svc).Set(float64(now.Unix()))
}

// WriteTextfile atomically writes the registry to path.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}
