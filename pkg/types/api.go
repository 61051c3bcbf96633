package types

import "time"

// Step status values used in reports.
const (
	StatusOK        = "ok"
	StatusChanged   = "changed"
	StatusUnchanged = "unchanged"
	StatusSkipped   = "skipped"
	StatusError     = "error"
	StatusWarn      = "warn"
)

// StepResult records what one provisioning step did.
type StepResult struct {
	// Step name.
	// example: daemon-reload
	Name string `json:"name"`
	// One of ok, changed, unchanged, skipped, warn, error.
	// example: skipped
	Status string `json:"status"`
	// Optional human-readable detail.
	// example: no unit changes
	Detail string `json:"detail,omitempty"`
}

// ProbeResult records one smoke probe. A failed probe is advisory only.
type ProbeResult struct {
	// example: liveliness
	Name string `json:"name"`
	// example: http://127.0.0.1:4000/health/liveliness
	Target string `json:"target"`
	OK     bool   `json:"ok"`
	// Skipped probes never ran because an earlier gating probe failed.
	Skipped bool `json:"skipped,omitempty"`
	// HTTP status of the last attempt, 0 when the endpoint never answered.
	Status   int           `json:"status,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// Report is the summary printed at the end of a run.
type Report struct {
	Service          string        `json:"service"`
	Kind             Kind          `json:"kind"`
	ToolPath         string        `json:"tool_path,omitempty"`
	State            ServiceState  `json:"state"`
	Steps            []StepResult  `json:"steps"`
	Probes           []ProbeResult `json:"probes,omitempty"`
	ProfileCreations int           `json:"profile_creations"`
	ArtifactsChanged int           `json:"artifacts_changed"`
	Duration         time.Duration `json:"duration"`
}

// ProbeFailures counts probes that ran and failed.
func (r Report) ProbeFailures() int {
	n := 0
	for _, p := range r.Probes {
		if !p.OK && !p.Skipped {
			n++
		}
	}
	return n
}
