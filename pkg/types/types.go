package types

import (
	"os"
	"strconv"
)

// ServiceState is the observed state of the managed unit.
type ServiceState string

const (
	StateAbsent           ServiceState = "absent"
	StateInstalledStopped ServiceState = "installed-stopped"
	StateInstalledRunning ServiceState = "installed-running"
)

// Artifact permission classes. Secret-bearing files are owner read/write only.
const (
	SecretMode os.FileMode = 0o600
	PublicMode os.FileMode = 0o644
)

// RenderedArtifact is one generated file and the ownership it must carry.
type RenderedArtifact struct {
	Name    string
	Path    string
	Content []byte
	Owner   string
	Group   string
	Mode    os.FileMode
	Secret  bool
}

// Overrides lists the profile parameters in a stable order, skipping unset values.
func (p RuntimeParams) Overrides() []ProfileParam {
	var out []ProfileParam
	add := func(k, v string) { out = append(out, ProfileParam{Key: k, Value: v}) }
	if p.ContextLength > 0 {
		add("num_ctx", strconv.Itoa(p.ContextLength))
	}
	if p.Threads > 0 {
		add("num_thread", strconv.Itoa(p.Threads))
	}
	if p.Temperature > 0 {
		add("temperature", formatFloat(p.Temperature))
	}
	if p.TopP > 0 {
		add("top_p", formatFloat(p.TopP))
	}
	if p.TopK > 0 {
		add("top_k", strconv.Itoa(p.TopK))
	}
	if p.RepeatPenalty > 0 {
		add("repeat_penalty", formatFloat(p.RepeatPenalty))
	}
	return out
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
