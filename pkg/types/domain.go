package types

import (
	"fmt"
	"path/filepath"
	"time"
)

// Kind selects which service family a deployment provisions.
type Kind string

const (
	// KindProxy is an OpenAI-compatible model-serving proxy in front of a remote backend.
	KindProxy Kind = "proxy"
	// KindRuntime is a local model runtime serving models from its own store.
	KindRuntime Kind = "runtime"
)

// Identity describes the managed service on the host.
type Identity struct {
	// Unit and service name.
	// example: litellm
	Name string `json:"name" yaml:"name" toml:"name"`
	// Unprivileged system user the service runs as.
	// example: litellm
	User string `json:"user" yaml:"user" toml:"user"`
	// Working directory (also the writable state directory).
	// example: /var/lib/litellm
	WorkDir string `json:"workdir" yaml:"workdir" toml:"workdir"`
	// Directory holding the rendered configuration.
	// example: /etc/litellm
	ConfigDir string `json:"config_dir" yaml:"config_dir" toml:"config_dir"`
	// Directory holding unit descriptors of the service manager.
	// example: /etc/systemd/system
	UnitDir string `json:"unit_dir" yaml:"unit_dir" toml:"unit_dir"`
	// Listen host.
	// example: 127.0.0.1
	Host string `json:"host" yaml:"host" toml:"host"`
	// Listen port.
	// example: 4000
	Port int `json:"port" yaml:"port" toml:"port"`
}

// RuntimeParams tunes the local runtime and its optional derived profile.
type RuntimeParams struct {
	// Model identifier served by the proxy backend or pulled by the runtime.
	Model string `json:"model"`
	// Derived profile name. Empty means the base model is served as-is.
	Profile       string        `json:"profile,omitempty"`
	ContextLength int           `json:"ctx,omitempty"`
	Threads       int           `json:"threads,omitempty"`
	Temperature   float64       `json:"temperature,omitempty"`
	TopP          float64       `json:"top_p,omitempty"`
	TopK          int           `json:"top_k,omitempty"`
	RepeatPenalty float64       `json:"repeat_penalty,omitempty"`
	HugePages     int           `json:"hugepages,omitempty"`
	KeepAlive     time.Duration `json:"keep_alive,omitempty"`
}

// Backend holds the credentials of the remote service behind a proxy.
// Values are secrets and only ever land in the environment artifact.
type Backend struct {
	BaseURL    string `json:"-"`
	APIKey     string `json:"-"`
	APIVersion string `json:"-"`
	MasterKey  string `json:"-"`
	// User-facing model alias exposed by the proxy.
	Alias string `json:"alias,omitempty"`
}

// Timeouts bounds every suspension point of a run.
type Timeouts struct {
	Install   time.Duration `json:"install"`
	Pull      time.Duration `json:"pull"`
	SmokeWait time.Duration `json:"smoke_wait"`
	Probe     time.Duration `json:"probe"`
}

// DeploymentSpec is the validated parameter set for one run.
// It is built once by the CLI and handed to every component by value.
type DeploymentSpec struct {
	Kind     Kind          `json:"kind"`
	Service  Identity      `json:"service"`
	Runtime  RuntimeParams `json:"runtime"`
	Backend  Backend       `json:"backend"`
	Timeouts Timeouts      `json:"timeouts"`
	// Install missing dependencies instead of failing.
	Install bool `json:"install"`
	// Recreate the derived profile even when present.
	ForceRecreate bool `json:"force_recreate"`
	SkipSmoke     bool `json:"skip_smoke"`
	// Send one generation request during smoke testing (runtime only).
	SmokeGenerate bool `json:"smoke_generate"`
}

// UnitName returns the service-manager unit name.
func (s DeploymentSpec) UnitName() string { return s.Service.Name + ".service" }

// UnitPath returns the absolute path of the unit descriptor.
func (s DeploymentSpec) UnitPath() string {
	return filepath.Join(s.Service.UnitDir, s.UnitName())
}

// EnvPath returns the absolute path of the environment artifact.
func (s DeploymentSpec) EnvPath() string {
	return filepath.Join(s.Service.ConfigDir, s.Service.Name+".env")
}

// ConfigPath returns the absolute path of the declarative config artifact.
func (s DeploymentSpec) ConfigPath() string {
	return filepath.Join(s.Service.ConfigDir, "config.yaml")
}

// ProfilePath returns the derived profile descriptor path, or "" without a profile.
func (s DeploymentSpec) ProfilePath() string {
	if s.Runtime.Profile == "" {
		return ""
	}
	return filepath.Join(s.Service.ConfigDir, "Modelfile."+s.Runtime.Profile)
}

// SysctlPath returns the kernel tuning artifact path, or "" when no huge pages are requested.
func (s DeploymentSpec) SysctlPath() string {
	if s.Kind != KindRuntime || s.Runtime.HugePages <= 0 {
		return ""
	}
	return filepath.Join("/etc/sysctl.d", fmt.Sprintf("60-%s-hugepages.conf", s.Service.Name))
}

// Endpoint returns the base URL the service listens on.
func (s DeploymentSpec) Endpoint() string {
	return fmt.Sprintf("http://%s:%d", s.Service.Host, s.Service.Port)
}

// ServedModel is the model name smoke probes and clients should address.
func (s DeploymentSpec) ServedModel() string {
	switch {
	case s.Kind == KindProxy && s.Backend.Alias != "":
		return s.Backend.Alias
	case s.Runtime.Profile != "":
		return s.Runtime.Profile
	default:
		return s.Runtime.Model
	}
}

// ProfileParam is one ordered override layered onto a base model.
type ProfileParam struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// DerivedProfile is a named variant of a base runtime asset.
type DerivedProfile struct {
	Name      string         `json:"name"`
	Base      string         `json:"base"`
	Overrides []ProfileParam `json:"overrides"`
}

// DerivedProfile returns the requested runtime profile, or nil when none applies.
func (s DeploymentSpec) DerivedProfile() *DerivedProfile {
	if s.Kind != KindRuntime || s.Runtime.Profile == "" {
		return nil
	}
	return &DerivedProfile{
		Name:      s.Runtime.Profile,
		Base:      s.Runtime.Model,
		Overrides: s.Runtime.Overrides(),
	}
}
