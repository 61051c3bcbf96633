// Package render turns a DeploymentSpec into the files a service needs on disk.
package render

import (
	"errors"

	"modelprov/pkg/types"
)

// Artifact names, also used as report and error labels.
const (
	ArtifactEnv     = "env"
	ArtifactConfig  = "config"
	ArtifactProfile = "profile"
	ArtifactSysctl  = "sysctl"
	ArtifactUnit    = "unit"
)

// Materializer renders artifacts for one run. Executable is the resolved
// path of the service binary and ends up in the unit's ExecStart.
type Materializer struct {
	Executable string
}

// New returns a Materializer for the given service binary.
func New(executable string) *Materializer {
	return &Materializer{Executable: executable}
}

// Render builds every artifact for spec. It either returns all of them or an
// ErrRender naming the first offending value; nothing is written here.
func (m *Materializer) Render(spec types.DeploymentSpec) ([]types.RenderedArtifact, error) {
	var (
		env  map[string]string
		decl []byte
		err  error
	)
	switch spec.Kind {
	case types.KindProxy:
		env = proxyEnv(spec)
		decl, err = proxyDeclarative(spec)
	case types.KindRuntime:
		env = runtimeEnv(spec)
		decl, err = runtimeDeclarative(spec)
	default:
		return nil, types.ErrRender(ArtifactConfig, errors.New("unknown service kind "+string(spec.Kind)))
	}
	if err != nil {
		return nil, types.ErrRender(ArtifactConfig, err)
	}
	envBytes, err := renderEnv(env)
	if err != nil {
		return nil, types.ErrRender(ArtifactEnv, err)
	}

	out := []types.RenderedArtifact{
		secret(ArtifactEnv, spec.EnvPath(), envBytes),
		public(ArtifactConfig, spec.ConfigPath(), decl),
	}
	if p := spec.DerivedProfile(); p != nil {
		mf, err := Modelfile(*p)
		if err != nil {
			return nil, types.ErrRender(ArtifactProfile, err)
		}
		out = append(out, public(ArtifactProfile, spec.ProfilePath(), mf))
	}
	if path := spec.SysctlPath(); path != "" {
		out = append(out, public(ArtifactSysctl, path, sysctlConf(spec.Runtime.HugePages)))
	}
	unit, err := renderUnit(spec, m.Executable)
	if err != nil {
		return nil, types.ErrRender(ArtifactUnit, err)
	}
	return append(out, public(ArtifactUnit, spec.UnitPath(), unit)), nil
}

func secret(name, path string, content []byte) types.RenderedArtifact {
	return types.RenderedArtifact{
		Name: name, Path: path, Content: content,
		Owner: "root", Group: "root", Mode: types.SecretMode, Secret: true,
	}
}

func public(name, path string, content []byte) types.RenderedArtifact {
	return types.RenderedArtifact{
		Name: name, Path: path, Content: content,
		Owner: "root", Group: "root", Mode: types.PublicMode,
	}
}

// Find returns the artifact with the given name.
func Find(arts []types.RenderedArtifact, name string) (types.RenderedArtifact, bool) {
	for _, a := range arts {
		if a.Name == name {
			return a, true
		}
	}
	return types.RenderedArtifact{}, false
}
