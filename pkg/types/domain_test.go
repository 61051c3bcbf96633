package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func runtimeSpec() DeploymentSpec {
	return DeploymentSpec{
		Kind: KindRuntime,
		Service: Identity{
			Name: "ollama", User: "ollama",
			WorkDir: "/var/lib/ollama", ConfigDir: "/etc/ollama", UnitDir: "/etc/systemd/system",
			Host: "127.0.0.1", Port: 11434,
		},
		Runtime: RuntimeParams{
			Model: "base-model-x", Profile: "cpu-opt",
			ContextLength: 4096, Threads: 8, Temperature: 0.7, TopP: 0.9, TopK: 40, RepeatPenalty: 1.1,
			HugePages: 512, KeepAlive: time.Minute,
		},
	}
}

func TestDeploymentSpec_Paths(t *testing.T) {
	s := runtimeSpec()
	require.Equal(t, "ollama.service", s.UnitName())
	require.Equal(t, "/etc/systemd/system/ollama.service", s.UnitPath())
	require.Equal(t, "/etc/ollama/ollama.env", s.EnvPath())
	require.Equal(t, "/etc/ollama/config.yaml", s.ConfigPath())
	require.Equal(t, "/etc/ollama/Modelfile.cpu-opt", s.ProfilePath())
	require.Equal(t, "/etc/sysctl.d/60-ollama-hugepages.conf", s.SysctlPath())
	require.Equal(t, "http://127.0.0.1:11434", s.Endpoint())

	s.Runtime.Profile = ""
	s.Runtime.HugePages = 0
	require.Empty(t, s.ProfilePath())
	require.Empty(t, s.SysctlPath())
	require.Nil(t, s.DerivedProfile())
	require.Equal(t, "base-model-x", s.ServedModel())
}

func TestDeploymentSpec_DerivedProfile(t *testing.T) {
	p := runtimeSpec().DerivedProfile()
	require.NotNil(t, p)
	require.Equal(t, "cpu-opt", p.Name)
	require.Equal(t, "base-model-x", p.Base)
	require.Equal(t, []ProfileParam{
		{"num_ctx", "4096"},
		{"num_thread", "8"},
		{"temperature", "0.7"},
		{"top_p", "0.9"},
		{"top_k", "40"},
		{"repeat_penalty", "1.1"},
	}, p.Overrides)
}

func TestDeploymentSpec_ProxyServedModel(t *testing.T) {
	s := DeploymentSpec{Kind: KindProxy, Runtime: RuntimeParams{Model: "azure/gpt-4o"}}
	require.Equal(t, "azure/gpt-4o", s.ServedModel())
	s.Backend.Alias = "gpt-4o"
	require.Equal(t, "gpt-4o", s.ServedModel())
	require.Nil(t, s.DerivedProfile())
	require.Empty(t, s.SysctlPath())
}

func TestSecretModeStricterThanPublic(t *testing.T) {
	require.Zero(t, SecretMode&^PublicMode)
	require.NotEqual(t, SecretMode, PublicMode)
	require.Zero(t, SecretMode&0o077)
}

func TestReport_ProbeFailures(t *testing.T) {
	r := Report{Probes: []ProbeResult{{OK: true}, {OK: false}, {Skipped: true}}}
	require.Equal(t, 1, r.ProbeFailures())
}
