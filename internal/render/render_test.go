package render

import (
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"modelprov/pkg/types"
)

func proxySpec() types.DeploymentSpec {
	return types.DeploymentSpec{
		Kind: types.KindProxy,
		Service: types.Identity{
			Name: "litellm", User: "litellm",
			WorkDir: "/var/lib/litellm", ConfigDir: "/etc/litellm", UnitDir: "/etc/systemd/system",
			Host: "127.0.0.1", Port: 4000,
		},
		Runtime: types.RuntimeParams{Model: "azure/gpt-4o"},
		Backend: types.Backend{
			BaseURL:    "https://example.openai.azure.com",
			APIKey:     "sk-test",
			APIVersion: "2024-06-01",
			MasterKey:  "sk-master",
			Alias:      "gpt-4o",
		},
	}
}

func runtimeSpec() types.DeploymentSpec {
	return types.DeploymentSpec{
		Kind: types.KindRuntime,
		Service: types.Identity{
			Name: "ollama", User: "ollama",
			WorkDir: "/var/lib/ollama", ConfigDir: "/etc/ollama", UnitDir: "/etc/systemd/system",
			Host: "127.0.0.1", Port: 11434,
		},
		Runtime: types.RuntimeParams{
			Model: "base-model-x", Profile: "cpu-opt",
			ContextLength: 4096, Threads: 8, Temperature: 0.7,
			KeepAlive: 5 * time.Minute, HugePages: 512,
		},
	}
}

func names(arts []types.RenderedArtifact) []string {
	out := make([]string, 0, len(arts))
	for _, a := range arts {
		out = append(out, a.Name)
	}
	return out
}

func mustFind(t *testing.T, arts []types.RenderedArtifact, name string) types.RenderedArtifact {
	t.Helper()
	a, ok := Find(arts, name)
	require.True(t, ok, "artifact %s missing", name)
	return a
}

func TestRender_ProxyArtifacts(t *testing.T) {
	arts, err := New("/usr/local/bin/litellm").Render(proxySpec())
	require.NoError(t, err)
	require.Equal(t, []string{ArtifactEnv, ArtifactConfig, ArtifactUnit}, names(arts))

	env := mustFind(t, arts, ArtifactEnv)
	require.Equal(t, "/etc/litellm/litellm.env", env.Path)
	require.True(t, env.Secret)
	require.Equal(t, types.SecretMode, env.Mode)
	require.Equal(t, "root", env.Owner)
	parsed, err := godotenv.Unmarshal(string(env.Content))
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		EnvBackendBase:    "https://example.openai.azure.com",
		EnvBackendKey:     "sk-test",
		EnvBackendVersion: "2024-06-01",
		EnvMasterKey:      "sk-master",
	}, parsed)

	cfg := mustFind(t, arts, ArtifactConfig)
	require.Equal(t, types.PublicMode, cfg.Mode)
	require.NotContains(t, string(cfg.Content), "sk-test")
	require.NotContains(t, string(cfg.Content), "sk-master")
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(cfg.Content, &doc))
	models := doc["model_list"].([]any)
	require.Len(t, models, 1)
	entry := models[0].(map[string]any)
	require.Equal(t, "gpt-4o", entry["model_name"])
	params := entry["litellm_params"].(map[string]any)
	require.Equal(t, "azure/gpt-4o", params["model"])
	require.Equal(t, "os.environ/BACKEND_API_KEY", params["api_key"])
	require.Equal(t, "os.environ/BACKEND_API_VERSION", params["api_version"])
	require.Equal(t, "os.environ/PROXY_MASTER_KEY", doc["general_settings"].(map[string]any)["master_key"])

	unit := string(mustFind(t, arts, ArtifactUnit).Content)
	for _, want := range []string{
		"ExecStart=/usr/local/bin/litellm --config /etc/litellm/config.yaml --host 127.0.0.1 --port 4000\n",
		"EnvironmentFile=/etc/litellm/litellm.env\n",
		"User=litellm\n",
		"Restart=on-failure\n",
		"NoNewPrivileges=true\n",
		"PrivateTmp=true\n",
		"ProtectSystem=strict\n",
		"ProtectHome=true\n",
		"ReadWritePaths=/var/lib/litellm\n",
		"WantedBy=multi-user.target\n",
	} {
		require.Contains(t, unit, want)
	}
	require.NotContains(t, unit, "LimitMEMLOCK")
}

func TestRender_ProxyWithoutOptionalSecrets(t *testing.T) {
	spec := proxySpec()
	spec.Backend.MasterKey = ""
	spec.Backend.APIVersion = ""
	arts, err := New("/usr/local/bin/litellm").Render(spec)
	require.NoError(t, err)

	parsed, err := godotenv.Unmarshal(string(mustFind(t, arts, ArtifactEnv).Content))
	require.NoError(t, err)
	require.NotContains(t, parsed, EnvMasterKey)
	require.NotContains(t, parsed, EnvBackendVersion)

	cfg := string(mustFind(t, arts, ArtifactConfig).Content)
	require.NotContains(t, cfg, "general_settings")
	require.NotContains(t, cfg, "api_version")
}

func TestRender_RuntimeArtifacts(t *testing.T) {
	arts, err := New("/usr/local/bin/ollama").Render(runtimeSpec())
	require.NoError(t, err)
	require.Equal(t, []string{ArtifactEnv, ArtifactConfig, ArtifactProfile, ArtifactSysctl, ArtifactUnit}, names(arts))

	parsed, err := godotenv.Unmarshal(string(mustFind(t, arts, ArtifactEnv).Content))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:11434", parsed["OLLAMA_HOST"])
	require.Equal(t, "/var/lib/ollama/models", parsed["OLLAMA_MODELS"])
	require.Equal(t, "5m", parsed["OLLAMA_KEEP_ALIVE"])
	require.Equal(t, "4096", parsed["OLLAMA_CONTEXT_LENGTH"])
	require.Equal(t, "8", parsed["OLLAMA_NUM_THREADS"])

	profile := mustFind(t, arts, ArtifactProfile)
	require.Equal(t, "/etc/ollama/Modelfile.cpu-opt", profile.Path)
	require.Equal(t, "FROM base-model-x\n"+
		"PARAMETER num_ctx 4096\n"+
		"PARAMETER num_thread 8\n"+
		"PARAMETER temperature 0.7\n", string(profile.Content))

	sysctl := mustFind(t, arts, ArtifactSysctl)
	require.Equal(t, "/etc/sysctl.d/60-ollama-hugepages.conf", sysctl.Path)
	require.Equal(t, "vm.nr_hugepages = 512\n", string(sysctl.Content))

	var decl runtimeConfig
	require.NoError(t, yaml.Unmarshal(mustFind(t, arts, ArtifactConfig).Content, &decl))
	require.Equal(t, "cpu-opt", decl.Alias)
	require.Equal(t, "base-model-x", decl.BaseModel)
	require.Equal(t, "http://127.0.0.1:11434", decl.Endpoint)
	require.Equal(t, types.ProfileParam{Key: "num_ctx", Value: "4096"}, decl.Parameters[0])

	unit := string(mustFind(t, arts, ArtifactUnit).Content)
	require.Contains(t, unit, "ExecStart=/usr/local/bin/ollama serve\n")
	require.Contains(t, unit, "LimitMEMLOCK=infinity\n")
}

func TestRender_RuntimeWithoutProfileOrHugePages(t *testing.T) {
	spec := runtimeSpec()
	spec.Runtime.Profile = ""
	spec.Runtime.HugePages = 0
	arts, err := New("/usr/local/bin/ollama").Render(spec)
	require.NoError(t, err)
	require.Equal(t, []string{ArtifactEnv, ArtifactConfig, ArtifactUnit}, names(arts))
	require.NotContains(t, string(mustFind(t, arts, ArtifactUnit).Content), "LimitMEMLOCK")
}

func TestRender_SecretStricterThanPublic(t *testing.T) {
	for _, spec := range []types.DeploymentSpec{proxySpec(), runtimeSpec()} {
		arts, err := New("/usr/bin/svc").Render(spec)
		require.NoError(t, err)
		for _, s := range arts {
			if !s.Secret {
				continue
			}
			for _, p := range arts {
				if p.Secret {
					continue
				}
				sp, pp := s.Mode.Perm(), p.Mode.Perm()
				require.Zero(t, sp&^pp, "%s grants bits %s lacks", s.Name, p.Name)
				require.NotEqual(t, sp, pp)
				require.Zero(t, sp&0o077, "%s readable by group or others", s.Name)
			}
		}
	}
}

func TestRender_Deterministic(t *testing.T) {
	m := New("/usr/local/bin/ollama")
	a, err := m.Render(runtimeSpec())
	require.NoError(t, err)
	b, err := m.Render(runtimeSpec())
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestRender_RejectsBreakingValues(t *testing.T) {
	cases := []struct {
		name     string
		spec     func() types.DeploymentSpec
		exe      string
		artifact string
		field    string
	}{
		{"quote in alias", func() types.DeploymentSpec {
			s := proxySpec()
			s.Backend.Alias = `gpt"4o`
			return s
		}, "", ArtifactConfig, "alias"},
		{"newline in alias", func() types.DeploymentSpec {
			s := proxySpec()
			s.Backend.Alias = "gpt-4o\ninjected: true"
			return s
		}, "", ArtifactConfig, "alias"},
		{"newline in api key", func() types.DeploymentSpec {
			s := proxySpec()
			s.Backend.APIKey = "sk-test\nEVIL=1"
			return s
		}, "", ArtifactEnv, EnvBackendKey},
		{"quote in api key", func() types.DeploymentSpec {
			s := proxySpec()
			s.Backend.APIKey = `sk"test`
			return s
		}, "", ArtifactEnv, EnvBackendKey},
		{"space in model", func() types.DeploymentSpec {
			s := runtimeSpec()
			s.Runtime.Model = "base model"
			return s
		}, "", ArtifactConfig, "model"},
		{"space in profile", func() types.DeploymentSpec {
			s := runtimeSpec()
			s.Runtime.Profile = "cpu opt"
			return s
		}, "", ArtifactConfig, "profile"},
		{"specifier in name", func() types.DeploymentSpec {
			s := proxySpec()
			s.Service.Name = "lite%nllm"
			return s
		}, "", ArtifactUnit, "name"},
		{"bad user", func() types.DeploymentSpec {
			s := proxySpec()
			s.Service.User = "Lite LLM"
			return s
		}, "", ArtifactUnit, "user"},
		{"relative workdir", func() types.DeploymentSpec {
			s := proxySpec()
			s.Service.WorkDir = "var/lib/litellm"
			return s
		}, "", ArtifactUnit, "workdir"},
		{"space in executable", func() types.DeploymentSpec {
			return proxySpec()
		}, "/opt/my tools/litellm", ArtifactUnit, "executable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exe := tc.exe
			if exe == "" {
				exe = "/usr/local/bin/svc"
			}
			arts, err := New(exe).Render(tc.spec())
			require.Error(t, err)
			require.Nil(t, arts)
			require.True(t, types.IsKind(err, types.KindRender), "kind: %v", types.KindOf(err))
			var te *types.Error
			require.ErrorAs(t, err, &te)
			require.Equal(t, tc.artifact, te.Step)
			var ve *ValueError
			require.ErrorAs(t, err, &ve)
			require.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestRender_UnknownKind(t *testing.T) {
	spec := proxySpec()
	spec.Kind = "mystery"
	_, err := New("/usr/bin/svc").Render(spec)
	require.True(t, types.IsKind(err, types.KindRender))
}

func TestFormatKeepAlive(t *testing.T) {
	cases := map[time.Duration]string{
		5 * time.Minute:  "5m",
		2 * time.Hour:    "2h",
		90 * time.Second: "1m30s",
		-time.Second:     "-1",
	}
	for in, want := range cases {
		require.Equal(t, want, formatKeepAlive(in), in.String())
	}
}

func TestModelfile_NoOverrides(t *testing.T) {
	out, err := Modelfile(types.DerivedProfile{Name: "plain", Base: "base-model-x"})
	require.NoError(t, err)
	require.Equal(t, "FROM base-model-x\n", string(out))

	_, err = Modelfile(types.DerivedProfile{Name: "p", Base: "base-model-x",
		Overrides: []types.ProfileParam{{Key: "stop", Value: "a b"}}})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "parameter stop"))
}
