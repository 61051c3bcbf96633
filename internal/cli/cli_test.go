package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"modelprov/internal/common/fsutil"
	"modelprov/internal/deploy"
	"modelprov/internal/hostexec"
)

type testApp struct {
	*App
	out, errOut *bytes.Buffer
	exec        *hostexec.Fake
	root        string
	env         map[string]string
	euid        int
	toolMissing bool
	staged      bool
}

func selfOwner(string, string) (int, int, error) { return os.Getuid(), os.Getgid(), nil }

func hostHandle(c hostexec.Cmd) (hostexec.Result, error) {
	args := strings.Join(c.Args, " ")
	switch {
	case c.Path == "systemctl" && strings.HasPrefix(args, "show"):
		return hostexec.Result{Stdout: []byte("LoadState=loaded\nActiveState=active\nUnitFileState=enabled\n")}, nil
	case args == "--version":
		return hostexec.Result{Stdout: []byte("LiteLLM: Current Version = 1.55.3\n")}, nil
	}
	return hostexec.Result{}, nil
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ta := &testApp{
		out:    &bytes.Buffer{},
		errOut: &bytes.Buffer{},
		exec:   &hostexec.Fake{Handle: hostHandle},
		root:   t.TempDir(),
		env:    map[string]string{},
	}
	ta.App = &App{
		Stdout: ta.out,
		Stderr: ta.errOut,
		Getenv: func(k string) string { return ta.env[k] },
		Runner: ta.exec,
		Configure: func(p *deploy.Pipeline) {
			if p.Opts.Root != "" {
				p.Files = &fsutil.Writer{Root: p.Opts.Root, Owner: selfOwner}
			}
			p.Installer.LookPath = func(name string) (string, error) {
				if ta.toolMissing {
					return "", errors.New("not found")
				}
				return "/usr/local/bin/" + name, nil
			}
			p.Geteuid = func() int { return ta.euid }
			p.HostActions = !ta.staged
		},
	}
	return ta
}

func (ta *testApp) run(args ...string) int {
	return ta.Execute(context.Background(), args)
}

func (ta *testApp) hostArgs() []string {
	return []string{"--root", ta.root, "--lock-dir", filepath.Join(ta.root, "lock"), "--log-level", "off"}
}

func closedAddrPort(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	port := srv.URL[strings.LastIndex(srv.URL, ":")+1:]
	srv.Close()
	return port
}

func proxyArgs(port string) []string {
	return []string{"proxy",
		"--name", "litellm", "--user", "litellm",
		"--base-url", "https://example.openai.azure.com",
		"--api-key", "sk-test", "--api-version", "2024-06-01",
		"--model", "azure/gpt-4o",
		"--port", port,
		"--smoke-wait", "0", "--probe-timeout", "100ms",
	}
}

func TestExecute_Help(t *testing.T) {
	ta := newTestApp(t)
	require.Equal(t, 0, ta.run("-h"))
	require.Contains(t, ta.out.String(), "runtime")
	require.Contains(t, ta.out.String(), "proxy")

	ta.out.Reset()
	require.Equal(t, 0, ta.run("runtime", "--help"))
	require.Contains(t, ta.out.String(), "--force-recreate")
	require.Contains(t, ta.out.String(), "--hugepages")
	require.Empty(t, ta.exec.Calls())
}

func TestExecute_MissingRequiredMutatesNothing(t *testing.T) {
	ta := newTestApp(t)
	code := ta.run(append([]string{"runtime", "--model", "base-model-x"}, ta.hostArgs()...)...)
	require.Equal(t, 2, code)
	require.Contains(t, ta.errOut.String(), "missing required flag(s): --name, --user")
	require.Contains(t, ta.errOut.String(), "Usage:")
	require.Empty(t, ta.exec.Calls())
	entries, err := os.ReadDir(ta.root)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestExecute_ProxyMissingKey(t *testing.T) {
	ta := newTestApp(t)
	args := []string{"proxy", "--name", "litellm", "--user", "litellm", "--model", "azure/gpt-4o"}
	require.Equal(t, 2, ta.run(append(args, ta.hostArgs()...)...))
	require.Contains(t, ta.errOut.String(), "--api-key, --base-url")
	require.Empty(t, ta.exec.Calls())
}

func TestExecute_UsageErrors(t *testing.T) {
	cases := map[string][]string{
		"unknown flag":     {"proxy", "--bogus"},
		"no kind":          {},
		"extra argument":   {"runtime", "extra"},
		"bad port":         {"runtime", "--name", "o", "--user", "o", "--model", "m", "--port", "70000"},
		"relative workdir": {"runtime", "--name", "o", "--user", "o", "--model", "m", "--workdir", "var/lib/o"},
		"bad top-p":        {"runtime", "--name", "o", "--user", "o", "--model", "m", "--top-p", "1.5"},
		"bad duration":     {"runtime", "--keep-alive", "soon"},
		"bad output":       {"runtime", "--name", "o", "--user", "o", "--model", "m", "--output", "yaml"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			ta := newTestApp(t)
			require.Equal(t, 2, ta.run(args...), ta.errOut.String())
			require.True(t, strings.HasPrefix(ta.errOut.String(), "error: "))
			require.Contains(t, ta.errOut.String(), "Usage:")
			require.Empty(t, ta.exec.Calls())
		})
	}
}

func TestExecute_SmokeFailureExitsZero(t *testing.T) {
	ta := newTestApp(t)
	args := append(proxyArgs(closedAddrPort(t)), ta.hostArgs()...)
	args = append(args, "--output", "json")
	require.Equal(t, 0, ta.run(args...), ta.errOut.String())

	var rep struct {
		State  string `json:"state"`
		Probes []struct {
			Name    string `json:"name"`
			OK      bool   `json:"ok"`
			Skipped bool   `json:"skipped"`
		} `json:"probes"`
	}
	require.NoError(t, json.Unmarshal(ta.out.Bytes(), &rep))
	require.Equal(t, "installed-running", rep.State)
	require.Len(t, rep.Probes, 2)
	require.False(t, rep.Probes[0].OK)
	require.True(t, rep.Probes[1].Skipped)

	env, err := os.ReadFile(filepath.Join(ta.root, "etc/litellm/litellm.env"))
	require.NoError(t, err)
	require.Contains(t, string(env), `BACKEND_API_KEY="sk-test"`)
	require.NotContains(t, ta.out.String(), "sk-test")
}

func TestExecute_ConfigDefaultsAndFlagPrecedence(t *testing.T) {
	ta := newTestApp(t)
	ta.env[EnvAPIKey] = "sk-env"
	cfgPath := filepath.Join(t.TempDir(), "modelprov.yaml")
	cfg := "defaults:\n" +
		"  skip-smoke: true\n" +
		"  log-level: error\n" +
		"  root: " + ta.root + "\n" +
		"  lock-dir: " + filepath.Join(ta.root, "lock") + "\n" +
		"proxy:\n" +
		"  name: litellm\n" +
		"  user: litellm\n" +
		"  base-url: https://example.openai.azure.com\n" +
		"  model: azure/gpt-4o\n" +
		"  port: 4100\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	require.Equal(t, 0, ta.run("proxy", "--config", cfgPath, "--port", "4200"), ta.errOut.String())

	env, err := os.ReadFile(filepath.Join(ta.root, "etc/litellm/litellm.env"))
	require.NoError(t, err)
	require.Contains(t, string(env), `BACKEND_API_KEY="sk-env"`)
	unit, err := os.ReadFile(filepath.Join(ta.root, "etc/systemd/system/litellm.service"))
	require.NoError(t, err)
	require.Contains(t, string(unit), "--port 4200")
	require.Contains(t, ta.out.String(), "--skip-smoke")
}

func TestExecute_ConfigUnknownKey(t *testing.T) {
	ta := newTestApp(t)
	cfgPath := filepath.Join(t.TempDir(), "modelprov.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[runtime]\nbogus = 1\n"), 0o600))
	require.Equal(t, 2, ta.run("runtime", "--config", cfgPath))
	require.Contains(t, ta.errOut.String(), `unknown key "bogus"`)
}

func TestExecute_PrivilegeError(t *testing.T) {
	ta := newTestApp(t)
	ta.euid = 1000
	args := append(proxyArgs("4000"), "--lock-dir", filepath.Join(ta.root, "lock"), "--log-level", "off")
	require.Equal(t, 3, ta.run(args...))
	require.Contains(t, ta.errOut.String(), "hint: run as root")
	require.NotContains(t, ta.errOut.String(), "Usage:")
	require.Empty(t, ta.exec.Calls())
}

func TestExecute_DependencyMissing(t *testing.T) {
	ta := newTestApp(t)
	ta.toolMissing = true
	require.Equal(t, 4, ta.run(append(proxyArgs("4000"), ta.hostArgs()...)...))
	require.Contains(t, ta.errOut.String(), "hint: re-run with --install")
	require.Empty(t, ta.exec.Calls())
	require.NoDirExists(t, filepath.Join(ta.root, "etc"))
}

func TestExecute_StagedRootRunsWithoutPrivilege(t *testing.T) {
	ta := newTestApp(t)
	ta.staged = true
	ta.euid = 1000
	args := append(proxyArgs(closedAddrPort(t)), ta.hostArgs()...)
	require.Equal(t, 0, ta.run(append(args, "--output", "json")...), ta.errOut.String())
	require.Empty(t, ta.exec.Calls())

	var rep struct {
		State  string `json:"state"`
		Probes []any  `json:"probes"`
	}
	require.NoError(t, json.Unmarshal(ta.out.Bytes(), &rep))
	require.Equal(t, "absent", rep.State)
	require.Empty(t, rep.Probes)
	require.FileExists(t, filepath.Join(ta.root, "etc/litellm/config.yaml"))
}
