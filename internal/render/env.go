package render

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"modelprov/pkg/types"
)

// Environment variable names read by the rendered config through indirection.
const (
	EnvBackendBase    = "BACKEND_API_BASE"
	EnvBackendKey     = "BACKEND_API_KEY"
	EnvBackendVersion = "BACKEND_API_VERSION"
	EnvMasterKey      = "PROXY_MASTER_KEY"
)

func proxyEnv(spec types.DeploymentSpec) map[string]string {
	b := spec.Backend
	env := map[string]string{
		EnvBackendBase: b.BaseURL,
		EnvBackendKey:  b.APIKey,
	}
	if b.APIVersion != "" {
		env[EnvBackendVersion] = b.APIVersion
	}
	if b.MasterKey != "" {
		env[EnvMasterKey] = b.MasterKey
	}
	return env
}

func runtimeEnv(spec types.DeploymentSpec) map[string]string {
	env := map[string]string{
		"OLLAMA_HOST":   net.JoinHostPort(spec.Service.Host, strconv.Itoa(spec.Service.Port)),
		"OLLAMA_MODELS": filepath.Join(spec.Service.WorkDir, "models"),
	}
	if spec.Runtime.Threads > 0 {
		env["OLLAMA_NUM_THREADS"] = strconv.Itoa(spec.Runtime.Threads)
	}
	if spec.Runtime.KeepAlive != 0 {
		env["OLLAMA_KEEP_ALIVE"] = formatKeepAlive(spec.Runtime.KeepAlive)
	}
	if spec.Runtime.ContextLength > 0 {
		env["OLLAMA_CONTEXT_LENGTH"] = strconv.Itoa(spec.Runtime.ContextLength)
	}
	return env
}

// renderEnv validates every pair and serializes them in KEY="value" form,
// sorted by key.
func renderEnv(env map[string]string) ([]byte, error) {
	for k, v := range env {
		if !envKeyPattern.MatchString(k) {
			return nil, &ValueError{Field: k, Artifact: envSyntax.name, Reason: "invalid variable name"}
		}
		if err := envSyntax.check(k, v); err != nil {
			return nil, err
		}
	}
	out, err := godotenv.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal env: %w", err)
	}
	return []byte(out + "\n"), nil
}

// formatKeepAlive renders durations the way the runtime parses them; any
// negative value means "keep loaded forever".
func formatKeepAlive(d time.Duration) string {
	switch {
	case d < 0:
		return "-1"
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return d.String()
	}
}
