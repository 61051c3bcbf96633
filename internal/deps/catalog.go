package deps

import "modelprov/pkg/types"

const (
	// OllamaInstallScript is the vendor installer of the local runtime.
	OllamaInstallScript = "https://ollama.com/install.sh"
	// DefaultBinDir is where both vendor installers place the tool.
	DefaultBinDir = "/usr/local/bin"
)

// Requirements lists the tool and OS prerequisites for a service kind.
type Requirements struct {
	Tool     Tool
	Packages []Package
}

// For returns the requirements of a deployment kind. Minimum versions are the
// oldest releases whose CLI flags the rendered artifacts rely on.
func For(kind types.Kind) Requirements {
	switch kind {
	case types.KindProxy:
		return Requirements{
			Tool: Tool{
				Name:    "litellm",
				Install: []string{"pipx", "install", "--force", "litellm[proxy]"},
				Env: map[string]string{
					"PIPX_HOME":    "/opt/pipx",
					"PIPX_BIN_DIR": DefaultBinDir,
				},
				VersionArgs: []string{"--version"},
				MinVersion:  "v1.40.0",
			},
			Packages: []Package{{Name: "pipx", Probe: "pipx"}},
		}
	default:
		return Requirements{
			Tool: Tool{
				Name:        "ollama",
				ScriptURL:   OllamaInstallScript,
				VersionArgs: []string{"--version"},
				MinVersion:  "v0.3.0",
			},
			Packages: []Package{{Name: "curl", Probe: "curl"}},
		}
	}
}
