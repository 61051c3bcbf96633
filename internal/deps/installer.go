// Package deps makes sure the external tools a deployment needs exist on the
// host, installing them through a vendor procedure when the caller opts in.
package deps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"modelprov/internal/hostexec"
	"modelprov/pkg/types"
)

const (
	defaultInstallTimeout = 15 * time.Minute
	maxScriptBytes        = 4 << 20
)

// Tool describes one external binary and how to install it.
type Tool struct {
	// Binary name resolved on PATH.
	Name string
	// Install is a fixed installer argv. Ignored when ScriptURL is set.
	Install []string
	// ScriptURL points at a vendor install script fetched over HTTPS and run with sh.
	ScriptURL string
	// Env is passed to the installer.
	Env map[string]string
	// VersionArgs prints the installed version, e.g. ["--version"].
	VersionArgs []string
	// MinVersion is the oldest version known to work, e.g. "v0.5.0".
	MinVersion string
}

// Installer implements the detect-or-install contract for tools.
type Installer struct {
	Runner   hostexec.Runner
	LookPath func(string) (string, error)
	HTTP     *http.Client
	Timeout  time.Duration
	Log      zerolog.Logger
	// OSRelease is the os-release file used for package manager detection.
	OSRelease string
}

// NewInstaller returns an Installer backed by the host PATH.
func NewInstaller(r hostexec.Runner, log zerolog.Logger, timeout time.Duration) *Installer {
	if timeout <= 0 {
		timeout = defaultInstallTimeout
	}
	return &Installer{
		Runner:    r,
		LookPath:  exec.LookPath,
		HTTP:      &http.Client{Timeout: 2 * time.Minute},
		Timeout:   timeout,
		Log:       log,
		OSRelease: "/etc/os-release",
	}
}

func (i *Installer) lookPath(name string) (string, error) {
	if i.LookPath == nil {
		return exec.LookPath(name)
	}
	return i.LookPath(name)
}

// Installed returns the resolved path of tool when it is on PATH.
func (i *Installer) Installed(tool Tool) (string, bool) {
	p, err := i.lookPath(tool.Name)
	return p, err == nil
}

// Ensure returns the resolved path of tool. When the tool is missing and
// installEnabled is set, the vendor installer runs once and the tool is
// resolved again. Calling Ensure with the tool present has no side effect.
func (i *Installer) Ensure(ctx context.Context, tool Tool, installEnabled bool) (string, error) {
	log := i.Log.With().Str("tool", tool.Name).Logger()
	if p, err := i.lookPath(tool.Name); err == nil {
		log.Debug().Str("path", p).Msg("tool present")
		return p, nil
	}
	if !installEnabled {
		return "", types.ErrDependencyMissing(tool.Name)
	}

	log.Info().Msg("tool missing, installing")
	ctx, cancel := context.WithTimeout(ctx, i.timeout())
	defer cancel()
	if err := i.install(ctx, tool); err != nil {
		return "", types.ErrInstallationFailed(tool.Name, err)
	}
	p, err := i.lookPath(tool.Name)
	if err != nil {
		return "", types.ErrInstallationFailed(tool.Name,
			fmt.Errorf("installer completed but %s is still not in PATH", tool.Name))
	}
	log.Info().Str("path", p).Msg("tool installed")
	return p, nil
}

func (i *Installer) install(ctx context.Context, tool Tool) error {
	if tool.ScriptURL != "" {
		return i.runScript(ctx, tool)
	}
	if len(tool.Install) == 0 {
		return errors.New("no install procedure configured")
	}
	_, err := i.Runner.Run(ctx, hostexec.Cmd{Path: tool.Install[0], Args: tool.Install[1:], Env: tool.Env})
	return err
}

// runScript downloads the vendor script to a private temp file and runs it
// with sh. Only https URLs are accepted.
func (i *Installer) runScript(ctx context.Context, tool Tool) error {
	u, err := url.Parse(tool.ScriptURL)
	if err != nil {
		return fmt.Errorf("parse script url: %w", err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("script url %q must be https", tool.ScriptURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	client := i.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch installer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch installer: %s", resp.Status)
	}

	f, err := os.CreateTemp("", "modelprov-install-*.sh")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	n, err := io.Copy(f, io.LimitReader(resp.Body, maxScriptBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("save installer: %w", err)
	}
	if n > maxScriptBytes {
		return fmt.Errorf("installer larger than %d bytes", maxScriptBytes)
	}
	if err := os.Chmod(f.Name(), 0o700); err != nil {
		return err
	}

	i.Log.Info().Str("tool", tool.Name).Str("url", u.String()).Msg("running vendor installer")
	_, err = i.Runner.Run(ctx, hostexec.Cmd{Path: "sh", Args: []string{f.Name()}, Env: tool.Env})
	return err
}

func (i *Installer) timeout() time.Duration {
	if i.Timeout <= 0 {
		return defaultInstallTimeout
	}
	return i.Timeout
}
