// Package systemd drives the host service manager through systemctl.
package systemd

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"modelprov/internal/hostexec"
	"modelprov/pkg/types"
)

// Status is the subset of unit properties the reconciler cares about.
type Status struct {
	LoadState     string
	ActiveState   string
	UnitFileState string
}

// Loaded reports whether systemd has a definition for the unit.
func (s Status) Loaded() bool { return s.LoadState == "loaded" }

// Running reports whether the unit is up.
func (s Status) Running() bool {
	return s.ActiveState == "active" || s.ActiveState == "reloading"
}

// State maps unit properties onto the service lifecycle.
func (s Status) State() types.ServiceState {
	switch {
	case !s.Loaded():
		return types.StateAbsent
	case s.Running():
		return types.StateInstalledRunning
	default:
		return types.StateInstalledStopped
	}
}

// Manager wraps systemctl. Binary defaults to "systemctl".
type Manager struct {
	Runner hostexec.Runner
	Binary string
	Log    zerolog.Logger
}

func New(r hostexec.Runner, log zerolog.Logger) *Manager {
	return &Manager{Runner: r, Binary: "systemctl", Log: log}
}

func (m *Manager) bin() string {
	if m.Binary == "" {
		return "systemctl"
	}
	return m.Binary
}

func (m *Manager) run(ctx context.Context, args ...string) (hostexec.Result, error) {
	m.Log.Debug().Strs("args", args).Msg("systemctl")
	return hostexec.Run(ctx, m.Runner, m.bin(), args...)
}

// Show reads the unit's load, active and unit-file state. Unknown units are
// not an error; they report LoadState=not-found.
func (m *Manager) Show(ctx context.Context, unit string) (Status, error) {
	res, err := m.run(ctx, "show", "-p", "LoadState,ActiveState,UnitFileState", unit)
	if err != nil {
		return Status{}, fmt.Errorf("systemctl show %s: %w", unit, err)
	}
	return parseShow(res.Stdout), nil
}

// State returns the observed ServiceState of unit. It is never cached.
func (m *Manager) State(ctx context.Context, unit string) (types.ServiceState, error) {
	st, err := m.Show(ctx, unit)
	if err != nil {
		return "", err
	}
	return st.State(), nil
}

func (m *Manager) DaemonReload(ctx context.Context) error {
	if _, err := m.run(ctx, "daemon-reload"); err != nil {
		return fmt.Errorf("systemctl daemon-reload: %w", err)
	}
	return nil
}

// EnableNow enables unit at boot and starts it. Repeating it on a running
// unit is a no-op.
func (m *Manager) EnableNow(ctx context.Context, unit string) error {
	if _, err := m.run(ctx, "enable", "--now", unit); err != nil {
		return fmt.Errorf("systemctl enable --now %s: %w", unit, err)
	}
	return nil
}

func (m *Manager) Restart(ctx context.Context, unit string) error {
	if _, err := m.run(ctx, "restart", unit); err != nil {
		return fmt.Errorf("systemctl restart %s: %w", unit, err)
	}
	return nil
}

func parseShow(out []byte) Status {
	var st Status
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		k, v, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch k {
		case "LoadState":
			st.LoadState = v
		case "ActiveState":
			st.ActiveState = v
		case "UnitFileState":
			st.UnitFileState = v
		}
	}
	return st
}
