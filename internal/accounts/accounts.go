// Package accounts ensures the unprivileged system user a service runs as.
package accounts

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"modelprov/internal/hostexec"
)

// getent exits 2 when the key is not in the database.
const getentNotFound = 2

// NoLoginShell is assigned to every system user created here.
const NoLoginShell = "/usr/sbin/nologin"

type Accounts struct {
	Runner hostexec.Runner
	Log    zerolog.Logger
}

func New(r hostexec.Runner, log zerolog.Logger) *Accounts {
	return &Accounts{Runner: r, Log: log}
}

// Exists reports whether name resolves in the passwd database.
func (a *Accounts) Exists(ctx context.Context, name string) (bool, error) {
	_, err := hostexec.Run(ctx, a.Runner, "getent", "passwd", name)
	switch {
	case err == nil:
		return true, nil
	case hostexec.ExitCodeOf(err) == getentNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("lookup user %s: %w", name, err)
	}
}

// EnsureSystemUser creates a system user with a matching group, no login
// shell and home at home. It reports whether the user was created.
func (a *Accounts) EnsureSystemUser(ctx context.Context, name, home string) (bool, error) {
	ok, err := a.Exists(ctx, name)
	if err != nil {
		return false, err
	}
	if ok {
		a.Log.Debug().Str("user", name).Msg("user exists")
		return false, nil
	}
	a.Log.Info().Str("user", name).Str("home", home).Msg("creating system user")
	if _, err := hostexec.Run(ctx, a.Runner, "useradd",
		"--system", "--user-group", "--no-create-home",
		"--home-dir", home, "--shell", NoLoginShell, name); err != nil {
		return false, fmt.Errorf("create user %s: %w", name, err)
	}
	return true, nil
}
