// Package hostexec runs host commands (package managers, systemctl, runtime CLIs)
// behind a small interface so provisioning logic can be exercised with fakes.
package hostexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"modelprov/internal/logging"
)

// ExitNotFound is reported when the command binary could not be started.
const ExitNotFound = 127

// Cmd describes one command invocation.
type Cmd struct {
	Path string
	Args []string
	Env  map[string]string // additional env vars
	Dir  string            // working directory
}

// String renders the command line for logs and errors.
func (c Cmd) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Result carries the captured output of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes commands on the host.
type Runner interface {
	Run(ctx context.Context, c Cmd) (Result, error)
}

// CommandError is returned for commands that failed to start or exited non-zero.
type CommandError struct {
	Cmd    Cmd
	Result Result
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command failed cmd=%q exit=%d", e.Cmd.String(), e.Result.ExitCode)
	if tail := tail(e.Result.Stderr, 512); tail != "" {
		msg += " stderr=" + fmt.Sprintf("%q", tail)
	}
	return msg + ": " + e.Err.Error()
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExitCodeOf returns the exit code carried by a CommandError, or -1.
func ExitCodeOf(err error) int {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Result.ExitCode
	}
	return -1
}

// ExecRunner runs commands with os/exec. Output is captured and mirrored
// line by line to the logger at debug level.
type ExecRunner struct {
	Log zerolog.Logger
}

func (r ExecRunner) Run(ctx context.Context, c Cmd) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	// inherit environment
	cmd.Env = os.Environ()
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, c.Env[k]))
	}

	log := r.Log.With().Str("cmd", c.Path).Logger()
	outLog := logging.NewLineWriter(log, "stdout")
	errLog := logging.NewLineWriter(log, "stderr")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = io.MultiWriter(&stdout, outLog)
	cmd.Stderr = io.MultiWriter(&stderr, errLog)

	log.Debug().Strs("args", c.Args).Msg("exec")
	err := cmd.Run()
	outLog.Flush()
	errLog.Flush()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case errors.Is(err, exec.ErrNotFound), isExecError(err):
		res.ExitCode = ExitNotFound
	default:
		res.ExitCode = 1
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return res, &CommandError{Cmd: c, Result: res, Err: err}
}

func isExecError(err error) bool {
	var execErr *exec.Error
	return errors.As(err, &execErr)
}

// Run is a shorthand for running name with args.
func Run(ctx context.Context, r Runner, name string, args ...string) (Result, error) {
	return r.Run(ctx, Cmd{Path: name, Args: args})
}

// RunEnv runs name with args and extra environment variables.
func RunEnv(ctx context.Context, r Runner, env map[string]string, name string, args ...string) (Result, error) {
	return r.Run(ctx, Cmd{Path: name, Args: args, Env: env})
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}
