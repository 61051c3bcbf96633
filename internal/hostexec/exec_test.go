package hostexec

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestExecRunner_CapturesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := ExecRunner{Log: zerolog.Nop()}
	res, err := r.Run(context.Background(), Cmd{
		Path: "sh",
		Args: []string{"-c", `echo "$GREETING"; echo oops >&2`},
		Env:  map[string]string{"GREETING": "hello"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(string(res.Stdout)) != "hello" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(string(res.Stderr)) != "oops" {
		t.Fatalf("stderr = %q", res.Stderr)
	}
}

func TestExecRunner_ExitCodes(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := ExecRunner{Log: zerolog.Nop()}
	_, err := r.Run(context.Background(), Cmd{Path: "sh", Args: []string{"-c", "exit 3"}})
	if err == nil || ExitCodeOf(err) != 3 {
		t.Fatalf("want exit 3, got %v (%d)", err, ExitCodeOf(err))
	}

	_, err = Run(context.Background(), r, "definitely-not-a-real-binary-xyz")
	if err == nil || ExitCodeOf(err) != ExitNotFound {
		t.Fatalf("want exit %d, got %v (%d)", ExitNotFound, err, ExitCodeOf(err))
	}
}

func TestFake_RecordsAndWrapsErrors(t *testing.T) {
	f := &Fake{Handle: func(c Cmd) (Result, error) {
		if c.Path == "systemctl" {
			return Result{Stderr: []byte("boom")}, errors.New("failed")
		}
		return Result{Stdout: []byte("ok")}, nil
	}}
	if _, err := Run(context.Background(), f, "getent", "passwd", "svc"); err != nil {
		t.Fatalf("getent: %v", err)
	}
	_, err := Run(context.Background(), f, "systemctl", "daemon-reload")
	var ce *CommandError
	if !errors.As(err, &ce) || ce.Result.ExitCode != 1 {
		t.Fatalf("want CommandError exit 1, got %v", err)
	}
	if f.Count("systemctl ") != 1 || f.Count("getent passwd") != 1 {
		t.Fatalf("calls = %v", f.Calls())
	}
	f.Reset()
	if len(f.Calls()) != 0 {
		t.Fatalf("reset did not clear calls")
	}
}
