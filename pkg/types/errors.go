package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provisioning failures for reporting and exit codes.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindPrivilege          ErrorKind = "privilege"
	KindDependencyMissing  ErrorKind = "dependency-missing"
	KindInstallationFailed ErrorKind = "installation-failed"
	KindRender             ErrorKind = "render"
	KindReconcile          ErrorKind = "reconcile"
	KindProbe              ErrorKind = "probe"
)

// Error is a classified provisioning failure. Step names the reconcile step
// or artifact involved; Hint is a one-line remediation for the operator.
type Error struct {
	Kind ErrorKind
	Step string
	Hint string
	Err  error
}

func (e *Error) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrValidation reports bad or missing CLI input.
func ErrValidation(format string, a ...any) error {
	return &Error{Kind: KindValidation, Hint: "see --help for required flags", Err: fmt.Errorf(format, a...)}
}

// ErrPrivilege reports that the run lacks the privilege to mutate the host.
func ErrPrivilege(err error) error {
	return &Error{Kind: KindPrivilege, Hint: "run as root (for example with sudo)", Err: err}
}

// ErrDependencyMissing reports a tool that is absent and installation was not requested.
func ErrDependencyMissing(tool string) error {
	return &Error{
		Kind: KindDependencyMissing,
		Step: tool,
		Hint: "re-run with --install or install " + tool + " manually",
		Err:  fmt.Errorf("%s not found in PATH", tool),
	}
}

// ErrInstallationFailed reports a tool still absent (or an installer failure) after installing.
func ErrInstallationFailed(tool string, err error) error {
	return &Error{
		Kind: KindInstallationFailed,
		Step: tool,
		Hint: "check network access and the installer output, then re-run",
		Err:  err,
	}
}

// ErrRender reports an artifact that could not be rendered or written.
func ErrRender(artifact string, err error) error {
	return &Error{Kind: KindRender, Step: artifact, Hint: "fix the offending value and re-run", Err: err}
}

// ErrReconcile reports a failed reconcile step.
func ErrReconcile(step string, err error) error {
	return &Error{
		Kind: KindReconcile,
		Step: step,
		Hint: "inspect the host, fix the cause and re-run; artifacts are regenerated idempotently",
		Err:  err,
	}
}

// ErrProbe reports a failed smoke probe. It never aborts a run.
func ErrProbe(probe string, err error) error {
	return &Error{Kind: KindProbe, Step: probe, Err: err}
}

// KindOf returns the kind of a classified error, or "" for unclassified errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool { return KindOf(err) == kind }

// HintOf returns the remediation hint attached to err, if any.
func HintOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Hint
	}
	return ""
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindValidation:
		return 2
	case KindPrivilege:
		return 3
	case KindDependencyMissing, KindInstallationFailed:
		return 4
	case KindRender:
		return 5
	case KindReconcile:
		return 6
	case KindProbe:
		return 0
	default:
		return 1
	}
}
