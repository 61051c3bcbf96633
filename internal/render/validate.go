package render

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// Syntax rules per artifact family. A value is rejected, never escaped, when
// it contains a character its target syntax would interpret.
type syntax struct {
	name   string
	forbid string
}

var (
	// systemd EnvironmentFile and godotenv disagree on escapes for these.
	envSyntax  = syntax{name: "environment file", forbid: "\"\\`$!'"}
	yamlSyntax = syntax{name: "config file", forbid: "\"\\"}
	// '%' starts a systemd specifier; whitespace splits ExecStart arguments.
	unitSyntax = syntax{name: "unit file", forbid: "\"\\%'; "}
	// Modelfile values are single tokens after FROM/PARAMETER.
	profileSyntax = syntax{name: "profile descriptor", forbid: "\"\\ #"}
)

var (
	unitNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.@-]*$`)
	userPattern     = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)
	modelPattern    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:/@-]*$`)
	profilePattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)
	envKeyPattern   = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
)

// ValueError names the value that would break an artifact.
type ValueError struct {
	Field    string
	Artifact string
	Reason   string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%s is not safe for the %s: %s", e.Field, e.Artifact, e.Reason)
}

func (s syntax) check(field, value string) error {
	for _, r := range value {
		if unicode.IsControl(r) {
			return &ValueError{Field: field, Artifact: s.name, Reason: fmt.Sprintf("control character %U", r)}
		}
		if strings.ContainsRune(s.forbid, r) {
			return &ValueError{Field: field, Artifact: s.name, Reason: fmt.Sprintf("character %q", r)}
		}
	}
	return nil
}

func checkPattern(s syntax, field, value string, re *regexp.Regexp) error {
	if err := s.check(field, value); err != nil {
		return err
	}
	if !re.MatchString(value) {
		return &ValueError{Field: field, Artifact: s.name, Reason: fmt.Sprintf("%q does not match %s", value, re)}
	}
	return nil
}

func checkPath(s syntax, field, value string) error {
	if err := s.check(field, value); err != nil {
		return err
	}
	if !filepath.IsAbs(value) {
		return &ValueError{Field: field, Artifact: s.name, Reason: fmt.Sprintf("%q is not an absolute path", value)}
	}
	return nil
}

// firstError returns the first non-nil error.
func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
