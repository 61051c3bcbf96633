package deps

import (
	"context"
	"fmt"
	"regexp"

	"golang.org/x/mod/semver"

	"modelprov/internal/hostexec"
)

var versionPattern = regexp.MustCompile(`v?(\d+\.\d+(?:\.\d+)?)`)

// ParseVersion extracts the first dotted version from tool output and returns
// it in canonical semver form ("v1.2.3"), or "" when none is found.
func ParseVersion(out string) string {
	m := versionPattern.FindStringSubmatch(out)
	if m == nil {
		return ""
	}
	v := semver.Canonical("v" + m[1])
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

// CheckVersion runs the tool's version command and compares the result with
// MinVersion. It returns the detected version and whether it satisfies the
// minimum. Tools without a version contract always satisfy it.
func (i *Installer) CheckVersion(ctx context.Context, tool Tool, path string) (string, bool, error) {
	if len(tool.VersionArgs) == 0 {
		return "", true, nil
	}
	res, err := i.Runner.Run(ctx, hostexec.Cmd{Path: path, Args: tool.VersionArgs})
	if err != nil {
		return "", false, err
	}
	v := ParseVersion(string(res.Stdout) + " " + string(res.Stderr))
	if v == "" {
		return "", false, fmt.Errorf("no version in %s output", tool.Name)
	}
	if tool.MinVersion == "" {
		return v, true, nil
	}
	minV := semver.Canonical(tool.MinVersion)
	if !semver.IsValid(minV) {
		return v, false, fmt.Errorf("invalid minimum version %q", tool.MinVersion)
	}
	return v, semver.Compare(v, minV) >= 0, nil
}
