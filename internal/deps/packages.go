package deps

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"modelprov/internal/hostexec"
	"modelprov/pkg/types"
)

// Package is an OS package prerequisite. Probe is the binary whose presence
// means the package is already installed.
type Package struct {
	Name  string
	Probe string
}

// PackageManager installs OS packages non-interactively.
type PackageManager struct {
	Name    string
	Refresh []string
	Install []string
}

var (
	apt    = PackageManager{Name: "apt-get", Refresh: []string{"apt-get", "update"}, Install: []string{"apt-get", "install", "-y", "--no-install-recommends"}}
	dnf    = PackageManager{Name: "dnf", Install: []string{"dnf", "install", "-y"}}
	pacman = PackageManager{Name: "pacman", Install: []string{"pacman", "-S", "--needed", "--noconfirm"}}
)

// DetectPackageManager picks the package manager from an os-release file.
func DetectPackageManager(osRelease string) (PackageManager, error) {
	if runtime.GOOS != "linux" {
		return PackageManager{}, fmt.Errorf("package installation is only supported on linux, not %s", runtime.GOOS)
	}
	data, err := os.ReadFile(osRelease)
	if err != nil {
		return PackageManager{}, fmt.Errorf("read %s: %w", osRelease, err)
	}
	return packageManagerFor(string(data))
}

func packageManagerFor(osRelease string) (PackageManager, error) {
	var ids []string
	for _, line := range strings.Split(osRelease, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "ID=") || strings.HasPrefix(line, "ID_LIKE=") {
			v := line[strings.Index(line, "=")+1:]
			ids = append(ids, strings.Fields(strings.ToLower(strings.Trim(v, `"'`)))...)
		}
	}
	for _, id := range ids {
		switch id {
		case "debian", "ubuntu":
			return apt, nil
		case "fedora", "rhel", "centos", "rocky", "almalinux":
			return dnf, nil
		case "arch", "manjaro", "endeavouros":
			return pacman, nil
		}
	}
	return PackageManager{}, fmt.Errorf("no supported package manager for distro %v", ids)
}

// EnsurePackages installs the packages whose probe binary is missing. With
// every probe present it runs no command at all.
func (i *Installer) EnsurePackages(ctx context.Context, pkgs []Package, installEnabled bool) ([]string, error) {
	var missing []string
	for _, p := range pkgs {
		if _, err := i.lookPath(p.Probe); err != nil {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	if !installEnabled {
		return missing, types.ErrDependencyMissing(strings.Join(missing, ","))
	}

	pm, err := DetectPackageManager(i.OSRelease)
	if err != nil {
		return missing, types.ErrInstallationFailed(strings.Join(missing, ","), err)
	}
	ctx, cancel := context.WithTimeout(ctx, i.timeout())
	defer cancel()
	log := i.Log.With().Str("package_manager", pm.Name).Strs("packages", missing).Logger()
	log.Info().Msg("installing prerequisite packages")
	if len(pm.Refresh) > 0 {
		if _, err := hostexec.Run(ctx, i.Runner, pm.Refresh[0], pm.Refresh[1:]...); err != nil {
			return missing, types.ErrInstallationFailed(pm.Name, err)
		}
	}
	args := append(append([]string{}, pm.Install[1:]...), missing...)
	if _, err := hostexec.Run(ctx, i.Runner, pm.Install[0], args...); err != nil {
		return missing, types.ErrInstallationFailed(strings.Join(missing, ","), err)
	}
	return missing, nil
}
