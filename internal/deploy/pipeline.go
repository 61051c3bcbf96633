// Package deploy runs one provisioning pass end to end: dependencies,
// rendering, reconciliation and smoke verification.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"modelprov/internal/accounts"
	"modelprov/internal/common/fsutil"
	"modelprov/internal/deps"
	"modelprov/internal/hostexec"
	"modelprov/internal/lock"
	"modelprov/internal/metrics"
	"modelprov/internal/reconcile"
	"modelprov/internal/render"
	"modelprov/internal/runtime"
	"modelprov/internal/smoke"
	"modelprov/internal/systemd"
	"modelprov/pkg/types"
)

// Pipeline step names that are not reconcile steps.
const (
	StepPackages   = "packages"
	StepDependency = "dependency"
	StepVersion    = "version"
	StepRender     = "render"
	StepSmoke      = "smoke"
)

// DefaultLockWait bounds how long a run waits for a concurrent run of the
// same service.
const DefaultLockWait = 10 * time.Second

// Options are run-wide settings that are not part of the deployment itself.
type Options struct {
	// Root prefixes every written path. Empty means the real filesystem.
	Root            string
	LockDir         string
	LockWait        time.Duration
	MetricsTextfile string
}

// Pipeline wires the components of a run. Fields are exported so tests can
// swap collaborators.
type Pipeline struct {
	Opts      Options
	Runner    hostexec.Runner
	Installer *deps.Installer
	Files     *fsutil.Writer
	Users     reconcile.Users
	Units     reconcile.Units
	// Profiles builds the runtime store once the runtime binary is known.
	Profiles func(spec types.DeploymentSpec, tool string) reconcile.Profiles
	Verifier func(spec types.DeploymentSpec) *smoke.Verifier
	Geteuid  func() int
	Now      func() time.Time
	Log      zerolog.Logger
	// HostActions enables commands that change the host: installers, the
	// service account, sysctl, systemctl and the runtime store. Without it a
	// run only writes files under Opts.Root.
	HostActions bool
}

// New returns a Pipeline backed by the host. A non-empty Root stages the
// deployment: files land under the prefix owned by the caller and no host
// command runs.
func New(opts Options, runner hostexec.Runner, log zerolog.Logger, installTimeout time.Duration) *Pipeline {
	files := fsutil.NewWriter(opts.Root)
	if opts.Root != "" {
		files.Owner = fsutil.CurrentOwner
	}
	return &Pipeline{
		Opts:      opts,
		Runner:    runner,
		Installer: deps.NewInstaller(runner, log, installTimeout),
		Files:     files,
		Users:     accounts.New(runner, log),
		Units:     systemd.New(runner, log),
		Profiles: func(spec types.DeploymentSpec, tool string) reconcile.Profiles {
			host := net.JoinHostPort(spec.Service.Host, strconv.Itoa(spec.Service.Port))
			return runtime.New(runner, tool, host, log)
		},
		Verifier: func(spec types.DeploymentSpec) *smoke.Verifier {
			return smoke.New(spec.Timeouts.SmokeWait, spec.Timeouts.Probe, log)
		},
		Geteuid:     os.Geteuid,
		Now:         time.Now,
		Log:         log,
		HostActions: opts.Root == "",
	}
}

// Run provisions spec. The report is filled as far as the run got, also on
// error. Probe failures never produce an error.
func (p *Pipeline) Run(ctx context.Context, spec types.DeploymentSpec) (rep types.Report, err error) {
	start := p.Now()
	rep = types.Report{Service: spec.Service.Name, Kind: spec.Kind, State: types.StateAbsent}
	log := p.Log.With().Str("service", spec.Service.Name).Str("kind", string(spec.Kind)).Logger()

	if (p.HostActions || p.Opts.Root == "") && p.Geteuid() != 0 {
		return rep, types.ErrPrivilege(errors.New("managing system services requires root"))
	}
	defer func() {
		rep.Duration = p.Now().Sub(start)
		p.writeMetrics(rep, err, log)
	}()

	l, err := lock.Acquire(ctx, p.Opts.LockDir, spec.Service.Name, p.lockWait())
	if err != nil {
		return rep, err
	}
	defer func() {
		if rerr := l.Release(); rerr != nil {
			log.Warn().Err(rerr).Str("path", l.Path).Msg("release lock")
		}
	}()

	tool, err := p.ensureDependencies(ctx, spec, &rep, log)
	if err != nil {
		return rep, err
	}
	rep.ToolPath = tool

	arts, err := render.New(tool).Render(spec)
	if err != nil {
		rep.Steps = append(rep.Steps, types.StepResult{Name: StepRender, Status: types.StatusError, Detail: err.Error()})
		return rep, err
	}
	rep.Steps = append(rep.Steps, types.StepResult{Name: StepRender, Status: types.StatusOK, Detail: fmt.Sprintf("%d artifacts", len(arts))})

	rec := &reconcile.Reconciler{
		Users:  p.Users,
		Units:  p.Units,
		Files:  p.Files,
		Runner: p.Runner,
		Log:    log,
		Staged: !p.HostActions,
	}
	if spec.Kind == types.KindRuntime && p.Profiles != nil {
		rec.Profiles = p.Profiles(spec, tool)
	}
	res, err := rec.Reconcile(ctx, spec, arts, spec.ForceRecreate)
	rep.Steps = append(rep.Steps, res.Steps...)
	rep.ProfileCreations = res.ProfileCreations
	rep.ArtifactsChanged = len(res.Changed)
	if err != nil {
		return rep, err
	}
	rep.State = res.State

	switch {
	case spec.SkipSmoke:
		rep.Steps = append(rep.Steps, types.StepResult{Name: StepSmoke, Status: types.StatusSkipped, Detail: "--skip-smoke"})
		return rep, nil
	case !p.HostActions:
		rep.Steps = append(rep.Steps, types.StepResult{Name: StepSmoke, Status: types.StatusSkipped, Detail: "staged, service not started"})
		return rep, nil
	}
	rep.Probes = p.Verifier(spec).Verify(ctx, smoke.Probes(spec))
	status, detail := types.StatusOK, fmt.Sprintf("%d probes passed", len(rep.Probes))
	if n := rep.ProbeFailures(); n > 0 {
		status, detail = types.StatusWarn, fmt.Sprintf("%d of %d probes failed", n, len(rep.Probes))
	}
	rep.Steps = append(rep.Steps, types.StepResult{Name: StepSmoke, Status: status, Detail: detail})
	return rep, nil
}

// ensureDependencies makes sure the service binary is present and returns its
// path. Prerequisite packages are only needed to install a missing tool.
func (p *Pipeline) ensureDependencies(ctx context.Context, spec types.DeploymentSpec, rep *types.Report, log zerolog.Logger) (string, error) {
	req := deps.For(spec.Kind)
	step := func(name, status, detail string) {
		rep.Steps = append(rep.Steps, types.StepResult{Name: name, Status: status, Detail: detail})
	}

	path, present := p.Installer.Installed(req.Tool)
	switch {
	case present:
		step(StepDependency, types.StatusOK, path)
	case !p.HostActions && spec.Install:
		path = filepath.Join(deps.DefaultBinDir, req.Tool.Name)
		step(StepDependency, types.StatusSkipped, "staged, would install "+path)
	default:
		if spec.Install {
			installed, err := p.Installer.EnsurePackages(ctx, req.Packages, true)
			if err != nil {
				step(StepPackages, types.StatusError, err.Error())
				return "", err
			}
			if len(installed) > 0 {
				step(StepPackages, types.StatusChanged, fmt.Sprint(installed))
			} else {
				step(StepPackages, types.StatusOK, "prerequisites present")
			}
		}
		var err error
		path, err = p.Installer.Ensure(ctx, req.Tool, spec.Install)
		if err != nil {
			step(StepDependency, types.StatusError, err.Error())
			return "", err
		}
		step(StepDependency, types.StatusChanged, "installed "+path)
	}

	if !p.HostActions {
		step(StepVersion, types.StatusSkipped, "staged")
		return path, nil
	}
	v, ok, err := p.Installer.CheckVersion(ctx, req.Tool, path)
	switch {
	case err != nil:
		log.Debug().Err(err).Msg("version check")
		step(StepVersion, types.StatusWarn, "version unknown")
	case !ok:
		log.Warn().Str("version", v).Str("minimum", req.Tool.MinVersion).Msg("tool older than supported minimum")
		step(StepVersion, types.StatusWarn, fmt.Sprintf("%s below minimum %s", v, req.Tool.MinVersion))
	default:
		step(StepVersion, types.StatusOK, v)
	}
	return path, nil
}

func (p *Pipeline) lockWait() time.Duration {
	if p.Opts.LockWait > 0 {
		return p.Opts.LockWait
	}
	return DefaultLockWait
}

func (p *Pipeline) writeMetrics(rep types.Report, runErr error, log zerolog.Logger) {
	if p.Opts.MetricsTextfile == "" {
		return
	}
	m := metrics.New()
	m.Observe(rep, runErr, p.Now())
	path := p.Files.Path(p.Opts.MetricsTextfile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("create metrics dir")
		return
	}
	if err := m.WriteTextfile(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("write metrics textfile")
	}
}
