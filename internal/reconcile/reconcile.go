// Package reconcile converges one service on the host: system user,
// directories, rendered artifacts, unit lifecycle, runtime model and derived
// profile.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"modelprov/internal/common/fsutil"
	"modelprov/internal/hostexec"
	"modelprov/internal/render"
	"modelprov/internal/systemd"
	"modelprov/pkg/types"
)

// Step names, in execution order.
const (
	StepUser           = "user"
	StepDirectories    = "directories"
	StepArtifacts      = "artifacts"
	StepKernelTuning   = "kernel-tuning"
	StepDaemonReload   = "daemon-reload"
	StepEnableStart    = "enable-start"
	StepModel          = "model"
	StepDerivedProfile = "derived-profile"
	StepState          = "state"
)

// DefaultReadyTimeout bounds the wait for the runtime to answer before
// model work starts.
const DefaultReadyTimeout = 2 * time.Minute

// Users creates the service account.
type Users interface {
	EnsureSystemUser(ctx context.Context, name, home string) (bool, error)
}

// Units is the host service manager.
type Units interface {
	Show(ctx context.Context, unit string) (systemd.Status, error)
	DaemonReload(ctx context.Context) error
	EnableNow(ctx context.Context, unit string) error
	Restart(ctx context.Context, unit string) error
}

// Profiles is the runtime's model store.
type Profiles interface {
	WaitReady(ctx context.Context, interval time.Duration) error
	Has(ctx context.Context, name string) (bool, error)
	Pull(ctx context.Context, model string) error
	Create(ctx context.Context, name, path string) error
}

// Reconciler applies the minimal set of actions to converge a service.
// Profiles may be nil for services without a model store.
type Reconciler struct {
	Users    Users
	Units    Units
	Profiles Profiles
	Files    *fsutil.Writer
	Runner   hostexec.Runner
	Log      zerolog.Logger
	// Staged writes directories and artifacts only. Every step that would
	// run a host command is reported as skipped.
	Staged bool

	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
}

// Result is what one reconcile pass did and the state it left behind.
type Result struct {
	State            types.ServiceState
	Steps            []types.StepResult
	ProfileCreations int
	// Changed lists the artifact names rewritten in this pass.
	Changed []string
}

type pass struct {
	spec types.DeploymentSpec
	res  *Result
	log  zerolog.Logger
}

func (p *pass) record(name, status, detail string) {
	p.res.Steps = append(p.res.Steps, types.StepResult{Name: name, Status: status, Detail: detail})
	ev := p.log.Info()
	if status == types.StatusError {
		ev = p.log.Error()
	}
	ev.Str("step", name).Str("status", status).Msg(detail)
}

func (p *pass) fail(step string, err error) error {
	p.record(step, types.StatusError, err.Error())
	return types.ErrReconcile(step, err)
}

// Reconcile runs every step in order and stops at the first failure, which is
// returned as a reconcile error naming the step. Artifacts already written
// stay in place.
func (r *Reconciler) Reconcile(ctx context.Context, spec types.DeploymentSpec, arts []types.RenderedArtifact, forceRecreate bool) (Result, error) {
	res := Result{}
	p := &pass{
		spec: spec,
		res:  &res,
		log:  r.Log.With().Str("service", spec.Service.Name).Logger(),
	}
	var err error
	if r.Staged {
		err = r.stage(p, arts)
	} else {
		err = r.converge(ctx, p, arts, forceRecreate)
	}
	return res, err
}

func (r *Reconciler) converge(ctx context.Context, p *pass, arts []types.RenderedArtifact, forceRecreate bool) error {
	spec, res := p.spec, p.res
	unit := spec.UnitName()

	// user
	created, err := r.Users.EnsureSystemUser(ctx, spec.Service.User, spec.Service.WorkDir)
	if err != nil {
		return p.fail(StepUser, err)
	}
	p.record(StepUser, changedStatus(created), spec.Service.User)

	// directories
	dirChanged, err := r.ensureDirs(spec)
	if err != nil {
		return p.fail(StepDirectories, err)
	}
	p.record(StepDirectories, changedStatus(dirChanged), spec.Service.ConfigDir+", "+spec.Service.WorkDir)

	before, err := r.Units.Show(ctx, unit)
	if err != nil {
		return p.fail(StepArtifacts, err)
	}

	// artifacts
	if err := r.writeArtifacts(p, arts); err != nil {
		return err
	}

	// kernel-tuning
	if sc, ok := render.Find(arts, render.ArtifactSysctl); ok {
		if res.has(render.ArtifactSysctl) {
			if _, err := hostexec.Run(ctx, r.Runner, "sysctl", "-p", r.Files.Path(sc.Path)); err != nil {
				return p.fail(StepKernelTuning, err)
			}
			p.record(StepKernelTuning, types.StatusChanged, "applied "+sc.Path)
		} else {
			p.record(StepKernelTuning, types.StatusUnchanged, sc.Path)
		}
	}

	// daemon-reload
	if res.has(render.ArtifactUnit) || !before.Loaded() {
		if err := r.Units.DaemonReload(ctx); err != nil {
			return p.fail(StepDaemonReload, err)
		}
		p.record(StepDaemonReload, types.StatusChanged, "unit definitions reloaded")
	} else {
		p.record(StepDaemonReload, types.StatusSkipped, "no unit changes")
	}

	// enable-start
	if err := r.Units.EnableNow(ctx, unit); err != nil {
		return p.fail(StepEnableStart, err)
	}
	switch {
	case before.Running() && res.restartNeeded(spec.Kind):
		if err := r.Units.Restart(ctx, unit); err != nil {
			return p.fail(StepEnableStart, err)
		}
		p.record(StepEnableStart, types.StatusChanged, "restarted "+unit)
	case before.Running():
		p.record(StepEnableStart, types.StatusUnchanged, unit+" already running")
	default:
		p.record(StepEnableStart, types.StatusChanged, "enabled and started "+unit)
	}

	// model, derived-profile
	if spec.Kind == types.KindRuntime && r.Profiles != nil {
		if err := r.ensureModel(ctx, p); err != nil {
			return p.fail(StepModel, err)
		}
		if prof := spec.DerivedProfile(); prof != nil {
			if err := r.ensureProfile(ctx, p, *prof, forceRecreate); err != nil {
				return p.fail(StepDerivedProfile, err)
			}
		}
	}

	// state
	after, err := r.Units.Show(ctx, unit)
	if err != nil {
		return p.fail(StepState, err)
	}
	res.State = after.State()
	p.record(StepState, types.StatusOK, string(res.State))
	return nil
}

// stage writes the files of a staged pass and reports the host steps as
// skipped. The service state is not observed.
func (r *Reconciler) stage(p *pass, arts []types.RenderedArtifact) error {
	spec := p.spec
	const detail = "staged, no host change"
	p.record(StepUser, types.StatusSkipped, detail)
	dirChanged, err := r.ensureDirs(spec)
	if err != nil {
		return p.fail(StepDirectories, err)
	}
	p.record(StepDirectories, changedStatus(dirChanged), spec.Service.ConfigDir+", "+spec.Service.WorkDir)
	if err := r.writeArtifacts(p, arts); err != nil {
		return err
	}
	if _, ok := render.Find(arts, render.ArtifactSysctl); ok {
		p.record(StepKernelTuning, types.StatusSkipped, detail)
	}
	p.record(StepDaemonReload, types.StatusSkipped, detail)
	p.record(StepEnableStart, types.StatusSkipped, detail)
	if spec.Kind == types.KindRuntime && r.Profiles != nil {
		p.record(StepModel, types.StatusSkipped, detail)
		if spec.DerivedProfile() != nil {
			p.record(StepDerivedProfile, types.StatusSkipped, detail)
		}
	}
	p.res.State = types.StateAbsent
	p.record(StepState, types.StatusSkipped, detail)
	return nil
}

func (r *Reconciler) writeArtifacts(p *pass, arts []types.RenderedArtifact) error {
	for _, a := range arts {
		changed, err := r.Files.WriteFile(a.Path, a.Content, a.Owner, a.Group, a.Mode)
		if err != nil {
			return p.fail(StepArtifacts, fmt.Errorf("%s %s: %w", a.Name, a.Path, err))
		}
		p.log.Debug().Str("path", a.Path).Bool("changed", changed).Msg("artifact")
		if changed {
			p.res.Changed = append(p.res.Changed, a.Name)
		}
	}
	if len(p.res.Changed) > 0 {
		p.record(StepArtifacts, types.StatusChanged, strings.Join(p.res.Changed, ", "))
	} else {
		p.record(StepArtifacts, types.StatusUnchanged, fmt.Sprintf("%d up to date", len(arts)))
	}
	return nil
}

func (r *Reconciler) ensureDirs(spec types.DeploymentSpec) (bool, error) {
	a, err := r.Files.EnsureDir(spec.Service.ConfigDir, "root", "root", 0o755)
	if err != nil {
		return false, fmt.Errorf("%s: %w", spec.Service.ConfigDir, err)
	}
	b, err := r.Files.EnsureDir(spec.Service.WorkDir, spec.Service.User, spec.Service.User, 0o750)
	if err != nil {
		return false, fmt.Errorf("%s: %w", spec.Service.WorkDir, err)
	}
	return a || b, nil
}

// ensureModel waits for the runtime to answer and pulls the base model when
// the store does not have it yet.
func (r *Reconciler) ensureModel(ctx context.Context, p *pass) error {
	readyTimeout := r.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = DefaultReadyTimeout
	}
	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	err := r.Profiles.WaitReady(readyCtx, r.ReadyInterval)
	cancel()
	if err != nil {
		return err
	}

	model := p.spec.Runtime.Model
	present, err := r.Profiles.Has(ctx, model)
	if err != nil {
		return err
	}
	if present {
		p.record(StepModel, types.StatusUnchanged, model+" present")
		return nil
	}
	if t := p.spec.Timeouts.Pull; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	if err := r.Profiles.Pull(ctx, model); err != nil {
		return err
	}
	p.record(StepModel, types.StatusChanged, "pulled "+model)
	return nil
}

// ensureProfile creates the derived profile from the base model pulled by
// ensureModel.
func (r *Reconciler) ensureProfile(ctx context.Context, p *pass, prof types.DerivedProfile, force bool) error {
	exists, err := r.Profiles.Has(ctx, prof.Name)
	if err != nil {
		return err
	}
	if exists && !force {
		detail := prof.Name + " present"
		if p.res.has(render.ArtifactProfile) {
			detail += "; descriptor changed, use --force-recreate to rebuild"
		}
		p.record(StepDerivedProfile, types.StatusSkipped, detail)
		return nil
	}

	if t := p.spec.Timeouts.Pull; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	if err := r.Profiles.Create(ctx, prof.Name, r.Files.Path(p.spec.ProfilePath())); err != nil {
		return err
	}
	p.res.ProfileCreations++
	verb := "created"
	if exists {
		verb = "recreated"
	}
	p.record(StepDerivedProfile, types.StatusChanged, fmt.Sprintf("%s %s from %s", verb, prof.Name, prof.Base))
	return nil
}

func (r *Result) has(name string) bool {
	for _, n := range r.Changed {
		if n == name {
			return true
		}
	}
	return false
}

// restartNeeded reports whether an artifact the running service reads at
// start changed. The runtime never reads its declarative config or profile
// descriptors.
func (r *Result) restartNeeded(kind types.Kind) bool {
	inputs := []string{render.ArtifactEnv, render.ArtifactUnit}
	if kind == types.KindProxy {
		inputs = append(inputs, render.ArtifactConfig)
	}
	for _, name := range inputs {
		if r.has(name) {
			return true
		}
	}
	return false
}

func changedStatus(changed bool) string {
	if changed {
		return types.StatusChanged
	}
	return types.StatusUnchanged
}
