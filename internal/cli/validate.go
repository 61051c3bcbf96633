package cli

import (
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"modelprov/internal/logging"
	"modelprov/pkg/types"
)

var (
	namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.@-]*$`)
	userPattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)
)

func (g *globalFlags) validate() error {
	if _, ok := logging.ParseLevel(g.logLevel); !ok {
		return types.ErrValidation("--log-level: unknown level %q", g.logLevel)
	}
	switch logging.Format(g.logFormat) {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return types.ErrValidation("--log-format must be console or json, got %q", g.logFormat)
	}
	switch g.output {
	case "text", "json":
	default:
		return types.ErrValidation("--output must be text or json, got %q", g.output)
	}
	if g.root != "" && !filepath.IsAbs(g.root) {
		return types.ErrValidation("--root must be an absolute path")
	}
	if g.smokeWait < 0 || g.probeTimeout < 0 || g.installTimeout < 0 {
		return types.ErrValidation("timeouts must not be negative")
	}
	return nil
}

func (s *serviceFlags) identity() (types.Identity, error) {
	var missing []string
	if s.name == "" {
		missing = append(missing, "--name")
	}
	if s.user == "" {
		missing = append(missing, "--user")
	}
	if len(missing) > 0 {
		return types.Identity{}, types.ErrValidation("missing required flag(s): %s", strings.Join(missing, ", "))
	}
	if !namePattern.MatchString(s.name) {
		return types.Identity{}, types.ErrValidation("--name %q: use letters, digits, '.', '_', '-' or '@'", s.name)
	}
	if !userPattern.MatchString(s.user) {
		return types.Identity{}, types.ErrValidation("--user %q is not a valid system user name", s.user)
	}
	id := types.Identity{
		Name:      s.name,
		User:      s.user,
		WorkDir:   orDefault(s.workdir, path.Join("/var/lib", s.name)),
		ConfigDir: orDefault(s.configDir, path.Join("/etc", s.name)),
		UnitDir:   s.unitDir,
		Host:      s.host,
		Port:      s.port,
	}
	for flag, dir := range map[string]string{"--workdir": id.WorkDir, "--config-dir": id.ConfigDir, "--unit-dir": id.UnitDir} {
		if !filepath.IsAbs(dir) {
			return types.Identity{}, types.ErrValidation("%s must be an absolute path, got %q", flag, dir)
		}
	}
	if id.Host == "" {
		return types.Identity{}, types.ErrValidation("--host must not be empty")
	}
	if id.Port < 1 || id.Port > 65535 {
		return types.Identity{}, types.ErrValidation("--port %d out of range", id.Port)
	}
	return id, nil
}

func (g *globalFlags) base(kind types.Kind, id types.Identity) types.DeploymentSpec {
	return types.DeploymentSpec{
		Kind:    kind,
		Service: id,
		Timeouts: types.Timeouts{
			Install:   g.installTimeout,
			SmokeWait: g.smokeWait,
			Probe:     g.probeTimeout,
		},
		Install:   g.install,
		SkipSmoke: g.skipSmoke,
	}
}

func (p *proxyFlags) spec(g *globalFlags, getenv func(string) string) (types.DeploymentSpec, error) {
	if p.apiKey == "" {
		p.apiKey = getenv(EnvAPIKey)
	}
	if p.masterKey == "" {
		p.masterKey = getenv(EnvMasterKey)
	}
	id, err := p.identity()
	if err != nil {
		return types.DeploymentSpec{}, err
	}
	var missing []string
	for flag, v := range map[string]string{"--base-url": p.baseURL, "--api-key": p.apiKey, "--model": p.model} {
		if v == "" {
			missing = append(missing, flag)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return types.DeploymentSpec{}, types.ErrValidation("missing required flag(s): %s", strings.Join(missing, ", "))
	}
	u, err := url.Parse(p.baseURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return types.DeploymentSpec{}, types.ErrValidation("--base-url %q must be an absolute http(s) URL", p.baseURL)
	}
	alias := p.alias
	if alias == "" {
		alias = path.Base(p.model)
	}
	s := g.base(types.KindProxy, id)
	s.Runtime.Model = p.model
	s.Backend = types.Backend{
		BaseURL:    p.baseURL,
		APIKey:     p.apiKey,
		APIVersion: p.apiVersion,
		MasterKey:  p.masterKey,
		Alias:      alias,
	}
	return s, nil
}

func (r *runtimeFlags) spec(g *globalFlags) (types.DeploymentSpec, error) {
	id, err := r.identity()
	if err != nil {
		return types.DeploymentSpec{}, err
	}
	if r.model == "" {
		return types.DeploymentSpec{}, types.ErrValidation("missing required flag(s): --model")
	}
	switch {
	case r.ctx < 0, r.threads < 0, r.topK < 0, r.hugepages < 0:
		return types.DeploymentSpec{}, types.ErrValidation("--ctx, --threads, --top-k and --hugepages must not be negative")
	case r.temperature < 0 || r.temperature > 2:
		return types.DeploymentSpec{}, types.ErrValidation("--temperature %g outside [0, 2]", r.temperature)
	case r.topP < 0 || r.topP > 1:
		return types.DeploymentSpec{}, types.ErrValidation("--top-p %g outside [0, 1]", r.topP)
	case r.repeatPenalty < 0:
		return types.DeploymentSpec{}, types.ErrValidation("--repeat-penalty must not be negative")
	case r.pullTimeout <= 0:
		return types.DeploymentSpec{}, types.ErrValidation("--pull-timeout must be positive")
	case r.smokeGenerate && g.skipSmoke:
		return types.DeploymentSpec{}, types.ErrValidation("--smoke-generate conflicts with --skip-smoke")
	}
	s := g.base(types.KindRuntime, id)
	s.Runtime = types.RuntimeParams{
		Model:         r.model,
		Profile:       r.profile,
		ContextLength: r.ctx,
		Threads:       r.threads,
		Temperature:   r.temperature,
		TopP:          r.topP,
		TopK:          r.topK,
		RepeatPenalty: r.repeatPenalty,
		HugePages:     r.hugepages,
		KeepAlive:     r.keepAlive,
	}
	s.Timeouts.Pull = r.pullTimeout
	s.ForceRecreate = r.forceRecreate
	s.SmokeGenerate = r.smokeGenerate
	return s, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
