package cli

import (
	"time"

	"github.com/spf13/cobra"
)

// Defaults shared by both service kinds.
const (
	DefaultHost           = "127.0.0.1"
	DefaultUnitDir        = "/etc/systemd/system"
	DefaultProxyPort      = 4000
	DefaultRuntimePort    = 11434
	DefaultInstallTimeout = 15 * time.Minute
	DefaultPullTimeout    = 30 * time.Minute
	DefaultSmokeWait      = 5 * time.Second
	DefaultProbeTimeout   = 30 * time.Second
)

// Environment fallbacks for secrets, so they need not appear in argv.
const (
	EnvAPIKey    = "MODELPROV_API_KEY"
	EnvMasterKey = "MODELPROV_MASTER_KEY"
)

type globalFlags struct {
	configPath     string
	logLevel       string
	logFormat      string
	output         string
	root           string
	lockDir        string
	metricsFile    string
	install        bool
	skipSmoke      bool
	smokeWait      time.Duration
	probeTimeout   time.Duration
	installTimeout time.Duration
}

func (g *globalFlags) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&g.configPath, "config", "", "Defaults file (.yaml, .yml, .json, .toml); explicit flags win")
	f.StringVar(&g.logLevel, "log-level", "info", "Log level: debug|info|warn|error|off")
	f.StringVar(&g.logFormat, "log-format", "console", "Log format: console|json")
	f.StringVar(&g.output, "output", "text", "Summary format: text|json")
	f.StringVar(&g.root, "root", "", "Prefix for every written path (staging and tests)")
	f.StringVar(&g.lockDir, "lock-dir", "/run/lock", "Directory for the per-service advisory lock")
	f.StringVar(&g.metricsFile, "metrics-textfile", "", "Write run metrics to this node-exporter textfile")
	f.BoolVar(&g.install, "install", false, "Install missing dependencies instead of failing")
	f.BoolVar(&g.skipSmoke, "skip-smoke", false, "Do not probe the service after starting it")
	f.DurationVar(&g.smokeWait, "smoke-wait", DefaultSmokeWait, "Warm-up wait before the first smoke probe")
	f.DurationVar(&g.probeTimeout, "probe-timeout", DefaultProbeTimeout, "Deadline per smoke probe, retries included")
	f.DurationVar(&g.installTimeout, "install-timeout", DefaultInstallTimeout, "Deadline for installing a dependency")
}

type serviceFlags struct {
	name      string
	user      string
	workdir   string
	configDir string
	unitDir   string
	host      string
	port      int
}

func (s *serviceFlags) bind(cmd *cobra.Command, port int) {
	f := cmd.Flags()
	f.StringVar(&s.name, "name", "", "Service and unit name (required)")
	f.StringVar(&s.user, "user", "", "System user the service runs as (required)")
	f.StringVar(&s.workdir, "workdir", "", "Working directory (default /var/lib/<name>)")
	f.StringVar(&s.configDir, "config-dir", "", "Configuration directory (default /etc/<name>)")
	f.StringVar(&s.unitDir, "unit-dir", DefaultUnitDir, "Unit descriptor directory")
	f.StringVar(&s.host, "host", DefaultHost, "Listen host")
	f.IntVar(&s.port, "port", port, "Listen port")
}

type proxyFlags struct {
	serviceFlags
	baseURL    string
	apiKey     string
	apiVersion string
	model      string
	alias      string
	masterKey  string
}

func (p *proxyFlags) bind(cmd *cobra.Command) {
	p.serviceFlags.bind(cmd, DefaultProxyPort)
	f := cmd.Flags()
	f.StringVar(&p.baseURL, "base-url", "", "Backend API base URL (required)")
	f.StringVar(&p.apiKey, "api-key", "", "Backend API key (required; or "+EnvAPIKey+")")
	f.StringVar(&p.apiVersion, "api-version", "", "Backend API version")
	f.StringVar(&p.model, "model", "", "Backend model identifier, e.g. azure/gpt-4o (required)")
	f.StringVar(&p.alias, "alias", "", "Model name exposed to clients (default: last segment of --model)")
	f.StringVar(&p.masterKey, "master-key", "", "Proxy master key clients must present (or "+EnvMasterKey+")")
}

type runtimeFlags struct {
	serviceFlags
	model         string
	profile       string
	ctx           int
	threads       int
	temperature   float64
	topP          float64
	topK          int
	repeatPenalty float64
	hugepages     int
	keepAlive     time.Duration
	forceRecreate bool
	pullTimeout   time.Duration
	smokeGenerate bool
}

func (r *runtimeFlags) bind(cmd *cobra.Command) {
	r.serviceFlags.bind(cmd, DefaultRuntimePort)
	f := cmd.Flags()
	f.StringVar(&r.model, "model", "", "Base model to pull and serve (required)")
	f.StringVar(&r.profile, "profile", "", "Derived profile name built from the base model")
	f.IntVar(&r.ctx, "ctx", 0, "Context window in tokens (0 keeps the model default)")
	f.IntVar(&r.threads, "threads", 0, "CPU threads for inference (0 lets the runtime decide)")
	f.Float64Var(&r.temperature, "temperature", 0, "Sampling temperature")
	f.Float64Var(&r.topP, "top-p", 0, "Nucleus sampling threshold")
	f.IntVar(&r.topK, "top-k", 0, "Top-k sampling")
	f.Float64Var(&r.repeatPenalty, "repeat-penalty", 0, "Repetition penalty")
	f.IntVar(&r.hugepages, "hugepages", 0, "Reserve this many huge pages for the runtime")
	f.DurationVar(&r.keepAlive, "keep-alive", 0, "How long models stay loaded; negative keeps them forever")
	f.BoolVar(&r.forceRecreate, "force-recreate", false, "Rebuild the derived profile even when it exists")
	f.DurationVar(&r.pullTimeout, "pull-timeout", DefaultPullTimeout, "Deadline for pulling and creating models")
	f.BoolVar(&r.smokeGenerate, "smoke-generate", false, "Send one generation request during smoke testing")
}
