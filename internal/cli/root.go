// Package cli is the modelprov command line: flag parsing, validation into a
// DeploymentSpec and the exit-code policy.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"modelprov/internal/config"
	"modelprov/internal/deploy"
	"modelprov/internal/hostexec"
	"modelprov/internal/logging"
	"modelprov/pkg/types"
)

// App holds the process collaborators. The zero value talks to the real host.
type App struct {
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string
	// Runner executes host commands; nil means os/exec.
	Runner hostexec.Runner
	// Configure adjusts the pipeline before it runs.
	Configure func(*deploy.Pipeline)
}

// Execute runs the command line with the process streams and returns the exit code.
func Execute(ctx context.Context, args []string) int {
	return (&App{}).Execute(ctx, args)
}

// Execute parses args, runs the selected command and maps the outcome to an
// exit code. Usage goes to stderr on validation errors.
func (a *App) Execute(ctx context.Context, args []string) int {
	a.defaults()
	st := &state{app: a}
	root := st.rootCmd()
	root.SetArgs(args)
	root.SetOut(a.Stdout)
	root.SetErr(a.Stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	if !st.ran && types.KindOf(err) == "" {
		err = types.ErrValidation("%v", err)
	}
	fmt.Fprintf(a.Stderr, "error: %v\n", err)
	if hint := types.HintOf(err); hint != "" {
		fmt.Fprintf(a.Stderr, "hint: %s\n", hint)
	}
	if types.IsKind(err, types.KindValidation) {
		usageOf := st.current
		if usageOf == nil {
			usageOf = root
		}
		fmt.Fprint(a.Stderr, "\n"+usageOf.UsageString())
	}
	return types.ExitCode(err)
}

func (a *App) defaults() {
	if a.Stdout == nil {
		a.Stdout = os.Stdout
	}
	if a.Stderr == nil {
		a.Stderr = os.Stderr
	}
	if a.Getenv == nil {
		a.Getenv = os.Getenv
	}
}

// state carries parsed flags through one invocation.
type state struct {
	app     *App
	global  globalFlags
	proxy   proxyFlags
	runtime runtimeFlags
	// ran is set once a command body starts, after parsing succeeded.
	ran     bool
	current *cobra.Command
}

func (st *state) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "modelprov",
		Short: "Provision a model-serving service on this host",
		Long: "modelprov installs, configures and starts one model-serving service as a systemd unit.\n" +
			"Runs are idempotent: unchanged artifacts are left alone and existing profiles are reused.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st.current = cmd
			return types.ErrValidation("a service kind is required: proxy or runtime")
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		st.current = cmd
		return types.ErrValidation("%v", err)
	})
	st.global.bind(root)

	proxy := &cobra.Command{
		Use:   "proxy",
		Short: "Deploy an OpenAI-compatible proxy in front of a remote backend",
		Example: "  modelprov proxy --name litellm --user litellm --base-url https://example.openai.azure.com \\\n" +
			"    --api-key $KEY --api-version 2024-06-01 --model azure/gpt-4o --alias gpt-4o --install",
		Args: noArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return st.applyConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := st.proxy.spec(&st.global, st.app.Getenv)
			if err != nil {
				return err
			}
			return st.run(cmd.Context(), spec)
		},
	}
	st.proxy.bind(proxy)

	runtime := &cobra.Command{
		Use:   "runtime",
		Short: "Deploy a local model runtime tuned for CPU inference",
		Example: "  modelprov runtime --name ollama --user ollama --model base-model-x \\\n" +
			"    --profile cpu-opt --ctx 4096 --threads 8 --hugepages 512 --install",
		Args: noArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return st.applyConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := st.runtime.spec(&st.global)
			if err != nil {
				return err
			}
			return st.run(cmd.Context(), spec)
		},
	}
	st.runtime.bind(runtime)

	root.AddCommand(proxy, runtime)
	return root
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return types.ErrValidation("unexpected argument %q for %q", args[0], cmd.CommandPath())
	}
	return nil
}

// applyConfig fills flags that were not given on the command line from the
// defaults file.
func (st *state) applyConfig(cmd *cobra.Command) error {
	st.current = cmd
	if st.global.configPath == "" {
		return nil
	}
	cfg, err := config.Load(st.global.configPath)
	if err != nil {
		return types.ErrValidation("--config: %v", err)
	}
	vals, err := cfg.Values(cmd.Name())
	if err != nil {
		return types.ErrValidation("--config: %v", err)
	}
	for name, v := range vals {
		f := cmd.Flags().Lookup(name)
		if f == nil || name == "config" {
			return types.ErrValidation("--config: unknown key %q for %s", name, cmd.Name())
		}
		if f.Changed {
			continue
		}
		if err := cmd.Flags().Set(name, v); err != nil {
			return types.ErrValidation("--config: %s: %v", name, err)
		}
	}
	return nil
}

func (st *state) run(ctx context.Context, spec types.DeploymentSpec) error {
	if err := st.global.validate(); err != nil {
		return err
	}
	st.ran = true
	g := st.global
	log := logging.New(g.logLevel, logging.Format(g.logFormat), st.app.Stderr)
	runner := st.app.Runner
	if runner == nil {
		runner = hostexec.ExecRunner{Log: log}
	}
	p := deploy.New(deploy.Options{
		Root:            g.root,
		LockDir:         g.lockDir,
		MetricsTextfile: g.metricsFile,
	}, runner, log, g.installTimeout)
	if st.app.Configure != nil {
		st.app.Configure(p)
	}

	log.Info().Str("service", spec.Service.Name).Str("kind", string(spec.Kind)).Msg("provisioning")
	rep, err := p.Run(ctx, spec)
	if perr := st.printReport(rep); perr != nil {
		log.Warn().Err(perr).Msg("write summary")
	}
	logOutcome(log, rep, err)
	return err
}

func (st *state) printReport(rep types.Report) error {
	if st.global.output == "json" {
		return deploy.WriteJSON(st.app.Stdout, rep)
	}
	return deploy.WriteText(st.app.Stdout, rep)
}

func logOutcome(log zerolog.Logger, rep types.Report, err error) {
	switch {
	case err != nil:
		log.Error().Err(err).Msg("provisioning failed")
	case rep.ProbeFailures() > 0:
		log.Warn().Int("probe_failures", rep.ProbeFailures()).Msg("provisioned; smoke probes failed")
	default:
		log.Info().Str("state", string(rep.State)).Msg("provisioned")
	}
}
