package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	config "github.com/cochaviz/tcbuild/config"
	"github.com/cochaviz/tcbuild/internal/environment"
	"github.com/cochaviz/tcbuild/internal/logging"
	"github.com/cochaviz/tcbuild/internal/metrics"
	"github.com/cochaviz/tcbuild/internal/pipeline"
	"github.com/cochaviz/tcbuild/internal/project"
	"github.com/cochaviz/tcbuild/internal/validate"
	"github.com/cochaviz/tcbuild/version"
)

const defaultLogLevel = "info"

// buildVersion is set with -ldflags "-X main.buildVersion=...".
var buildVersion = "dev"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &app{levelVar: &levelVar, metrics: metrics.NewRecorder()}
	app.setLogger(logging.NewCLI(os.Stderr, &levelVar))

	err := newRootCommand(app).ExecuteContext(ctx)
	if flushErr := app.flushMetrics(); flushErr != nil {
		app.logger.Warn("could not write metrics file", "path", app.metricsFile, "error", flushErr)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			app.logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		app.logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// app holds the state shared by every command.
type app struct {
	logger   *slog.Logger
	levelVar *slog.LevelVar
	metrics  *metrics.Recorder

	configFile    string
	properties    []string
	overridesFile string
	metricsFile   string
}

func (a *app) setLogger(logger *slog.Logger) {
	a.logger = logger
	slog.SetDefault(logger)
}

// resolve loads the project with the overlay given on the command line.
func (a *app) resolve() (project.Resolved, error) {
	props, err := parseProperties(a.properties)
	if err != nil {
		return project.Resolved{}, err
	}
	return config.Load(a.configFile, project.Overlay{Properties: props, File: a.overridesFile})
}

func (a *app) serverPlugin(r project.Resolved) *pipeline.ServerPlugin {
	return config.NewServerPlugin(r, a.logger, config.NewRunner(r, a.logger), a.metrics)
}

func (a *app) flushMetrics() error {
	if a.metricsFile == "" {
		return nil
	}
	return a.metrics.WriteTextfile(a.metricsFile)
}

func newRootCommand(a *app) *cobra.Command {
	var (
		logLevel  string
		logFormat string
	)

	root := &cobra.Command{
		Use:           "tcbuild",
		Short:         "Build, validate, sign, publish and try out TeamCity server plugins",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", config.DefaultConfigFile, "Project file")
	flags.StringArrayVarP(&a.properties, "property", "P", nil, "Override a property (key=value); repeat for more")
	flags.StringVar(&a.overridesFile, "overrides", "", "YAML, JSON or TOML file of property overrides")
	flags.StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	flags.StringVar(&logFormat, "log-format", "text", "Log output format (text, json)")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file when the command ends")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		a.levelVar.Set(level)

		mode, err := logging.ParseMode(logFormat)
		if err != nil {
			return err
		}
		a.setLogger(logging.New(mode, cmd.ErrOrStderr(), a.levelVar))
		return nil
	}

	root.AddCommand(
		newDescriptorCommand(a),
		newPackageCommand(a),
		newValidateCommand(a),
		newSignCommand(a),
		newPublishCommand(a),
		newBuildCommand(a),
		newDeployCommand(a),
		newEnvCommand(a),
		newVersionCommand(),
	)
	return root
}

func newDescriptorCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "descriptor",
		Short: "Process the descriptor template or generate the descriptor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.resolve()
			if err != nil {
				return err
			}
			outcome, err := a.serverPlugin(r).BuildDescriptor(cmd.Context())
			if err != nil {
				return err
			}
			if !outcome.Skipped {
				fmt.Fprintln(cmd.OutOrStdout(), outcome.Path)
			}
			return nil
		},
	}
}

func newPackageCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "package",
		Short: "Build the descriptor and assemble the plugin archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.resolve()
			if err != nil {
				return err
			}
			result, err := a.serverPlugin(r).Package(cmd.Context())
			if err != nil {
				return err
			}
			if !result.Skipped {
				fmt.Fprintln(cmd.OutOrStdout(), result.Path)
			}
			return nil
		},
	}
}

func newValidateCommand(a *app) *cobra.Command {
	var (
		report   string
		advisory bool
	)

	cmd := &cobra.Command{
		Use:   "validate [archive]",
		Short: "Validate a plugin archive against the descriptor schema and content rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.resolve()
			if err != nil {
				return err
			}
			target := r.ArchivePath()
			if len(args) == 1 {
				target = strings.TrimSpace(args[0])
			}

			plugin := a.serverPlugin(r)
			plugin.ReportPath = report
			if advisory {
				plugin.Validator.FailOnViolation = false
			}

			result, err := plugin.Validate(cmd.Context(), target)
			if err != nil {
				return err
			}
			counts := result.Count()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d schema, %d content finding(s)\n",
				target, counts[validate.SchemaViolation], counts[validate.ContentRuleViolation])
			return nil
		},
	}

	cmd.Flags().StringVar(&report, "report", "", "Write the findings to this file as YAML")
	cmd.Flags().BoolVar(&advisory, "advisory", false, "Report violations without failing")
	return cmd
}

func newSignCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sign",
		Short: "Sign the assembled plugin archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.resolve()
			if err != nil {
				return err
			}
			if _, err := os.Stat(r.ArchivePath()); err != nil {
				return fmt.Errorf("plugin archive not built, run 'tcbuild package' first: %w", err)
			}
			signed, did, err := a.serverPlugin(r).Sign(cmd.Context(), r.ArchivePath())
			if err != nil {
				return err
			}
			if did {
				fmt.Fprintln(cmd.OutOrStdout(), signed)
			}
			return nil
		},
	}
}

func newPublishCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Upload the plugin archive to the marketplace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.resolve()
			if err != nil {
				return err
			}
			file, err := config.Distributable(r)
			if err != nil {
				return err
			}
			_, err = a.serverPlugin(r).Publish(cmd.Context(), file)
			return err
		},
	}
}

func newBuildCommand(a *app) *cobra.Command {
	var report bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run the full pipeline: descriptor, archive, validation, signing and publishing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.resolve()
			if err != nil {
				return err
			}
			plugin := a.serverPlugin(r)
			if report {
				plugin.ReportPath = config.ReportPath(r)
			}
			result, err := plugin.Run(cmd.Context())
			if err != nil {
				return err
			}
			if !result.Skipped() {
				fmt.Fprintln(cmd.OutOrStdout(), result.Distributable())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&report, "report", true, "Write the validation report to the build directory")
	return cmd
}

func newDeployCommand(a *app) *cobra.Command {
	var undeploy bool

	cmd := &cobra.Command{
		Use:   "deploy <environment>",
		Short: "Copy the plugin archives into an environment's plugins directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, env, err := a.environment(args[0])
			if err != nil {
				return err
			}
			svc := config.NewEnvironmentService(a.logger, config.NewRunner(r, a.logger))
			if undeploy {
				return svc.Undeploy(env)
			}
			deployed, err := svc.Deploy(env)
			for _, path := range deployed {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&undeploy, "undeploy", false, "Remove the plugin archives instead")
	return cmd
}

func (a *app) environment(name string) (project.Resolved, environment.Environment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return project.Resolved{}, environment.Environment{}, fmt.Errorf("environment name is required")
	}
	r, err := a.resolve()
	if err != nil {
		return project.Resolved{}, environment.Environment{}, err
	}
	env, err := r.Environment(name)
	return r, env, err
}

func newEnvCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage local TeamCity servers and agents",
	}

	type action func(ctx context.Context, svc *environment.Service, env environment.Environment) (string, error)
	sub := func(use, short string, run action) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <environment>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				r, env, err := a.environment(args[0])
				if err != nil {
					return err
				}
				svc := config.NewEnvironmentService(a.logger, config.NewRunner(r, a.logger))
				out, err := run(cmd.Context(), svc, env)
				if out != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", env.Name, out)
				}
				return err
			},
		}
	}

	cmd.AddCommand(
		sub("start-server", "Deploy the plugins and start the server", func(ctx context.Context, svc *environment.Service, env environment.Environment) (string, error) {
			state, err := svc.StartServer(ctx, env)
			return string(state), err
		}),
		sub("stop-server", "Stop the server", func(ctx context.Context, svc *environment.Service, env environment.Environment) (string, error) {
			return "", svc.StopServer(ctx, env)
		}),
		sub("start-agent", "Start the build agent", func(ctx context.Context, svc *environment.Service, env environment.Environment) (string, error) {
			state, err := svc.StartAgent(ctx, env)
			return string(state), err
		}),
		sub("stop-agent", "Stop the build agent", func(ctx context.Context, svc *environment.Service, env environment.Environment) (string, error) {
			return "", svc.StopAgent(ctx, env)
		}),
		sub("status", "Report whether the server is running", func(ctx context.Context, svc *environment.Service, env environment.Environment) (string, error) {
			state, err := svc.ServerStatus(ctx, env)
			return string(state), err
		}),
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tcbuild version and the supported descriptor schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tcbuild %s\n", buildVersion)
			for _, schema := range version.Schemas() {
				fmt.Fprintf(out, "schema\t%s\n", schema)
			}
			return nil
		},
	}
}

func parseProperties(values []string) (map[string]string, error) {
	props := make(map[string]string, len(values))
	for _, value := range values {
		key, val, ok := strings.Cut(value, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid property %q, expected key=value", value)
		}
		props[key] = val
	}
	return props, nil
}
