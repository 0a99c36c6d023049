package simple

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cochaviz/tcbuild/internal/archive"
	"github.com/cochaviz/tcbuild/internal/artifacts"
	"github.com/cochaviz/tcbuild/internal/command"
	"github.com/cochaviz/tcbuild/internal/descriptor"
	"github.com/cochaviz/tcbuild/internal/environment"
	"github.com/cochaviz/tcbuild/internal/logging"
	"github.com/cochaviz/tcbuild/internal/marketplace"
	"github.com/cochaviz/tcbuild/internal/metrics"
	"github.com/cochaviz/tcbuild/internal/pipeline"
	"github.com/cochaviz/tcbuild/internal/project"
	"github.com/cochaviz/tcbuild/internal/validate"
)

var DefaultConfigFile = project.DefaultFile
var DefaultManifestLimit = 50
var DefaultReportName = "validation-report.yaml"

// Task names shown in the build log.
const (
	TaskProcessDescriptor  = "processServerDescriptor"
	TaskGenerateDescriptor = "generateServerDescriptor"
	TaskServerPlugin       = "serverPlugin"
	TaskValidate           = "validateServerPlugin"
	TaskSign               = "signServerPlugin"
	TaskPublish            = "publishServerPlugin"
)

// Load reads the project file at path and resolves it with the overlay. A
// missing file at the default location resolves an empty project rooted in the
// working directory.
func Load(path string, overlay project.Overlay) (project.Resolved, error) {
	if path == "" {
		path = DefaultConfigFile
	}

	p, err := project.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || path != DefaultConfigFile {
			return project.Resolved{}, err
		}
		wd, wdErr := os.Getwd()
		if wdErr != nil {
			return project.Resolved{}, wdErr
		}
		p = project.Project{Dir: wd}
	}
	return project.Resolve(p, overlay)
}

// NewRunner returns the subprocess runner for r, masking its credentials in
// logged command lines.
func NewRunner(r project.Resolved, logger *slog.Logger) *command.ExecRunner {
	return &command.ExecRunner{
		Logger:  logging.Ensure(logger).With("component", "command"),
		Secrets: Secrets(r),
	}
}

// Secrets lists the configured credentials that must never be logged.
func Secrets(r project.Resolved) []string {
	var secrets []string
	if sign, ok := r.Signing.(marketplace.Sign); ok {
		secrets = append(secrets, sign.Password)
	}
	if publish, ok := r.Publishing.(marketplace.Publish); ok {
		secrets = append(secrets, publish.Token)
	}
	return secrets
}

// descriptorTask names the descriptor step after what it does for r.
func descriptorTask(r project.Resolved) string {
	if _, ok := r.Descriptor.(descriptor.Structured); ok {
		return TaskGenerateDescriptor
	}
	return TaskProcessDescriptor
}

// NewServerPlugin wires the server plugin pipeline for r. rec may be nil.
func NewServerPlugin(r project.Resolved, logger *slog.Logger, runner command.Runner, rec *metrics.Recorder) *pipeline.ServerPlugin {
	logger = logging.Ensure(logger)

	validator := validate.New(r.Schema, logging.ForTask(logger, TaskValidate))
	validator.FailOnViolation = r.FailOnViolation

	return &pipeline.ServerPlugin{
		Logger: logger.With("component", "pipeline"),
		Descriptor: &descriptor.Builder{
			Source:      r.Descriptor,
			Destination: r.DescriptorOutput,
			Version:     r.Version,
			Strict:      r.Strict,
			Logger:      logging.ForTask(logger, descriptorTask(r)),
		},
		Assembler: &archive.Assembler{Logger: logging.ForTask(logger, TaskServerPlugin)},
		Archive:   r.Archive,
		Validator: validator,
		Signer: &marketplace.Signer{
			Tool:   r.Tool,
			Runner: runner,
			Logger: logging.ForTask(logger, TaskSign),
		},
		Signing: r.Signing,
		Publisher: &marketplace.Publisher{
			Tool:   r.Tool,
			Runner: runner,
			Logger: logging.ForTask(logger, TaskPublish),
		},
		Publishing: r.Publishing,
		Metrics:    rec,
		Manifest:   &artifacts.ManifestStore{Path: r.ManifestPath, Limit: DefaultManifestLimit},
	}
}

// ReportPath is the default location of the validation report.
func ReportPath(r project.Resolved) string {
	return filepath.Join(r.BuildDir, DefaultReportName)
}

// Distributable returns the archive to publish or deploy. That is the signed
// archive when signing is configured and ran on the current archive, and the
// plain archive otherwise. A signed archive older than the archive belongs to
// an earlier build and is ignored.
func Distributable(r project.Resolved) (string, error) {
	archivePath := r.ArchivePath()
	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return "", fmt.Errorf("plugin archive not built, run 'tcbuild package' first: %w", err)
	}
	if _, ok := r.Signing.(marketplace.Sign); ok {
		signed := filepath.Join(filepath.Dir(archivePath), marketplace.SignedName(archivePath))
		if signedInfo, err := os.Stat(signed); err == nil && !signedInfo.ModTime().Before(archiveInfo.ModTime()) {
			return signed, nil
		}
	}
	return archivePath, nil
}

// NewEnvironmentService wires both launchers.
func NewEnvironmentService(logger *slog.Logger, runner command.Runner) *environment.Service {
	logger = logging.Ensure(logger)
	return &environment.Service{
		Native: &environment.NativeLauncher{Runner: runner, Logger: logger.With("launcher", "native")},
		Docker: &environment.DockerLauncher{Runner: runner, Logger: logger.With("launcher", "docker")},
		Logger: logger.With("component", "environment"),
	}
}
