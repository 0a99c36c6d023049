package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/cochaviz/tcbuild/internal/archive"
	"github.com/cochaviz/tcbuild/internal/artifacts"
	"github.com/cochaviz/tcbuild/internal/descriptor"
	"github.com/cochaviz/tcbuild/internal/logging"
	"github.com/cochaviz/tcbuild/internal/marketplace"
	"github.com/cochaviz/tcbuild/internal/metrics"
	"github.com/cochaviz/tcbuild/internal/validate"
)

// ServerPlugin builds a server plugin: descriptor, archive, validation, then the
// optional signing and publishing steps.
type ServerPlugin struct {
	Logger *slog.Logger

	Descriptor *descriptor.Builder
	Assembler  *archive.Assembler
	Archive    archive.Spec
	Validator  *validate.Validator

	Signer     *marketplace.Signer
	Signing    marketplace.Signing
	Publisher  *marketplace.Publisher
	Publishing marketplace.Publishing

	Metrics  *metrics.Recorder
	Manifest *artifacts.ManifestStore
	// ReportPath, when set, receives the validation report as YAML.
	ReportPath string
}

func (p *ServerPlugin) logger() *slog.Logger {
	return logging.Ensure(p.Logger)
}

// Run executes every step in order. A skipped archive ends the run
// successfully. The build is recorded in the manifest whatever the outcome.
func (p *ServerPlugin) Run(ctx context.Context) (Result, error) {
	result := Result{BuildID: uuid.New().String()}
	started := time.Now()
	logger := p.logger().With("build", result.BuildID)
	logger.Info("starting server plugin build")

	err := p.run(ctx, &result)
	p.record(result, started, err)

	switch {
	case err != nil:
		logger.Error("server plugin build failed", "error", err)
		return result, err
	case result.Skipped():
		logger.Info("server plugin build skipped, nothing to package")
	default:
		logger.Info("server plugin build finished", "archive", result.Distributable())
	}
	return result, nil
}

func (p *ServerPlugin) run(ctx context.Context, result *Result) error {
	outcome, archiveResult, err := p.pack(ctx)
	result.Descriptor = outcome
	result.Archive = archiveResult
	if err != nil || archiveResult.Skipped {
		return err
	}

	if result.Report, err = p.Validate(ctx, archiveResult.Path); err != nil {
		return err
	}
	result.Validated = true

	signed, didSign, err := p.Sign(ctx, archiveResult.Path)
	if err != nil {
		return err
	}
	if didSign {
		result.Signed = signed
	}

	result.Published, err = p.Publish(ctx, result.Distributable())
	return err
}

// BuildDescriptor writes the descriptor file.
func (p *ServerPlugin) BuildDescriptor(ctx context.Context) (descriptor.Outcome, error) {
	var outcome descriptor.Outcome
	err := p.step(ctx, StepDescriptor, func() (metrics.Outcome, error) {
		if p.Descriptor == nil {
			return metrics.OutcomeSkipped, nil
		}
		var err error
		outcome, err = p.Descriptor.Build()
		if outcome.Skipped {
			return metrics.OutcomeSkipped, err
		}
		return metrics.OutcomeSucceeded, err
	})
	return outcome, err
}

// Package builds the descriptor and assembles the archive.
func (p *ServerPlugin) Package(ctx context.Context) (archive.Result, error) {
	_, result, err := p.pack(ctx)
	return result, err
}

func (p *ServerPlugin) pack(ctx context.Context) (descriptor.Outcome, archive.Result, error) {
	outcome, err := p.BuildDescriptor(ctx)
	if err != nil {
		return outcome, archive.Result{}, err
	}

	spec := p.Archive
	if outcome.Skipped {
		spec.Descriptor = ""
	} else if outcome.Path != "" {
		spec.Descriptor = outcome.Path
	}

	var result archive.Result
	err = p.step(ctx, StepAssemble, func() (metrics.Outcome, error) {
		var err error
		result, err = p.Assembler.Assemble(spec)
		if result.Skipped {
			return metrics.OutcomeSkipped, err
		}
		return metrics.OutcomeSucceeded, err
	})
	return outcome, result, err
}

// Validate checks the assembled archive and writes the report when ReportPath
// is set.
func (p *ServerPlugin) Validate(ctx context.Context, archivePath string) (validate.Report, error) {
	var report validate.Report
	err := p.step(ctx, StepValidate, func() (metrics.Outcome, error) {
		if p.Validator == nil {
			return metrics.OutcomeSkipped, nil
		}
		var err error
		report, err = p.Validator.ValidateArchive(archivePath)
		for kind, n := range report.Count() {
			p.Metrics.AddFindings(string(kind), n)
		}
		if reportErr := p.writeReport(report); reportErr != nil {
			err = errors.Join(err, reportErr)
		}
		return metrics.OutcomeSucceeded, err
	})
	return report, err
}

// Sign signs archivePath when signing is configured.
func (p *ServerPlugin) Sign(ctx context.Context, archivePath string) (string, bool, error) {
	var (
		signed string
		did    bool
	)
	err := p.step(ctx, StepSign, func() (metrics.Outcome, error) {
		if p.Signer == nil {
			return metrics.OutcomeSkipped, nil
		}
		var err error
		signed, did, err = p.Signer.Apply(ctx, p.Signing, archivePath)
		if !did {
			return metrics.OutcomeSkipped, err
		}
		return metrics.OutcomeSucceeded, err
	})
	return signed, did, err
}

// Publish uploads file when publishing is configured.
func (p *ServerPlugin) Publish(ctx context.Context, file string) (bool, error) {
	var published bool
	err := p.step(ctx, StepPublish, func() (metrics.Outcome, error) {
		if p.Publisher == nil {
			return metrics.OutcomeSkipped, nil
		}
		var err error
		published, err = p.Publisher.Apply(ctx, p.Publishing, file)
		if !published {
			return metrics.OutcomeSkipped, err
		}
		return metrics.OutcomeSucceeded, err
	})
	return published, err
}

// step runs fn unless ctx is done and records its duration.
func (p *ServerPlugin) step(ctx context.Context, name string, fn func() (metrics.Outcome, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	started := time.Now()
	outcome, err := fn()
	if err != nil {
		outcome = metrics.OutcomeFailed
	}
	p.Metrics.ObserveStep(name, outcome, time.Since(started))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (p *ServerPlugin) writeReport(report validate.Report) error {
	if p.ReportPath == "" {
		return nil
	}
	f, err := os.Create(p.ReportPath)
	if err != nil {
		return fmt.Errorf("create validation report: %w", err)
	}
	if err := report.WriteYAML(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (p *ServerPlugin) record(result Result, started time.Time, runErr error) {
	if p.Manifest == nil {
		return
	}
	logger := p.logger()

	record := artifacts.BuildRecord{
		ID:         result.BuildID,
		StartedAt:  started.UTC(),
		FinishedAt: time.Now().UTC(),
		Status:     artifacts.BuildStatusSucceeded,
	}
	switch {
	case runErr != nil:
		record.Status = artifacts.BuildStatusFailed
		record.Error = runErr.Error()
	case result.Skipped():
		record.Status = artifacts.BuildStatusSkipped
	}

	for _, produced := range []struct {
		path string
		kind artifacts.ArtifactKind
	}{
		{result.Descriptor.Path, artifacts.DescriptorArtifact},
		{result.Archive.Path, artifacts.ArchiveArtifact},
		{result.Signed, artifacts.SignedArchiveArtifact},
		{p.ReportPath, artifacts.ReportArtifact},
	} {
		if produced.path == "" {
			continue
		}
		if _, err := os.Stat(produced.path); err != nil {
			continue
		}
		artifact, err := artifacts.Describe(produced.path, produced.kind, map[string]any{"build": result.BuildID})
		if err != nil {
			logger.Warn("could not describe artifact", "path", produced.path, "error", err)
			continue
		}
		record.Artifacts = append(record.Artifacts, artifact)
		p.Metrics.SetArtifactSize(string(produced.kind), artifact.Size)
	}

	if err := p.Manifest.Append(record); err != nil {
		logger.Warn("could not update build manifest", "path", p.Manifest.Path, "error", err)
	}
}
