package descriptor

import (
	"fmt"
	"log/slog"

	"github.com/cochaviz/tcbuild/internal/logging"
	"github.com/cochaviz/tcbuild/version"
)

// Builder writes the build's descriptor file from whichever Source is configured.
type Builder struct {
	Source      Source
	Destination string
	Version     version.Version
	Strict      bool
	Logger      *slog.Logger
}

// Outcome reports what Build did.
type Outcome struct {
	Path string
	// Skipped is true when no descriptor source is configured.
	Skipped   bool
	Unmatched []string
}

func (b *Builder) logger() *slog.Logger {
	return logging.Ensure(b.Logger)
}

// Build materializes the descriptor at Destination.
func (b *Builder) Build() (Outcome, error) {
	logger := b.logger()

	switch source := b.Source.(type) {
	case nil:
		logger.Info("no descriptor configured, skipping")
		return Outcome{Skipped: true}, nil

	case Template:
		result, err := Process(source.Path, b.Destination, source.Tokens)
		if err != nil {
			return Outcome{}, err
		}
		if len(result.Unmatched) > 0 {
			logger.Warn("descriptor template has placeholders without tokens",
				"template", source.Path,
				"placeholders", result.Unmatched,
			)
		}
		logger.Info("descriptor processed", "template", source.Path, "path", result.Path)
		return Outcome{Path: result.Path, Unmatched: result.Unmatched}, nil

	case Structured:
		gen := &Generator{Strict: b.Strict, Logger: logger}
		if err := gen.WriteFile(b.Destination, source.Descriptor, b.Version); err != nil {
			return Outcome{}, err
		}
		logger.Info("descriptor generated", "path", b.Destination, "target", b.Version.String())
		return Outcome{Path: b.Destination}, nil

	default:
		return Outcome{}, fmt.Errorf("unknown descriptor source %T", source)
	}
}
