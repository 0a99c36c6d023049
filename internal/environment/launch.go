package environment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cochaviz/tcbuild/internal/command"
)

// launch runs a start command once. The tool's output is logged on success and
// carried by the error on failure.
func launch(ctx context.Context, runner command.Runner, logger *slog.Logger, role string, cmd command.Command) (State, error) {
	logger.Info("starting "+role, "state", string(Starting), "command", cmd.Redacted())

	result, err := runner.Run(ctx, cmd)
	if err != nil {
		logger.Error(role+" failed to start", "state", string(Failed))
		return Failed, fmt.Errorf("start %s: %w", role, err)
	}
	if out := strings.TrimSpace(result.Output); out != "" {
		logger.Info(out)
	}
	logger.Info(role+" started", "state", string(Running))
	return Running, nil
}

func stop(ctx context.Context, runner command.Runner, logger *slog.Logger, role string, cmd command.Command) error {
	logger.Info("stopping "+role, "command", cmd.Redacted())

	result, err := runner.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("stop %s: %w", role, err)
	}
	if out := strings.TrimSpace(result.Output); out != "" {
		logger.Info(out)
	}
	return nil
}
