package marketplace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cochaviz/tcbuild/internal/command"
	"github.com/cochaviz/tcbuild/internal/logging"
)

// Publisher runs the upload tool once per channel.
type Publisher struct {
	Tool   Tool
	Runner command.Runner
	Logger *slog.Logger
}

func (p *Publisher) logger() *slog.Logger {
	return logging.Ensure(p.Logger)
}

// Apply publishes file when publishing is a Publish. It reports whether an
// upload happened.
func (p *Publisher) Apply(ctx context.Context, publishing Publishing, file string) (bool, error) {
	switch cfg := publishing.(type) {
	case nil, NoPublishing:
		p.logger().Info("publishing not configured, skipping")
		return false, nil
	case Publish:
		if err := p.Publish(ctx, cfg, file); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, fmt.Errorf("unknown publishing configuration %T", publishing)
	}
}

// Publish uploads file to every configured channel, stopping at the first failure.
func (p *Publisher) Publish(ctx context.Context, cfg Publish, file string) error {
	if blank(cfg.Token) {
		return missing("token")
	}
	if _, err := os.Stat(file); err != nil {
		return fmt.Errorf("archive to publish: %w", err)
	}

	logger := p.logger()
	for _, channel := range cfg.ChannelsOrDefault() {
		args := []string{
			"upload",
			"-host", p.Tool.host(),
			"-token", cfg.Token,
			"-channel", channel,
			"-notes", cfg.Notes,
			"-file", file,
		}
		if cfg.PluginID != "" {
			args = append(args, "-plugin-id", cfg.PluginID)
		}
		cmd, err := p.Tool.command(p.Tool.PublisherMain, args...)
		if err != nil {
			return err
		}
		cmd = cmd.WithSecrets(cfg.Token)

		logger.Info("publishing plugin", "file", filepath.Base(file), "channel", channel, "command", cmd.Redacted())
		result, err := p.Runner.Run(ctx, cmd)
		if err != nil {
			return fmt.Errorf("publish %s to channel %s: %w", filepath.Base(file), channel, err)
		}
		if out := strings.TrimSpace(result.Output); out != "" {
			logger.Debug("publisher output", "channel", channel, "output", out)
		}
		logger.Info("plugin published", "channel", channel)
	}
	return nil
}
