package environment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cochaviz/tcbuild/internal/archive"
	"github.com/cochaviz/tcbuild/internal/logging"
)

// Service runs environment tasks against whichever launcher matches the
// environment's kind.
type Service struct {
	Native Launcher
	Docker Launcher
	Logger *slog.Logger
}

func (s *Service) logger(env Environment) *slog.Logger {
	return logging.Ensure(s.Logger).With("environment", env.Name)
}

func (s *Service) launcher(env Environment) (Launcher, error) {
	var l Launcher
	switch env.Kind {
	case KindNative, "":
		l = s.Native
	case KindDocker:
		l = s.Docker
	default:
		return nil, fmt.Errorf("unknown environment type %q", env.Kind)
	}
	if l == nil {
		return nil, fmt.Errorf("no %s launcher configured", env.Kind)
	}
	return l, nil
}

// Deploy copies the environment's plugin archives into its plugins directory.
func (s *Service) Deploy(env Environment) ([]string, error) {
	deployed, err := archive.Deploy(env.Plugins, env.PluginsDir())
	if err != nil {
		return deployed, err
	}
	s.logger(env).Info("plugins deployed", "dir", env.PluginsDir(), "count", len(deployed))
	return deployed, nil
}

// Undeploy removes the environment's plugin archives from its plugins directory.
func (s *Service) Undeploy(env Environment) error {
	if err := archive.Undeploy(env.Plugins, env.PluginsDir()); err != nil {
		return err
	}
	s.logger(env).Info("plugins undeployed", "dir", env.PluginsDir())
	return nil
}

// StartServer deploys the plugins and starts the server.
func (s *Service) StartServer(ctx context.Context, env Environment) (State, error) {
	if err := env.Validate(); err != nil {
		return NotStarted, err
	}
	l, err := s.launcher(env)
	if err != nil {
		return NotStarted, err
	}
	if _, err := s.Deploy(env); err != nil {
		return NotStarted, err
	}
	return l.StartServer(ctx, env)
}

func (s *Service) StopServer(ctx context.Context, env Environment) error {
	l, err := s.launcher(env)
	if err != nil {
		return err
	}
	return l.StopServer(ctx, env)
}

func (s *Service) StartAgent(ctx context.Context, env Environment) (State, error) {
	if err := env.Validate(); err != nil {
		return NotStarted, err
	}
	l, err := s.launcher(env)
	if err != nil {
		return NotStarted, err
	}
	return l.StartAgent(ctx, env)
}

func (s *Service) StopAgent(ctx context.Context, env Environment) error {
	l, err := s.launcher(env)
	if err != nil {
		return err
	}
	return l.StopAgent(ctx, env)
}

func (s *Service) ServerStatus(ctx context.Context, env Environment) (State, error) {
	l, err := s.launcher(env)
	if err != nil {
		return Failed, err
	}
	return l.ServerStatus(ctx, env)
}
