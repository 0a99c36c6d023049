package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cochaviz/tcbuild/internal/command"
	"github.com/cochaviz/tcbuild/internal/logging"
)

// NativeLauncher runs the scripts of an unpacked TeamCity distribution.
type NativeLauncher struct {
	Runner command.Runner
	Logger *slog.Logger
	// Alive reports whether a process exists. Defaults to a signal 0 probe.
	Alive func(pid int) (bool, error)
}

var _ Launcher = (*NativeLauncher)(nil)

func (l *NativeLauncher) logger() *slog.Logger {
	return logging.Ensure(l.Logger)
}

func (l *NativeLauncher) alive() func(int) (bool, error) {
	if l.Alive != nil {
		return l.Alive
	}
	return processAlive
}

// PidFile is where the server script records its process id.
func PidFile(env Environment) string {
	return filepath.Join(absolute(env.HomeDir), "logs", "teamcity.pid")
}

func serverScript(env Environment, action string) command.Command {
	home := absolute(env.HomeDir)
	cmd := command.New(filepath.Join(home, "bin", "teamcity-server.sh"), action).
		WithDir(home).
		WithEnv("TEAMCITY_DATA_PATH", absolute(env.DataDir)).
		WithEnv("TEAMCITY_SERVER_OPTS", env.ServerOptions).
		WithEnv("TEAMCITY_PID_FILE_PATH", PidFile(env))
	if env.JavaHome != "" {
		cmd = cmd.WithEnv("JAVA_HOME", env.JavaHome)
	}
	return cmd
}

func agentScript(env Environment, action string) command.Command {
	agentHome := filepath.Join(absolute(env.HomeDir), "buildAgent")
	cmd := command.New(filepath.Join(agentHome, "bin", "agent.sh"), action).
		WithDir(agentHome).
		WithEnv("TEAMCITY_AGENT_OPTS", env.AgentOptions)
	if env.JavaHome != "" {
		cmd = cmd.WithEnv("JAVA_HOME", env.JavaHome)
	}
	return cmd
}

func (l *NativeLauncher) StartServer(ctx context.Context, env Environment) (State, error) {
	return launch(ctx, l.Runner, l.logger(), "server", serverScript(env, "start"))
}

func (l *NativeLauncher) StopServer(ctx context.Context, env Environment) error {
	return stop(ctx, l.Runner, l.logger(), "server", serverScript(env, "stop"))
}

func (l *NativeLauncher) StartAgent(ctx context.Context, env Environment) (State, error) {
	return launch(ctx, l.Runner, l.logger(), "agent", agentScript(env, "start"))
}

func (l *NativeLauncher) StopAgent(ctx context.Context, env Environment) error {
	return stop(ctx, l.Runner, l.logger(), "agent", agentScript(env, "stop"))
}

// ServerStatus reads the pid file and probes the process it names.
func (l *NativeLauncher) ServerStatus(_ context.Context, env Environment) (State, error) {
	content, err := os.ReadFile(PidFile(env))
	if errors.Is(err, os.ErrNotExist) {
		return NotStarted, nil
	}
	if err != nil {
		return Failed, fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil || pid <= 0 {
		return Failed, fmt.Errorf("pid file %s holds %q, not a process id", PidFile(env), strings.TrimSpace(string(content)))
	}

	alive, err := l.alive()(pid)
	if err != nil {
		return Failed, fmt.Errorf("probe server process %d: %w", pid, err)
	}
	if !alive {
		l.logger().Debug("stale pid file", "pid", pid)
		return NotStarted, nil
	}
	return Running, nil
}
