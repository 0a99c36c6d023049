package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cochaviz/tcbuild/internal/command"
	"github.com/cochaviz/tcbuild/internal/logging"
)

const (
	serverDataMount = "/data/teamcity_server/datadir"
	serverLogsMount = "/opt/teamcity/logs"
	agentConfMount  = "/data/teamcity_agent/conf"
)

// DockerExecutable is the docker CLI used by DockerLauncher.
var DockerExecutable = "docker"

// DockerLauncher runs the server and agent as containers.
type DockerLauncher struct {
	Runner command.Runner
	Logger *slog.Logger
}

var _ Launcher = (*DockerLauncher)(nil)

func (l *DockerLauncher) logger() *slog.Logger {
	return logging.Ensure(l.Logger)
}

// ServerCommand is the docker invocation that starts the server container.
func ServerCommand(env Environment) command.Command {
	dataDir := absolute(env.DataDir)
	return command.New(DockerExecutable,
		"run",
		"--detach", "--rm",
		"--name", env.Docker.ServerName,
		"-v", dataDir+":"+serverDataMount,
		"-v", filepath.Join(dataDir, "logs")+":"+serverLogsMount,
		"-e", "TEAMCITY_SERVER_OPTS="+env.ServerOptions,
		"-p", strconv.Itoa(env.Docker.Port)+":"+strconv.Itoa(ServerPort),
		env.Docker.ServerImage+":"+env.Version.String(),
	)
}

// AgentCommand is the docker invocation that starts an agent linked to the
// server container.
func AgentCommand(env Environment) command.Command {
	dataDir := absolute(env.DataDir)
	return command.New(DockerExecutable,
		"run",
		"--detach", "--rm",
		"--name", env.Docker.AgentName,
		"-e", "SERVER_URL=http://"+env.Docker.ServerName+":"+strconv.Itoa(ServerPort),
		"--link", env.Docker.ServerName,
		"-v", filepath.Join(dataDir, "agent")+":"+agentConfMount,
		"-e", "TEAMCITY_AGENT_OPTS="+env.AgentOptions,
		env.Docker.AgentImage+":"+env.Version.String(),
	)
}

func (l *DockerLauncher) StartServer(ctx context.Context, env Environment) (State, error) {
	return launch(ctx, l.Runner, l.logger(), "server", ServerCommand(env))
}

func (l *DockerLauncher) StopServer(ctx context.Context, env Environment) error {
	return stop(ctx, l.Runner, l.logger(), "server", command.New(DockerExecutable, "stop", env.Docker.ServerName))
}

func (l *DockerLauncher) StartAgent(ctx context.Context, env Environment) (State, error) {
	return launch(ctx, l.Runner, l.logger(), "agent", AgentCommand(env))
}

func (l *DockerLauncher) StopAgent(ctx context.Context, env Environment) error {
	return stop(ctx, l.Runner, l.logger(), "agent", command.New(DockerExecutable, "stop", env.Docker.AgentName))
}

// ServerStatus asks docker whether the server container is running. A
// container docker does not know about has not been started.
func (l *DockerLauncher) ServerStatus(ctx context.Context, env Environment) (State, error) {
	result, err := l.Runner.Run(ctx, command.New(DockerExecutable, "inspect", "-f", "{{.State.Running}}", env.Docker.ServerName))
	if err != nil {
		var toolErr *command.ExternalToolError
		if errors.As(err, &toolErr) && strings.Contains(strings.ToLower(toolErr.Output), "no such") {
			return NotStarted, nil
		}
		return Failed, fmt.Errorf("inspect %s: %w", env.Docker.ServerName, err)
	}

	switch strings.TrimSpace(result.Output) {
	case "true":
		return Running, nil
	case "false":
		return NotStarted, nil
	default:
		return Failed, fmt.Errorf("unexpected docker inspect output %q", strings.TrimSpace(result.Output))
	}
}

func absolute(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
