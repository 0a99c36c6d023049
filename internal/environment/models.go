package environment

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cochaviz/tcbuild/version"
)

// Kind selects how an environment's server and agent are run.
type Kind string

const (
	KindNative Kind = "native"
	KindDocker Kind = "docker"
)

// ParseKind accepts "native", "docker" or an empty value meaning native.
func ParseKind(value string) (Kind, error) {
	switch Kind(value) {
	case "", KindNative:
		return KindNative, nil
	case KindDocker:
		return KindDocker, nil
	default:
		return "", fmt.Errorf("unknown environment type %q (use native or docker)", value)
	}
}

type State string

const (
	NotStarted State = "not-started"
	Starting   State = "starting"
	Running    State = "running"
	Failed     State = "failed"
)

// ServerPort is the port the server listens on inside its container.
const ServerPort = 8111

var (
	DefaultBaseHomeDir   = "servers"
	DefaultBaseDataDir   = "data"
	DefaultServerOptions = "-Dteamcity.development.mode=true " +
		"-Dteamcity.development.shadowCopyClasses=true " +
		"-Dteamcity.superUser.token.saveToFile=true " +
		"-Dteamcity.kotlinConfigsDsl.generateDslDocs=false"
	DefaultAgentOptions = ""

	DefaultServerImage = "jetbrains/teamcity-server"
	DefaultAgentImage  = "jetbrains/teamcity-agent"
	DefaultServerName  = "teamcity-server"
	DefaultAgentName   = "teamcity-agent"
)

// Docker holds the container settings of a docker environment.
type Docker struct {
	ServerImage string
	AgentImage  string
	ServerName  string
	AgentName   string
	Port        int
}

// Environment is a local TeamCity installation plugins are tested against.
type Environment struct {
	Name    string
	Kind    Kind
	Version version.Version

	HomeDir       string
	DataDir       string
	ServerOptions string
	AgentOptions  string
	JavaHome      string

	// Plugins are the archives deployed before the server starts.
	Plugins []string

	Docker Docker
}

// WithDefaults fills every unset field. Directories default to
// servers/TeamCity-<version> and data/<major.minor>.
func (e Environment) WithDefaults() Environment {
	if e.Kind == "" {
		e.Kind = KindNative
	}
	if e.HomeDir == "" {
		e.HomeDir = filepath.Join(DefaultBaseHomeDir, "TeamCity-"+e.Version.String())
	}
	if e.DataDir == "" {
		e.DataDir = filepath.Join(DefaultBaseDataDir, e.Version.Short())
	}
	if e.ServerOptions == "" {
		e.ServerOptions = DefaultServerOptions
	}
	if e.AgentOptions == "" {
		e.AgentOptions = DefaultAgentOptions
	}
	if e.Docker.ServerImage == "" {
		e.Docker.ServerImage = DefaultServerImage
	}
	if e.Docker.AgentImage == "" {
		e.Docker.AgentImage = DefaultAgentImage
	}
	if e.Docker.ServerName == "" {
		e.Docker.ServerName = DefaultServerName
	}
	if e.Docker.AgentName == "" {
		e.Docker.AgentName = DefaultAgentName
	}
	if e.Docker.Port == 0 {
		e.Docker.Port = ServerPort
	}
	e.Plugins = append([]string(nil), e.Plugins...)
	return e
}

// PluginsDir is where the server picks up plugin archives.
func (e Environment) PluginsDir() string {
	return filepath.Join(e.DataDir, "plugins")
}

// Validate reports configuration that cannot be launched.
func (e Environment) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("environment name is required")
	}
	if e.Version.IsZero() {
		return fmt.Errorf("environment %s: version is required", e.Name)
	}
	if e.Docker.Port < 0 || e.Docker.Port > 65535 {
		return fmt.Errorf("environment %s: invalid port %d", e.Name, e.Docker.Port)
	}
	return nil
}

// Launcher starts and stops a server and agent. Every call runs exactly one
// external command.
type Launcher interface {
	StartServer(ctx context.Context, env Environment) (State, error)
	StopServer(ctx context.Context, env Environment) error
	StartAgent(ctx context.Context, env Environment) (State, error)
	StopAgent(ctx context.Context, env Environment) error
	ServerStatus(ctx context.Context, env Environment) (State, error)
}
