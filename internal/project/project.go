package project

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cochaviz/tcbuild/internal/archive"
	"github.com/cochaviz/tcbuild/internal/descriptor"
)

// DefaultFile is the project file looked up in the working directory.
const DefaultFile = "tcbuild.yaml"

// Project is the project file as written. Nothing in it is interpreted until
// Resolve runs.
type Project struct {
	Name                  string `yaml:"name"`
	Version               string `yaml:"version"`
	AllowSnapshotVersions bool   `yaml:"allowSnapshotVersions"`
	BuildDir              string `yaml:"buildDir"`

	Server       Server                       `yaml:"server"`
	Tools        Tools                        `yaml:"tools"`
	Environments map[string]EnvironmentConfig `yaml:"environments"`

	// Dir is the directory relative paths are resolved against.
	Dir string `yaml:"-"`
}

// Server configures the server plugin build.
type Server struct {
	Descriptor     *descriptor.ServerDescriptor `yaml:"descriptor"`
	DescriptorFile string                       `yaml:"descriptorFile"`
	Tokens         map[string]string            `yaml:"tokens"`

	ArchiveName    string                `yaml:"archiveName"`
	Artifacts      []string              `yaml:"artifacts"`
	AgentArtifacts []string              `yaml:"agentArtifacts"`
	Files          []archive.FileMapping `yaml:"files"`

	Strict          bool  `yaml:"strict"`
	FailOnViolation *bool `yaml:"failOnViolation"`

	Sign    *SignConfig    `yaml:"sign"`
	Publish *PublishConfig `yaml:"publish"`
}

// SignConfig holds signing credentials, inline or as files. Inline values win.
type SignConfig struct {
	CertificateChain     string `yaml:"certificateChain"`
	CertificateChainFile string `yaml:"certificateChainFile"`
	PrivateKey           string `yaml:"privateKey"`
	PrivateKeyFile       string `yaml:"privateKeyFile"`
	Password             string `yaml:"password"`
}

type PublishConfig struct {
	Channels []string `yaml:"channels"`
	Token    string   `yaml:"token"`
	Notes    string   `yaml:"notes"`
	PluginID string   `yaml:"pluginId"`
}

// Tools locates the java tools used for signing and publishing.
type Tools struct {
	Java          string   `yaml:"java"`
	Classpath     []string `yaml:"classpath"`
	SignerMain    string   `yaml:"signerMain"`
	PublisherMain string   `yaml:"publisherMain"`
	Host          string   `yaml:"host"`
}

// EnvironmentConfig is one entry of the environments section.
type EnvironmentConfig struct {
	Type          string   `yaml:"type"`
	Version       string   `yaml:"version"`
	HomeDir       string   `yaml:"homeDir"`
	DataDir       string   `yaml:"dataDir"`
	ServerOptions string   `yaml:"serverOptions"`
	AgentOptions  string   `yaml:"agentOptions"`
	JavaHome      string   `yaml:"javaHome"`
	Plugins       []string `yaml:"plugins"`

	ServerImage string `yaml:"serverImage"`
	AgentImage  string `yaml:"agentImage"`
	ServerName  string `yaml:"serverName"`
	AgentName   string `yaml:"agentName"`
	Port        int    `yaml:"port"`
}

// Load reads a project file. Unknown keys are rejected.
func Load(path string) (Project, error) {
	f, err := os.Open(path)
	if err != nil {
		return Project{}, fmt.Errorf("open project file: %w", err)
	}
	defer f.Close()

	p, err := Decode(f)
	if err != nil {
		return Project{}, fmt.Errorf("%s: %w", path, err)
	}
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return Project{}, err
	}
	p.Dir = dir
	return p, nil
}

// Decode reads a project from r. An empty document is an empty project.
func Decode(r io.Reader) (Project, error) {
	var p Project
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Project{}, fmt.Errorf("decode project: %w", err)
	}
	return p, nil
}

func (p Project) path(value string) string {
	if value == "" || filepath.IsAbs(value) || p.Dir == "" {
		return value
	}
	return filepath.Join(p.Dir, value)
}

func (p Project) paths(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, p.path(v))
	}
	return out
}
