package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/cochaviz/tcbuild/internal/archive"
	"github.com/cochaviz/tcbuild/internal/descriptor"
	"github.com/cochaviz/tcbuild/internal/environment"
	"github.com/cochaviz/tcbuild/internal/marketplace"
	"github.com/cochaviz/tcbuild/version"
)

var ErrConflictingDescriptor = errors.New("server descriptor and descriptorFile are mutually exclusive")

// ErrMissingPublisherMain is returned when publishing is configured without
// the upload tool's main class.
var ErrMissingPublisherMain = errors.New("publishing requires tools.publisherMain")

var (
	DefaultVersion   = "9.0"
	DefaultBuildDir  = "build"
	DefaultEnvPrefix = "TCBUILD"

	// DefaultArchiveName is used when neither an archive name nor a project
	// name is known.
	DefaultArchiveName = "teamcity-plugin"
)

// Property keys understood by the overlay.
const (
	KeyVersion         = "teamcity.version"
	KeyAllowSnapshots  = "teamcity.allowSnapshotVersions"
	KeyBuildDir        = "teamcity.buildDir"
	KeyArchiveName     = "teamcity.server.archiveName"
	KeyStrict          = "teamcity.server.strict"
	KeyFailOnViolation = "teamcity.server.failOnViolation"
	KeyCertChain       = "teamcity.server.sign.certificateChain"
	KeyPrivateKey      = "teamcity.server.sign.privateKey"
	KeySignPassword    = "teamcity.server.sign.password"
	KeyPublishToken    = "teamcity.server.publish.token"
	KeyPublishNotes    = "teamcity.server.publish.notes"
	KeyJava            = "teamcity.tools.java"

	environmentPrefix = "teamcity.environments."
)

// Overlay holds the values that override the project file: -P flags, an
// overrides file and TCBUILD_* environment variables, in that precedence.
type Overlay struct {
	Properties map[string]string
	// File is a YAML, JSON or TOML document of nested properties.
	File      string
	EnvPrefix string
	// NoEnv ignores environment variables.
	NoEnv bool
}

// Resolved is the final build configuration.
type Resolved struct {
	Name     string
	Version  version.Version
	Schema   version.Schema
	BuildDir string

	// Descriptor is nil when neither a structured descriptor nor a
	// descriptor file is configured.
	Descriptor       descriptor.Source
	DescriptorOutput string
	Strict           bool
	FailOnViolation  bool

	Archive archive.Spec

	Signing    marketplace.Signing
	Publishing marketplace.Publishing
	Tool       marketplace.Tool

	Environments map[string]environment.Environment
	ManifestPath string
}

// ArchivePath is where the assembled archive is written.
func (r Resolved) ArchivePath() string {
	return filepath.Join(r.Archive.Destination, archive.ArchiveFileName(r.Archive.Name))
}

// Environment looks up a resolved environment by name.
func (r Resolved) Environment(name string) (environment.Environment, error) {
	env, ok := r.Environments[name]
	if !ok {
		names := make([]string, 0, len(r.Environments))
		for n := range r.Environments {
			names = append(names, n)
		}
		sort.Strings(names)
		return environment.Environment{}, fmt.Errorf("unknown environment %q (configured: %s)", name, strings.Join(names, ", "))
	}
	return env, nil
}

func newViper(p Project, o Overlay) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault(KeyVersion, p.Version)
	v.SetDefault(KeyAllowSnapshots, p.AllowSnapshotVersions)
	v.SetDefault(KeyBuildDir, p.BuildDir)
	v.SetDefault(KeyArchiveName, p.Server.ArchiveName)
	v.SetDefault(KeyStrict, p.Server.Strict)
	failOnViolation := true
	if p.Server.FailOnViolation != nil {
		failOnViolation = *p.Server.FailOnViolation
	}
	v.SetDefault(KeyFailOnViolation, failOnViolation)
	v.SetDefault(KeyJava, p.Tools.Java)
	if sign := p.Server.Sign; sign != nil {
		v.SetDefault(KeyCertChain, sign.CertificateChain)
		v.SetDefault(KeyPrivateKey, sign.PrivateKey)
		v.SetDefault(KeySignPassword, sign.Password)
	}
	if publish := p.Server.Publish; publish != nil {
		v.SetDefault(KeyPublishToken, publish.Token)
		v.SetDefault(KeyPublishNotes, publish.Notes)
	}

	if !o.NoEnv {
		prefix := o.EnvPrefix
		if prefix == "" {
			prefix = DefaultEnvPrefix
		}
		v.SetEnvPrefix(prefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}

	if o.File != "" {
		v.SetConfigFile(o.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read overrides file: %w", err)
		}
	}

	for key, value := range o.Properties {
		v.Set(key, value)
	}
	return v, nil
}

// Resolve applies the overlay to p and interprets the result.
func Resolve(p Project, o Overlay) (Resolved, error) {
	if p.Server.Descriptor != nil && p.Server.DescriptorFile != "" {
		return Resolved{}, ErrConflictingDescriptor
	}

	v, err := newViper(p, o)
	if err != nil {
		return Resolved{}, err
	}

	versionValue := v.GetString(KeyVersion)
	if versionValue == "" {
		versionValue = DefaultVersion
	}
	allowSnapshots := v.GetBool(KeyAllowSnapshots)
	ver, err := version.Parse(versionValue, allowSnapshots)
	if err != nil {
		return Resolved{}, err
	}

	buildDir := v.GetString(KeyBuildDir)
	if buildDir == "" {
		buildDir = DefaultBuildDir
	}
	buildDir = p.path(buildDir)

	name := p.Name
	if name == "" && p.Dir != "" {
		name = filepath.Base(p.Dir)
	}

	r := Resolved{
		Name:             name,
		Version:          ver,
		Schema:           version.SchemaFor(ver),
		BuildDir:         buildDir,
		DescriptorOutput: filepath.Join(buildDir, "descriptor", "server", archive.DescriptorName),
		Strict:           v.GetBool(KeyStrict),
		FailOnViolation:  v.GetBool(KeyFailOnViolation),
		ManifestPath:     filepath.Join(buildDir, "tcbuild-manifest.json"),
		Tool: marketplace.Tool{
			Java:          v.GetString(KeyJava),
			Classpath:     p.paths(p.Tools.Classpath),
			SignerMain:    p.Tools.SignerMain,
			PublisherMain: p.Tools.PublisherMain,
			Host:          p.Tools.Host,
		},
	}

	switch {
	case p.Server.Descriptor != nil:
		r.Descriptor = descriptor.Structured{Descriptor: *p.Server.Descriptor}
	case p.Server.DescriptorFile != "":
		r.Descriptor = descriptor.Template{
			Path:   p.path(p.Server.DescriptorFile),
			Tokens: copyTokens(p.Server.Tokens),
		}
	}

	archiveName := v.GetString(KeyArchiveName)
	if archiveName == "" {
		archiveName = name
	}
	if archiveName == "" {
		archiveName = DefaultArchiveName
	}
	r.Archive = archive.Spec{
		Name:        archive.ArchiveFileName(archiveName),
		Destination: filepath.Join(buildDir, "distributions"),
		Server:      p.paths(p.Server.Artifacts),
		Agent:       p.paths(p.Server.AgentArtifacts),
		Files:       make([]archive.FileMapping, 0, len(p.Server.Files)),
	}
	for _, f := range p.Server.Files {
		r.Archive.Files = append(r.Archive.Files, archive.FileMapping{From: p.path(f.From), Into: f.Into})
	}
	if r.Descriptor != nil {
		r.Archive.Descriptor = r.DescriptorOutput
	}

	if r.Signing, err = resolveSigning(p, v); err != nil {
		return Resolved{}, err
	}
	r.Publishing = resolvePublishing(p, v)
	if _, ok := r.Publishing.(marketplace.Publish); ok && strings.TrimSpace(r.Tool.PublisherMain) == "" {
		return Resolved{}, ErrMissingPublisherMain
	}

	if r.Environments, err = resolveEnvironments(p, v, ver, allowSnapshots, r); err != nil {
		return Resolved{}, err
	}
	return r, nil
}

func resolveSigning(p Project, v *viper.Viper) (marketplace.Signing, error) {
	cfg := p.Server.Sign
	if cfg == nil {
		return marketplace.NoSigning{}, nil
	}

	chain := v.GetString(KeyCertChain)
	if chain == "" && cfg.CertificateChainFile != "" {
		content, err := os.ReadFile(p.path(cfg.CertificateChainFile))
		if err != nil {
			return nil, fmt.Errorf("read certificate chain: %w", err)
		}
		chain = string(content)
	}
	key := v.GetString(KeyPrivateKey)
	if key == "" && cfg.PrivateKeyFile != "" {
		content, err := os.ReadFile(p.path(cfg.PrivateKeyFile))
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		key = string(content)
	}

	return marketplace.Sign{
		CertificateChain: chain,
		PrivateKey:       key,
		Password:         v.GetString(KeySignPassword),
	}, nil
}

func resolvePublishing(p Project, v *viper.Viper) marketplace.Publishing {
	cfg := p.Server.Publish
	if cfg == nil {
		return marketplace.NoPublishing{}
	}
	return marketplace.Publish{
		Channels: append([]string(nil), cfg.Channels...),
		Token:    v.GetString(KeyPublishToken),
		Notes:    v.GetString(KeyPublishNotes),
		PluginID: cfg.PluginID,
	}
}

func resolveEnvironments(p Project, v *viper.Viper, projectVersion version.Version, allowSnapshots bool, r Resolved) (map[string]environment.Environment, error) {
	envs := make(map[string]environment.Environment, len(p.Environments))
	for name, cfg := range p.Environments {
		get := func(prop, fallback string) string {
			if value := v.GetString(environmentPrefix + name + "." + prop); value != "" {
				return value
			}
			return fallback
		}

		kind, err := environment.ParseKind(get("type", cfg.Type))
		if err != nil {
			return nil, fmt.Errorf("environment %s: %w", name, err)
		}

		ver := projectVersion
		if value := get("version", cfg.Version); value != "" {
			if ver, err = version.Parse(value, allowSnapshots); err != nil {
				return nil, fmt.Errorf("environment %s: %w", name, err)
			}
		}

		port := cfg.Port
		if value := get("port", ""); value != "" {
			if port, err = strconv.Atoi(strings.TrimSpace(value)); err != nil {
				return nil, fmt.Errorf("environment %s: invalid port %q", name, value)
			}
		}

		plugins := p.paths(cfg.Plugins)
		if len(plugins) == 0 && r.Descriptor != nil {
			plugins = []string{r.ArchivePath()}
		}

		env := environment.Environment{
			Name:          name,
			Kind:          kind,
			Version:       ver,
			HomeDir:       p.path(get("homeDir", cfg.HomeDir)),
			DataDir:       p.path(get("dataDir", cfg.DataDir)),
			ServerOptions: get("serverOptions", cfg.ServerOptions),
			AgentOptions:  get("agentOptions", cfg.AgentOptions),
			JavaHome:      get("javaHome", cfg.JavaHome),
			Plugins:       plugins,
			Docker: environment.Docker{
				ServerImage: get("serverImage", cfg.ServerImage),
				AgentImage:  get("agentImage", cfg.AgentImage),
				ServerName:  get("serverName", cfg.ServerName),
				AgentName:   get("agentName", cfg.AgentName),
				Port:        port,
			},
		}.WithDefaults()
		env.HomeDir = p.path(env.HomeDir)
		env.DataDir = p.path(env.DataDir)

		if err := env.Validate(); err != nil {
			return nil, err
		}
		envs[name] = env
	}
	return envs, nil
}

func copyTokens(tokens map[string]string) map[string]string {
	out := make(map[string]string, len(tokens))
	for k, v := range tokens {
		out[k] = v
	}
	return out
}
