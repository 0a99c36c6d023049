package marketplace

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cochaviz/tcbuild/internal/command"
)

var ErrMissingCredential = errors.New("missing credential")

// DefaultChannel is used when a Publish configuration names no channels.
const DefaultChannel = "default"

var (
	DefaultJava       = "java"
	DefaultHost       = "https://plugins.jetbrains.com"
	DefaultSignerMain = "org.jetbrains.zip.signer.ZipSigningTool"
)

// Signing is either NoSigning or Sign.
type Signing interface {
	isSigning()
}

// NoSigning leaves the archive unsigned.
type NoSigning struct{}

// Sign holds the credentials used to sign an archive. CertificateChain and
// PrivateKey are PEM content, not paths.
type Sign struct {
	CertificateChain string
	PrivateKey       string
	Password         string
}

func (NoSigning) isSigning() {}
func (Sign) isSigning()      {}

// Publishing is either NoPublishing or Publish.
type Publishing interface {
	isPublishing()
}

// NoPublishing skips the upload.
type NoPublishing struct{}

// Publish uploads an archive to each channel.
type Publish struct {
	Channels []string
	Token    string
	Notes    string
	PluginID string
}

func (NoPublishing) isPublishing() {}
func (Publish) isPublishing()      {}

// ChannelsOrDefault returns the configured channels, or the default channel.
func (p Publish) ChannelsOrDefault() []string {
	var channels []string
	for _, ch := range p.Channels {
		if ch = strings.TrimSpace(ch); ch != "" {
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		return []string{DefaultChannel}
	}
	return channels
}

// Tool locates the signing and publishing tools. How the classpath is obtained
// is up to the caller.
type Tool struct {
	Java          string
	Classpath     []string
	SignerMain    string
	PublisherMain string
	Host          string
}

func (t Tool) java() string {
	if t.Java == "" {
		return DefaultJava
	}
	return t.Java
}

func (t Tool) host() string {
	if t.Host == "" {
		return DefaultHost
	}
	return t.Host
}

func (t Tool) command(mainClass string, args ...string) (command.Command, error) {
	if strings.TrimSpace(mainClass) == "" {
		return command.Command{}, errors.New("tool main class is not configured")
	}
	if len(t.Classpath) == 0 {
		return command.Command{}, fmt.Errorf("classpath for %s is empty", mainClass)
	}
	argv := append([]string{"-cp", strings.Join(t.Classpath, string(os.PathListSeparator)), mainClass}, args...)
	return command.New(t.java(), argv...), nil
}

func missing(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingCredential, name)
}

func blank(value string) bool {
	return strings.TrimSpace(value) == ""
}
