package simple

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/tcbuild/internal/command"
	"github.com/cochaviz/tcbuild/internal/environment"
	"github.com/cochaviz/tcbuild/internal/logging"
	"github.com/cochaviz/tcbuild/internal/marketplace"
	"github.com/cochaviz/tcbuild/internal/metrics"
	"github.com/cochaviz/tcbuild/internal/project"
)

const structuredProject = `
name: example
version: "2020.1"
server:
  descriptor:
    name: example
    displayName: Example
    version: "1.0"
    description: Example plugin
    downloadUrl: https://example.com
    email: dev@example.com
    vendorName: Example
    vendorUrl: https://example.com
    useSeparateClassloader: true
  publish:
    channels: [Beta]
tools:
  classpath: [/opt/marketplace/client.jar]
  publisherMain: com.example.Upload
environments:
  local:
    type: docker
`

func writeProject(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), project.DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), project.Overlay{NoEnv: true})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuildStructuredProject(t *testing.T) {
	t.Parallel()

	path := writeProject(t, structuredProject)
	r, err := Load(path, project.Overlay{NoEnv: true, Properties: map[string]string{
		"teamcity.server.publish.token": "secret-token",
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"secret-token"}, Secrets(r))

	runner := &command.Recorder{}
	rec := metrics.NewRecorder()
	plugin := NewServerPlugin(r, logging.Discard(), runner, rec)
	plugin.ReportPath = ReportPath(r)

	result, err := plugin.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Validated)
	assert.True(t, result.Published)
	assert.Equal(t, r.ArchivePath(), result.Archive.Path)

	upload := runner.Last()
	assert.Contains(t, upload.Args, "Beta")
	assert.Contains(t, upload.Args, r.ArchivePath())

	distributable, err := Distributable(r)
	require.NoError(t, err)
	assert.Equal(t, r.ArchivePath(), distributable)

	_, err = os.Stat(ReportPath(r))
	assert.NoError(t, err)
	_, err = os.Stat(r.ManifestPath)
	assert.NoError(t, err)
}

func TestDistributablePrefersSignedArchive(t *testing.T) {
	t.Parallel()

	r, err := project.Resolve(project.Project{Dir: t.TempDir()}, project.Overlay{NoEnv: true})
	require.NoError(t, err)

	_, err = Distributable(r)
	assert.ErrorContains(t, err, "tcbuild package")

	require.NoError(t, os.MkdirAll(r.Archive.Destination, 0o755))
	require.NoError(t, os.WriteFile(r.ArchivePath(), []byte("zip"), 0o644))
	signed := filepath.Join(r.Archive.Destination, marketplace.SignedName(r.ArchivePath()))
	require.NoError(t, os.WriteFile(signed, []byte("signed"), 0o644))

	got, err := Distributable(r)
	require.NoError(t, err)
	assert.Equal(t, r.ArchivePath(), got, "unsigned builds ignore stale signed archives")

	r.Signing = marketplace.Sign{CertificateChain: "c", PrivateKey: "k", Password: "p"}
	got, err = Distributable(r)
	require.NoError(t, err)
	assert.Equal(t, signed, got)
	assert.Equal(t, []string{"p"}, Secrets(r))
}

func TestDistributableIgnoresStaleSignedArchive(t *testing.T) {
	t.Parallel()

	r, err := project.Resolve(project.Project{Dir: t.TempDir()}, project.Overlay{NoEnv: true})
	require.NoError(t, err)
	r.Signing = marketplace.Sign{CertificateChain: "c", PrivateKey: "k", Password: "p"}

	require.NoError(t, os.MkdirAll(r.Archive.Destination, 0o755))
	signed := filepath.Join(r.Archive.Destination, marketplace.SignedName(r.ArchivePath()))
	require.NoError(t, os.WriteFile(signed, []byte("signed by an earlier build"), 0o644))
	require.NoError(t, os.WriteFile(r.ArchivePath(), []byte("zip"), 0o644))

	now := time.Now()
	require.NoError(t, os.Chtimes(r.ArchivePath(), now, now))
	require.NoError(t, os.Chtimes(signed, now.Add(-time.Hour), now.Add(-time.Hour)))

	got, err := Distributable(r)
	require.NoError(t, err)
	assert.Equal(t, r.ArchivePath(), got)

	require.NoError(t, os.Chtimes(signed, now.Add(time.Second), now.Add(time.Second)))
	got, err = Distributable(r)
	require.NoError(t, err)
	assert.Equal(t, signed, got)
}

func TestEnvironmentServiceUsesDocker(t *testing.T) {
	t.Parallel()

	r, err := Load(writeProject(t, structuredProject), project.Overlay{NoEnv: true})
	require.NoError(t, err)
	env, err := r.Environment("local")
	require.NoError(t, err)

	runner := &command.Recorder{}
	runner.Respond("docker inspect", command.Result{Output: "true\n"})
	svc := NewEnvironmentService(logging.Discard(), runner)

	state, err := svc.ServerStatus(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, environment.Running, state)
	assert.Equal(t, environment.DockerExecutable, runner.Last().Executable)
}
