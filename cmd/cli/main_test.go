package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/tcbuild/internal/logging"
	"github.com/cochaviz/tcbuild/internal/metrics"
)

func newTestApp() *app {
	var levelVar slog.LevelVar
	return &app{levelVar: &levelVar, metrics: metrics.NewRecorder(), logger: logging.Discard()}
}

func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(a)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseProperties(t *testing.T) {
	props, err := parseProperties([]string{"teamcity.version=2020.1", "a=b=c", " k =v"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"teamcity.version": "2020.1", "a": "b=c", "k": "v"}, props)

	_, err = parseProperties([]string{"novalue"})
	assert.ErrorContains(t, err, "key=value")
	_, err = parseProperties([]string{"=x"})
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, newTestApp(), "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "tcbuild dev\n"))
	assert.Contains(t, out, "schema\t")
}

func TestPackageAndValidateCommands(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "tcbuild.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
name: example
version: "2020.1"
server:
  descriptor:
    name: example
    displayName: Example
    version: "1.0"
`), 0o644))

	a := newTestApp()
	metricsFile := filepath.Join(dir, "metrics", "tcbuild.prom")
	out, err := execute(t, a, "--config", configFile, "--log-level", "error", "--metrics-file", metricsFile, "package")
	require.NoError(t, err)
	archivePath := strings.TrimSpace(out)
	assert.Equal(t, filepath.Join(dir, "build", "distributions", "example.zip"), archivePath)

	require.NoError(t, a.flushMetrics())
	metricsText, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metricsText), "tcbuild_step_duration_seconds")

	// Every execution rebinds the flags, so a later command without
	// --metrics-file writes nothing.
	out, err = execute(t, a, "--config", configFile, "--log-level", "error", "validate", "--report", filepath.Join(dir, "report.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "0 schema")
	_, err = os.Stat(filepath.Join(dir, "report.yaml"))
	assert.NoError(t, err)
	assert.Empty(t, a.metricsFile)
}

func TestEnvCommandUnknownEnvironment(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "tcbuild.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("environments:\n  local: {}\n"), 0o644))

	_, err := execute(t, newTestApp(), "--config", configFile, "--log-level", "error", "env", "status", "staging")
	assert.ErrorContains(t, err, "unknown environment")
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, newTestApp(), "--log-level", "loud", "version")
	assert.ErrorContains(t, err, "unknown log level")
}
