package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	r.ObserveStep("assemble", OutcomeSucceeded, 120*time.Millisecond)
	r.ObserveStep("validate", OutcomeFailed, time.Second)
	r.AddFindings("content", 2)
	r.AddFindings("content", 1)
	r.AddFindings("schema", 0)
	r.SetArtifactSize("archive", 2048)

	assert.Equal(t, 3.0, testutil.ToFloat64(r.findings.WithLabelValues("content")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(r.artifactSize.WithLabelValues("archive")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.stepDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(r.findings))
}

func TestRecordersAreIndependent(t *testing.T) {
	t.Parallel()

	a, b := NewRecorder(), NewRecorder()
	a.AddFindings("schema", 5)

	assert.Equal(t, 0, testutil.CollectAndCount(b.findings))
}

func TestNilRecorderIsNoop(t *testing.T) {
	t.Parallel()

	var r *Recorder
	r.ObserveStep("x", OutcomeSkipped, time.Second)
	r.AddFindings("schema", 1)
	r.SetArtifactSize("archive", 1)
	assert.NoError(t, r.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")))
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	r.ObserveStep("sign", OutcomeSucceeded, 2*time.Second)

	path := filepath.Join(t.TempDir(), "metrics", "tcbuild.prom")
	require.NoError(t, r.WriteTextfile(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `tcbuild_step_duration_seconds_count{outcome="succeeded",step="sign"} 1`)
}
