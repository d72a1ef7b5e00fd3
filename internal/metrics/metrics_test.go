package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()
	r.ObserveStep("install", "succeeded", 2*time.Second)
	r.ObserveStep("install", "failed", time.Second)
	r.PackageInstalled()
	r.ObserveRun("failed", time.Now())

	assert.Equal(t, 1.0, testutil.ToFloat64(r.stepOutcomes.WithLabelValues("install", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.packagesInstalled))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.lastSuccess))

	at := time.Unix(1_790_000_000, 0)
	r.ObserveRun("succeeded", at)
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(r.lastSuccess))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveStep("clean", "succeeded", 10*time.Millisecond)
	r.ObserveRun("succeeded", time.Now())

	path := TextfilePath(t.TempDir())
	require.NoError(t, r.WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(b)
	assert.Contains(t, text, `docbot_provision_steps_total{status="succeeded",step="clean"} 1`)
	assert.Contains(t, text, "docbot_provision_runs_total")
	assert.True(t, strings.HasSuffix(filepath.ToSlash(path), "metrics/provision.prom"))
}

func TestSeedKeepsLastSuccessOnFailure(t *testing.T) {
	r := NewRecorder()
	at := time.Unix(1_790_000_000, 0)
	r.SeedRuns("succeeded", 3)
	r.SeedSteps("install", "failed", 2)
	r.SeedLastSuccess(at)
	r.ObserveRun("failed", time.Now())

	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(r.lastSuccess))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.runOutcomes.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runOutcomes.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.stepOutcomes.WithLabelValues("install", "failed")))

	r.SeedLastSuccess(time.Time{})
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(r.lastSuccess))
}
