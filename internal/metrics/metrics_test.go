package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	r.RecordAttempt("primary_restart", "failure")
	r.RecordAttempt("primary_restart", "failure")
	r.RecordAttempt("primary_fallback", "success")
	r.RecordOutcome("restart_or_fallback")
	r.RecordSkipped(3)
	r.RecordSilence("pen", nil)
	r.RecordSilence("pen", errors.New("boom"))
	r.ObserveLadder(90 * time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.remediationAttempts.WithLabelValues("primary_restart", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.remediationOutcomes.WithLabelValues("restart_or_fallback")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.skippedAlerts))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.silencesTotal.WithLabelValues("pen", "failure")))
}

func TestRecorderNilIsNoop(t *testing.T) {
	var r *Recorder
	r.RecordAttempt("x", "y")
	r.RecordOutcome("reboot")
	r.RecordSilence("site", nil)
	r.BatchFinished(time.Now())
	assert.Nil(t, r.Registry())
	assert.NoError(t, r.WriteTextfile(filepath.Join(t.TempDir(), "none.prom")))
}

func TestRecorderWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.RecordOutcome("reboot")

	path := filepath.Join(t.TempDir(), "fieldtriage.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `fieldtriage_remediation_outcomes_total{method="reboot"} 1`)
}
