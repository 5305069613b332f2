package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findMetric(t *testing.T, mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestRecorderCounters(t *testing.T) {
	r := New()
	r.MachinesConverged("ubuntu", 2)
	r.MachinesConverged("ubuntu", 0)
	r.MachineDeleted("ubuntu", nil)
	r.MachineDeleted("ubuntu", nil)
	r.MachineDeleted("ubuntu", errors.New("boom"))

	mfs, err := r.Registry().Gather()
	require.NoError(t, err)

	converged := findMetric(t, mfs, "metalctl_machines_converged_total")
	require.Len(t, converged.GetMetric(), 1)
	assert.Equal(t, 2.0, converged.GetMetric()[0].GetCounter().GetValue())

	deleted := findMetric(t, mfs, "metalctl_machines_deleted_total")
	byResult := map[string]float64{}
	for _, m := range deleted.GetMetric() {
		byResult[labelValue(m, "result")] = m.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{"success": 2, "error": 1}, byResult)
}

func TestRecorderVerbDuration(t *testing.T) {
	r := New()
	r.ObserveVerb("ubuntu", "create", 2*time.Second, nil)
	r.ObserveVerb("ubuntu", "create", time.Second, nil)

	mfs, err := r.Registry().Gather()
	require.NoError(t, err)
	hist := findMetric(t, mfs, "metalctl_verb_duration_seconds")
	require.Len(t, hist.GetMetric(), 1)
	sample := hist.GetMetric()[0]
	assert.Equal(t, "create", labelValue(sample, "verb"))
	assert.Equal(t, uint64(2), sample.GetHistogram().GetSampleCount())
	assert.InDelta(t, 3.0, sample.GetHistogram().GetSampleSum(), 0.001)
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.MachinesConverged("ubuntu", 1)

	path := filepath.Join(t.TempDir(), "textfile", "metalctl.prom")
	require.NoError(t, r.WriteTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `metalctl_machines_converged_total{instance="ubuntu"} 1`)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveVerb("ubuntu", "create", time.Second, nil)
	r.MachinesConverged("ubuntu", 1)
	r.MachineDeleted("ubuntu", nil)
	assert.Nil(t, r.Registry())
	assert.NoError(t, r.WriteTextfile("/nonexistent/metalctl.prom"))
}
