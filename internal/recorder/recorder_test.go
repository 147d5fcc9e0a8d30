package recorder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giganbyte/overlay-server/internal/chart"
	"github.com/giganbyte/overlay-server/internal/stats"
)

func testSummary() stats.Summary {
	start := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	return stats.Summary{
		ID:               uuid.MustParse("5f0c6f1e-8a53-4a0e-9b1e-2f0d8d8b7c11"),
		StartTime:        start,
		EndTime:          start.Add(2 * time.Second),
		Duration:         2 * time.Second,
		AvgFPS:           27.5,
		AvgInferenceTime: 31500 * time.Microsecond,
		Snapshots: []stats.Snapshot{
			{FPS: 25, InferenceTime: 30 * time.Millisecond, At: start.Add(time.Second)},
			{FPS: 30, InferenceTime: 33 * time.Millisecond, At: start.Add(2 * time.Second)},
		},
	}
}

func TestFinalizeWritesSummaryAndChart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	r := NewRecorder(dir, chart.DefaultOptions())

	var got Export
	r.OnExport(func(e Export) { got = e })

	sum := testSummary()
	require.NoError(t, r.Finalize(context.Background(), sum))

	assert.Equal(t, filepath.Join(dir, "session_20260304_100002_5f0c6f1e.json"), got.SummaryPath)
	assert.FileExists(t, got.SummaryPath)
	assert.FileExists(t, got.ChartPath)
	assert.Positive(t, got.Bytes)

	loaded, err := LoadSummary(got.SummaryPath)
	require.NoError(t, err)
	assert.Equal(t, sum.ID, loaded.ID)
	assert.Equal(t, sum.AvgInferenceTime, loaded.AvgInferenceTime)
	assert.Equal(t, sum.Duration, loaded.Duration)
	require.Len(t, loaded.Snapshots, 2)
	assert.True(t, sum.Snapshots[1].At.Equal(loaded.Snapshots[1].At))

	status := r.GetStatus()
	assert.Equal(t, uint64(1), status.Exports)
	assert.Equal(t, got.Bytes, status.BytesWritten)
	assert.Equal(t, sum.ID.String(), status.LastID)
	assert.Empty(t, status.LastError)

	names, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Base(got.SummaryPath)}, names)
}

func TestFinalizeRecordsErrors(t *testing.T) {
	r := NewRecorder(t.TempDir(), chart.DefaultOptions())
	err := r.Finalize(context.Background(), stats.Summary{ID: uuid.New()})
	require.Error(t, err, "empty sessions cannot be charted")

	status := r.GetStatus()
	assert.Zero(t, status.Exports)
	assert.NotEmpty(t, status.LastError)
}

func TestFinalizeHonoursContext(t *testing.T) {
	r := NewRecorder(t.TempDir(), chart.DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Finalize(ctx, testSummary()), context.Canceled)
}

func TestListMissingDirectory(t *testing.T) {
	r := NewRecorder(filepath.Join(t.TempDir(), "nope"), chart.Options{})
	names, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestPathRejectsTraversal(t *testing.T) {
	r := NewRecorder("/data/recordings", chart.Options{})
	for _, name := range []string{"", "../secret.json", "a/b.json", ".hidden"} {
		_, err := r.Path(name)
		assert.Error(t, err, name)
	}
	p, err := r.Path("session_x.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/recordings", "session_x.json"), p)
}

func TestLoadSummaryErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadSummary(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"id":"not-a-uuid"}`), 0644))
	_, err = LoadSummary(bad)
	assert.Error(t, err)
}
