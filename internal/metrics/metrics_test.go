package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giganbyte/overlay-server/internal/stats"
)

func gather(t *testing.T, m *Metrics) map[string]float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				out[f.GetName()] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[f.GetName()] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				out[f.GetName()] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestCountersAreExported(t *testing.T) {
	m := New()
	m.FramesProcessed.Add(3)
	m.DetectionsPublished.Add(2)
	m.ActiveClients.Store(1)
	m.ObserveInference(20 * time.Millisecond)

	got := gather(t, m)
	assert.Equal(t, 3.0, got["overlay_frames_processed_total"])
	assert.Equal(t, 2.0, got["overlay_detections_published_total"])
	assert.Equal(t, 1.0, got["overlay_webrtc_active_clients"])
	assert.Equal(t, 1.0, got["overlay_inference_duration_seconds"])
}

func TestBindStats(t *testing.T) {
	mock := clock.NewMock()
	agg := stats.New(stats.Config{Clock: mock})
	m := New()
	m.BindStats(agg)
	m.BindStats(agg) // second call must not re-register

	agg.BeginInference()
	mock.Add(40 * time.Millisecond)
	agg.EndInference()
	agg.RecordUIRefresh()
	require.True(t, agg.StartRecording(5))
	mock.Add(time.Second)
	agg.Tick()

	got := gather(t, m)
	assert.Equal(t, 40.0, got["overlay_inference_ms"])
	assert.Equal(t, 40.0, got["overlay_inference_avg_ms"])
	assert.Equal(t, 1.0, got["overlay_ui_refresh_rate"])
	assert.Equal(t, float64(stats.Recording), got["overlay_recording_status"])
	assert.Equal(t, 1.0, got["overlay_recording_snapshots"])
}

func TestHandlerServesText(t *testing.T) {
	m := New()
	m.FramesDropped.Add(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "overlay_frames_dropped_total 7")
}
