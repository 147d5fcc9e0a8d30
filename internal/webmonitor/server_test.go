package webmonitor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giganbyte/overlay-server/internal/pipeline"
	"github.com/giganbyte/overlay-server/internal/stats"
	"github.com/giganbyte/overlay-server/internal/wire"
	"github.com/giganbyte/overlay-server/pkg/types"
)

func testFrame(num uint64, dets ...types.DisplayDetection) pipeline.Frame {
	return pipeline.Frame{
		FrameNum:      num,
		Timestamp:     time.Unix(1700000000, 0),
		Viewport:      types.DefaultViewport(),
		Detections:    dets,
		RawCount:      len(dets) + 1,
		InferenceTime: 25 * time.Millisecond,
	}
}

func cat() types.DisplayDetection {
	return types.DisplayDetection{
		Left: 10, Top: 20, Width: 100, Height: 120,
		Label: "cat", Score: 0.9,
		Color:    color.RGBA{R: 255, A: 255},
		Location: types.Rect{Left: 100, Top: 200, Right: 500, Bottom: 700},
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/api/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var payload StatusPayload
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, stats.NotRecording, payload.Recording.Status)
	assert.Equal(t, "MobileNet SSD", payload.Model.Name)
	assert.Equal(t, "300x300", payload.Model.Resolution)
	assert.Equal(t, 1080, payload.Viewport.Width)
	assert.Nil(t, payload.LatestDetection)
	assert.Empty(t, payload.DetectionHistory)

	raw := decodeJSONMap(t, body)
	rec := requireMap(t, raw["recording"], "recording")
	assert.Equal(t, "not_recording", rec["status"])
}

func TestIndexAndUnknownPath(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "/api/status/stream")

	resp, _ = env.get(t, "/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/stats/reset", "/api/recording/start", "/api/recording/stop", "/api/analyzer/pause", "/api/webrtc/offer"} {
		resp, _ := env.get(t, path)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, path)
	}
}

func TestViewportUpdate(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.postJSON(t, "/api/viewport", map[string]any{
		"width": 1920, "height": 1080, "rotation": 90, "facing": "front", "aspect_ratio": 1.333,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	vp := env.deps.Viewport.Get()
	assert.Equal(t, 1920, vp.Width)
	assert.Equal(t, types.Rotation90, vp.Rotation)
	assert.Equal(t, types.LensFront, vp.Facing)

	resp, _ = env.postJSON(t, "/api/viewport", map[string]any{"width": 10, "height": 10, "rotation": 45})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = env.postJSON(t, "/api/viewport", map[string]any{"width": -1, "height": 10})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = env.postJSON(t, "/api/viewport", map[string]any{"width": 1, "height": 50000000})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 1920, env.deps.Viewport.Get().Width)

	assert.Equal(t, uint64(1), env.deps.Metrics.ViewportUpdates.Load())
}

func TestConfidenceUpdate(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.postJSON(t, "/api/confidence", map[string]any{"confidence": 0.8})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, 0.8, env.deps.Projector.Confidence())

	resp, _ = env.postJSON(t, "/api/confidence", map[string]any{"confidence": 1.5})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = env.postJSON(t, "/api/confidence", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0.8, env.deps.Projector.Confidence())
}

func TestPauseResume(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.postJSON(t, "/api/analyzer/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.deps.Analyzer.Paused())

	resp, _ = env.postJSON(t, "/api/analyzer/resume", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, env.deps.Analyzer.Paused())
}

func TestRecordingLifecycle(t *testing.T) {
	env := newTestEnv(t)
	agg := env.deps.Stats

	resp, body := env.postJSON(t, "/api/recording/start", map[string]any{"max_snapshots": 5})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var started RecordingPayload
	require.NoError(t, json.Unmarshal(body, &started))
	assert.Equal(t, stats.Recording, started.Status)
	assert.Equal(t, 5, started.MaxSnapshots)
	assert.NotEmpty(t, started.ID)

	for range 3 {
		env.clock.Add(time.Second)
		agg.Tick()
	}

	resp, body = env.postJSON(t, "/api/recording/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var stopped RecordingPayload
	require.NoError(t, json.Unmarshal(body, &stopped))
	require.NotNil(t, stopped.Summary)
	assert.Len(t, stopped.Summary.Snapshots, 3)
	assert.Equal(t, started.ID, stopped.Summary.ID)

	agg.Wait()
	assert.Equal(t, stats.NotRecording, agg.Session().Status)

	resp, body = env.get(t, "/api/recordings")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Recordings []string `json:"recordings"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Recordings, 1)

	resp, body = env.get(t, "/recordings/"+list.Recordings[0])
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), started.ID)

	chartName := strings.TrimSuffix(list.Recordings[0], filepath.Ext(list.Recordings[0])) + ".png"
	resp, _ = env.get(t, "/recordings/"+chartName)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.get(t, "/recordings/missing.json")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStopWithoutSnapshots(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.postJSON(t, "/api/recording/stop", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = env.postJSON(t, "/api/recording/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, stats.DefaultMaxSnapshots, env.deps.Stats.Session().MaxSnapshots)

	resp, body := env.postJSON(t, "/api/recording/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p RecordingPayload
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, stats.NotRecording, p.Status)
	assert.Nil(t, p.Summary)
}

func TestStatsReset(t *testing.T) {
	env := newTestEnv(t)
	agg := env.deps.Stats

	agg.BeginInference()
	env.clock.Add(30 * time.Millisecond)
	agg.EndInference()
	env.clock.Add(time.Second)
	agg.Tick()
	require.NotZero(t, agg.Cumulative().InferenceCount)

	resp, _ := env.postJSON(t, "/api/stats/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, agg.Cumulative().InferenceCount)

	resp, body := env.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ev wire.StatsEvent
	require.NoError(t, json.Unmarshal(body, &ev))
	assert.Zero(t, ev.AvgInferenceMs)
}

func TestPublishFrameUpdatesMonitor(t *testing.T) {
	env := newTestEnv(t)

	env.srv.PublishFrame(testFrame(7, cat()))
	env.srv.PublishFrame(testFrame(8))

	latest, history, version := env.srv.Monitor().Snapshot()
	require.NotNil(t, latest)
	assert.Equal(t, uint64(8), latest.FrameNumber)
	require.Len(t, history, 1)
	assert.Equal(t, uint64(7), history[0].FrameNumber)
	assert.Equal(t, uint64(2), version)

	assert.Equal(t, 2, env.deps.Stats.Window().UIRefreshes)
	assert.Equal(t, uint64(3), env.deps.Metrics.DetectionsRaw.Load())
	assert.Equal(t, uint64(1), env.deps.Metrics.DetectionsPublished.Load())
}

func TestDetectionsStream(t *testing.T) {
	for _, tc := range []struct {
		name   string
		accept string
		format string
	}{
		{"json", "", "application/json"},
		{"protobuf", "application/protobuf", "application/protobuf"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)

			type result struct {
				event  string
				header http.Header
				err    error
			}
			done := make(chan result, 1)
			go func() {
				ev, h, err := readSSEEvent(env.http.URL+"/api/detections/stream", tc.accept, 5*time.Second)
				done <- result{ev, h, err}
			}()

			require.Eventually(t, func() bool {
				return env.srv.detectionBroadcaster.ClientCount() == 1
			}, 2*time.Second, 10*time.Millisecond)
			env.srv.PublishFrame(testFrame(42, cat()))

			res := <-done
			require.NoError(t, res.err)
			assert.Contains(t, res.header.Get("Content-Type"), "text/event-stream")
			assert.Equal(t, tc.format, res.header.Get("X-Content-Format"))

			data := sseData(t, res.event)
			var ev wire.DetectionEvent
			if tc.accept == "" {
				require.NoError(t, json.Unmarshal(data, &ev))
			} else {
				raw, err := base64.StdEncoding.DecodeString(string(data))
				require.NoError(t, err)
				ev, err = wire.UnmarshalDetectionEvent(raw)
				require.NoError(t, err)
			}
			assert.Equal(t, uint64(42), ev.FrameNumber)
			require.Len(t, ev.Detections, 1)
			assert.Equal(t, "cat", ev.Detections[0].Label)
			assert.Equal(t, "#ff0000", ev.Detections[0].Color)
		})
	}
}

func TestStatusStreamSendsCurrentStatus(t *testing.T) {
	env := newTestEnv(t)

	event, headers, err := readSSEEvent(env.http.URL+"/api/status/stream", "", 3*time.Second)
	require.NoError(t, err)
	assert.Contains(t, headers.Get("Content-Type"), "text/event-stream")

	var payload StatusPayload
	require.NoError(t, json.Unmarshal(sseData(t, event), &payload))
	assert.Equal(t, "MobileNet SSD", payload.Model.Name)
}

func TestPublishStatsSyncsMetrics(t *testing.T) {
	env := newTestEnv(t)
	agg := env.deps.Stats

	_, err := env.deps.Analyzer.Step(context.Background())
	require.NoError(t, err)

	env.clock.Add(time.Second)
	env.srv.PublishStats(agg.Tick(), agg.Stats())
	assert.Equal(t, uint64(1), env.deps.Metrics.FramesProcessed.Load())

	resp, body := env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "overlay_frames_processed_total 1")
}

func TestMJPEGStream(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.http.URL+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	contentType := resp.Header.Get("Content-Type")
	assert.Contains(t, contentType, "multipart/x-mixed-replace")
	assert.Contains(t, contentType, "boundary=frame")

	head := make([]byte, 64)
	_, err = io.ReadFull(resp.Body, head)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(head, []byte("--frame\r\nContent-Type: image/jpeg\r\n")), "%q", head)
}

func TestWebRTCOfferDisabled(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.postJSON(t, "/api/webrtc/offer", map[string]string{"type": "offer", "sdp": "v=0"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMonitorHistoryCapped(t *testing.T) {
	m := NewMonitor(8)
	for i := range 10 {
		m.Update(testFrame(uint64(i)), wire.DetectionEvent{
			FrameNumber: uint64(i),
			Detections:  []wire.Detection{{Label: "cat"}},
		})
	}
	m.Update(testFrame(10), wire.DetectionEvent{FrameNumber: 10})

	latest, history, _ := m.Snapshot()
	assert.Equal(t, uint64(10), latest.FrameNumber)
	require.Len(t, history, 8)
	assert.Equal(t, uint64(9), history[0].FrameNumber)
	assert.Equal(t, uint64(2), history[7].FrameNumber)

	f, ok := m.LatestFrame()
	require.True(t, ok)
	assert.Equal(t, uint64(10), f.FrameNum)
}

func TestRendererCanvasFollowsViewport(t *testing.T) {
	r := NewRenderer(480, 80)

	data, err := r.Render(testFrame(1, cat()), stats.Stats{FPS: 30})
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 480, img.Bounds().Dx())
	assert.Equal(t, 640, img.Bounds().Dy())

	f := testFrame(2)
	f.Viewport = types.ViewportState{}
	data, err = r.Render(f, stats.Stats{})
	require.NoError(t, err)
	img, err = jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, placeholderWidth, img.Bounds().Dx())
	assert.Equal(t, placeholderHeight, img.Bounds().Dy())

	// Viewports that bypass validation still render a bounded canvas.
	f = testFrame(3, cat())
	f.Viewport = types.ViewportState{Width: 1, Height: 50_000_000}
	data, err = r.Render(f, stats.Stats{})
	require.NoError(t, err)
	img, err = jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, placeholderWidth, img.Bounds().Dx())
	assert.Equal(t, placeholderHeight, img.Bounds().Dy())
}

func TestFrameBroadcasterSkipsWithoutClients(t *testing.T) {
	fb := NewFrameBroadcaster(NewRenderer(120, 75))
	rendered, err := fb.Publish(testFrame(1), stats.Stats{})
	require.NoError(t, err)
	assert.False(t, rendered)

	id, ch := fb.Subscribe()
	rendered, err = fb.Publish(testFrame(2), stats.Stats{})
	require.NoError(t, err)
	assert.True(t, rendered)
	assert.NotEmpty(t, <-ch)

	fb.Unsubscribe(id)
	fb.Close()
	_, closed := fb.Subscribe()
	_, ok := <-closed
	assert.False(t, ok)
}
