package wire

import (
	"image/color"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/giganbyte/overlay-server/internal/stats"
	"github.com/giganbyte/overlay-server/pkg/types"
)

func TestDetectionEventEncoding(t *testing.T) {
	ts := time.Unix(1700000000, 500_000_000)
	vp := types.ViewportState{Width: 1080, Height: 1440}
	ev := NewDetectionEvent(42, ts, vp, []types.DisplayDetection{
		{Left: 10, Top: 20, Width: 300, Height: 400, Label: "cat", Score: 0.75, Color: color.RGBA{R: 0x12, G: 0xab, B: 0xef, A: 255}},
		{Left: -5, Label: "dog", Score: 0.5},
	})
	assert.InDelta(t, 1700000000.5, ev.Timestamp, 1e-6)
	assert.Equal(t, "#12abef", ev.Detections[0].Color)

	got, err := UnmarshalDetectionEvent(ev.Marshal())
	require.NoError(t, err)
	if diff := cmp.Diff(ev, got); diff != "" {
		t.Fatalf("decoded event mismatch (-want +got):\n%s", diff)
	}
}

func TestStatsEventEncoding(t *testing.T) {
	s := stats.Stats{
		FPS:                29.5,
		AvgFPS:             28,
		InferenceTime:      31 * time.Millisecond,
		AvgInferenceTime:   33 * time.Millisecond,
		TotalInferenceTime: 2 * time.Second,
		Frames:             30,
		UIRefreshRate:      12,
		At:                 time.Unix(100, 0),
	}
	sess := stats.Session{Status: stats.Recording, Snapshots: make([]stats.Snapshot, 4)}

	ev := NewStatsEvent(s, sess)
	assert.Equal(t, 31.0, ev.InferenceMs)
	assert.Equal(t, 2000.0, ev.TotalInferenceMs)
	assert.Equal(t, int32(stats.Recording), ev.RecordingStatus)
	assert.Equal(t, int32(4), ev.Snapshots)

	got, err := UnmarshalStatsEvent(ev.Marshal())
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestZeroEventsEncodeEmpty(t *testing.T) {
	assert.Empty(t, StatsEvent{}.Marshal())
	assert.Empty(t, DetectionEvent{}.Marshal())
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	b := StatsEvent{FPS: 12}.Marshal()
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	b = protowire.AppendTag(b, 100, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)

	got, err := UnmarshalStatsEvent(b)
	require.NoError(t, err)
	assert.Equal(t, 12.0, got.FPS)
}

func TestTruncatedInput(t *testing.T) {
	b := DetectionEvent{FrameNumber: 1, Detections: []Detection{{Label: "cat"}}}.Marshal()
	_, err := UnmarshalDetectionEvent(b[:len(b)-1])
	assert.Error(t, err)
}

func TestNegativeViewportRoundTrips(t *testing.T) {
	ev := DetectionEvent{ViewportWidth: -1, ViewportHeight: 5}
	got, err := UnmarshalDetectionEvent(ev.Marshal())
	require.NoError(t, err)
	assert.Equal(t, int32(-1), got.ViewportWidth)
}
