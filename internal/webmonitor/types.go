package webmonitor

import (
	"github.com/giganbyte/overlay-server/internal/recorder"
	"github.com/giganbyte/overlay-server/internal/stats"
	"github.com/giganbyte/overlay-server/internal/wire"
	"github.com/giganbyte/overlay-server/pkg/types"
)

// StatusPayload is the body of /api/status and the JSON form of
// /api/status/stream events.
type StatusPayload struct {
	Stats            wire.StatsEvent       `json:"stats"`
	Recording        RecordingPayload      `json:"recording"`
	Analyzer         AnalyzerStatus        `json:"analyzer"`
	Model            ModelInfo             `json:"model"`
	Viewport         types.ViewportState   `json:"viewport"`
	Confidence       float64               `json:"confidence"`
	WebRTCClients    int                   `json:"webrtc_clients"`
	LatestDetection  *wire.DetectionEvent  `json:"latest_detection"`
	DetectionHistory []wire.DetectionEvent `json:"detection_history"`
	Timestamp        float64               `json:"timestamp"`
}

// RecordingPayload describes the recording session and the exporter.
type RecordingPayload struct {
	Status       stats.Status             `json:"status"`
	ID           string                   `json:"id,omitempty"`
	MaxSnapshots int                      `json:"max_snapshots"`
	Snapshots    int                      `json:"snapshots"`
	StartedAt    float64                  `json:"started_at,omitempty"`
	Summary      *recorder.SessionFile    `json:"summary,omitempty"`
	Export       recorder.RecordingStatus `json:"export"`
}

// AnalyzerStatus mirrors the analyzer counters.
type AnalyzerStatus struct {
	Paused          bool   `json:"paused"`
	FramesProcessed uint64 `json:"frames_processed"`
	FramesDropped   uint64 `json:"frames_dropped"`
	SourceErrors    uint64 `json:"source_errors"`
}

// ModelInfo describes the detection model.
type ModelInfo struct {
	Name       string `json:"name"`
	Resolution string `json:"resolution"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

type errorResponse struct {
	Error string `json:"error"`
}
