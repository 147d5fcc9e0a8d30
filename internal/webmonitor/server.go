package webmonitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/giganbyte/overlay-server/internal/logger"
	"github.com/giganbyte/overlay-server/internal/metrics"
	"github.com/giganbyte/overlay-server/internal/overlay"
	"github.com/giganbyte/overlay-server/internal/pipeline"
	"github.com/giganbyte/overlay-server/internal/recorder"
	"github.com/giganbyte/overlay-server/internal/stats"
	"github.com/giganbyte/overlay-server/internal/webrtc"
	"github.com/giganbyte/overlay-server/internal/wire"
	"github.com/giganbyte/overlay-server/pkg/types"
)

var log = logger.For("WebMonitor")

const maxBodyBytes = 64 << 10

// Deps are the components the monitor reads and controls. WebRTC and Metrics
// are optional.
type Deps struct {
	Stats     *stats.Aggregator
	Projector *overlay.Projector
	Viewport  *pipeline.ViewportStore
	Analyzer  *pipeline.Analyzer
	Recorder  *recorder.Recorder
	WebRTC    *webrtc.Server
	Metrics   *metrics.Metrics
}

// Server serves the monitor endpoints.
type Server struct {
	cfg     Config
	deps    Deps
	monitor *Monitor

	renderer             *Renderer
	broadcaster          *FrameBroadcaster
	detectionBroadcaster *DetectionBroadcaster
	statusBroadcaster    *StatusBroadcaster
	blank                []byte
}

// NewServer returns a configured monitor server.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	cfg = cfg.withDefaults()
	if deps.Stats == nil || deps.Projector == nil || deps.Viewport == nil || deps.Analyzer == nil || deps.Recorder == nil {
		return nil, errors.New("webmonitor: missing dependency")
	}

	renderer := NewRenderer(cfg.PreviewWidth, cfg.JPEGQuality)
	blank, err := renderer.Placeholder("waiting for frames")
	if err != nil {
		return nil, fmt.Errorf("failed to render placeholder: %w", err)
	}

	return &Server{
		cfg:                  cfg,
		deps:                 deps,
		monitor:              NewMonitor(cfg.HistorySize),
		renderer:             renderer,
		broadcaster:          NewFrameBroadcaster(renderer),
		detectionBroadcaster: NewDetectionBroadcaster(),
		statusBroadcaster:    NewStatusBroadcaster(),
		blank:                blank,
	}, nil
}

// Monitor returns the monitor state.
func (s *Server) Monitor() *Monitor {
	return s.monitor
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/detections/stream", s.handleDetectionsStream)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/stats/reset", s.handleStatsReset)
	mux.HandleFunc("/api/viewport", s.handleViewport)
	mux.HandleFunc("/api/confidence", s.handleConfidence)
	mux.HandleFunc("/api/model", s.handleModel)
	mux.HandleFunc("/api/analyzer/pause", s.handlePause)
	mux.HandleFunc("/api/analyzer/resume", s.handleResume)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)
	mux.HandleFunc("/api/recordings", s.handleRecordings)
	mux.Handle("/recordings/", http.StripPrefix("/recordings/", newRecordingFileHandler(s.deps.Recorder)))
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)
	if s.deps.Metrics != nil {
		mux.Handle("/metrics", s.deps.Metrics.Handler())
	}

	return mux
}

// Close disconnects all streaming clients.
func (s *Server) Close() {
	s.broadcaster.Close()
	s.detectionBroadcaster.Close()
	s.statusBroadcaster.Close()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"paused": s.deps.Analyzer.Paused(),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	streamMJPEGFromChannel(w, r, frameCh, s.blank, s.cfg.IdleFrameInterval)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.statusBroadcaster.Subscribe()
	defer s.statusBroadcaster.Unsubscribe(id)

	payload := s.statusPayload()
	initial, err := newSerializedEvent(payload, payload.Stats.Marshal())
	if err != nil {
		log.Errorf("Status serialization failed: %v", err)
		initial = nil
	}
	streamEventsFromChannel(w, r, eventCh, wantsProtobuf(r), s.cfg.KeepaliveInterval, initial)
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.detectionBroadcaster.Subscribe()
	defer s.detectionBroadcaster.Unsubscribe(id)
	streamEventsFromChannel(w, r, eventCh, wantsProtobuf(r), s.cfg.KeepaliveInterval, nil)
}

// wantsProtobuf performs content negotiation on the Accept header.
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	agg := s.deps.Stats
	writeJSON(w, wire.NewStatsEvent(agg.Stats(), agg.Session()))
}

func (s *Server) handleStatsReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.deps.Stats.Reset()
	writeJSON(w, map[string]any{"status": "reset"})
}

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.deps.Viewport.Get())
	case http.MethodPost:
		var vp types.ViewportState
		if err := decodeJSON(r, &vp); err != nil {
			writeJSONWithStatus(w, errorResponse{Error: "Invalid viewport: " + err.Error()}, http.StatusBadRequest)
			return
		}
		if err := s.deps.Viewport.Set(vp); err != nil {
			writeJSONWithStatus(w, errorResponse{Error: err.Error()}, http.StatusBadRequest)
			return
		}
		if m := s.deps.Metrics; m != nil {
			m.ViewportUpdates.Add(1)
		}
		writeJSON(w, map[string]any{
			"viewport": s.deps.Viewport.Get(),
			"version":  s.deps.Viewport.Version(),
		})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleConfidence(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]float64{"confidence": s.deps.Projector.Confidence()})
	case http.MethodPost:
		var req struct {
			Confidence *float64 `json:"confidence"`
		}
		if err := decodeJSON(r, &req); err != nil || req.Confidence == nil {
			writeJSONWithStatus(w, errorResponse{Error: "Invalid confidence data"}, http.StatusBadRequest)
			return
		}
		if c := *req.Confidence; c < 0 || c > 1 {
			writeJSONWithStatus(w, errorResponse{Error: "confidence must be within [0, 1]"}, http.StatusBadRequest)
			return
		}
		s.deps.Projector.SetConfidence(*req.Confidence)
		writeJSON(w, map[string]float64{"confidence": s.deps.Projector.Confidence()})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.modelInfo())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.deps.Analyzer.Pause()
	writeJSON(w, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.deps.Analyzer.Resume()
	writeJSON(w, map[string]bool{"paused": false})
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.WebRTC == nil {
		writeJSONWithStatus(w, errorResponse{Error: "WebRTC is disabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONWithStatus(w, errorResponse{Error: "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.deps.WebRTC.HandleOffer(body)
	if err != nil {
		log.Warnf("WebRTC offer rejected: %v", err)
		writeJSONWithStatus(w, errorResponse{Error: err.Error()}, http.StatusBadRequest)
		return
	}
	if m := s.deps.Metrics; m != nil {
		m.TotalClients.Add(1)
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func (s *Server) modelInfo() ModelInfo {
	res := s.deps.Analyzer.Resolution()
	return ModelInfo{
		Name:       s.cfg.ModelName,
		Resolution: res.String(),
		Width:      res.Width,
		Height:     res.Height,
	}
}

func (s *Server) statusPayload() StatusPayload {
	agg := s.deps.Stats
	sess := agg.Session()
	processed, dropped, errs := s.deps.Analyzer.Counters()
	latest, history, _ := s.monitor.Snapshot()

	payload := StatusPayload{
		Stats:     wire.NewStatsEvent(agg.Stats(), sess),
		Recording: s.recordingPayload(sess),
		Analyzer: AnalyzerStatus{
			Paused:          s.deps.Analyzer.Paused(),
			FramesProcessed: processed,
			FramesDropped:   dropped,
			SourceErrors:    errs,
		},
		Model:            s.modelInfo(),
		Viewport:         s.deps.Viewport.Get(),
		Confidence:       s.deps.Projector.Confidence(),
		LatestDetection:  latest,
		DetectionHistory: history,
		Timestamp:        unixSeconds(time.Now()),
	}
	if s.deps.WebRTC != nil {
		payload.WebRTCClients = s.deps.WebRTC.GetClientCount()
	}
	return payload
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
