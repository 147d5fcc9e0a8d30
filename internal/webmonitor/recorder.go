package webmonitor

import (
	"errors"
	"io"
	"net/http"

	"github.com/giganbyte/overlay-server/internal/recorder"
	"github.com/giganbyte/overlay-server/internal/stats"
)

func (s *Server) recordingPayload(sess stats.Session) RecordingPayload {
	p := RecordingPayload{
		Status:       sess.Status,
		MaxSnapshots: sess.MaxSnapshots,
		Snapshots:    len(sess.Snapshots),
		StartedAt:    unixSeconds(sess.StartTime),
		Export:       s.deps.Recorder.GetStatus(),
	}
	if sess.Status != stats.NotRecording || sess.Summary != nil {
		p.ID = sess.ID.String()
	}
	if sess.Summary != nil {
		f := recorder.NewSessionFile(*sess.Summary)
		p.Summary = &f
	}
	return p
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		MaxSnapshots int `json:"max_snapshots"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONWithStatus(w, errorResponse{Error: "Invalid recording request"}, http.StatusBadRequest)
		return
	}
	if req.MaxSnapshots < 0 {
		writeJSONWithStatus(w, errorResponse{Error: "max_snapshots must not be negative"}, http.StatusBadRequest)
		return
	}

	if !s.deps.Stats.StartRecording(req.MaxSnapshots) {
		writeJSONWithStatus(w, errorResponse{Error: "Previous session is still processing"}, http.StatusConflict)
		return
	}
	writeJSON(w, s.recordingPayload(s.deps.Stats.Session()))
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	before := s.deps.Stats.Session()
	sum, ok := s.deps.Stats.StopRecording()
	if !ok {
		if before.Status == stats.Recording {
			// Stopped with no snapshots; nothing to export.
			writeJSON(w, s.recordingPayload(s.deps.Stats.Session()))
			return
		}
		writeJSONWithStatus(w, errorResponse{Error: "Not recording"}, http.StatusConflict)
		return
	}

	p := s.recordingPayload(s.deps.Stats.Session())
	f := recorder.NewSessionFile(sum)
	p.Summary = &f
	writeJSON(w, p)
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.recordingPayload(s.deps.Stats.Session()))
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	names, err := s.deps.Recorder.List()
	if err != nil {
		writeJSONWithStatus(w, errorResponse{Error: err.Error()}, http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, map[string]any{"recordings": names})
}
