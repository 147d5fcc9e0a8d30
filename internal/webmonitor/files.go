package webmonitor

import (
	"net/http"
	"os"

	"github.com/giganbyte/overlay-server/internal/recorder"
)

// recordingFileHandler serves exported session files by name.
type recordingFileHandler struct {
	rec *recorder.Recorder
}

func newRecordingFileHandler(rec *recorder.Recorder) *recordingFileHandler {
	return &recordingFileHandler{rec: rec}
}

func (h *recordingFileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path, err := h.rec.Path(r.URL.Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if !fileExists(path) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
