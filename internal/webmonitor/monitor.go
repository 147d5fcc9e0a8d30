package webmonitor

import (
	"sync"

	"github.com/giganbyte/overlay-server/internal/pipeline"
	"github.com/giganbyte/overlay-server/internal/wire"
)

// Monitor keeps the latest frame and a short history of detection events for
// the status API and the MJPEG preview.
type Monitor struct {
	historySize int

	mu          sync.Mutex
	version     uint64
	latestFrame *pipeline.Frame
	latest      *wire.DetectionEvent
	history     []wire.DetectionEvent
}

// NewMonitor creates a Monitor keeping up to historySize non-empty events.
func NewMonitor(historySize int) *Monitor {
	if historySize <= 0 {
		historySize = DefaultConfig().HistorySize
	}
	return &Monitor{historySize: historySize}
}

// Update stores a published frame and its detection event.
func (m *Monitor) Update(f pipeline.Frame, ev wire.DetectionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.version++
	m.latestFrame = &f
	m.latest = &ev
	if len(ev.Detections) > 0 {
		m.history = append([]wire.DetectionEvent{ev}, m.history...)
		if len(m.history) > m.historySize {
			m.history = m.history[:m.historySize]
		}
	}
}

// Snapshot returns the latest event (nil before the first frame), a copy of
// the history newest first, and the update version.
func (m *Monitor) Snapshot() (*wire.DetectionEvent, []wire.DetectionEvent, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *wire.DetectionEvent
	if m.latest != nil {
		ev := *m.latest
		latest = &ev
	}
	history := make([]wire.DetectionEvent, len(m.history))
	copy(history, m.history)
	return latest, history, m.version
}

// LatestFrame returns the most recent frame.
func (m *Monitor) LatestFrame() (pipeline.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latestFrame == nil {
		return pipeline.Frame{}, false
	}
	return *m.latestFrame, true
}
