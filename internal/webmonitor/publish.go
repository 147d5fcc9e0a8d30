package webmonitor

import (
	"context"

	"github.com/giganbyte/overlay-server/internal/pipeline"
	"github.com/giganbyte/overlay-server/internal/stats"
	"github.com/giganbyte/overlay-server/internal/wire"
)

// Consume publishes frames until the channel closes or ctx is done.
func (s *Server) Consume(ctx context.Context, frames <-chan pipeline.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			s.PublishFrame(f)
		}
	}
}

// PublishFrame hands one analyzed frame to the monitor, the SSE and MJPEG
// clients and the WebRTC data channels. Every published frame counts as a UI
// refresh.
func (s *Server) PublishFrame(f pipeline.Frame) {
	ev := wire.NewDetectionEvent(f.FrameNum, f.Timestamp, f.Viewport, f.Detections)
	s.monitor.Update(f, ev)

	if err := s.detectionBroadcaster.Publish(ev); err != nil {
		log.Errorf("Detection event dropped: %v", err)
	}

	m := s.deps.Metrics
	if s.deps.WebRTC != nil {
		sent, dropped := s.deps.WebRTC.Broadcast(ev.Marshal())
		if m != nil {
			m.WebRTCEventsSent.Add(uint64(sent))
			m.WebRTCEventsDropped.Add(uint64(dropped))
		}
	}

	if _, err := s.broadcaster.Publish(f, s.deps.Stats.Stats()); err != nil {
		log.Warnf("Preview render failed: %v", err)
	}

	s.deps.Stats.RecordUIRefresh()

	if m != nil {
		m.DetectionsRaw.Add(uint64(f.RawCount))
		m.DetectionsPublished.Add(uint64(len(f.Detections)))
		m.ObserveInference(f.InferenceTime)
	}
}

// PublishStats is the aggregator tick sink: it pushes a status event and
// syncs the analyzer counters into metrics.
func (s *Server) PublishStats(_ stats.Window, _ stats.Stats) {
	payload := s.statusPayload()
	if err := s.statusBroadcaster.Publish(payload); err != nil {
		log.Errorf("Status event dropped: %v", err)
	}

	if m := s.deps.Metrics; m != nil {
		processed, dropped, errs := s.deps.Analyzer.Counters()
		m.FramesProcessed.Store(processed)
		m.FramesDropped.Store(dropped)
		m.SourceErrors.Store(errs)
		if s.deps.WebRTC != nil {
			m.ActiveClients.Store(uint64(s.deps.WebRTC.GetClientCount()))
		}
	}
}
