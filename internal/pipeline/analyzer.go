// Package pipeline runs the per-frame analysis loop: pull a result from the
// detection source, time it, project it for display and hand it to consumers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giganbyte/overlay-server/internal/logger"
	"github.com/giganbyte/overlay-server/internal/overlay"
	"github.com/giganbyte/overlay-server/internal/source"
	"github.com/giganbyte/overlay-server/internal/stats"
	"github.com/giganbyte/overlay-server/pkg/types"
)

var log = logger.For("Analyzer")

// maxConsecutiveErrors stops Run when the source keeps failing.
const maxConsecutiveErrors = 30

// Frame is the display-ready output of one analysis step.
type Frame struct {
	FrameNum      uint64
	Timestamp     time.Time
	Viewport      types.ViewportState
	Detections    []types.DisplayDetection
	RawCount      int // Detections before the confidence filter
	InferenceTime time.Duration
}

// Config configures an Analyzer.
type Config struct {
	Buffer int // Frame channel capacity, default 4
}

// Analyzer is the single producer driving the stats aggregator.
type Analyzer struct {
	src       source.Source
	stats     *stats.Aggregator
	projector *overlay.Projector
	viewport  *ViewportStore

	frames chan Frame

	mu     sync.Mutex
	resume chan struct{} // non-nil while paused

	processed atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
}

// NewAnalyzer wires an analyzer. Frames produced by Run are delivered on
// Frames(); when the consumer falls behind they are dropped.
func NewAnalyzer(src source.Source, agg *stats.Aggregator, proj *overlay.Projector, vps *ViewportStore, cfg Config) *Analyzer {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 4
	}
	return &Analyzer{
		src:       src,
		stats:     agg,
		projector: proj,
		viewport:  vps,
		frames:    make(chan Frame, cfg.Buffer),
	}
}

// Frames returns the delivery channel. It is closed when Run returns.
func (a *Analyzer) Frames() <-chan Frame {
	return a.frames
}

// Step runs one analysis cycle and returns its frame synchronously. Source
// pacing happens before the inference timer starts.
func (a *Analyzer) Step(ctx context.Context) (Frame, error) {
	if err := a.src.Wait(ctx); err != nil {
		return Frame{}, err
	}

	a.stats.BeginInference()
	res, err := a.src.Next(ctx)
	if err != nil {
		return Frame{}, err
	}

	vp := a.viewport.Get()
	dets := a.projector.Project(res.Detections, vp)
	elapsed := a.stats.EndInference()
	a.stats.RecordFrame()
	a.processed.Add(1)

	return Frame{
		FrameNum:      res.FrameNum,
		Timestamp:     res.Timestamp,
		Viewport:      vp,
		Detections:    dets,
		RawCount:      len(res.Detections),
		InferenceTime: elapsed,
	}, nil
}

// Run steps until ctx is done or the source ends. A finite source ending
// with io.EOF returns nil.
func (a *Analyzer) Run(ctx context.Context) error {
	defer close(a.frames)

	log.Infof("Starting analysis (model input %s)", a.src.Resolution())

	consecutive := 0
	for {
		if err := a.waitResume(ctx); err != nil {
			return err
		}

		frame, err := a.Step(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				log.Infof("Source exhausted after %d frames", a.processed.Load())
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, source.ErrClosed):
				return err
			}
			a.errors.Add(1)
			consecutive++
			log.Warnf("Source error: %v", err)
			if consecutive >= maxConsecutiveErrors {
				return fmt.Errorf("source failed %d times in a row: %w", consecutive, err)
			}
			continue
		}
		consecutive = 0

		select {
		case a.frames <- frame:
		default:
			a.dropped.Add(1)
		}
	}
}

// Pause stops analysis and resets the aggregator.
func (a *Analyzer) Pause() {
	a.mu.Lock()
	if a.resume == nil {
		a.resume = make(chan struct{})
		log.Infof("Paused")
	}
	a.mu.Unlock()
	a.stats.Reset()
}

// Resume continues a paused analyzer.
func (a *Analyzer) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resume != nil {
		close(a.resume)
		a.resume = nil
		log.Infof("Resumed")
	}
}

// Paused reports whether analysis is paused.
func (a *Analyzer) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resume != nil
}

func (a *Analyzer) waitResume(ctx context.Context) error {
	a.mu.Lock()
	ch := a.resume
	a.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// Counters reports frames processed, dropped at delivery, and source errors.
func (a *Analyzer) Counters() (processed, dropped, errs uint64) {
	return a.processed.Load(), a.dropped.Load(), a.errors.Load()
}

// Resolution reports the source's model input size.
func (a *Analyzer) Resolution() source.Resolution {
	return a.src.Resolution()
}
