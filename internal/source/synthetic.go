package source

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/giganbyte/overlay-server/pkg/types"
)

// Synthetic generates a few boxes drifting across the frame. It stands in
// for a live model when no replay file is given.
type Synthetic struct {
	cfg    Config
	labels []string
	pace   pacer

	mu       sync.Mutex
	rng      *rand.Rand
	tracks   []track
	frameNum uint64
	closed   bool
}

type track struct {
	label  string
	x, y   float64 // Centre
	w, h   float64
	dx, dy float64
	score  float64
}

func newSynthetic(cfg Config, labels []string) *Synthetic {
	s := &Synthetic{
		cfg:    cfg,
		labels: labels,
		pace:   pacer{clock: cfg.Clock, interval: cfg.FrameInterval},
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
	n := min(3, cfg.ObjectCount)
	for i := 0; i < n; i++ {
		s.tracks = append(s.tracks, s.newTrack())
	}
	return s
}

func (s *Synthetic) newTrack() track {
	label := UnknownLabel
	if len(s.labels) > 1 {
		label = s.labels[1+s.rng.IntN(len(s.labels)-1)]
	}
	return track{
		label: label,
		x:     0.2 + 0.6*s.rng.Float64(),
		y:     0.2 + 0.6*s.rng.Float64(),
		w:     0.1 + 0.3*s.rng.Float64(),
		h:     0.1 + 0.3*s.rng.Float64(),
		dx:    (s.rng.Float64() - 0.5) * 0.02,
		dy:    (s.rng.Float64() - 0.5) * 0.02,
		score: 0.3 + 0.7*s.rng.Float64(),
	}
}

// Wait paces results by the configured frame interval.
func (s *Synthetic) Wait(ctx context.Context) error {
	return s.pace.wait(ctx)
}

// Next advances every track by one step and reports them.
func (s *Synthetic) Next(ctx context.Context) (types.InferenceResult, error) {
	if err := ctx.Err(); err != nil {
		return types.InferenceResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.InferenceResult{}, ErrClosed
	}

	s.frameNum++
	dets := make([]types.Detection, 0, len(s.tracks))
	for i := range s.tracks {
		t := &s.tracks[i]
		t.x += t.dx
		t.y += t.dy
		if t.x < 0 || t.x > 1 {
			t.dx = -t.dx
		}
		if t.y < 0 || t.y > 1 {
			t.dy = -t.dy
		}
		jitter := 0.05 * math.Sin(float64(s.frameNum)/7+float64(i))
		dets = append(dets, types.Detection{
			Label: t.label,
			Score: math.Max(0, math.Min(1, t.score+jitter)),
			Location: types.Rect{
				Left:   t.x - t.w/2,
				Top:    t.y - t.h/2,
				Right:  t.x + t.w/2,
				Bottom: t.y + t.h/2,
			},
		})
	}

	return types.InferenceResult{
		FrameNum:   s.frameNum,
		Timestamp:  s.cfg.Clock.Now(),
		Detections: dets,
	}, nil
}

// Resolution reports the configured model input size.
func (s *Synthetic) Resolution() Resolution {
	return s.cfg.Resolution
}

// Close stops the source.
func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
