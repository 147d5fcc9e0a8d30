// Package source provides the detection sources feeding the analyzer.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/giganbyte/overlay-server/pkg/types"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("source closed")

// Model describes a detection model and its label file.
type Model struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	LabelsPath string `json:"labels_path"`
}

// Resolution is the model input size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// DefaultModel is the COCO SSD MobileNet model the sources emulate.
var DefaultModel = Model{Name: "MobileNet SSD"}

// Source yields one inference result per call. Wait and Next are called from
// a single goroutine; Close may be called concurrently.
type Source interface {
	// Wait blocks until the next result is due. Callers timing inference
	// call it before starting the clock.
	Wait(ctx context.Context) error
	// Next blocks until the next result is available. It returns io.EOF when
	// a finite source is exhausted.
	Next(ctx context.Context) (types.InferenceResult, error)
	// Resolution reports the model input size.
	Resolution() Resolution
	Close() error
}

// Config configures a source. Model.Path selects a replay file of raw model
// outputs; without it a synthetic source is used.
type Config struct {
	Model         Model
	Resolution    Resolution
	FrameInterval time.Duration // Pacing between results; 0 disables pacing
	ObjectCount   int           // Max detections decoded per frame
	Loop          bool          // Rewind replay files at EOF
	Seed          uint64        // Synthetic source seed
	Clock         clock.Clock
}

// DefaultConfig returns a 300x300 synthetic source paced at ~30fps.
func DefaultConfig() Config {
	return Config{
		Model:         DefaultModel,
		Resolution:    Resolution{Width: 300, Height: 300},
		FrameInterval: 33 * time.Millisecond,
		ObjectCount:   DefaultObjectCount,
		Loop:          true,
		Seed:          1,
	}
}

// New loads the labels and opens the source described by cfg.
func New(cfg Config) (Source, error) {
	if cfg.Resolution.Width <= 0 || cfg.Resolution.Height <= 0 {
		cfg.Resolution = DefaultConfig().Resolution
	}
	if cfg.ObjectCount <= 0 {
		cfg.ObjectCount = DefaultObjectCount
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	labels := cocoLabels
	if cfg.Model.LabelsPath != "" {
		loaded, err := LoadLabels(cfg.Model.LabelsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load labels: %w", err)
		}
		labels = loaded
	}

	if cfg.Model.Path == "" {
		return newSynthetic(cfg, labels), nil
	}
	r, err := openReplay(cfg, labels)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay %s: %w", cfg.Model.Path, err)
	}
	return r, nil
}

// pacer spaces results by a fixed interval on the configured clock.
type pacer struct {
	clock    clock.Clock
	interval time.Duration
	next     time.Time
}

func (p *pacer) wait(ctx context.Context) error {
	if p.interval <= 0 {
		return ctx.Err()
	}
	now := p.clock.Now()
	if p.next.IsZero() {
		p.next = now
	}
	if d := p.next.Sub(now); d > 0 {
		timer := p.clock.Timer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	p.next = p.next.Add(p.interval)
	if p.next.Before(now) {
		p.next = now.Add(p.interval)
	}
	return nil
}
