package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/giganbyte/overlay-server/internal/logger"
	"github.com/giganbyte/overlay-server/pkg/types"
)

var replayLog = logger.For("Replay")

// Replay plays back recorded model outputs from a JSON Lines file, one
// RawOutput per line.
type Replay struct {
	cfg    Config
	labels []string
	pace   pacer

	mu       sync.Mutex
	file     *os.File
	scanner  *bufio.Scanner
	frameNum uint64
	line     int
	closed   bool
}

func openReplay(cfg Config, labels []string) (*Replay, error) {
	f, err := os.Open(cfg.Model.Path)
	if err != nil {
		return nil, err
	}
	r := &Replay{
		cfg:    cfg,
		labels: labels,
		pace:   pacer{clock: cfg.Clock, interval: cfg.FrameInterval},
		file:   f,
	}
	r.resetScanner()
	replayLog.Infof("Replaying %s (%d labels, loop=%v)", cfg.Model.Path, len(labels), cfg.Loop)
	return r, nil
}

func (r *Replay) resetScanner() {
	r.scanner = bufio.NewScanner(r.file)
	r.scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	r.line = 0
}

// Wait paces results by the configured frame interval.
func (r *Replay) Wait(ctx context.Context) error {
	return r.pace.wait(ctx)
}

// Next returns the next recorded frame. Malformed lines are skipped.
func (r *Replay) Next(ctx context.Context) (types.InferenceResult, error) {
	if err := ctx.Err(); err != nil {
		return types.InferenceResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return types.InferenceResult{}, ErrClosed
	}

	rewound := false
	for {
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return types.InferenceResult{}, fmt.Errorf("failed to read replay: %w", err)
			}
			if !r.cfg.Loop || rewound {
				return types.InferenceResult{}, io.EOF
			}
			if _, err := r.file.Seek(0, io.SeekStart); err != nil {
				return types.InferenceResult{}, fmt.Errorf("failed to rewind replay: %w", err)
			}
			r.resetScanner()
			rewound = true
			continue
		}
		r.line++

		var raw RawOutput
		if err := json.Unmarshal(r.scanner.Bytes(), &raw); err != nil {
			replayLog.Warnf("Skipping line %d: %v", r.line, err)
			continue
		}

		r.frameNum++
		return types.InferenceResult{
			FrameNum:   r.frameNum,
			Timestamp:  r.cfg.Clock.Now(),
			Detections: Decode(raw, r.labels, r.cfg.ObjectCount),
		}, nil
	}
}

// Resolution reports the configured model input size.
func (r *Replay) Resolution() Resolution {
	return r.cfg.Resolution
}

// Close releases the replay file.
func (r *Replay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}
