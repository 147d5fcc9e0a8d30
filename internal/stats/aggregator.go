// Package stats aggregates per-frame inference timings into windowed and
// cumulative statistics, and runs bounded recording sessions over them.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/giganbyte/overlay-server/internal/logger"
)

const (
	// DefaultFPSInterval is the number of frames per fps computation.
	DefaultFPSInterval = 10
	// DefaultTickInterval is the window length used by Run.
	DefaultTickInterval = time.Second
)

var log = logger.For("Stats")

// Window holds the counters of the current reporting window. Tick returns
// it and starts a new one.
type Window struct {
	Frames        int
	FPS           float64       // Last computed frame rate
	InferenceTime time.Duration // Most recent inference duration
	UIRefreshes   int
}

// Stats is the display snapshot published on each tick.
type Stats struct {
	FPS                float64
	AvgFPS             float64
	InferenceTime      time.Duration
	AvgInferenceTime   time.Duration
	TotalInferenceTime time.Duration
	Frames             int
	UIRefreshRate      int // UI refreshes in the last window
	At                 time.Time
}

// Config configures an Aggregator.
type Config struct {
	Clock       clock.Clock // nil selects the wall clock
	FPSInterval int         // 0 selects DefaultFPSInterval
	Finalizer   Finalizer   // Optional; without it sessions stay in Processing until FinishProcessing
}

// Aggregator collects frame and inference events. All methods are safe for
// concurrent use.
type Aggregator struct {
	clock     clock.Clock
	finalizer Finalizer

	mu      sync.Mutex
	timer   inferenceTimer
	fps     fpsCounter
	window  Window
	cum     Cumulative
	last    Stats
	session Session

	finalizing sync.WaitGroup
}

// New creates an aggregator.
func New(cfg Config) *Aggregator {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	interval := cfg.FPSInterval
	if interval <= 0 {
		interval = DefaultFPSInterval
	}
	return &Aggregator{
		clock:     clk,
		finalizer: cfg.Finalizer,
		fps:       fpsCounter{interval: interval},
	}
}

// BeginInference marks the start of an inference call.
func (a *Aggregator) BeginInference() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timer.begin(a.clock.Now())
}

// EndInference records the duration since the matching BeginInference and
// returns it. Without a prior begin it returns 0 and records nothing.
func (a *Aggregator) EndInference() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, ok := a.timer.end(a.clock.Now())
	if !ok {
		return 0
	}
	a.window.InferenceTime = d
	a.cum.InferenceTotal += d
	a.cum.InferenceCount++
	return d
}

// RecordFrame counts a processed frame.
func (a *Aggregator) RecordFrame() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window.Frames++
	if fps, ok := a.fps.record(a.clock.Now()); ok {
		a.window.FPS = fps
		a.cum.FPSSum += fps
		a.cum.FPSSamples++
	}
}

// RecordUIRefresh counts a delivered overlay update.
func (a *Aggregator) RecordUIRefresh() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.window.UIRefreshes++
}

// Tick closes the current window, publishes it as the display Stats and
// returns it. While recording it appends a snapshot of the closed window and
// stops the session once it reaches its snapshot limit.
func (a *Aggregator) Tick() Window {
	a.mu.Lock()
	now := a.clock.Now()
	w := a.window
	a.window = Window{}
	a.last = Stats{
		FPS:                w.FPS,
		AvgFPS:             a.cum.AvgFPS(),
		InferenceTime:      w.InferenceTime,
		AvgInferenceTime:   a.cum.AvgInferenceTime(),
		TotalInferenceTime: a.cum.InferenceTotal,
		Frames:             w.Frames,
		UIRefreshRate:      w.UIRefreshes,
		At:                 now,
	}

	var done *Summary
	if a.session.Status == Recording {
		a.session.Snapshots = append(a.session.Snapshots, Snapshot{
			FPS:           w.FPS,
			InferenceTime: w.InferenceTime,
			At:            now,
		})
		if len(a.session.Snapshots) >= a.session.MaxSnapshots {
			done = a.stopLocked(now)
		}
	}
	a.mu.Unlock()

	if done != nil {
		log.Infof("Recording %s reached %d snapshots", done.ID, len(done.Snapshots))
		a.finalize(*done)
	}
	return w
}

// Reset clears the window, the cumulative counters and the published Stats.
// The recording session is left untouched.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.timer = inferenceTimer{}
	a.fps.reset()
	a.window = Window{}
	a.cum = Cumulative{}
	a.last = Stats{}
}

// StartRecording starts a session that captures up to max snapshots (max <= 0
// selects DefaultMaxSnapshots). An active session is stopped first. It returns
// false while a previous session is still processing.
func (a *Aggregator) StartRecording(max int) bool {
	if max <= 0 {
		max = DefaultMaxSnapshots
	}

	a.mu.Lock()
	if a.session.Status == Processing {
		a.mu.Unlock()
		return false
	}
	now := a.clock.Now()
	var prev *Summary
	if a.session.Status == Recording {
		prev = a.stopLocked(now)
	}
	a.session = Session{
		ID:           uuid.New(),
		Status:       Recording,
		MaxSnapshots: max,
		StartTime:    now,
	}
	id := a.session.ID
	a.mu.Unlock()

	if prev != nil {
		a.finalize(*prev)
	}
	log.Infof("Recording %s started (max %d snapshots)", id, max)
	return true
}

// StopRecording ends the active session. A session with snapshots moves to
// Processing and its summary is returned and handed to the Finalizer; an
// empty one returns to NotRecording. Outside Recording it does nothing.
func (a *Aggregator) StopRecording() (Summary, bool) {
	a.mu.Lock()
	if a.session.Status != Recording {
		a.mu.Unlock()
		return Summary{}, false
	}
	done := a.stopLocked(a.clock.Now())
	a.mu.Unlock()

	if done == nil {
		log.Infof("Recording stopped with no snapshots")
		return Summary{}, false
	}
	a.finalize(*done)
	return *done, true
}

// FinishProcessing moves session id from Processing to NotRecording. It
// reports whether the transition happened.
func (a *Aggregator) FinishProcessing(id uuid.UUID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session.Status != Processing || a.session.ID != id {
		return false
	}
	a.session.Status = NotRecording
	return true
}

// stopLocked ends the recording session. Caller must hold a.mu.
func (a *Aggregator) stopLocked(now time.Time) *Summary {
	a.session.EndTime = now
	sum, ok := summarize(a.session, now)
	if !ok {
		a.session.Status = NotRecording
		return nil
	}
	a.session.Status = Processing
	a.session.Summary = &sum
	return &sum
}

func (a *Aggregator) finalize(sum Summary) {
	if a.finalizer == nil {
		return
	}
	a.finalizing.Add(1)
	go func() {
		defer a.finalizing.Done()
		if err := a.finalizer.Finalize(context.Background(), sum); err != nil {
			log.Warnf("Finalize %s failed: %v", sum.ID, err)
		}
		a.FinishProcessing(sum.ID)
	}()
}

// Wait blocks until all pending finalizers return.
func (a *Aggregator) Wait() {
	a.finalizing.Wait()
}

// Stats returns the Stats published by the last Tick.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Window returns the counters of the open window.
func (a *Aggregator) Window() Window {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.window
}

// Cumulative returns the counters accumulated since the last Reset.
func (a *Aggregator) Cumulative() Cumulative {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cum
}

// Session returns a copy of the recording session.
func (a *Aggregator) Session() Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.clone()
}

// Run calls Tick every interval until ctx is done, passing each closed
// window and the resulting Stats to sink.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration, sink func(Window, Stats)) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := a.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w := a.Tick()
			if sink != nil {
				sink(w, a.Stats())
			}
		}
	}
}
