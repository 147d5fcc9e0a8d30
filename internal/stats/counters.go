package stats

import "time"

// inferenceTimer brackets a single inference call.
type inferenceTimer struct {
	started bool
	start   time.Time
}

func (t *inferenceTimer) begin(now time.Time) {
	t.start = now
	t.started = true
}

// end returns the elapsed time since begin, or 0 if begin was not called.
func (t *inferenceTimer) end(now time.Time) (time.Duration, bool) {
	if !t.started {
		return 0, false
	}
	t.started = false
	d := now.Sub(t.start)
	if d < 0 {
		d = 0
	}
	return d, true
}

// fpsCounter computes a frame rate every interval frames.
type fpsCounter struct {
	interval int
	frames   int
	anchor   time.Time
	anchored bool
}

// record counts a frame. On every interval-th frame it returns the rate over
// the frames since the previous computation; a zero elapsed time yields 1.
func (c *fpsCounter) record(now time.Time) (float64, bool) {
	if !c.anchored {
		c.anchor = now
		c.anchored = true
	}
	c.frames++
	if c.frames < c.interval {
		return 0, false
	}

	c.frames = 0
	elapsed := now.Sub(c.anchor)
	c.anchor = now
	if elapsed <= 0 {
		return 1, true
	}
	return float64(c.interval) * float64(time.Second) / float64(elapsed), true
}

func (c *fpsCounter) reset() {
	*c = fpsCounter{interval: c.interval}
}

// Cumulative holds counters accumulated since the last Reset.
type Cumulative struct {
	InferenceTotal time.Duration
	InferenceCount int
	FPSSum         float64
	FPSSamples     int
}

// AvgInferenceTime is InferenceTotal/InferenceCount, or 0 with no samples.
func (c Cumulative) AvgInferenceTime() time.Duration {
	if c.InferenceCount == 0 {
		return 0
	}
	return c.InferenceTotal / time.Duration(c.InferenceCount)
}

// AvgFPS is the mean of all fps computations, or 0 with no samples.
func (c Cumulative) AvgFPS() float64 {
	if c.FPSSamples == 0 {
		return 0
	}
	return c.FPSSum / float64(c.FPSSamples)
}
