package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxSnapshots bounds a recording session when no limit is given.
const DefaultMaxSnapshots = 10

// Status is the state of the recording session.
type Status int

const (
	NotRecording Status = iota
	Recording
	Processing // Summary handed off, waiting for finalize
)

var statusNames = map[Status]string{
	NotRecording: "not_recording",
	Recording:    "recording",
	Processing:   "processing",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the status name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown recording status %q", text)
}

// Snapshot is one per-tick sample captured while recording.
type Snapshot struct {
	FPS           float64
	InferenceTime time.Duration
	At            time.Time
}

// Summary is the result of a finished recording session.
type Summary struct {
	ID               uuid.UUID
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration // last snapshot time - start time
	AvgFPS           float64
	AvgInferenceTime time.Duration
	Snapshots        []Snapshot
}

// Session is a copy of the recording session state.
type Session struct {
	ID           uuid.UUID
	Status       Status
	MaxSnapshots int
	StartTime    time.Time
	EndTime      time.Time
	Snapshots    []Snapshot
	Summary      *Summary // Set once a non-empty session stops
}

func (s Session) clone() Session {
	out := s
	out.Snapshots = append([]Snapshot(nil), s.Snapshots...)
	if s.Summary != nil {
		sum := *s.Summary
		sum.Snapshots = append([]Snapshot(nil), s.Summary.Snapshots...)
		out.Summary = &sum
	}
	return out
}

// summarize computes the session summary. It reports false for an empty
// snapshot sequence.
func summarize(s Session, end time.Time) (Summary, bool) {
	n := len(s.Snapshots)
	if n == 0 {
		return Summary{}, false
	}

	var fpsSum float64
	var inferenceSum time.Duration
	for _, snap := range s.Snapshots {
		fpsSum += snap.FPS
		inferenceSum += snap.InferenceTime
	}

	return Summary{
		ID:               s.ID,
		StartTime:        s.StartTime,
		EndTime:          end,
		Duration:         s.Snapshots[n-1].At.Sub(s.StartTime),
		AvgFPS:           fpsSum / float64(n),
		AvgInferenceTime: inferenceSum / time.Duration(n),
		Snapshots:        append([]Snapshot(nil), s.Snapshots...),
	}, true
}

// Finalizer consumes a finished session (chart rendering, export). It runs
// outside the aggregation path; the session leaves Processing when it returns.
type Finalizer interface {
	Finalize(ctx context.Context, summary Summary) error
}

// FinalizerFunc adapts a function to Finalizer.
type FinalizerFunc func(ctx context.Context, summary Summary) error

// Finalize implements Finalizer.
func (f FinalizerFunc) Finalize(ctx context.Context, summary Summary) error {
	return f(ctx, summary)
}
