// Package recorder persists finished recording sessions: a JSON summary and
// a rendered chart per session.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/giganbyte/overlay-server/internal/chart"
	"github.com/giganbyte/overlay-server/internal/logger"
	"github.com/giganbyte/overlay-server/internal/stats"
)

var log = logger.For("Recorder")

// Recorder writes session summaries and charts under basePath. It implements
// stats.Finalizer.
type Recorder struct {
	mu           sync.RWMutex
	basePath     string
	chartOpts    chart.Options
	exports      uint64
	bytesWritten uint64
	lastSummary  string
	lastChart    string
	lastID       uuid.UUID
	lastErr      error
	lastExport   time.Time
	onExport     func(Export)
}

// Export describes the files written for one session.
type Export struct {
	ID          uuid.UUID `json:"id"`
	SummaryPath string    `json:"summary_path"`
	ChartPath   string    `json:"chart_path"`
	Bytes       uint64    `json:"bytes"`
}

// NewRecorder creates a recorder writing to basePath.
func NewRecorder(basePath string, opts chart.Options) *Recorder {
	return &Recorder{
		basePath:  basePath,
		chartOpts: opts,
	}
}

// OnExport registers a callback run after each successful export.
func (r *Recorder) OnExport(fn func(Export)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExport = fn
}

// Finalize writes the summary JSON and chart for sum.
func (r *Recorder) Finalize(ctx context.Context, sum stats.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	exp, err := r.export(sum)

	r.mu.Lock()
	r.lastID = sum.ID
	r.lastErr = err
	fn := r.onExport
	if err == nil {
		r.exports++
		r.bytesWritten += exp.Bytes
		r.lastSummary = exp.SummaryPath
		r.lastChart = exp.ChartPath
		r.lastExport = time.Now()
	}
	r.mu.Unlock()

	if err != nil {
		return err
	}
	log.Infof("Session %s exported to %s", sum.ID, exp.SummaryPath)
	if fn != nil {
		fn(exp)
	}
	return nil
}

func (r *Recorder) export(sum stats.Summary) (Export, error) {
	if err := os.MkdirAll(r.basePath, 0755); err != nil {
		return Export{}, fmt.Errorf("failed to create recordings directory: %w", err)
	}

	base := filepath.Join(r.basePath, baseName(sum))
	exp := Export{
		ID:          sum.ID,
		SummaryPath: base + ".json",
		ChartPath:   base + ".png",
	}

	data, err := json.MarshalIndent(NewSessionFile(sum), "", "  ")
	if err != nil {
		return Export{}, fmt.Errorf("failed to encode summary: %w", err)
	}
	if err := writeFileAtomic(exp.SummaryPath, data); err != nil {
		return Export{}, err
	}
	exp.Bytes += uint64(len(data))

	if err := chart.Save(exp.ChartPath, sum, r.chartOpts); err != nil {
		return Export{}, fmt.Errorf("failed to render chart: %w", err)
	}
	if info, err := os.Stat(exp.ChartPath); err == nil {
		exp.Bytes += uint64(info.Size())
	}
	return exp, nil
}

// baseName names session files by their end time and short id.
func baseName(sum stats.Summary) string {
	ts := sum.EndTime
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("session_%s_%s", ts.Format("20060102_150405"), sum.ID.String()[:8])
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// List returns the saved summary files, newest first.
func (r *Recorder) List() ([]string, error) {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "session_") || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// Path resolves a file name returned by List. Names containing path
// separators are rejected.
func (r *Recorder) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid recording name %q", name)
	}
	return filepath.Join(r.basePath, name), nil
}

// GetStatus returns the export counters.
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := RecordingStatus{
		Exports:      r.exports,
		BytesWritten: r.bytesWritten,
		LastSummary:  r.lastSummary,
		LastChart:    r.lastChart,
		LastExport:   r.lastExport,
	}
	if r.lastID != uuid.Nil {
		status.LastID = r.lastID.String()
	}
	if r.lastErr != nil {
		status.LastError = r.lastErr.Error()
	}
	return status
}

// RecordingStatus holds the exporter status.
type RecordingStatus struct {
	Exports      uint64    `json:"exports"`
	BytesWritten uint64    `json:"bytes_written"`
	LastID       string    `json:"last_id,omitempty"`
	LastSummary  string    `json:"last_summary,omitempty"`
	LastChart    string    `json:"last_chart,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	LastExport   time.Time `json:"last_export"`
}

// SessionFile is the on-disk form of a session summary.
type SessionFile struct {
	ID             string           `json:"id"`
	StartTime      time.Time        `json:"start_time"`
	EndTime        time.Time        `json:"end_time"`
	DurationMs     float64          `json:"duration_ms"`
	AvgFPS         float64          `json:"avg_fps"`
	AvgInferenceMs float64          `json:"avg_inference_ms"`
	Snapshots      []SnapshotRecord `json:"snapshots"`
}

// SnapshotRecord is one per-second sample.
type SnapshotRecord struct {
	FPS         float64   `json:"fps"`
	InferenceMs float64   `json:"inference_ms"`
	At          time.Time `json:"at"`
}

// NewSessionFile converts a summary for storage.
func NewSessionFile(sum stats.Summary) SessionFile {
	f := SessionFile{
		ID:             sum.ID.String(),
		StartTime:      sum.StartTime,
		EndTime:        sum.EndTime,
		DurationMs:     toMillis(sum.Duration),
		AvgFPS:         sum.AvgFPS,
		AvgInferenceMs: toMillis(sum.AvgInferenceTime),
		Snapshots:      make([]SnapshotRecord, 0, len(sum.Snapshots)),
	}
	for _, s := range sum.Snapshots {
		f.Snapshots = append(f.Snapshots, SnapshotRecord{
			FPS:         s.FPS,
			InferenceMs: toMillis(s.InferenceTime),
			At:          s.At,
		})
	}
	return f
}

// Summary converts the stored form back into a stats.Summary.
func (f SessionFile) Summary() (stats.Summary, error) {
	id, err := uuid.Parse(f.ID)
	if err != nil {
		return stats.Summary{}, fmt.Errorf("invalid session id: %w", err)
	}
	sum := stats.Summary{
		ID:               id,
		StartTime:        f.StartTime,
		EndTime:          f.EndTime,
		Duration:         fromMillis(f.DurationMs),
		AvgFPS:           f.AvgFPS,
		AvgInferenceTime: fromMillis(f.AvgInferenceMs),
	}
	for _, s := range f.Snapshots {
		sum.Snapshots = append(sum.Snapshots, stats.Snapshot{
			FPS:           s.FPS,
			InferenceTime: fromMillis(s.InferenceMs),
			At:            s.At,
		})
	}
	return sum, nil
}

// LoadSummary reads a summary file written by Finalize.
func LoadSummary(path string) (stats.Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return stats.Summary{}, fmt.Errorf("failed to read summary: %w", err)
	}
	var f SessionFile
	if err := json.Unmarshal(data, &f); err != nil {
		return stats.Summary{}, fmt.Errorf("failed to decode summary: %w", err)
	}
	return f.Summary()
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func fromMillis(ms float64) time.Duration {
	return time.Duration(math.Round(ms * float64(time.Millisecond)))
}
