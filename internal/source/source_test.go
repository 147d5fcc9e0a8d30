package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giganbyte/overlay-server/pkg/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDecodeSSDLayout(t *testing.T) {
	labels := []string{"???", "person", "cat"}
	raw := RawOutput{
		Locations: [][4]float64{{0.1, 0.2, 0.3, 0.4}, {0, 0, 1, 1}, {0, 0, 1, 1}},
		Classes:   []float64{1, 0, 7},
		Scores:    []float64{0.9, 0.4, 0.8},
	}

	dets := Decode(raw, labels, 10)
	require.Len(t, dets, 3)
	assert.Equal(t, types.Detection{
		Label:    "cat",
		Score:    0.9,
		Location: types.Rect{Left: 0.2, Top: 0.1, Right: 0.4, Bottom: 0.3},
	}, dets[0])
	assert.Equal(t, "person", dets[1].Label)
	assert.Equal(t, UnknownLabel, dets[2].Label)
}

func TestDecodeTruncates(t *testing.T) {
	raw := RawOutput{
		Locations: make([][4]float64, 5),
		Classes:   make([]float64, 4),
		Scores:    make([]float64, 5),
	}
	assert.Len(t, Decode(raw, cocoLabels, 10), 4)
	assert.Len(t, Decode(raw, cocoLabels, 2), 2)
}

func TestLoadLabels(t *testing.T) {
	path := writeFile(t, "labels.txt", "???\nperson\n\n  cat  \n")
	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"???", "person", "cat"}, labels)

	_, err = LoadLabels(writeFile(t, "empty.txt", "\n\n"))
	assert.Error(t, err)

	_, err = LoadLabels(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReplayPlaysFileOnce(t *testing.T) {
	lines := []string{
		`{"locations":[[0.1,0.1,0.5,0.5]],"classes":[16],"scores":[0.8]}`,
		`not json`,
		`{"locations":[[0,0,1,1]],"classes":[0],"scores":[0.6]}`,
	}
	cfg := DefaultConfig()
	cfg.Model.Path = writeFile(t, "outputs.jsonl", strings.Join(lines, "\n"))
	cfg.FrameInterval = 0
	cfg.Loop = false

	src, err := New(cfg)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	first, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.FrameNum)
	require.Len(t, first.Detections, 1)
	assert.Equal(t, "cat", first.Detections[0].Label)

	second, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.FrameNum)
	assert.Equal(t, "person", second.Detections[0].Label)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReplayLoops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.Path = writeFile(t, "outputs.jsonl", `{"locations":[[0,0,1,1]],"classes":[0],"scores":[0.6]}`+"\n")
	cfg.FrameInterval = 0

	src, err := New(cfg)
	require.NoError(t, err)
	defer src.Close()

	for i := 1; i <= 3; i++ {
		res, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(i), res.FrameNum)
	}
}

func TestReplayEmptyLoopingFileEnds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.Path = writeFile(t, "outputs.jsonl", "")
	cfg.FrameInterval = 0

	src, err := New(cfg)
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestNewMissingFiles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.Path = filepath.Join(t.TempDir(), "missing.jsonl")
	_, err := New(cfg)
	assert.ErrorIs(t, err, os.ErrNotExist)

	cfg = DefaultConfig()
	cfg.Model.LabelsPath = filepath.Join(t.TempDir(), "missing.txt")
	_, err = New(cfg)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSyntheticIsDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FrameInterval = 0

	a, err := New(cfg)
	require.NoError(t, err)
	b, err := New(cfg)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		ra, err := a.Next(context.Background())
		require.NoError(t, err)
		rb, err := b.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ra.Detections, rb.Detections)
		assert.NotEmpty(t, ra.Detections)
		for _, d := range ra.Detections {
			assert.GreaterOrEqual(t, d.Score, 0.0)
			assert.LessOrEqual(t, d.Score, 1.0)
		}
	}
	assert.Equal(t, Resolution{Width: 300, Height: 300}, a.Resolution())
}

func TestSyntheticClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FrameInterval = 0
	src, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, src.Close())

	_, err = src.Next(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestPacingHonoursContext(t *testing.T) {
	mock := clock.NewMock()
	cfg := DefaultConfig()
	cfg.Clock = mock
	cfg.FrameInterval = time.Second

	src, err := New(cfg)
	require.NoError(t, err)

	// First frame is immediate; the second waits on the mock clock.
	require.NoError(t, src.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, src.Wait(ctx), context.Canceled)
}

func TestNextDoesNotPace(t *testing.T) {
	mock := clock.NewMock()
	cfg := DefaultConfig()
	cfg.Clock = mock
	cfg.FrameInterval = time.Hour

	src, err := New(cfg)
	require.NoError(t, err)
	defer src.Close()

	// Nothing advances the mock clock, so a paced Next would block forever.
	for i := 1; i <= 3; i++ {
		res, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(i), res.FrameNum)
	}
}

func TestWaitSpacesResults(t *testing.T) {
	mock := clock.NewMock()
	cfg := DefaultConfig()
	cfg.Clock = mock
	cfg.FrameInterval = 200 * time.Millisecond

	src, err := New(cfg)
	require.NoError(t, err)
	defer src.Close()

	require.NoError(t, src.Wait(context.Background()))

	// Once the interval has passed on the clock the next wait returns at once.
	mock.Add(200 * time.Millisecond)
	require.NoError(t, src.Wait(context.Background()))
}
