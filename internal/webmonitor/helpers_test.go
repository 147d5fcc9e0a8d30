package webmonitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/giganbyte/overlay-server/internal/chart"
	"github.com/giganbyte/overlay-server/internal/metrics"
	"github.com/giganbyte/overlay-server/internal/overlay"
	"github.com/giganbyte/overlay-server/internal/pipeline"
	"github.com/giganbyte/overlay-server/internal/recorder"
	"github.com/giganbyte/overlay-server/internal/source"
	"github.com/giganbyte/overlay-server/internal/stats"
	"github.com/giganbyte/overlay-server/pkg/types"
)

type testEnv struct {
	srv     *Server
	http    *httptest.Server
	clock   *clock.Mock
	deps    Deps
	baseDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mock := clock.NewMock()
	baseDir := t.TempDir()
	rec := recorder.NewRecorder(baseDir, chart.DefaultOptions())
	agg := stats.New(stats.Config{Clock: mock, Finalizer: rec})
	proj := overlay.NewProjector(overlay.DefaultConfig())
	vps := pipeline.NewViewportStore(types.DefaultViewport())

	srcCfg := source.DefaultConfig()
	srcCfg.Clock = mock
	srcCfg.FrameInterval = 0
	src, err := source.New(srcCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	deps := Deps{
		Stats:     agg,
		Projector: proj,
		Viewport:  vps,
		Analyzer:  pipeline.NewAnalyzer(src, agg, proj, vps, pipeline.Config{}),
		Recorder:  rec,
		Metrics:   metrics.New(),
	}
	cfg := DefaultConfig()
	cfg.KeepaliveInterval = time.Second
	srv, err := NewServer(cfg, deps)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		agg.Wait()
	})

	return &testEnv{srv: srv, http: ts, clock: mock, deps: deps, baseDir: baseDir}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, body
}

func (e *testEnv) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	resp, err := http.Post(e.http.URL+path, "application/json", body)
	require.NoError(t, err)
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, out
}

// readSSEEvent returns the first SSE event (comments skipped) from url.
func readSSEEvent(url, accept string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				idx := bytes.Index(buf, []byte("\n\n"))
				if idx < 0 {
					break
				}
				event := string(buf[:idx])
				buf = buf[idx+2:]
				if strings.HasPrefix(event, ":") {
					continue
				}
				return event, resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

func sseData(t *testing.T, event string) []byte {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			require.NotEmpty(t, payload, "empty sse data line")
			return []byte(payload)
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return nil
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}
