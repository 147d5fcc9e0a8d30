package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/giganbyte/overlay-server/internal/chart"
	"github.com/giganbyte/overlay-server/internal/logger"
	"github.com/giganbyte/overlay-server/internal/metrics"
	"github.com/giganbyte/overlay-server/internal/overlay"
	"github.com/giganbyte/overlay-server/internal/pipeline"
	"github.com/giganbyte/overlay-server/internal/recorder"
	"github.com/giganbyte/overlay-server/internal/source"
	"github.com/giganbyte/overlay-server/internal/stats"
	"github.com/giganbyte/overlay-server/internal/webmonitor"
	"github.com/giganbyte/overlay-server/internal/webrtc"
	"github.com/giganbyte/overlay-server/pkg/types"
)

var (
	// Command-line flags
	httpAddr    = flag.String("http", ":8080", "HTTP server address")
	metricsAddr = flag.String("metrics", "", "Standalone metrics server address (metrics are also served on /metrics)")
	pprofAddr   = flag.String("pprof", ":6060", "pprof server address (empty disables)")

	modelName   = flag.String("model-name", source.DefaultModel.Name, "Model name shown in status and charts")
	modelPath   = flag.String("model", "", "Replay file of raw model outputs (JSON lines); empty uses the synthetic source")
	labelsPath  = flag.String("labels", "", "Label file, one label per line with background first")
	inputWidth  = flag.Int("input-width", 300, "Model input width")
	inputHeight = flag.Int("input-height", 300, "Model input height")
	frameEvery  = flag.Duration("frame-interval", 33*time.Millisecond, "Pacing between source results")
	objectCount = flag.Int("objects", source.DefaultObjectCount, "Maximum detections decoded per frame")
	loopReplay  = flag.Bool("loop", true, "Rewind the replay file at EOF")
	seed        = flag.Uint64("seed", 1, "Synthetic source seed")

	confidence = flag.Float64("confidence", overlay.DefaultConfidence, "Minimum detection score (exclusive)")
	margin     = flag.Float64("margin", overlay.DefaultMargin, "Aspect margin applied to mapped boxes")
	densityDPI = flag.Float64("dpi", 160, "Screen density used to convert pixels into display units")

	vpWidth    = flag.Int("viewport-width", types.DefaultViewport().Width, "Initial viewport width in pixels")
	vpHeight   = flag.Int("viewport-height", types.DefaultViewport().Height, "Initial viewport height in pixels")
	vpRotation = flag.Int("viewport-rotation", 0, "Initial sensor rotation (0, 90, 180, 270)")
	vpFacing   = flag.String("viewport-facing", "back", "Initial lens facing (back, front)")
	vpAspect   = flag.Float64("viewport-aspect", 1.0, "Initial preview aspect ratio")

	tickInterval = flag.Duration("tick", stats.DefaultTickInterval, "Stats publication interval")
	fpsInterval  = flag.Int("fps-interval", stats.DefaultFPSInterval, "Frames per FPS measurement")
	recordPath   = flag.String("record-path", "./recordings", "Session export directory")
	previewWidth = flag.Int("preview-width", webmonitor.DefaultConfig().PreviewWidth, "MJPEG preview width")

	enableWebRTC = flag.Bool("webrtc", true, "Enable the WebRTC detection data channel")
	maxClients   = flag.Int("max-clients", 10, "Maximum WebRTC clients")
	stunServers  = flag.String("stun", "stun:stun.l.google.com:19302", "STUN server URLs (comma-separated)")

	logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor = flag.Bool("log-color", true, "Enable colored log output")
)

// Server is the overlay server process
type Server struct {
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	metrics    *metrics.Metrics
	source     source.Source
	stats      *stats.Aggregator
	analyzer   *pipeline.Analyzer
	webrtc     *webrtc.Server
	monitor    *webmonitor.Server
	httpServer *http.Server
}

func main() {
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	logger.Info("Main", "Overlay server starting...")
	logger.Info("Main", "Log level: %s", level)

	if err := os.MkdirAll(*recordPath, 0755); err != nil {
		log.Fatalf("Failed to create recordings directory: %v", err)
	}

	srv, err := NewServer()
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	srv.Start()

	// Wait for shutdown signal or a fatal analyzer error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-srv.ctx.Done():
	}

	logger.Info("Main", "Shutting down...")

	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}

	logger.Info("Main", "Server stopped")
}

// NewServer wires all components from the command-line flags
func NewServer() (*Server, error) {
	model := source.Model{Name: *modelName, Path: *modelPath, LabelsPath: *labelsPath}
	src, err := source.New(source.Config{
		Model:         model,
		Resolution:    source.Resolution{Width: *inputWidth, Height: *inputHeight},
		FrameInterval: *frameEvery,
		ObjectCount:   *objectCount,
		Loop:          *loopReplay,
		Seed:          *seed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create detection source: %w", err)
	}

	m := metrics.New()

	chartOpts := chart.DefaultOptions()
	chartOpts.Model = fmt.Sprintf("%s (%s)", model.Name, src.Resolution())
	rec := recorder.NewRecorder(*recordPath, chartOpts)
	rec.OnExport(func(exp recorder.Export) {
		m.SessionsExported.Add(1)
		m.ExportBytes.Add(exp.Bytes)
	})

	agg := stats.New(stats.Config{
		FPSInterval: *fpsInterval,
		Finalizer:   stats.FinalizerFunc(func(ctx context.Context, sum stats.Summary) error {
			err := rec.Finalize(ctx, sum)
			if err != nil {
				m.ExportErrors.Add(1)
			}
			return err
		}),
	})
	m.BindStats(agg)

	initial := types.ViewportState{
		Width:       *vpWidth,
		Height:      *vpHeight,
		Rotation:    types.Rotation(*vpRotation),
		Facing:      types.ParseLensFacing(*vpFacing),
		AspectRatio: *vpAspect,
	}
	if err := pipeline.Validate(initial); err != nil {
		src.Close()
		return nil, fmt.Errorf("invalid initial viewport: %w", err)
	}
	viewport := pipeline.NewViewportStore(initial)

	projector := overlay.NewProjector(overlay.Config{
		Confidence: *confidence,
		Margin:     *margin,
		DensityDPI: *densityDPI,
	})

	analyzer := pipeline.NewAnalyzer(src, agg, projector, viewport, pipeline.Config{})

	var rtc *webrtc.Server
	if *enableWebRTC {
		rtc = webrtc.NewServer(webrtc.Config{
			STUNServers: strings.Split(*stunServers, ","),
			MaxClients:  *maxClients,
		})
	}

	monCfg := webmonitor.DefaultConfig()
	monCfg.Addr = *httpAddr
	monCfg.ModelName = model.Name
	monCfg.PreviewWidth = *previewWidth
	monitor, err := webmonitor.NewServer(monCfg, webmonitor.Deps{
		Stats:     agg,
		Projector: projector,
		Viewport:  viewport,
		Analyzer:  analyzer,
		Recorder:  rec,
		WebRTC:    rtc,
		Metrics:   m,
	})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create web monitor: %w", err)
	}

	httpServer := &http.Server{
		Addr:    monCfg.Addr,
		Handler: monitor.Handler(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctx:        ctx,
		cancel:     cancel,
		metrics:    m,
		source:     src,
		stats:      agg,
		analyzer:   analyzer,
		webrtc:     rtc,
		monitor:    monitor,
		httpServer: httpServer,
	}, nil
}

// Start starts all server components
func (s *Server) Start() {
	logger.Info("Main", "  HTTP server: %s", *httpAddr)
	logger.Info("Main", "  Model: %s (%s)", *modelName, s.source.Resolution())
	logger.Info("Main", "  Recording path: %s", *recordPath)
	logger.Info("Main", "  WebRTC: %v", s.webrtc != nil)

	if *pprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	if *metricsAddr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", *metricsAddr)
			if err := s.metrics.StartServer(*metricsAddr); err != nil {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
			s.cancel()
		}
	}()

	s.wg.Add(3)
	go s.runAnalyzer()
	go s.runStats()
	go s.consumeFrames()

	logger.Info("Main", "Server started successfully")
}

// runAnalyzer drives the detection source until shutdown
func (s *Server) runAnalyzer() {
	defer s.wg.Done()

	err := s.analyzer.Run(s.ctx)
	switch {
	case err == nil:
		logger.Info("Analyzer", "Source exhausted")
	case errors.Is(err, context.Canceled):
	default:
		logger.Error("Analyzer", "Stopped: %v", err)
		s.cancel()
	}
}

// runStats publishes stats once per tick
func (s *Server) runStats() {
	defer s.wg.Done()
	_ = s.stats.Run(s.ctx, *tickInterval, s.monitor.PublishStats)
}

// consumeFrames hands analyzed frames to the monitor and data channels
func (s *Server) consumeFrames() {
	defer s.wg.Done()
	_ = s.monitor.Consume(s.ctx, s.analyzer.Frames())
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.cancel()

	// Streaming handlers return once their broadcasters close
	s.monitor.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpErr := s.httpServer.Shutdown(ctx)

	s.wg.Wait()

	if _, ok := s.stats.StopRecording(); ok {
		logger.Info("Main", "Exporting active recording session...")
	}
	s.stats.Wait()

	if s.webrtc != nil {
		s.webrtc.Close()
	}
	if err := s.source.Close(); err != nil && !errors.Is(err, source.ErrClosed) {
		return fmt.Errorf("failed to close source: %w", err)
	}
	return httpErr
}
