package webmonitor

import (
	"time"
)

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr              string
	ModelName         string
	PreviewWidth      int // MJPEG canvas width; height follows the viewport
	JPEGQuality       int
	HistorySize       int // Non-empty detection events kept for /api/status
	KeepaliveInterval time.Duration
	IdleFrameInterval time.Duration // Placeholder frame period when no frames arrive
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		ModelName:         "MobileNet SSD",
		PreviewWidth:      480,
		JPEGQuality:       75,
		HistorySize:       8,
		KeepaliveInterval: 30 * time.Second,
		IdleFrameInterval: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.ModelName == "" {
		c.ModelName = def.ModelName
	}
	if c.PreviewWidth <= 0 {
		c.PreviewWidth = def.PreviewWidth
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = def.KeepaliveInterval
	}
	if c.IdleFrameInterval <= 0 {
		c.IdleFrameInterval = def.IdleFrameInterval
	}
	return c
}
