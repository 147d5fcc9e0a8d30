package pipeline

import (
	"fmt"
	"math"
	"sync"

	"github.com/giganbyte/overlay-server/pkg/types"
)

// MaxViewportSide bounds each side of an accepted viewport, in pixels.
const MaxViewportSide = 16384

// ViewportStore holds the current display surface. Readers always see a
// complete ViewportState.
type ViewportStore struct {
	mu      sync.RWMutex
	vp      types.ViewportState
	version uint64
}

// NewViewportStore creates a store holding initial.
func NewViewportStore(initial types.ViewportState) *ViewportStore {
	return &ViewportStore{vp: initial}
}

// Get returns the current viewport.
func (s *ViewportStore) Get() types.ViewportState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vp
}

// Version counts accepted updates.
func (s *ViewportStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Set replaces the viewport after validating it. A 0x0 size is accepted as
// "not yet measured".
func (s *ViewportStore) Set(vp types.ViewportState) error {
	if err := Validate(vp); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vp = vp
	s.version++
	return nil
}

// Validate rejects viewports that could not come from a real surface.
func Validate(vp types.ViewportState) error {
	if vp.Width < 0 || vp.Height < 0 {
		return fmt.Errorf("invalid viewport size %dx%d", vp.Width, vp.Height)
	}
	if vp.Width > MaxViewportSide || vp.Height > MaxViewportSide {
		return fmt.Errorf("viewport size %dx%d exceeds %d", vp.Width, vp.Height, MaxViewportSide)
	}
	if !vp.Rotation.Valid() {
		return fmt.Errorf("invalid rotation %d", vp.Rotation)
	}
	if math.IsNaN(vp.AspectRatio) || math.IsInf(vp.AspectRatio, 0) {
		return fmt.Errorf("invalid aspect ratio %v", vp.AspectRatio)
	}
	return nil
}
