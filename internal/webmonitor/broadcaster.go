package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/giganbyte/overlay-server/internal/logger"
	"github.com/giganbyte/overlay-server/internal/pipeline"
	"github.com/giganbyte/overlay-server/internal/stats"
	"github.com/giganbyte/overlay-server/internal/wire"
)

// hub fans values out to subscribers over buffered channels. A subscriber
// whose buffer is full misses the value.
type hub[T any] struct {
	log    logger.Module
	buffer int

	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
	closed  bool
}

func newHub[T any](name string, buffer int) *hub[T] {
	return &hub[T]{
		log:     logger.For(name),
		buffer:  buffer,
		clients: make(map[int]chan T),
	}
}

// Subscribe adds a new client and returns its id and channel. After Close the
// returned channel is already closed.
func (h *hub[T]) Subscribe() (int, <-chan T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan T, h.buffer)
	if h.closed {
		close(ch)
		return id, ch
	}
	h.clients[id] = ch

	h.log.Debugf("Client #%d subscribed (total clients: %d)", id, len(h.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (h *hub[T]) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
		h.log.Debugf("Client #%d unsubscribed (remaining clients: %d)", id, len(h.clients))
	}
}

// ClientCount returns the number of subscribers.
func (h *hub[T]) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub[T]) broadcast(v T) (sent, dropped int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.clients {
		select {
		case ch <- v:
			sent++
		default:
			dropped++
		}
	}
	return sent, dropped
}

// Close disconnects every subscriber.
func (h *hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

func newSerializedEvent(payload any, pb []byte) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pb)),
	}, nil
}

// DetectionBroadcaster fans detection events out to SSE clients.
type DetectionBroadcaster struct {
	*hub[*SerializedEvent]
}

// NewDetectionBroadcaster creates a broadcaster for detection events.
func NewDetectionBroadcaster() *DetectionBroadcaster {
	return &DetectionBroadcaster{newHub[*SerializedEvent]("DetectionBroadcaster", 2)}
}

// Publish serializes ev once and queues it for every client. Events are
// published even when empty so clients can clear their overlay.
func (db *DetectionBroadcaster) Publish(ev wire.DetectionEvent) error {
	if db.ClientCount() == 0 {
		return nil
	}
	event, err := newSerializedEvent(ev, ev.Marshal())
	if err != nil {
		return err
	}
	db.broadcast(event)
	return nil
}

// StatusBroadcaster fans status events out to SSE clients. JSON clients get
// the full StatusPayload; protobuf clients get the compact StatsEvent.
type StatusBroadcaster struct {
	*hub[*SerializedEvent]
}

// NewStatusBroadcaster creates a broadcaster for status events.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{newHub[*SerializedEvent]("StatusBroadcaster", 2)}
}

// Publish queues a status event for every client.
func (sb *StatusBroadcaster) Publish(payload StatusPayload) error {
	if sb.ClientCount() == 0 {
		return nil
	}
	event, err := newSerializedEvent(payload, payload.Stats.Marshal())
	if err != nil {
		return err
	}
	sb.broadcast(event)
	return nil
}

// FrameBroadcaster renders overlay preview frames and fans them out to MJPEG
// clients. Nothing is rendered while no client is connected.
type FrameBroadcaster struct {
	*hub[[]byte]
	renderer  *Renderer
	skipCount int
}

// NewFrameBroadcaster creates a frame broadcaster drawing with r.
func NewFrameBroadcaster(r *Renderer) *FrameBroadcaster {
	return &FrameBroadcaster{
		hub:      newHub[[]byte]("FrameBroadcaster", 2),
		renderer: r,
	}
}

// Publish renders f and queues the JPEG for every client. It reports whether
// a frame was rendered. Publish is called from a single goroutine.
func (fb *FrameBroadcaster) Publish(f pipeline.Frame, s stats.Stats) (bool, error) {
	if fb.ClientCount() == 0 {
		fb.skipCount++
		if fb.skipCount%300 == 0 {
			fb.log.Debugf("No clients connected, skipped %d frames", fb.skipCount)
		}
		return false, nil
	}
	fb.skipCount = 0

	data, err := fb.renderer.Render(f, s)
	if err != nil {
		return false, err
	}
	fb.broadcast(data)
	return true, nil
}
