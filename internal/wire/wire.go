// Package wire defines the detection and stats events sent to clients, with
// JSON tags and a protobuf wire encoding built on protowire.
//
//	message Detection {
//	  BBox  bbox       = 1;  // x=1 y=2 w=3 h=4, float
//	  float confidence = 2;
//	  string label     = 4;
//	  fixed32 color    = 5;  // 0xRRGGBBAA
//	}
//	message DetectionEvent {
//	  uint64 frame_number      = 1;
//	  double timestamp         = 2;
//	  repeated Detection detections = 3;
//	  int32 viewport_width     = 4;
//	  int32 viewport_height    = 5;
//	}
//	message StatsEvent {
//	  double fps = 1; double avg_fps = 2;
//	  double inference_ms = 3; double avg_inference_ms = 4;
//	  double total_inference_ms = 5;
//	  int32 ui_refresh_rate = 6; int32 frames = 7;
//	  int32 recording_status = 8; int32 snapshots = 9;
//	  double timestamp = 10;
//	}
package wire

import (
	"fmt"
	"image/color"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/giganbyte/overlay-server/internal/stats"
	"github.com/giganbyte/overlay-server/pkg/types"
)

// BBox is a box in display units.
type BBox struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	W float32 `json:"w"`
	H float32 `json:"h"`
}

// Detection is one display detection on the wire.
type Detection struct {
	BBox       BBox    `json:"bbox"`
	Confidence float32 `json:"confidence"`
	Label      string  `json:"label"`
	Color      string  `json:"color"` // #rrggbb
}

// DetectionEvent carries the detections of one frame.
type DetectionEvent struct {
	FrameNumber    uint64      `json:"frame_number"`
	Timestamp      float64     `json:"timestamp"`
	Detections     []Detection `json:"detections"`
	ViewportWidth  int32       `json:"viewport_width"`
	ViewportHeight int32       `json:"viewport_height"`
}

// StatsEvent carries the published statistics.
type StatsEvent struct {
	FPS              float64 `json:"fps"`
	AvgFPS           float64 `json:"avg_fps"`
	InferenceMs      float64 `json:"inference_ms"`
	AvgInferenceMs   float64 `json:"avg_inference_ms"`
	TotalInferenceMs float64 `json:"total_inference_ms"`
	UIRefreshRate    int32   `json:"ui_refresh_rate"`
	Frames           int32   `json:"frames"`
	RecordingStatus  int32   `json:"recording_status"`
	Snapshots        int32   `json:"snapshots"`
	Timestamp        float64 `json:"timestamp"`
}

// NewDetectionEvent builds an event from projected detections.
func NewDetectionEvent(frameNum uint64, ts time.Time, vp types.ViewportState, dets []types.DisplayDetection) DetectionEvent {
	ev := DetectionEvent{
		FrameNumber:    frameNum,
		Timestamp:      unixSeconds(ts),
		Detections:     make([]Detection, len(dets)),
		ViewportWidth:  int32(vp.Width),
		ViewportHeight: int32(vp.Height),
	}
	for i, d := range dets {
		ev.Detections[i] = Detection{
			BBox: BBox{
				X: float32(d.Left),
				Y: float32(d.Top),
				W: float32(d.Width),
				H: float32(d.Height),
			},
			Confidence: float32(d.Score),
			Label:      d.Label,
			Color:      HexColor(d.Color),
		}
	}
	return ev
}

// NewStatsEvent builds an event from the published stats and session.
func NewStatsEvent(s stats.Stats, sess stats.Session) StatsEvent {
	return StatsEvent{
		FPS:              s.FPS,
		AvgFPS:           s.AvgFPS,
		InferenceMs:      millis(s.InferenceTime),
		AvgInferenceMs:   millis(s.AvgInferenceTime),
		TotalInferenceMs: millis(s.TotalInferenceTime),
		UIRefreshRate:    int32(s.UIRefreshRate),
		Frames:           int32(s.Frames),
		RecordingStatus:  int32(sess.Status),
		Snapshots:        int32(len(sess.Snapshots)),
		Timestamp:        unixSeconds(s.At),
	}
}

// HexColor formats c as #rrggbb.
func HexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Marshal encodes the event in protobuf wire format.
func (e DetectionEvent) Marshal() []byte {
	var b []byte
	b = appendUint64(b, 1, e.FrameNumber)
	b = appendDouble(b, 2, e.Timestamp)
	for _, d := range e.Detections {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, d.marshal())
	}
	b = appendInt32(b, 4, e.ViewportWidth)
	b = appendInt32(b, 5, e.ViewportHeight)
	return b
}

func (d Detection) marshal() []byte {
	var box []byte
	box = appendFloat(box, 1, d.BBox.X)
	box = appendFloat(box, 2, d.BBox.Y)
	box = appendFloat(box, 3, d.BBox.W)
	box = appendFloat(box, 4, d.BBox.H)

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, box)
	b = appendFloat(b, 2, d.Confidence)
	b = appendString(b, 4, d.Label)
	if rgba, ok := parseHex(d.Color); ok {
		b = protowire.AppendTag(b, 5, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, rgba)
	}
	return b
}

// Marshal encodes the event in protobuf wire format.
func (e StatsEvent) Marshal() []byte {
	var b []byte
	b = appendDouble(b, 1, e.FPS)
	b = appendDouble(b, 2, e.AvgFPS)
	b = appendDouble(b, 3, e.InferenceMs)
	b = appendDouble(b, 4, e.AvgInferenceMs)
	b = appendDouble(b, 5, e.TotalInferenceMs)
	b = appendInt32(b, 6, e.UIRefreshRate)
	b = appendInt32(b, 7, e.Frames)
	b = appendInt32(b, 8, e.RecordingStatus)
	b = appendInt32(b, 9, e.Snapshots)
	b = appendDouble(b, 10, e.Timestamp)
	return b
}

// UnmarshalDetectionEvent decodes a DetectionEvent. Unknown fields are skipped.
func UnmarshalDetectionEvent(b []byte) (DetectionEvent, error) {
	var e DetectionEvent
	err := walk(b, func(num protowire.Number, typ protowire.Type, v field) error {
		switch num {
		case 1:
			e.FrameNumber = v.varint
		case 2:
			e.Timestamp = math.Float64frombits(v.fixed64)
		case 3:
			d, err := unmarshalDetection(v.bytes)
			if err != nil {
				return fmt.Errorf("detection %d: %w", len(e.Detections), err)
			}
			e.Detections = append(e.Detections, d)
		case 4:
			e.ViewportWidth = int32(v.varint)
		case 5:
			e.ViewportHeight = int32(v.varint)
		}
		return nil
	})
	return e, err
}

func unmarshalDetection(b []byte) (Detection, error) {
	var d Detection
	err := walk(b, func(num protowire.Number, typ protowire.Type, v field) error {
		switch num {
		case 1:
			return walk(v.bytes, func(num protowire.Number, typ protowire.Type, v field) error {
				f := math.Float32frombits(v.fixed32)
				switch num {
				case 1:
					d.BBox.X = f
				case 2:
					d.BBox.Y = f
				case 3:
					d.BBox.W = f
				case 4:
					d.BBox.H = f
				}
				return nil
			})
		case 2:
			d.Confidence = math.Float32frombits(v.fixed32)
		case 4:
			d.Label = string(v.bytes)
		case 5:
			d.Color = fmt.Sprintf("#%06x", v.fixed32>>8)
		}
		return nil
	})
	return d, err
}

// UnmarshalStatsEvent decodes a StatsEvent. Unknown fields are skipped.
func UnmarshalStatsEvent(b []byte) (StatsEvent, error) {
	var e StatsEvent
	err := walk(b, func(num protowire.Number, typ protowire.Type, v field) error {
		f := math.Float64frombits(v.fixed64)
		switch num {
		case 1:
			e.FPS = f
		case 2:
			e.AvgFPS = f
		case 3:
			e.InferenceMs = f
		case 4:
			e.AvgInferenceMs = f
		case 5:
			e.TotalInferenceMs = f
		case 6:
			e.UIRefreshRate = int32(v.varint)
		case 7:
			e.Frames = int32(v.varint)
		case 8:
			e.RecordingStatus = int32(v.varint)
		case 9:
			e.Snapshots = int32(v.varint)
		case 10:
			e.Timestamp = f
		}
		return nil
	})
	return e, err
}

// field holds a decoded value; only the member matching the wire type is set.
type field struct {
	varint  uint64
	fixed32 uint32
	fixed64 uint64
	bytes   []byte
}

func walk(b []byte, fn func(protowire.Number, protowire.Type, field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var v field
		switch typ {
		case protowire.VarintType:
			v.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			v.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.Fixed64Type:
			v.fixed64, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			v.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(num, typ, v); err != nil {
			return err
		}
	}
	return nil
}

func appendUint64(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func parseHex(s string) (uint32, bool) {
	var r, g, b uint8
	if len(s) != 7 || s[0] != '#' {
		return 0, false
	}
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return 0, false
	}
	return uint32(r)<<24 | uint32(g)<<16 | uint32(b)<<8 | 0xff, true
}
