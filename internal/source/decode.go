package source

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/giganbyte/overlay-server/pkg/types"
)

// DefaultObjectCount is the number of detections an SSD model emits per frame.
const DefaultObjectCount = 10

// UnknownLabel is used for class indices outside the label table.
const UnknownLabel = "???"

// RawOutput is the SSD post-processing output for one frame. Locations are
// normalized [top, left, bottom, right] boxes; Classes index the label table
// without the background entry.
type RawOutput struct {
	Locations [][4]float64 `json:"locations"`
	Classes   []float64    `json:"classes"`
	Scores    []float64    `json:"scores"`
}

// Decode converts raw SSD output into detections. Class index i maps to
// labels[1+i] since labels[0] is the background class.
func Decode(raw RawOutput, labels []string, maxObjects int) []types.Detection {
	n := min(len(raw.Locations), len(raw.Classes), len(raw.Scores))
	if maxObjects > 0 && n > maxObjects {
		n = maxObjects
	}

	out := make([]types.Detection, 0, n)
	for i := 0; i < n; i++ {
		loc := raw.Locations[i]
		out = append(out, types.Detection{
			Label: labelAt(labels, raw.Classes[i]),
			Score: raw.Scores[i],
			Location: types.Rect{
				Left:   loc[1],
				Top:    loc[0],
				Right:  loc[3],
				Bottom: loc[2],
			},
		})
	}
	return out
}

func labelAt(labels []string, class float64) string {
	if math.IsNaN(class) || class < 0 || class >= float64(len(labels)-1) {
		return UnknownLabel
	}
	return labels[1+int(class)]
}

// LoadLabels reads a label file with one label per line. Blank lines are
// skipped.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("label file %s is empty", path)
	}
	return labels, nil
}

// cocoLabels is used when no label file is configured.
var cocoLabels = []string{
	"???", "person", "bicycle", "car", "motorcycle", "airplane", "bus",
	"train", "truck", "boat", "traffic light", "fire hydrant", "???",
	"stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "???",
	"backpack", "umbrella", "???", "???", "handbag", "tie", "suitcase",
	"frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat",
	"baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"???", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana",
	"apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza",
	"donut", "cake", "chair", "couch", "potted plant", "bed", "???",
	"dining table", "???", "???", "toilet", "???", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster",
	"sink", "refrigerator", "???", "book", "clock", "vase", "scissors",
	"teddy bear", "hair drier", "toothbrush",
}
