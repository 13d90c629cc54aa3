// Package vision turns one frame of object detections into a guidance signal:
// which way the obstacles are, whether any of them is traffic, and roughly
// how far away the nearest one is.
//
// Everything in this package except ObstacleTracker is a pure function over
// immutable inputs, so it can be called from any goroutine.
package vision

import (
	"encoding/json"
	"fmt"
)

// BoundingBox is a detection box in frame pixels, origin at the top-left.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// UnmarshalJSON accepts both the object form and the [x, y, width, height]
// array emitted by browser detection models.
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err == nil {
		if len(arr) != 4 {
			return fmt.Errorf("bbox: want 4 values, got %d", len(arr))
		}
		*b = BoundingBox{X: arr[0], Y: arr[1], Width: arr[2], Height: arr[3]}
		return nil
	}

	type plain BoundingBox
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("bbox: %w", err)
	}
	*b = BoundingBox(p)
	return nil
}

// Right returns the x coordinate of the right edge.
func (b BoundingBox) Right() float64 {
	return b.X + b.Width
}

// Detection is one recognized object instance.
type Detection struct {
	Class string      `json:"class"`
	Box   BoundingBox `json:"bbox"`
	Score float64     `json:"score,omitempty"`
}

// Direction is where the obstacles in a frame are, seen from the walker.
type Direction int

const (
	// Clear means nothing blocks the way, or the sides are balanced.
	Clear Direction = iota
	// Left means obstacles are mostly on the left.
	Left
	// Right means obstacles are mostly on the right.
	Right
	// Center means at least one obstacle is straight ahead.
	Center
)

func (d Direction) String() string {
	switch d {
	case Clear:
		return "clear"
	case Left:
		return "left"
	case Right:
		return "right"
	case Center:
		return "center"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "clear", "":
		*d = Clear
	case "left":
		*d = Left
	case "right":
		*d = Right
	case "center":
		*d = Center
	default:
		return fmt.Errorf("unknown direction %q", text)
	}
	return nil
}

// FrameAnalysis is the per-frame classification result. It is computed
// fresh for every frame and never stored.
type FrameAnalysis struct {
	Direction      Direction  `json:"direction"`
	Hazard         bool       `json:"hazard"`
	Signature      string     `json:"signature"`
	Count          int        `json:"count"`
	Closest        *Detection `json:"closest,omitempty"`
	DistanceMeters *float64   `json:"distance_m,omitempty"`
}

// Empty reports whether the frame had no detections.
func (a FrameAnalysis) Empty() bool {
	return a.Count == 0
}
