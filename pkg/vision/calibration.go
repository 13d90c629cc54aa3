package vision

import (
	"errors"
	"fmt"
)

// Calibration holds the heuristic constants the classifier and the distance
// estimator depend on. They are tied to the capture resolution the device is
// asked to use, so recalibrating a device means changing these values only.
type Calibration struct {
	// Capture resolution the device is asked to use, in pixels.
	FrameWidth  float64 `yaml:"frame_width" json:"frame_width"`
	FrameHeight float64 `yaml:"frame_height" json:"frame_height"`

	// ReferenceObjectWidth is the apparent width in pixels of a typical
	// obstacle standing one meter from the camera.
	ReferenceObjectWidth float64 `yaml:"reference_object_width" json:"reference_object_width"`

	// Distance estimates are clamped to [MinDistance, MaxDistance] meters.
	MinDistance float64 `yaml:"min_distance" json:"min_distance"`
	MaxDistance float64 `yaml:"max_distance" json:"max_distance"`

	// HazardClasses are the detection labels treated as traffic.
	HazardClasses []string `yaml:"hazard_classes" json:"hazard_classes"`
}

// DefaultHazardClasses are the COCO labels for vehicles and traffic
// infrastructure.
var DefaultHazardClasses = []string{"car", "bus", "truck", "motorcycle", "bicycle", "traffic light"}

// DefaultCalibration returns the values for a 320x240 capture.
func DefaultCalibration() Calibration {
	return Calibration{
		FrameWidth:           320,
		FrameHeight:          240,
		ReferenceObjectWidth: 80,
		MinDistance:          0.5,
		MaxDistance:          5.0,
		HazardClasses:        append([]string(nil), DefaultHazardClasses...),
	}
}

// Validate checks that the calibration can produce meaningful estimates.
func (c Calibration) Validate() error {
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		return fmt.Errorf("vision: frame size must be positive, got %vx%v", c.FrameWidth, c.FrameHeight)
	}
	if c.ReferenceObjectWidth <= 0 {
		return errors.New("vision: reference object width must be positive")
	}
	if c.MinDistance < 0 || c.MaxDistance < c.MinDistance {
		return fmt.Errorf("vision: invalid distance range [%v, %v]", c.MinDistance, c.MaxDistance)
	}
	return nil
}
