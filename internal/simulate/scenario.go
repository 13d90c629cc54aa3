// Package simulate replays a scripted device session against a guidance
// server. Scenarios are YAML files listing frames, location fixes and
// commands in the order a device would send them.
package simulate

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-smartstick/pkg/protocol"
	"github.com/teslashibe/go-smartstick/pkg/vision"
)

// DefaultInterval is the pause between steps when a scenario sets none.
const DefaultInterval = 200 * time.Millisecond

// ErrEmptyScenario is returned for a scenario without steps.
var ErrEmptyScenario = errors.New("simulate: scenario has no steps")

// Scenario is a scripted device session.
type Scenario struct {
	DeviceID string        `yaml:"device_id"`
	Width    float64       `yaml:"width"`
	Height   float64       `yaml:"height"`
	Interval time.Duration `yaml:"interval"`
	Steps    []Step        `yaml:"steps"`
}

// Detection is a detector box written as [x, y, width, height].
type Detection struct {
	Class string    `yaml:"class"`
	Box   []float64 `yaml:"bbox"`
	Score float64   `yaml:"score"`
}

// Location is a position fix.
type Location struct {
	Lat      float64 `yaml:"lat"`
	Lon      float64 `yaml:"lon"`
	Accuracy float64 `yaml:"accuracy"`
}

// Sensor is a sensor availability change.
type Sensor struct {
	Name      string `yaml:"name"`
	Available bool   `yaml:"available"`
	Error     string `yaml:"error"`
}

// Step is one scripted action. Exactly one field is set.
type Step struct {
	Frame    []Detection   `yaml:"frame"`
	Clear    bool          `yaml:"clear"`
	Location *Location     `yaml:"location"`
	Command  string        `yaml:"command"`
	Navigate string        `yaml:"navigate"`
	Stop     bool          `yaml:"stop"`
	Sensor   *Sensor       `yaml:"sensor"`
	Wait     time.Duration `yaml:"wait"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("simulate: read %s: %w", path, err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("simulate: parse scenario: %w", err)
	}
	if sc.Width <= 0 {
		sc.Width = 320
	}
	if sc.Height <= 0 {
		sc.Height = 240
	}
	if sc.Interval <= 0 {
		sc.Interval = DefaultInterval
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks every step.
func (s *Scenario) Validate() error {
	if len(s.Steps) == 0 {
		return ErrEmptyScenario
	}
	var errs []error
	for i, step := range s.Steps {
		if err := step.validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %d: %w", i+1, err))
		}
	}
	return errors.Join(errs...)
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		len(s.Frame) > 0, s.Clear, s.Location != nil, s.Command != "",
		s.Navigate != "", s.Stop, s.Sensor != nil, s.Wait > 0,
	} {
		if set {
			n++
		}
	}
	return n
}

func (s Step) validate() error {
	switch s.actions() {
	case 0:
		return errors.New("no action")
	case 1:
	default:
		return errors.New("more than one action")
	}
	for _, d := range s.Frame {
		if d.Class == "" {
			return errors.New("detection without class")
		}
		if len(d.Box) != 4 {
			return fmt.Errorf("%s: bbox needs 4 values, got %d", d.Class, len(d.Box))
		}
	}
	if s.Sensor != nil && s.Sensor.Name == "" {
		return errors.New("sensor without name")
	}
	return nil
}

// Message builds the device message for a step. Wait steps have none.
func (s Step) Message(sc *Scenario) (*protocol.Message, error) {
	switch {
	case len(s.Frame) > 0 || s.Clear:
		dets := make([]vision.Detection, 0, len(s.Frame))
		for _, d := range s.Frame {
			dets = append(dets, vision.Detection{
				Class: d.Class,
				Box:   vision.BoundingBox{X: d.Box[0], Y: d.Box[1], Width: d.Box[2], Height: d.Box[3]},
				Score: d.Score,
			})
		}
		return protocol.NewDetectionsMessage(protocol.DetectionsData{
			Width:      sc.Width,
			Height:     sc.Height,
			Detections: dets,
		})
	case s.Location != nil:
		return protocol.NewLocationMessage(protocol.LocationData{
			Lat:       s.Location.Lat,
			Lon:       s.Location.Lon,
			Accuracy:  s.Location.Accuracy,
			Timestamp: time.Now().UnixMilli(),
		})
	case s.Command != "":
		return protocol.NewCommandMessage(s.Command)
	case s.Navigate != "":
		return protocol.NewMessage(protocol.TypeNavigate, protocol.NavigateData{Destination: s.Navigate})
	case s.Stop:
		return protocol.NewMessage(protocol.TypeStop, nil)
	case s.Sensor != nil:
		return protocol.NewMessage(protocol.TypeSensor, protocol.SensorData{
			Sensor:    s.Sensor.Name,
			Available: s.Sensor.Available,
			Error:     s.Sensor.Error,
		})
	}
	return nil, nil
}
