package liveness

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("invalid liveness config")

// PoseThresholds are exclusive upper bounds on the absolute head angles, in degrees.
type PoseThresholds struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// DistanceBand is an inclusive range of estimated face distances in centimetres.
type DistanceBand struct {
	MinCm float64 `json:"min_cm"`
	MaxCm float64 `json:"max_cm"`
}

func (b DistanceBand) Contains(cm float64) bool {
	return cm >= b.MinCm && cm <= b.MaxCm
}

// RotationThresholds decide whether a smoothed head rotation is large enough
// to count towards segment coverage.
type RotationThresholds struct {
	Yaw       float64 `json:"yaw"`
	Pitch     float64 `json:"pitch"`
	Magnitude float64 `json:"magnitude"`
}

type EyeThresholds struct {
	Close float32 `json:"close"`
	Open  float32 `json:"open"`
}

// DistanceReference calibrates the area based distance heuristic: a face whose
// bounding box covers Area (fraction of the frame) is DistanceCm away.
type DistanceReference struct {
	Area       float64 `json:"area"`
	DistanceCm float64 `json:"distance_cm"`
}

type Config struct {
	CalibrationWindow       int                `json:"calibration_window"`
	SmoothingWindow         int                `json:"smoothing_window"`
	MinPositioningDwellMs   int64              `json:"min_positioning_dwell_ms"`
	StrictPose              PoseThresholds     `json:"strict_pose"`
	FallbackPose            PoseThresholds     `json:"fallback_pose"`
	IdealDistance           DistanceBand       `json:"ideal_distance"`
	PositioningDistance     DistanceBand       `json:"positioning_distance"`
	PositioningCenterFactor float64            `json:"positioning_center_factor"`
	MaxPositioningRoll      float64            `json:"max_positioning_roll"`
	Rotation                RotationThresholds `json:"rotation"`
	Eyes                    EyeThresholds      `json:"eyes"`
	Distance                DistanceReference  `json:"distance"`
	// StallTimeoutMs flags a session that sits in guided coverage or blink
	// confirmation for longer than this. Zero disables the flag.
	StallTimeoutMs int64  `json:"stall_timeout_ms"`
	Language       string `json:"language"`
}

func DefaultConfig() Config {
	return Config{
		CalibrationWindow:       10,
		SmoothingWindow:         5,
		MinPositioningDwellMs:   5000,
		StrictPose:              PoseThresholds{Yaw: 5, Pitch: 5, Roll: 10},
		FallbackPose:            PoseThresholds{Yaw: 8, Pitch: 8, Roll: 12},
		IdealDistance:           DistanceBand{MinCm: 20, MaxCm: 50},
		PositioningDistance:     DistanceBand{MinCm: 20, MaxCm: 60},
		PositioningCenterFactor: 3,
		MaxPositioningRoll:      30,
		Rotation:                RotationThresholds{Yaw: 25, Pitch: 25, Magnitude: 30},
		Eyes:                    EyeThresholds{Close: 0.4, Open: 0.7},
		Distance:                DistanceReference{Area: 0.16, DistanceCm: 30},
		StallTimeoutMs:          0,
		Language:                "en",
	}
}

func (c Config) PositioningDwell() time.Duration {
	return time.Duration(c.MinPositioningDwellMs) * time.Millisecond
}

func (c Config) StallTimeout() time.Duration {
	return time.Duration(c.StallTimeoutMs) * time.Millisecond
}

// Validate reports the first problem found in the config. All errors wrap
// ErrInvalidConfig.
func (c Config) Validate() error {
	if c.CalibrationWindow <= 0 {
		return fmt.Errorf("%w: calibration window must be positive, got %d", ErrInvalidConfig, c.CalibrationWindow)
	}
	if c.SmoothingWindow <= 0 {
		return fmt.Errorf("%w: smoothing window must be positive, got %d", ErrInvalidConfig, c.SmoothingWindow)
	}
	if c.MinPositioningDwellMs < 0 {
		return fmt.Errorf("%w: positioning dwell must not be negative, got %d ms", ErrInvalidConfig, c.MinPositioningDwellMs)
	}
	if c.StallTimeoutMs < 0 {
		return fmt.Errorf("%w: stall timeout must not be negative, got %d ms", ErrInvalidConfig, c.StallTimeoutMs)
	}
	if err := validatePose("strict", c.StrictPose); err != nil {
		return err
	}
	if err := validatePose("fallback", c.FallbackPose); err != nil {
		return err
	}
	if c.FallbackPose.Yaw < c.StrictPose.Yaw || c.FallbackPose.Pitch < c.StrictPose.Pitch || c.FallbackPose.Roll < c.StrictPose.Roll {
		return fmt.Errorf("%w: fallback pose %+v is stricter than strict pose %+v", ErrInvalidConfig, c.FallbackPose, c.StrictPose)
	}
	if err := validateBand("ideal distance", c.IdealDistance); err != nil {
		return err
	}
	if err := validateBand("positioning distance", c.PositioningDistance); err != nil {
		return err
	}
	if c.PositioningCenterFactor < 1 {
		return fmt.Errorf("%w: positioning center factor must be at least 1, got %v", ErrInvalidConfig, c.PositioningCenterFactor)
	}
	if c.MaxPositioningRoll <= 0 {
		return fmt.Errorf("%w: max positioning roll must be positive, got %v", ErrInvalidConfig, c.MaxPositioningRoll)
	}
	if c.Rotation.Yaw <= 0 || c.Rotation.Pitch <= 0 || c.Rotation.Magnitude <= 0 {
		return fmt.Errorf("%w: rotation thresholds must be positive, got %+v", ErrInvalidConfig, c.Rotation)
	}
	if c.Eyes.Close <= 0 || c.Eyes.Open > 1 || c.Eyes.Close >= c.Eyes.Open {
		return fmt.Errorf("%w: eye thresholds need 0 < close < open <= 1, got %+v", ErrInvalidConfig, c.Eyes)
	}
	if c.Distance.Area <= 0 || c.Distance.DistanceCm <= 0 {
		return fmt.Errorf("%w: distance reference must be positive, got %+v", ErrInvalidConfig, c.Distance)
	}
	if _, err := parseLanguage(c.Language); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func validatePose(name string, p PoseThresholds) error {
	if p.Yaw <= 0 || p.Pitch <= 0 || p.Roll <= 0 {
		return fmt.Errorf("%w: %s pose thresholds must be positive, got %+v", ErrInvalidConfig, name, p)
	}
	return nil
}

func validateBand(name string, b DistanceBand) error {
	if b.MinCm < 0 || b.MaxCm <= b.MinCm {
		return fmt.Errorf("%w: %s band must satisfy 0 <= min < max, got %+v", ErrInvalidConfig, name, b)
	}
	return nil
}
