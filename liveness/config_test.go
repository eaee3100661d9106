package liveness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero calibration window", func(c *Config) { c.CalibrationWindow = 0 }},
		{"negative smoothing window", func(c *Config) { c.SmoothingWindow = -5 }},
		{"negative dwell", func(c *Config) { c.MinPositioningDwellMs = -1 }},
		{"negative stall timeout", func(c *Config) { c.StallTimeoutMs = -1 }},
		{"fallback yaw stricter than strict", func(c *Config) { c.FallbackPose.Yaw = 4 }},
		{"fallback roll stricter than strict", func(c *Config) { c.FallbackPose.Roll = 9 }},
		{"zero strict pitch", func(c *Config) { c.StrictPose.Pitch = 0 }},
		{"inverted ideal band", func(c *Config) { c.IdealDistance = DistanceBand{MinCm: 50, MaxCm: 20} }},
		{"negative positioning band", func(c *Config) { c.PositioningDistance.MinCm = -1 }},
		{"center factor below one", func(c *Config) { c.PositioningCenterFactor = 0.5 }},
		{"zero rotation magnitude", func(c *Config) { c.Rotation.Magnitude = 0 }},
		{"close above open", func(c *Config) { c.Eyes = EyeThresholds{Close: 0.8, Open: 0.7} }},
		{"zero distance reference", func(c *Config) { c.Distance.Area = 0 }},
		{"unsupported language", func(c *Config) { c.Language = "fr" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestConfigOverlayKeepsDefaults(t *testing.T) {
	cfg := DefaultConfig()
	err := json.Unmarshal([]byte(`{"calibration_window": 20, "strict_pose": {"yaw": 4, "pitch": 4, "roll": 9}}`), &cfg)
	require.NoError(t, err)

	require.Equal(t, 20, cfg.CalibrationWindow)
	require.Equal(t, PoseThresholds{Yaw: 4, Pitch: 4, Roll: 9}, cfg.StrictPose)
	require.Equal(t, 5, cfg.SmoothingWindow)
	require.Equal(t, int64(5000), cfg.MinPositioningDwellMs)
	require.NoError(t, cfg.Validate())
}

func TestLocalizer(t *testing.T) {
	en, err := NewLocalizer("en")
	require.NoError(t, err)
	require.Equal(t, "Hold still while we calibrate (7)", en.Text(InstructionCalibrating, 7))
	require.Equal(t, "Look straight ahead", en.Text(InstructionLookStraight))
	require.Equal(t, "", en.Text(InstructionNone))

	nl, err := NewLocalizer("nl-NL")
	require.NoError(t, err)
	require.Equal(t, "Blijf stil, we kalibreren (7)", nl.Text(InstructionCalibrating, 7))
	require.Equal(t, "Beweeg je hoofd langzaam in een cirkel (3 van 8)", nl.Text(InstructionRotateHead, 3, 8))

	_, err = NewLocalizer("xx-invalid-tag-!")
	require.Error(t, err)
}
