package liveness

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrontalPoseValidator_Validate(t *testing.T) {
	v := NewFrontalPoseValidator(DefaultConfig())

	tests := []struct {
		name             string
		yaw, pitch, roll float64
		distance         float64
		wantTier         Tier
		wantAxis         Axis
		wantInstruction  Instruction
	}{
		{"frontal", 2, 1, 1, 30, TierStrict, AxisNone, InstructionNone},
		{"slight yaw", 7, 0, 0, 30, TierFallback, AxisNone, InstructionNone},
		{"slight roll", 4, 4, 11, 30, TierFallback, AxisNone, InstructionNone},
		{"turned", 9, 0, 0, 30, TierReject, AxisYaw, InstructionLookStraight},
		{"nodding", 0, -9, 0, 30, TierReject, AxisPitch, InstructionKeepHeadLevel},
		{"tilted", 0, 0, 13, 30, TierReject, AxisRoll, InstructionDontTilt},
		{"too far", 0, 0, 0, 55, TierReject, AxisDistance, InstructionMoveCloser},
		{"too close", 3, 3, 3, 15, TierReject, AxisDistance, InstructionMoveAway},
		{"yaw wins over everything", 9, 9, 13, 80, TierReject, AxisYaw, InstructionLookStraight},
		{"pitch wins over roll", 1, 8, 20, 30, TierReject, AxisPitch, InstructionKeepHeadLevel},
		{"band edges are inclusive", 0, 0, 0, 50, TierStrict, AxisNone, InstructionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(tt.yaw, tt.pitch, tt.roll, tt.distance)
			require.Equal(t, tt.wantTier, verdict.Tier)
			require.Equal(t, tt.wantAxis, verdict.Axis)
			require.Equal(t, tt.wantInstruction, verdict.Instruction)
		})
	}
}

func TestFrontalPoseValidator_Positioned(t *testing.T) {
	v := NewFrontalPoseValidator(DefaultConfig())

	tests := []struct {
		name             string
		yaw, pitch, roll float64
		distance         float64
		accepted         bool
		wantInstruction  Instruction
	}{
		{"roughly centred", 14, -14, 25, 55, true, InstructionHoldPosition},
		{"yaw off centre", 15, 0, 0, 30, false, InstructionCenterFace},
		{"pitch off centre", 0, -16, 0, 30, false, InstructionCenterFace},
		{"head tilted", 0, 0, 31, 30, false, InstructionStraightenHead},
		{"too far", 0, 0, 0, 65, false, InstructionMoveCloser},
		{"too close", 0, 0, 0, 10, false, InstructionMoveAway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Positioned(tt.yaw, tt.pitch, tt.roll, tt.distance)
			require.Equal(t, tt.accepted, verdict.Tier.Accepted())
			require.Equal(t, tt.wantInstruction, verdict.Instruction)
		})
	}
}

func TestFrontalPoseValidator_EstimateDistance(t *testing.T) {
	v := NewFrontalPoseValidator(DefaultConfig())

	require.InDelta(t, 30, v.EstimateDistance(0.16), 1e-4)
	require.InDelta(t, 60, v.EstimateDistance(0.04), 1e-4)
	require.InDelta(t, 15, v.EstimateDistance(0.64), 1e-4)
	require.True(t, math.IsInf(v.EstimateDistance(0), 1))
	require.True(t, math.IsInf(v.EstimateDistance(-1), 1))
}

func TestTierQuality(t *testing.T) {
	require.Equal(t, "optimal", TierStrict.Quality())
	require.Equal(t, "acceptable", TierFallback.Quality())
	require.Equal(t, "", TierReject.Quality())
	require.False(t, TierReject.Accepted())
}
