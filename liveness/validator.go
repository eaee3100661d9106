package liveness

import "math"

type Tier int

const (
	TierReject Tier = iota
	TierFallback
	TierStrict
)

func (t Tier) String() string {
	switch t {
	case TierStrict:
		return "strict"
	case TierFallback:
		return "fallback"
	default:
		return "reject"
	}
}

// Quality is how the accepted frame is presented to callers.
func (t Tier) Quality() string {
	switch t {
	case TierStrict:
		return "optimal"
	case TierFallback:
		return "acceptable"
	default:
		return ""
	}
}

func (t Tier) Accepted() bool {
	return t == TierStrict || t == TierFallback
}

type Axis int

const (
	AxisNone Axis = iota
	AxisYaw
	AxisPitch
	AxisRoll
	AxisDistance
)

func (a Axis) String() string {
	switch a {
	case AxisYaw:
		return "yaw"
	case AxisPitch:
		return "pitch"
	case AxisRoll:
		return "roll"
	case AxisDistance:
		return "distance"
	default:
		return "none"
	}
}

type Verdict struct {
	Tier        Tier
	Axis        Axis
	Instruction Instruction
}

// FrontalPoseValidator decides whether a frame is frontal enough to be used
// as the selfie.
type FrontalPoseValidator struct {
	strict       PoseThresholds
	fallback     PoseThresholds
	ideal        DistanceBand
	positioning  DistanceBand
	centerFactor float64
	maxRoll      float64
	distanceRef  DistanceReference
}

func NewFrontalPoseValidator(cfg Config) *FrontalPoseValidator {
	return &FrontalPoseValidator{
		strict:       cfg.StrictPose,
		fallback:     cfg.FallbackPose,
		ideal:        cfg.IdealDistance,
		positioning:  cfg.PositioningDistance,
		centerFactor: cfg.PositioningCenterFactor,
		maxRoll:      cfg.MaxPositioningRoll,
		distanceRef:  cfg.Distance,
	}
}

func (v *FrontalPoseValidator) Validate(yaw, pitch, roll, distanceCm float64) Verdict {
	if within(yaw, pitch, roll, v.strict) && v.ideal.Contains(distanceCm) {
		return Verdict{Tier: TierStrict}
	}
	if within(yaw, pitch, roll, v.fallback) && v.ideal.Contains(distanceCm) {
		return Verdict{Tier: TierFallback}
	}

	switch {
	case math.Abs(yaw) >= v.fallback.Yaw:
		return Verdict{Tier: TierReject, Axis: AxisYaw, Instruction: InstructionLookStraight}
	case math.Abs(pitch) >= v.fallback.Pitch:
		return Verdict{Tier: TierReject, Axis: AxisPitch, Instruction: InstructionKeepHeadLevel}
	case math.Abs(roll) >= v.fallback.Roll:
		return Verdict{Tier: TierReject, Axis: AxisRoll, Instruction: InstructionDontTilt}
	default:
		return Verdict{Tier: TierReject, Axis: AxisDistance, Instruction: distanceInstruction(distanceCm, v.ideal)}
	}
}

// Positioned is the looser check used before the flow starts: the face has
// to be roughly centred, upright and within the positioning distance band.
func (v *FrontalPoseValidator) Positioned(yaw, pitch, roll, distanceCm float64) Verdict {
	switch {
	case math.Abs(yaw) >= v.strict.Yaw*v.centerFactor || math.Abs(pitch) >= v.strict.Pitch*v.centerFactor:
		axis := AxisYaw
		if math.Abs(yaw) < v.strict.Yaw*v.centerFactor {
			axis = AxisPitch
		}
		return Verdict{Tier: TierReject, Axis: axis, Instruction: InstructionCenterFace}
	case math.Abs(roll) >= v.maxRoll:
		return Verdict{Tier: TierReject, Axis: AxisRoll, Instruction: InstructionStraightenHead}
	case !v.positioning.Contains(distanceCm):
		return Verdict{Tier: TierReject, Axis: AxisDistance, Instruction: distanceInstruction(distanceCm, v.positioning)}
	}
	return Verdict{Tier: TierStrict, Instruction: InstructionHoldPosition}
}

// EstimateDistance converts a face bounding box area, as a fraction of the
// frame, into centimetres. The apparent area falls off with the square of
// the distance. Unknown areas yield +Inf.
func (v *FrontalPoseValidator) EstimateDistance(area float32) float64 {
	return estimateDistance(float64(area), v.distanceRef)
}

func estimateDistance(area float64, ref DistanceReference) float64 {
	if area <= 0 || math.IsNaN(area) {
		return math.Inf(1)
	}
	return ref.DistanceCm * math.Sqrt(ref.Area/area)
}

func within(yaw, pitch, roll float64, t PoseThresholds) bool {
	return math.Abs(yaw) < t.Yaw && math.Abs(pitch) < t.Pitch && math.Abs(roll) < t.Roll
}

func distanceInstruction(cm float64, band DistanceBand) Instruction {
	if cm < band.MinCm {
		return InstructionMoveAway
	}
	return InstructionMoveCloser
}
