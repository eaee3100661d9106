package liveness

import (
	"fmt"
	"log/slog"
	"time"
)

type Stage int

const (
	StageInitialInstructions Stage = iota
	StageCapturePhoto
	StageCalibrating
	StageSelfieCapture
	StageGuidedCoverage
	StageBlinkConfirmation
	StageCompleted
)

var stageNames = [...]string{
	StageInitialInstructions: "initial_instructions",
	StageCapturePhoto:        "capture_photo",
	StageCalibrating:         "calibrating",
	StageSelfieCapture:       "selfie_capture",
	StageGuidedCoverage:      "guided_coverage",
	StageBlinkConfirmation:   "blink_confirmation",
	StageCompleted:           "completed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	for stage, name := range stageNames {
		if name == string(text) {
			*s = Stage(stage)
			return nil
		}
	}
	return fmt.Errorf("unknown liveness stage %q", text)
}

// FrameHandle is an opaque reference to a camera frame, assigned by whoever
// owns the frame bytes.
type FrameHandle string

// FaceObservation is the detector output for one analysed frame.
type FaceObservation struct {
	HasFace         bool
	Yaw             float64
	Pitch           float64
	Roll            float64
	LeftEyeOpen     *float32
	RightEyeOpen    *float32
	BoundingBoxArea float32
	Timestamp       time.Time
	Frame           FrameHandle
}

func (o FaceObservation) hasEyeData() bool {
	return o.LeftEyeOpen != nil || o.RightEyeOpen != nil
}

// SessionState is the snapshot returned after every processed observation.
// VisitedSegments lists the covered segments in the order they were reached.
type SessionState struct {
	Stage                Stage
	Instruction          Instruction
	InstructionText      string
	Coverage             [SegmentCount]bool
	CoveredSegments      int
	VisitedSegments      []int
	BlinkConfirmed       bool
	Completed            bool
	FaceVisible          bool
	CalibrationRemaining int
	// Tier and AcceptedFrame are only set once the session is completed.
	Tier          Tier
	AcceptedFrame *FrameHandle
	Stalled       bool
}

// Session is the state of one liveness attempt. It is not safe for
// concurrent use; Controller adds the access guard.
type Session struct {
	cfg         Config
	validator   *FrontalPoseValidator
	calibration *CalibrationTracker
	coverage    *SegmentCoverage
	eyes        *EyeStateDetector
	localizer   *Localizer
	log         *slog.Logger

	stage             Stage
	stageEnteredAt    time.Time
	coverageStartedAt time.Time
	lastSeen          time.Time
	baseline          CalibrationBaseline
	blinkConfirmed    bool
	faceVisible       bool
	candidateFrame    *FrameHandle
	acceptedFrame     *FrameHandle
	acceptedTier      Tier
	instruction       Instruction
	instructionArgs   []any
}

func NewSession(cfg Config, log *slog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	localizer, err := NewLocalizer(cfg.Language)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Session{
		cfg:         cfg,
		validator:   NewFrontalPoseValidator(cfg),
		calibration: NewCalibrationTracker(cfg.CalibrationWindow),
		coverage:    NewSegmentCoverage(cfg.SmoothingWindow, cfg.Rotation),
		eyes:        NewEyeStateDetector(cfg.Eyes),
		localizer:   localizer,
		log:         log,
	}
	s.Reset()
	return s, nil
}

// Reset discards all progress and returns to the initial instructions.
func (s *Session) Reset() {
	s.stage = StageInitialInstructions
	s.stageEnteredAt = time.Time{}
	s.coverageStartedAt = time.Time{}
	s.lastSeen = time.Time{}
	s.baseline = CalibrationBaseline{}
	s.blinkConfirmed = false
	s.faceVisible = false
	s.candidateFrame = nil
	s.acceptedFrame = nil
	s.acceptedTier = TierReject
	s.calibration.Reset()
	s.coverage.Reset()
	s.eyes.Reset()
	s.instruct(InstructionPositionFace)
}

func (s *Session) Stage() Stage {
	return s.stage
}

func (s *Session) Completed() bool {
	return s.stage == StageCompleted
}

func (s *Session) Baseline() CalibrationBaseline {
	return s.baseline
}

// CandidateFrame is the best effort frame recorded while capturing the photo.
// It is dropped once the selfie is accepted.
func (s *Session) CandidateFrame() *FrameHandle {
	return s.candidateFrame
}

// RetainedFrames lists the frame handles the session may still report as
// accepted. Frames outside this list can be released by their owner.
func (s *Session) RetainedFrames() []FrameHandle {
	var frames []FrameHandle
	if s.candidateFrame != nil {
		frames = append(frames, *s.candidateFrame)
	}
	if s.acceptedFrame != nil {
		frames = append(frames, *s.acceptedFrame)
	}
	return frames
}

// Process applies one observation and returns the resulting state.
func (s *Session) Process(obs FaceObservation) SessionState {
	if s.stage == StageCompleted {
		return s.State()
	}
	if obs.Timestamp.After(s.lastSeen) {
		s.lastSeen = obs.Timestamp
	}

	if !obs.HasFace {
		s.handleFaceLoss(obs)
		return s.State()
	}

	s.faceVisible = true
	if s.stageEnteredAt.IsZero() {
		s.stageEnteredAt = obs.Timestamp
	}
	distance := s.validator.EstimateDistance(obs.BoundingBoxArea)

	switch s.stage {
	case StageInitialInstructions:
		s.processPositioning(obs, distance)
	case StageCapturePhoto:
		s.processCapturePhoto(obs, distance)
	case StageCalibrating:
		s.processCalibration(obs)
	case StageSelfieCapture:
		s.processSelfie(obs, distance)
	case StageGuidedCoverage:
		s.processCoverage(obs, distance)
	case StageBlinkConfirmation:
		s.processBlink(obs, distance)
	}
	return s.State()
}

func (s *Session) processPositioning(obs FaceObservation, distance float64) {
	verdict := s.validator.Positioned(obs.Yaw, obs.Pitch, obs.Roll, distance)
	if !verdict.Tier.Accepted() {
		s.instruct(verdict.Instruction)
		return
	}
	if obs.Timestamp.Sub(s.stageEnteredAt) < s.cfg.PositioningDwell() {
		s.instruct(InstructionHoldPosition)
		return
	}
	s.enter(StageCapturePhoto, obs.Timestamp)
	s.instruct(InstructionCapturing)
}

func (s *Session) processCapturePhoto(obs FaceObservation, distance float64) {
	verdict := s.validator.Validate(obs.Yaw, obs.Pitch, obs.Roll, distance)
	if verdict.Tier.Accepted() {
		s.candidateFrame = frameRef(obs.Frame)
	} else {
		s.log.Debug("Capture photo frame not frontal, continuing without it", "axis", verdict.Axis)
	}
	s.calibration.Reset()
	s.enter(StageCalibrating, obs.Timestamp)
	s.instruct(InstructionCalibrating, s.calibration.Remaining())
}

func (s *Session) processCalibration(obs FaceObservation) {
	baseline, ok := s.calibration.Observe(obs.Yaw, obs.Pitch)
	if !ok {
		s.instruct(InstructionCalibrating, s.calibration.Remaining())
		return
	}
	s.baseline = baseline
	s.log.Debug("Calibration baseline ready", "yaw", baseline.Yaw, "pitch", baseline.Pitch)
	s.enter(StageSelfieCapture, obs.Timestamp)
	s.instruct(InstructionLookStraight)
}

func (s *Session) processSelfie(obs FaceObservation, distance float64) {
	verdict := s.validator.Validate(obs.Yaw, obs.Pitch, obs.Roll, distance)
	if !verdict.Tier.Accepted() {
		s.log.Debug("Selfie frame rejected", "axis", verdict.Axis)
		s.instruct(verdict.Instruction)
		return
	}
	s.acceptedFrame = frameRef(obs.Frame)
	s.acceptedTier = verdict.Tier
	s.candidateFrame = nil
	s.coverageStartedAt = obs.Timestamp
	s.enter(StageGuidedCoverage, obs.Timestamp)
	s.instruct(InstructionRotateHead, s.coverage.Count(), SegmentCount)
}

func (s *Session) processCoverage(obs FaceObservation, distance float64) {
	if segment, ok := s.coverage.Observe(obs.Yaw-s.baseline.Yaw, obs.Pitch-s.baseline.Pitch); ok {
		s.log.Debug("Rotation segment reached", "segment", segment, "covered", s.coverage.Count())
	}
	s.updateEyes(obs)

	if !s.coverage.Complete() {
		s.instruct(InstructionRotateHead, s.coverage.Count(), SegmentCount)
		return
	}
	if s.blinkConfirmed {
		s.attemptCompletion(obs, distance)
		return
	}
	s.enter(StageBlinkConfirmation, obs.Timestamp)
	s.instruct(InstructionBlink)
}

func (s *Session) processBlink(obs FaceObservation, distance float64) {
	s.updateEyes(obs)
	if !s.blinkConfirmed {
		s.instruct(InstructionBlink)
		return
	}
	s.attemptCompletion(obs, distance)
}

func (s *Session) updateEyes(obs FaceObservation) {
	if !obs.hasEyeData() {
		return
	}
	if s.eyes.Update(obs.LeftEyeOpen, obs.RightEyeOpen) && !s.blinkConfirmed {
		s.blinkConfirmed = true
		s.log.Debug("Blink confirmed", "stage", s.stage)
	}
}

// attemptCompletion accepts the current frame if it is frontal. A rejected
// frame keeps the stage and the blink, so a later frame can still finish.
func (s *Session) attemptCompletion(obs FaceObservation, distance float64) {
	verdict := s.validator.Validate(obs.Yaw, obs.Pitch, obs.Roll, distance)
	if !verdict.Tier.Accepted() {
		s.log.Debug("Completion frame rejected", "axis", verdict.Axis, "stage", s.stage)
		s.instruct(completionGuidance(verdict))
		return
	}

	// Without a handle for the current frame the selfie frame stays accepted.
	if ref := frameRef(obs.Frame); ref != nil {
		s.acceptedFrame = ref
	}
	s.acceptedTier = verdict.Tier
	s.enter(StageCompleted, obs.Timestamp)
	s.instruct(InstructionCompleted)
}

// completionGuidance asks a turned head to face the camera. Roll and distance
// problems keep the validator's own instruction.
func completionGuidance(verdict Verdict) Instruction {
	switch verdict.Axis {
	case AxisYaw, AxisPitch:
		return InstructionFaceCamera
	default:
		return verdict.Instruction
	}
}

func (s *Session) handleFaceLoss(obs FaceObservation) {
	s.faceVisible = false
	switch s.stage {
	case StageInitialInstructions, StageCapturePhoto, StageCalibrating:
		if s.stage != StageInitialInstructions {
			s.log.Info("Face lost, restarting liveness flow", "stage", s.stage)
		}
		s.stage = StageInitialInstructions
		s.stageEnteredAt = obs.Timestamp
		s.candidateFrame = nil
		s.calibration.Reset()
		s.instruct(InstructionPositionFace)
	default:
		s.instruct(InstructionNoFace)
	}
}

func (s *Session) enter(stage Stage, at time.Time) {
	s.log.Info("Liveness stage changed", "from", s.stage, "to", stage)
	s.stage = stage
	s.stageEnteredAt = at
}

func (s *Session) instruct(key Instruction, args ...any) {
	s.instruction = key
	s.instructionArgs = args
}

// State returns a snapshot of the session without processing anything.
func (s *Session) State() SessionState {
	state := SessionState{
		Stage:                s.stage,
		Instruction:          s.instruction,
		InstructionText:      s.localizer.Text(s.instruction, s.instructionArgs...),
		Coverage:             s.coverage.Covered(),
		CoveredSegments:      s.coverage.Count(),
		VisitedSegments:      s.coverage.Visited(),
		BlinkConfirmed:       s.blinkConfirmed,
		Completed:            s.stage == StageCompleted,
		FaceVisible:          s.faceVisible,
		CalibrationRemaining: s.calibration.Remaining(),
		Stalled:              s.stalled(),
	}
	if state.Completed {
		state.Tier = s.acceptedTier
		if s.acceptedFrame != nil {
			frame := *s.acceptedFrame
			state.AcceptedFrame = &frame
		}
	}
	return state
}

func (s *Session) stalled() bool {
	timeout := s.cfg.StallTimeout()
	if timeout <= 0 || s.coverageStartedAt.IsZero() {
		return false
	}
	if s.stage != StageGuidedCoverage && s.stage != StageBlinkConfirmation {
		return false
	}
	return s.lastSeen.Sub(s.coverageStartedAt) > timeout
}

func frameRef(handle FrameHandle) *FrameHandle {
	if handle == "" {
		return nil
	}
	return &handle
}
