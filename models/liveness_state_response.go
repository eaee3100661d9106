package models

type StartSessionResponse struct {
	SessionId string                `json:"session_id"`
	Nonce     string                `json:"nonce"`
	State     *SessionStateResponse `json:"state"`
}

type SessionStateResponse struct {
	Stage                string  `json:"stage"`
	Instruction          string  `json:"instruction"`
	InstructionText      string  `json:"instruction_text"`
	Coverage             []bool  `json:"coverage"`
	CoveredSegments      int     `json:"covered_segments"`
	VisitedSegments      []int   `json:"visited_segments"`
	BlinkConfirmed       bool    `json:"blink_confirmed"`
	Completed            bool    `json:"completed"`
	FaceVisible          bool    `json:"face_visible"`
	CalibrationRemaining int     `json:"calibration_remaining"`
	Quality              string  `json:"quality,omitempty"` // "optimal" or "acceptable" once completed
	AcceptedFrame        *string `json:"accepted_frame,omitempty"`
	Stalled              bool    `json:"stalled"`
}
