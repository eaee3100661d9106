package models

import (
	"time"

	"go-liveness-issuer/liveness"
)

type SessionRequest struct {
	SessionId string `json:"session_id"`
	Nonce     string `json:"nonce"`
}

// ObservationRequest carries the detector output for one camera frame.
// Pose angles are in degrees, eye openness and the bounding box area are
// normalised to [0, 1].
type ObservationRequest struct {
	SessionId       string   `json:"session_id"`
	Nonce           string   `json:"nonce"`
	HasFace         bool     `json:"has_face"`
	Yaw             float64  `json:"yaw"`
	Pitch           float64  `json:"pitch"`
	Roll            float64  `json:"roll"`
	LeftEyeOpen     *float32 `json:"left_eye_open,omitempty"`
	RightEyeOpen    *float32 `json:"right_eye_open,omitempty"`
	BoundingBoxArea float32  `json:"bounding_box_area"`
	TimestampMs     int64    `json:"timestamp_ms"`
	Frame           string   `json:"frame,omitempty"` // Base64 encoded JPEG, PNG or JPEG 2000
}

// Observation converts the request into detector input. The frame is left
// to the caller, which owns the frame bytes.
func (o ObservationRequest) Observation() liveness.FaceObservation {
	return liveness.FaceObservation{
		HasFace:         o.HasFace,
		Yaw:             o.Yaw,
		Pitch:           o.Pitch,
		Roll:            o.Roll,
		LeftEyeOpen:     o.LeftEyeOpen,
		RightEyeOpen:    o.RightEyeOpen,
		BoundingBoxArea: o.BoundingBoxArea,
		Timestamp:       time.UnixMilli(o.TimestampMs),
	}
}
