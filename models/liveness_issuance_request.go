package models

import "time"

type LivenessIssuanceRequest struct {
	Quality   string    `json:"quality"`
	CheckedAt time.Time `json:"checked_at"`
	Selfie    string    `json:"selfie,omitempty"` // base64 PNG of the accepted frame
}
