package models

import (
	"time"

	"github.com/google/uuid"
)

// DeviceInfo is derived from the user agent with simple substring heuristics.
type DeviceInfo struct {
	Browser    string `json:"browser,omitempty"`
	OS         string `json:"os,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
}

// IsZero returns true if nothing could be derived.
func (d DeviceInfo) IsZero() bool {
	return d == DeviceInfo{}
}

// LocationInfo is optional coarse geo data supplied by the caller.
type LocationInfo struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// SignInRecord is an immutable audit row for one sign-in attempt.
type SignInRecord struct {
	ID            uuid.UUID     `json:"id"` // UUIDv7
	UserID        string        `json:"user_id"`
	Email         string        `json:"email"`
	Success       bool          `json:"success"`
	FailureReason string        `json:"failure_reason,omitempty"`
	SessionID     string        `json:"session_id,omitempty"`
	IPAddress     string        `json:"ip_address,omitempty"` // server observed only
	UserAgent     string        `json:"user_agent,omitempty"`
	DeviceInfo    DeviceInfo    `json:"device_info"`
	LocationInfo  *LocationInfo `json:"location_info,omitempty"`
	SignInAt      time.Time     `json:"sign_in_at"`
}

// SignInStats aggregates sign-in records over an optional date range.
type SignInStats struct {
	TotalSignIns      int `json:"total_sign_ins"`
	SuccessfulSignIns int `json:"successful_sign_ins"`
	FailedSignIns     int `json:"failed_sign_ins"`
	UniqueUsers       int `json:"unique_users"`
}
