package models

import "time"

// UsageWindow is the fixed-window admission counter for one subject.
// The subject key is a user id, or an opaque client-supplied key for guests.
// The record is created lazily on the first consumption attempt and reset
// wholesale when the window elapses.
type UsageWindow struct {
	SubjectKey  string    `json:"subject_key"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	LastUpdated time.Time `json:"last_updated"`
}
