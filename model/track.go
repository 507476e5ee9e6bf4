package model

import "time"

// Track represents an uploaded practice track.
type Track struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	Title      string    `json:"title"`
	Artist     string    `json:"artist"`
	ObjectPath string    `json:"-"`        // Object-storage path, not exposed in API directly
	Duration   float32   `json:"duration"` // Duration in seconds
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
