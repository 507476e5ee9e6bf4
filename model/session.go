package model

import "time"

// PracticeSession persists one user's practice setup for a track: the
// section window, the overlay configuration, and the chosen anchor time.
// Beat timelines and derived events are never persisted; they are recomputed
// from analysis results.
type PracticeSession struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	UserID         int64     `json:"userId" gorm:"index;not null"`
	TrackID        int64     `json:"trackId" gorm:"index;not null"`
	SectionStart   float64   `json:"sectionStart" gorm:"not null"`
	SectionEnd     float64   `json:"sectionEnd" gorm:"not null"`
	AnchorTime     *float64  `json:"anchorTime,omitempty"`
	Mode           string    `json:"mode" gorm:"size:20;default:'click+voice'"`
	CountsPerCycle int       `json:"countsPerCycle" gorm:"default:8"`
	Subdivision    string    `json:"subdivision" gorm:"size:10;default:'none'"`
	ClickGain      float64   `json:"clickGain" gorm:"default:1"`
	VoiceGain      float64   `json:"voiceGain" gorm:"default:1"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TableName keeps the table name explicit.
func (PracticeSession) TableName() string {
	return "practice_sessions"
}
