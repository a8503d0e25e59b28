package models

import "time"

// Participant ids are generated by the client and are opaque to the server.
type Participant struct {
	ID        string `gorm:"primaryKey;size:64" json:"id"`
	SessionID uint   `gorm:"not null;index" json:"session_id"`
	Nickname  string `gorm:"size:100;not null" json:"nickname"`
	Score     int    `gorm:"not null;default:0" json:"score"`
	// Version grows by one on every write to the row.
	Version   int                 `gorm:"not null;default:1" json:"version"`
	Answers   []ParticipantAnswer `gorm:"foreignKey:ParticipantID" json:"answers,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}
