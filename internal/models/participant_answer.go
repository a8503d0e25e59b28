package models

import (
	"time"

	"gorm.io/datatypes"
)

// ParticipantAnswer is the append-only submission log. One row per (participant, question).
type ParticipantAnswer struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	SessionID     uint           `gorm:"not null;index" json:"session_id"`
	ParticipantID string         `gorm:"size:64;not null;uniqueIndex:idx_participant_question" json:"participant_id"`
	QuestionID    uint           `gorm:"not null;uniqueIndex:idx_participant_question" json:"question_id"`
	AnswerType    QuestionType   `gorm:"size:32;not null" json:"answer_type"`
	Content       datatypes.JSON `json:"content"`
	TimeLeft      float64        `gorm:"not null;default:0" json:"time_left"`
	Score         int            `gorm:"not null;default:0" json:"score"`
	CreatedAt     time.Time      `json:"created_at"`
}
