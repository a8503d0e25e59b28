package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SessionStatusPending = "pending"
	SessionStatusStarted = "started"
	SessionStatusEnded   = "ended"
)

// SessionData is the mutable gameplay state stored in the session_data column.
// CompletedQuestions only grows.
type SessionData struct {
	CurrentQuestion      *uint      `json:"current_question,omitempty"`
	CurrentQuestionIndex *int       `json:"current_question_index,omitempty"`
	CompletedQuestions   []uint     `json:"completed_questions"`
	QuestionStartedAt    *time.Time `json:"question_started_at,omitempty"`
}

type Session struct {
	ID           uint                            `gorm:"primaryKey" json:"id"`
	Code         string                          `gorm:"size:6;uniqueIndex;not null" json:"code"`
	GameID       uint                            `gorm:"not null;index" json:"game_id"`
	Game         Game                            `gorm:"foreignKey:GameID" json:"game,omitempty"`
	HostID       uint                            `gorm:"not null;index" json:"host_id"`
	Status       string                          `gorm:"size:20;not null;default:'pending'" json:"status"`
	Data         datatypes.JSONType[SessionData] `gorm:"column:session_data" json:"session_data"`
	Version      int                             `gorm:"not null;default:1" json:"version"`
	Participants []Participant                   `gorm:"foreignKey:SessionID" json:"participants,omitempty"`
	Submissions  []ParticipantAnswer             `gorm:"foreignKey:SessionID" json:"participant_answers,omitempty"`
	CreatedAt    time.Time                       `json:"created_at"`
	UpdatedAt    time.Time                       `json:"updated_at"`
	StartedAt    *time.Time                      `json:"started_at,omitempty"`
	EndedAt      *time.Time                      `json:"ended_at,omitempty"`
}

// State returns the decoded session_data column.
func (s *Session) State() SessionData {
	return s.Data.Data()
}

// Participant returns the participant of s with the given id.
func (s *Session) Participant(id string) (*Participant, bool) {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return &s.Participants[i], true
		}
	}
	return nil, false
}
