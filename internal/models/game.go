package models

import "time"

// Game is the authored template a session plays through. Questions occupy indexes 0..N-1.
type Game struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	HostID      uint       `gorm:"not null;index" json:"host_id"`
	Host        Host       `gorm:"foreignKey:HostID;constraint:OnDelete:CASCADE" json:"-"`
	Title       string     `gorm:"size:255;not null" json:"title"`
	Description string     `gorm:"type:text" json:"description,omitempty"`
	Questions   []Question `gorm:"foreignKey:GameID;constraint:OnDelete:CASCADE" json:"questions,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// QuestionByID returns the question of g with the given id.
func (g *Game) QuestionByID(id uint) (*Question, bool) {
	for i := range g.Questions {
		if g.Questions[i].ID == id {
			return &g.Questions[i], true
		}
	}
	return nil, false
}
