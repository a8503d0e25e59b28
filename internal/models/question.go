package models

type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeMatching       QuestionType = "matching"
	QuestionTypeDrawing        QuestionType = "drawing"
)

func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeMultipleChoice, QuestionTypeMatching, QuestionTypeDrawing:
		return true
	}
	return false
}

type Question struct {
	ID       uint         `gorm:"primaryKey" json:"id"`
	GameID   uint         `gorm:"not null;index" json:"game_id"`
	Index    int          `gorm:"column:question_index;not null" json:"index"`
	Type     QuestionType `gorm:"size:32;not null" json:"type"`
	Text     string       `gorm:"type:text;not null" json:"text"`
	MediaURL string       `gorm:"size:500" json:"media_url,omitempty"`
	// Time is the time limit in whole seconds.
	Time    int      `gorm:"not null" json:"time"`
	Answers []Answer `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE" json:"answers,omitempty"`
}

func (q *Question) AnswerByID(id uint) (*Answer, bool) {
	for i := range q.Answers {
		if q.Answers[i].ID == id {
			return &q.Answers[i], true
		}
	}
	return nil, false
}
