package models

// Answer is one option of a question. IsCorrect is used by multiple_choice,
// MatchingText by matching. Drawing questions carry no answers.
type Answer struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	QuestionID   uint   `gorm:"not null;index" json:"question_id"`
	Text         string `gorm:"size:500;not null" json:"text"`
	IsCorrect    bool   `gorm:"not null;default:false" json:"is_correct"`
	MatchingText string `gorm:"size:500" json:"matching_text,omitempty"`
}
