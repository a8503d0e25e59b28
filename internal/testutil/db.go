// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"quiz-session-backend/internal/database"
	"quiz-session-backend/internal/models"
)

// NewDB returns a migrated in-memory SQLite database. It is limited to one
// connection so every query sees the same memory database.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := database.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	return db
}

// EnableForeignKeys turns on SQLite foreign key enforcement so deletes behave as
// they do on postgres.
func EnableForeignKeys(t testing.TB, db *gorm.DB) {
	t.Helper()
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		t.Fatal(err)
	}
}

// AnswerSpec describes one answer row of a fixture question.
type AnswerSpec struct {
	Text         string
	IsCorrect    bool
	MatchingText string
}

// QuestionSpec describes one fixture question. Index is assigned from slice position.
type QuestionSpec struct {
	Type    models.QuestionType
	Text    string
	Time    int
	Answers []AnswerSpec
}

// SeedGame creates a host and a game with the given questions.
func SeedGame(t testing.TB, db *gorm.DB, questions ...QuestionSpec) *models.Game {
	t.Helper()

	host := models.Host{Username: "host-" + t.Name(), PasswordHash: "x"}
	if err := db.Create(&host).Error; err != nil {
		t.Fatal(err)
	}

	game := models.Game{HostID: host.ID, Title: "fixture"}
	for i, q := range questions {
		question := models.Question{Index: i, Type: q.Type, Text: q.Text, Time: q.Time}
		if question.Text == "" {
			question.Text = "question"
		}
		for _, a := range q.Answers {
			question.Answers = append(question.Answers, models.Answer{
				Text:         a.Text,
				IsCorrect:    a.IsCorrect,
				MatchingText: a.MatchingText,
			})
		}
		game.Questions = append(game.Questions, question)
	}
	if err := db.Create(&game).Error; err != nil {
		t.Fatal(err)
	}
	return &game
}
