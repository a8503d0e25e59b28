package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"quiz-session-backend/internal/config"
	"quiz-session-backend/internal/logging"
	"quiz-session-backend/internal/models"
)

// Connect opens the configured database, retrying with exponential backoff while
// the server is not reachable yet.
func Connect(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(logging.StdLogger(logger, slog.LevelWarn), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 500 * time.Millisecond
	retry.MaxInterval = 10 * time.Second

	var db *gorm.DB
	attempt := 0
	open := func() error {
		attempt++
		var err error
		db, err = gorm.Open(dialector(cfg), gormCfg)
		if err != nil {
			logger.Warn("db_connect_failed", slog.Int("attempt", attempt), slog.Any("err", err))
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			logger.Warn("db_ping_failed", slog.Int("attempt", attempt), slog.Any("err", err))
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(retry, uint64(cfg.ConnectRetries-1)), ctx)
	if err := backoff.Retry(open, policy); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Driver == config.DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxOpenConns / 2)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	logger.Info("db_connected", slog.String("driver", cfg.Driver), slog.Int("attempts", attempt))
	return db, nil
}

func dialector(cfg config.DBConfig) gorm.Dialector {
	if cfg.Driver == config.DriverSQLite {
		return sqlite.Open(cfg.DSN())
	}
	return postgres.Open(cfg.DSN())
}

func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Host{},
		&models.Game{},
		&models.Question{},
		&models.Answer{},
		&models.Session{},
		&models.Participant{},
		&models.ParticipantAnswer{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// IsPostgres reports whether db talks to postgres. Row locks and isolation levels
// are only requested there.
func IsPostgres(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}
