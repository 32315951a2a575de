package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkarjala/foewatch-go/internal/logging"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// slow query threshold for the GORM logger
const defaultSlowQueryThreshold = 1 * time.Second

// performAutoMigration runs GORM auto-migration for all entities.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&Detection{},
		&DeterrentAttempt{},
		&SoundEffectiveness{},
		&DiagnosticEvent{},
		&CameraState{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		logging.Debug("database connection initialized", "type", dbType, "connection", connectionInfo)
	}
	return nil
}

// createGormLogger configures and returns a new GORM logger instance that
// routes database log output through the application's structured logger.
func createGormLogger() gormlogger.Interface {
	return &slogGormLogger{
		logger:        logging.ForService("datastore"),
		slowThreshold: defaultSlowQueryThreshold,
	}
}

// slogGormLogger adapts slog to the gorm logger interface.
type slogGormLogger struct {
	logger        *slog.Logger
	slowThreshold time.Duration
}

func (l *slogGormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return l }

func (l *slogGormLogger) Info(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, fmt.Sprintf(msg, args...))
}

func (l *slogGormLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, fmt.Sprintf(msg, args...))
}

func (l *slogGormLogger) Error(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...))
}

func (l *slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	switch {
	case err != nil && err != gorm.ErrRecordNotFound:
		sql, rows := fc()
		l.logger.ErrorContext(ctx, "query failed", "error", err, "sql", sql, "rows", rows, "elapsed", elapsed)
	case elapsed > l.slowThreshold:
		sql, rows := fc()
		l.logger.WarnContext(ctx, "slow query", "sql", sql, "rows", rows, "elapsed", elapsed)
	}
}
