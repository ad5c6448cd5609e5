package audit

import (
	"context"
	"time"

	"guardian/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

type Logger struct {
	store  *storage.Store
	logger *zap.Logger
	notify func(context.Context, storage.AuditLog)
}

func NewLogger(store *storage.Store, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

// SetNotifier installs a channel-mirror callback. It runs detached so a slow
// or failing Discord send can never block the flow that produced the entry.
func (l *Logger) SetNotifier(notify func(context.Context, storage.AuditLog)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, level, userID, event, details string) {
	entry := storage.AuditLog{
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: time.Now(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit persist failed", zap.Error(err))
		}
	}
	if l.notify != nil {
		notify := l.notify
		go func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error("audit notifier panicked", zap.Any("panic", r))
				}
			}()
			notify(context.Background(), entry)
		}()
	}
	l.logger.Info("audit", zap.String("level", level), zap.String("user_id", userID), zap.String("event", event), zap.String("details", details))
}
