package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/geocrypt/internal/storage"
	"github.com/org/geocrypt/pkg/models"
)

// Logger writes the append-only access trail. Decisions are recorded before
// their outcome is returned to the caller, denials included.
type Logger struct {
	store storage.Store
}

// NewLogger creates an audit Logger.
func NewLogger(store storage.Store) *Logger {
	return &Logger{store: store}
}

// Record persists one decision entry. File contents and credentials must
// never be passed here, only metadata. A storage failure is logged but does
// not break the request flow.
func (l *Logger) Record(ctx context.Context, entry *models.AccessLog) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := l.store.WriteAccessLog(ctx, entry); err != nil {
		log.Error().Err(err).
			Str("username", entry.Username).
			Str("action", entry.Action).
			Msg("failed to write access log entry")
	}
}

// Auth records a login/logout event without a file reference.
func (l *Logger) Auth(ctx context.Context, username, action string, success bool, reason string) {
	l.Record(ctx, &models.AccessLog{
		Username: username,
		Action:   action,
		Success:  success,
		Reason:   reason,
	})
}

// Query retrieves paginated access-log entries for the admin surface.
func (l *Logger) Query(ctx context.Context, filter storage.LogFilter) ([]*models.AccessLog, error) {
	return l.store.QueryAccessLogs(ctx, filter)
}
