package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const (
	ctxKeyMeetingID     ctxKey = "meeting_id"
	ctxKeyParticipantID ctxKey = "participant_id"
)

// WithMeeting stamps meeting identity onto a context so downstream log lines
// carry it.
func WithMeeting(ctx context.Context, meetingID, participantID string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyMeetingID, meetingID)
	return context.WithValue(ctx, ctxKeyParticipantID, participantID)
}

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *zap.Logger
}

// NewContextLogger creates a new context logger
func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext adds meeting identity fields from the context, when present.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	if v := ctx.Value(ctxKeyMeetingID); v != nil {
		if id, ok := v.(string); ok {
			fields = append(fields, zap.String("meeting_id", id))
		}
	}
	if v := ctx.Value(ctxKeyParticipantID); v != nil {
		if id, ok := v.(string); ok {
			fields = append(fields, zap.String("participant_id", id))
		}
	}

	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// WithError adds error to logger
func (cl *ContextLogger) WithError(err error) *zap.Logger {
	return cl.logger.With(zap.Error(err))
}
