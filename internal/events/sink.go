// Package events implements the audit event sink: every emitted event goes to
// the process logger and, best-effort, to the persistent log store.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-pusher-service/pkg/pusher"
)

// LogStore is the subset of the storage layer the sink needs.
type LogStore interface {
	AppendLog(ctx context.Context, entry pusher.LogEntry) (int64, error)
}

// Sink writes events to slog and mirrors them into the log store when one is
// configured. Store failures are logged and swallowed: losing an audit row
// must never fail the operation that emitted it.
type Sink struct {
	store  LogStore
	logger *slog.Logger
}

// NewSink creates the sink. A nil store disables persistence.
func NewSink(store LogStore, logger *slog.Logger) *Sink {
	return &Sink{
		store:  store,
		logger: logger.With("component", "EventSink"),
	}
}

func (s *Sink) Emit(ctx context.Context, level slog.Level, message, source string, metadata map[string]any) {
	s.logger.Log(ctx, level, message, "source", source, "metadata", metadata)

	if s.store == nil {
		return
	}
	entry := pusher.LogEntry{
		Level:     levelName(level),
		Message:   message,
		Source:    source,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}
	if _, err := s.store.AppendLog(ctx, entry); err != nil {
		s.logger.Error("Failed to persist event", "err", err)
	}
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
