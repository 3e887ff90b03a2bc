package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// LogWriter persists one job log record.
type LogWriter interface {
	InsertLog(ctx context.Context, jobID uuid.UUID, ts time.Time, level, message string, metadata []byte) error
}

// DBLogHandler is a slog.Handler that writes a job's records to the
// research_logs table and forwards them to next, usually the console.
type DBLogHandler struct {
	store LogWriter
	jobID uuid.UUID
	next  slog.Handler
	attrs []slog.Attr
}

func NewDBLogHandler(store LogWriter, jobID uuid.UUID, next slog.Handler) *DBLogHandler {
	return &DBLogHandler{store: store, jobID: jobID, next: next}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo || (h.next != nil && h.next.Enabled(ctx, level))
}

func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		_ = h.next.Handle(ctx, r.Clone())
	}
	if r.Level < slog.LevelInfo {
		return nil
	}

	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = attrValue(a.Value)
		return true
	})

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		metaJSON = []byte("{}")
	}

	// Detached from ctx: a cancelled job still gets its last lines recorded.
	return h.store.InsertLog(context.WithoutCancel(ctx), h.jobID, r.Time, r.Level.String(), r.Message, metaJSON)
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	if h.next != nil {
		clone.next = h.next.WithAttrs(attrs)
	}
	return &clone
}

// WithGroup only affects the forwarded handler; stored metadata stays flat.
func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if h.next != nil {
		clone.next = h.next.WithGroup(name)
	}
	return &clone
}

// attrValue keeps errors readable once marshalled.
func attrValue(v slog.Value) any {
	v = v.Resolve()
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	if v.Kind() == slog.KindDuration {
		return v.Duration().String()
	}
	return v.Any()
}
