package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds operation-scoped logging fields.
type LogContext struct {
	TraceID   string
	SpanID    string
	Op        string // read, write, empty, set_caps, ...
	Client    string // client/session identifier driving the operation
	Ino       uint64
	StartTime time.Time
}

// NewLogContext creates a LogContext for the given client.
func NewLogContext(client string) *LogContext {
	return &LogContext{Client: client, StartTime: time.Now()}
}

// WithContext returns ctx carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithOp returns a copy with the operation and inode set.
func (lc *LogContext) WithOp(op string, ino uint64) *LogContext {
	clone := lc.Clone()
	if clone == nil {
		clone = &LogContext{StartTime: time.Now()}
	}
	clone.Op = op
	clone.Ino = ino
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Duration(lc.StartTime)
}

// withContextFields prepends the LogContext fields carried by ctx to args.
func withContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	out := make([]any, 0, 10+len(args))
	if lc.TraceID != "" {
		out = append(out, KeyTraceID, lc.TraceID)
	}
	if lc.SpanID != "" {
		out = append(out, KeySpanID, lc.SpanID)
	}
	if lc.Op != "" {
		out = append(out, KeyOp, lc.Op)
	}
	if lc.Client != "" {
		out = append(out, KeyClient, lc.Client)
	}
	if lc.Ino != 0 {
		out = append(out, KeyIno, lc.Ino)
	}
	return append(out, args...)
}
