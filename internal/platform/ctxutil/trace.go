package ctxutil

import "context"

type traceDataKey struct{}

// TraceData ties one request's log lines together. AdminSubject is empty
// until an admin token has been verified.
type TraceData struct {
	TraceID      string
	RequestID    string
	AdminSubject string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	td, _ := ctx.Value(traceDataKey{}).(*TraceData)
	return td
}

// SetAdminSubject records the verified caller on the request's trace data.
// It is a no-op when ctx carries none.
func SetAdminSubject(ctx context.Context, subject string) {
	if td := GetTraceData(ctx); td != nil {
		td.AdminSubject = subject
	}
}

// LogFields returns the non-empty trace values as logger key/value pairs.
func LogFields(ctx context.Context) []any {
	td := GetTraceData(ctx)
	if td == nil {
		return nil
	}
	var out []any
	if td.TraceID != "" {
		out = append(out, "trace_id", td.TraceID)
	}
	if td.RequestID != "" {
		out = append(out, "request_id", td.RequestID)
	}
	if td.AdminSubject != "" {
		out = append(out, "admin_subject", td.AdminSubject)
	}
	return out
}
