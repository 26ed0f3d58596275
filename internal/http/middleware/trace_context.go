package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/copilot-adoption-backend/internal/platform/ctxutil"
)

const (
	headerTraceID   = "X-Trace-Id"
	headerRequestID = "X-Request-Id"
	// The audit feed sends its own correlation id on webhook calls.
	headerClientRequestID = "client-request-id"

	maxCorrelationIDLen = 128
)

// TraceContext attaches trace and request ids to the request context and
// echoes them back. The active span's trace id wins over a caller-supplied
// one; caller ids that are too long or carry unexpected characters are
// replaced so they cannot forge log lines.
func TraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := firstValid(c.GetHeader(headerRequestID), c.GetHeader(headerClientRequestID))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		traceID := ""
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
		if traceID == "" {
			traceID = firstValid(c.GetHeader(headerTraceID))
		}
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx := ctxutil.WithTraceData(c.Request.Context(), &ctxutil.TraceData{
			TraceID:   traceID,
			RequestID: reqID,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(headerTraceID, traceID)
		c.Writer.Header().Set(headerRequestID, reqID)
		c.Next()
	}
}

func firstValid(candidates ...string) string {
	for _, v := range candidates {
		v = strings.TrimSpace(v)
		if validCorrelationID(v) {
			return v
		}
	}
	return ""
}

func validCorrelationID(v string) bool {
	if v == "" || len(v) > maxCorrelationIDLen {
		return false
	}
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return false
		}
	}
	return true
}
