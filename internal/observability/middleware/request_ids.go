package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"

	maxIDLen = 64
)

type ctxKey struct{}

type ids struct {
	request string
	trace   string
}

// acceptID keeps a caller-supplied id only when it is short and printable,
// since it ends up in logs verbatim.
func acceptID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxIDLen {
		return "", false
	}
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c <= 0x20 || c >= 0x7f {
			return "", false
		}
	}
	return raw, true
}

// WithRequestAndTrace tags every request with a request id and a trace id,
// reusing the caller's when they look sane. The request id is echoed back.
func WithRequestAndTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, ok := acceptID(r.Header.Get(HeaderRequestID))
		if !ok {
			reqID = uuid.NewString()
		}
		traceID, ok := acceptID(r.Header.Get(HeaderTraceID))
		if !ok {
			traceID = reqID
		}

		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, ids{request: reqID, trace: traceID}))
		w.Header().Set(HeaderRequestID, reqID)

		Logger(r.Context()).Debug("incoming request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(ids)
	return v.request
}

func TraceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(ids)
	return v.trace
}

// Logger returns the default logger carrying the request's ids.
func Logger(ctx context.Context) *slog.Logger {
	v, ok := ctx.Value(ctxKey{}).(ids)
	if !ok {
		return slog.Default()
	}
	return slog.Default().With("request_id", v.request, "trace_id", v.trace)
}
