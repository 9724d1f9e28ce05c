package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWithRequestAndTrace(t *testing.T) {
	var gotReq, gotTrace string
	h := WithRequestAndTrace(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = RequestIDFromContext(r.Context())
		gotTrace = TraceIDFromContext(r.Context())
	}))

	tests := []struct {
		name      string
		reqHeader string
		trace     string
		keepReq   bool
		keepTrace bool
	}{
		{name: "generated"},
		{name: "caller ids", reqHeader: "req-1", trace: "trace-1", keepReq: true, keepTrace: true},
		{name: "oversized", reqHeader: strings.Repeat("x", maxIDLen+1)},
		{name: "control chars", reqHeader: "bad\x01id", trace: "ok-trace", keepTrace: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.reqHeader != "" {
				req.Header.Set(HeaderRequestID, tc.reqHeader)
			}
			if tc.trace != "" {
				req.Header.Set(HeaderTraceID, tc.trace)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if gotReq == "" {
				t.Fatalf("expected a request id")
			}
			if tc.keepReq && gotReq != tc.reqHeader {
				t.Fatalf("expected request id %q, got %q", tc.reqHeader, gotReq)
			}
			if !tc.keepReq && gotReq == tc.reqHeader {
				t.Fatalf("expected caller request id to be replaced")
			}
			if rec.Header().Get(HeaderRequestID) != gotReq {
				t.Fatalf("response header %q does not echo %q", rec.Header().Get(HeaderRequestID), gotReq)
			}
			wantTrace := gotReq
			if tc.keepTrace {
				wantTrace = tc.trace
			}
			if gotTrace != wantTrace {
				t.Fatalf("expected trace id %q, got %q", wantTrace, gotTrace)
			}
		})
	}
}
