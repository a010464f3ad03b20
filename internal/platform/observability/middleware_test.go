package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

func TestRequestLoggerMiddlewareLevels(t *testing.T) {
	cases := []struct {
		status int
		level  zapcore.Level
	}{
		{http.StatusOK, zapcore.InfoLevel},
		{http.StatusUnprocessableEntity, zapcore.WarnLevel},
		{http.StatusBadGateway, zapcore.ErrorLevel},
	}
	for _, tc := range cases {
		core, logs := observer.New(zapcore.DebugLevel)
		logger := zap.New(core)

		next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte("ok"))
		})
		handler := InjectLoggerMiddleware(logger)(RequestLoggerMiddleware()(next))

		req := httptest.NewRequest(http.MethodGet, "/cart", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		entries := logs.FilterMessage("request completed").All()
		if len(entries) != 1 {
			t.Fatalf("status %d: expected one log entry, got %d", tc.status, len(entries))
		}
		if entries[0].Level != tc.level {
			t.Fatalf("status %d: expected level %s, got %s", tc.status, tc.level, entries[0].Level)
		}
		fields := entries[0].ContextMap()
		if fields["status"] != int64(tc.status) {
			t.Fatalf("expected status field %d, got %v", tc.status, fields["status"])
		}
		if fields["bytes"] != int64(2) {
			t.Fatalf("expected 2 bytes, got %v", fields["bytes"])
		}
	}
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := InjectLoggerMiddleware(logger)(RecoveryMiddleware(nil)(next))

	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
	req.Header.Set("Accept", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["error"] != "internal_server_error" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestTraceMiddlewareContinuesTraceParent(t *testing.T) {
	var info requestctx.TraceInfo
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	TraceMiddleware()(next).ServeHTTP(httptest.NewRecorder(), req)

	if info.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected trace id to be continued, got %q", info.TraceID)
	}
}

func TestParseTraceParentRejectsMalformed(t *testing.T) {
	for _, header := range []string{"", "garbage", "01-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", "00-zz-00f067aa0ba902b7-01"} {
		if _, ok := parseTraceParent(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}
