package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// captureLogOutput captures log output for testing by temporarily
// redirecting the logger to write to a buffer
func captureLogOutput(f func()) string {
	var buf bytes.Buffer

	oldLogger := defaultLogger
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	defaultLogger = slog.New(handler)

	f()

	defaultLogger = oldLogger
	return buf.String()
}

func logFields(t *testing.T, output string) map[string]any {
	t.Helper()
	fields := map[string]any{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &fields); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, output)
	}
	return fields
}

func TestGetLogger(t *testing.T) {
	if GetLogger() == nil {
		t.Fatal("GetLogger() returned nil")
	}
}

func TestInitLogger_Levels(t *testing.T) {
	defer InitLogger(LevelInfo, FormatJSON)

	for _, level := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		InitLogger(level, FormatJSON)
		if defaultLogger == nil {
			t.Fatalf("InitLogger(%v) left a nil logger", level)
		}
	}

	InitLogger(LevelInfo, FormatText)
	if defaultLogger == nil {
		t.Fatal("InitLogger with text format left a nil logger")
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if id := GetRequestID(ctx); id != "" {
		t.Errorf("GetRequestID on bare context = %q; want empty", id)
	}

	ctx = WithRequestID(ctx, "req-123")
	if id := GetRequestID(ctx); id != "req-123" {
		t.Errorf("GetRequestID = %q; want req-123", id)
	}
}

func TestLoggerFromContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-456")

	output := captureLogOutput(func() {
		// LoggerFromContext reads defaultLogger, so it must run inside
		// the capture window.
		LoggerFromContext(ctx).Info("tagged")
	})

	fields := logFields(t, output)
	if fields["request_id"] != "req-456" {
		t.Errorf("request_id = %v; want req-456", fields["request_id"])
	}
}

func TestLoggingFunctions(t *testing.T) {
	tests := []struct {
		name  string
		log   func()
		level string
	}{
		{"debug", func() { Debug("msg", "k", "v") }, "DEBUG"},
		{"info", func() { Info("msg", "k", "v") }, "INFO"},
		{"warn", func() { Warn("msg", "k", "v") }, "WARN"},
		{"error", func() { Error("msg", "k", "v") }, "ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := captureLogOutput(tt.log)
			fields := logFields(t, output)
			if fields["level"] != tt.level {
				t.Errorf("level = %v; want %s", fields["level"], tt.level)
			}
			if fields["k"] != "v" {
				t.Errorf("custom field lost: %v", fields)
			}
		})
	}
}

func TestContextLoggingFunctions(t *testing.T) {
	ctx := WithRequestID(context.Background(), "ctx-req")

	output := captureLogOutput(func() {
		InfoContext(ctx, "with context")
	})
	fields := logFields(t, output)
	if fields["request_id"] != "ctx-req" {
		t.Errorf("request_id = %v", fields["request_id"])
	}
}

func TestHTTPRequest(t *testing.T) {
	output := captureLogOutput(func() {
		HTTPRequest("GET", "/api/formats", "127.0.0.1:9999", 200, 42*time.Millisecond)
	})
	fields := logFields(t, output)
	if fields["msg"] != "http_request" {
		t.Errorf("msg = %v", fields["msg"])
	}
	if fields["method"] != "GET" || fields["path"] != "/api/formats" {
		t.Errorf("request fields lost: %v", fields)
	}
	if fields["status_code"] != float64(200) {
		t.Errorf("status_code = %v", fields["status_code"])
	}
	if fields["duration_ms"] != float64(42) {
		t.Errorf("duration_ms = %v", fields["duration_ms"])
	}
}

func TestConversion(t *testing.T) {
	output := captureLogOutput(func() {
		Conversion("markdown", "render", 0.97, 15*time.Millisecond, "blocks", 12)
	})
	fields := logFields(t, output)
	if fields["msg"] != "conversion" {
		t.Errorf("msg = %v", fields["msg"])
	}
	if fields["format"] != "markdown" || fields["operation"] != "render" {
		t.Errorf("conversion fields lost: %v", fields)
	}
	if fields["fidelity"] != 0.97 {
		t.Errorf("fidelity = %v", fields["fidelity"])
	}
	if fields["blocks"] != float64(12) {
		t.Errorf("extra arg lost: %v", fields)
	}
}

func TestConversionError(t *testing.T) {
	output := captureLogOutput(func() {
		ConversionError("docx", "parse", errors.New("not a zip archive"))
	})
	fields := logFields(t, output)
	if fields["level"] != "ERROR" {
		t.Errorf("level = %v", fields["level"])
	}
	if fields["error"] != "not a zip archive" {
		t.Errorf("error = %v", fields["error"])
	}
}

func TestCacheEvent(t *testing.T) {
	output := captureLogOutput(func() {
		CacheEvent("hit", "abc123")
	})
	fields := logFields(t, output)
	if fields["msg"] != "cache_event" || fields["event"] != "hit" || fields["key"] != "abc123" {
		t.Errorf("cache event fields lost: %v", fields)
	}
}

func TestJobEvent(t *testing.T) {
	output := captureLogOutput(func() {
		JobEvent("job-1", "completed", "formats", 3)
	})
	fields := logFields(t, output)
	if fields["job_id"] != "job-1" || fields["state"] != "completed" {
		t.Errorf("job event fields lost: %v", fields)
	}
}

func TestWebSocketEvent(t *testing.T) {
	output := captureLogOutput(func() {
		WebSocketEvent("client_connected", 3)
	})
	fields := logFields(t, output)
	if fields["event"] != "client_connected" || fields["client_count"] != float64(3) {
		t.Errorf("websocket event fields lost: %v", fields)
	}
}

func TestServerStartup(t *testing.T) {
	output := captureLogOutput(func() {
		ServerStartup("api", "http", 8080)
	})
	fields := logFields(t, output)
	if fields["server_type"] != "api" || fields["port"] != float64(8080) {
		t.Errorf("startup fields lost: %v", fields)
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	sr.WriteHeader(http.StatusNotFound)
	sr.WriteHeader(http.StatusInternalServerError) // second call ignored

	if sr.status != http.StatusNotFound {
		t.Errorf("status = %d; want 404", sr.status)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("recorded code = %d; want 404", rec.Code)
	}
	if sr.Unwrap() != rec {
		t.Error("Unwrap must return the wrapped writer")
	}
}

func TestStatusRecorder_ImplicitOK(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	if _, err := sr.Write([]byte("body")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if sr.status != http.StatusOK {
		t.Errorf("status = %d; want 200", sr.status)
	}
	if rec.Body.String() != "body" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	var seenID string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
	}))

	// Generated when absent
	captureLogOutput(func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		if seenID == "" {
			t.Error("request ID not generated")
		}
		if rec.Header().Get("X-Request-ID") != seenID {
			t.Error("request ID not echoed in response header")
		}
	})

	// Propagated when supplied
	captureLogOutput(func() {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Request-ID", "client-id")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		if seenID != "client-id" {
			t.Errorf("request ID = %q; want client-id", seenID)
		}
	})
}

func TestMiddleware_AccessLog(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	output := captureLogOutput(func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/brew", nil))
		if rec.Code != http.StatusTeapot {
			t.Errorf("status = %d; want 418", rec.Code)
		}
	})

	fields := logFields(t, output)
	if fields["msg"] != "http_request" || fields["path"] != "/brew" {
		t.Errorf("request log lost: %v", fields)
	}
	if fields["status_code"] != float64(http.StatusTeapot) {
		t.Errorf("status_code = %v", fields["status_code"])
	}
	if fields["request_id"] == nil {
		t.Error("request_id missing from request log")
	}
}
