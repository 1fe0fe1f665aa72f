package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// mockLogger is a test logger that captures log messages
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func newMockLogger() *mockLogger {
	return &mockLogger{
		messages: make([]string, 0),
	}
}

func (m *mockLogger) Debug(msg string, args ...any) {
	m.log("DEBUG", msg, args...)
}

func (m *mockLogger) Info(msg string, args ...any) {
	m.log("INFO", msg, args...)
}

func (m *mockLogger) Warn(msg string, args ...any) {
	m.log("WARN", msg, args...)
}

func (m *mockLogger) Error(msg string, args ...any) {
	m.log("ERROR", msg, args...)
}

func (m *mockLogger) Fatal(msg string, args ...any) {
	m.log("FATAL", msg, args...)
}

func (m *mockLogger) log(level, msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	formatted := fmt.Sprintf("[%s] %s", level, msg)
	for i := 0; i+1 < len(args); i += 2 {
		formatted += fmt.Sprintf(" %v=%v", args[i], args[i+1])
	}
	m.messages = append(m.messages, formatted)
}

func (m *mockLogger) getOutput() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.Join(m.messages, "\n")
}

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantLevel  string
	}{
		{"OK", http.StatusOK, "[DEBUG]"},
		{"NotFound", http.StatusNotFound, "[DEBUG]"},
		{"InternalServerError", http.StatusInternalServerError, "[ERROR]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := newMockLogger()
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
			w := httptest.NewRecorder()
			LoggingMiddleware(logger)(handler).ServeHTTP(w, req)

			if w.Code != tt.statusCode {
				t.Errorf("Expected status %d, got %d", tt.statusCode, w.Code)
			}

			logOutput := logger.getOutput()
			for _, want := range []string{tt.wantLevel, "HTTP request", "method=GET", "path=/api/jobs", fmt.Sprintf("status=%d", tt.statusCode)} {
				if !strings.Contains(logOutput, want) {
					t.Errorf("Expected log to contain %q, got: %s", want, logOutput)
				}
			}
		})
	}
}

func TestLoggingMiddlewareDefaultStatusCode(t *testing.T) {
	logger := newMockLogger()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	LoggingMiddleware(logger)(handler).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	logOutput := logger.getOutput()
	if !strings.Contains(logOutput, "status=200") || !strings.Contains(logOutput, "bytes=2") {
		t.Errorf("Expected status and size in log, got: %s", logOutput)
	}
}

func TestReadOnlyMiddleware(t *testing.T) {
	handler := ReadOnlyMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		method string
		want   int
	}{
		{http.MethodGet, http.StatusNoContent},
		{http.MethodHead, http.StatusNoContent},
		{http.MethodPost, http.StatusMethodNotAllowed},
		{http.MethodPut, http.StatusMethodNotAllowed},
		{http.MethodDelete, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(tt.method, "/api/jobs", nil))

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
			if tt.want == http.StatusMethodNotAllowed && w.Header().Get("Allow") != "GET, HEAD" {
				t.Errorf("Expected Allow header, got %q", w.Header().Get("Allow"))
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := newMockLogger()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("something went wrong")
	})

	wrapped := ChainMiddleware(handler, RecoveryMiddleware(logger), LoggingMiddleware(logger))

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Code != http.StatusInternalServerError {
		t.Errorf("Expected code 500 in body, got %d", resp.Code)
	}

	logOutput := logger.getOutput()
	if !strings.Contains(logOutput, "Panic recovered") || !strings.Contains(logOutput, "something went wrong") {
		t.Errorf("Expected panic to be logged, got: %s", logOutput)
	}
}
