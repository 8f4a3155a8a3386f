// logging_test.go — тесты middleware логирования запросов.
package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestRedactQuery(t *testing.T) {
	tests := []struct {
		name  string
		query url.Values
		want  string
	}{
		{
			name:  "пустая query-строка",
			query: url.Values{},
			want:  "",
		},
		{
			name:  "обычные параметры не меняются",
			query: url.Values{"page": {"2"}, "limit": {"10"}},
			want:  "limit=10&page=2",
		},
		{
			name:  "authorization code маскируется",
			query: url.Values{"code": {"authcode-secret"}, "state": {"xyz"}},
			want:  "code=%2A%2A%2A&state=%2A%2A%2A",
		},
		{
			name:  "access_token маскируется",
			query: url.Values{"access_token": {"eyJhbGciOi"}},
			want:  "access_token=%2A%2A%2A",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactQuery(tt.query); got != tt.want {
				t.Errorf("redactQuery() = %q, ожидалось %q", got, tt.want)
			}
		})
	}
}

// TestRequestLoggerRedactsSecrets проверяет, что значения секретных
// query-параметров OIDC callback не попадают в лог запроса.
func TestRequestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/aaa/auth?code=super-secret-code&state=abc123", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	logged := buf.String()
	if strings.Contains(logged, "super-secret-code") {
		t.Errorf("authorization code попал в лог: %s", logged)
	}
	if strings.Contains(logged, "abc123") {
		t.Errorf("state попал в лог: %s", logged)
	}
	if !strings.Contains(logged, "/api/aaa/auth") {
		t.Errorf("путь запроса не залогирован: %s", logged)
	}
}

// TestRequestLoggerStatusLevel проверяет уровень логирования
// в зависимости от статус-кода ответа.
func TestRequestLoggerStatusLevel(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"успешный запрос — INFO", http.StatusOK, "level=INFO"},
		{"клиентская ошибка — WARN", http.StatusUnauthorized, "level=WARN"},
		{"серверная ошибка — ERROR", http.StatusInternalServerError, "level=ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			req := httptest.NewRequest("GET", "/api/aaa/verify", nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if !strings.Contains(buf.String(), tt.wantLevel) {
				t.Errorf("лог %q не содержит %q", buf.String(), tt.wantLevel)
			}
		})
	}
}
