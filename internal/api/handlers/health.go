// health.go — обработчики health endpoints AAA Module.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (PostgreSQL + реестр провайдеров)
// /metrics — Prometheus метрики
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/gotaskflow/aaa-module/internal/config"
)

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// healthCheck — именованная проверка готовности.
// Отказ некритичной проверки понижает итоговый статус максимум
// до degraded: /verify — горячий путь каждого аутентифицированного
// запроса — требует только секрет подписи и таблицу users, поэтому
// критичен лишь PostgreSQL.
type healthCheck struct {
	name     string
	critical bool
	checker  ReadinessChecker
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	checks      []healthCheck
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// pgChecker — проверка PostgreSQL (критичная), providersChecker —
// проверка реестра провайдеров (некритичная). Оба могут быть nil:
// nil-проверка отражается как fail соответствующей зависимости.
func NewHealthHandler(pgChecker, providersChecker ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		checks: []healthCheck{
			{name: "postgresql", critical: true, checker: pgChecker},
			{name: "providers", critical: false, checker: providersChecker},
		},
		promHandler: promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	resp := healthLiveResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "aaa-module",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady — readiness probe. Проверяет PostgreSQL и реестр провайдеров.
// Возвращает 200 (ok/degraded) или 503 (fail). Fail некритичной
// зависимости даёт degraded, а не fail.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "aaa-module",
		Checks:    make(map[string]healthCheckResult, len(h.checks)),
	}

	overall := "ok"
	for _, check := range h.checks {
		status, message := "fail", "не инициализирован"
		if check.checker != nil {
			status, message = check.checker.CheckReady()
		}
		resp.Checks[check.name] = healthCheckResult{Status: status, Message: message}

		effective := status
		if status == "fail" && !check.critical {
			effective = "degraded"
		}
		overall = worseStatus(overall, effective)
	}
	resp.Status = overall

	w.Header().Set("Content-Type", "application/json")
	if resp.Status == "fail" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// worseStatus возвращает худший из двух статусов
// в порядке ok < degraded < fail.
func worseStatus(a, b string) string {
	rank := map[string]int{"ok": 0, "degraded": 1, "fail": 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
