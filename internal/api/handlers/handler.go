// handler.go — основной обработчик API AAA Module.
// Объединяет обработчики аутентификации, пользователей и health endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/gotaskflow/aaa-module/internal/domain/model"
	"github.com/bigkaa/gotaskflow/aaa-module/internal/provider"
	"github.com/bigkaa/gotaskflow/aaa-module/internal/token"
)

// UserStore — операции хранилища учётных записей, используемые API.
// Реализуется credstore.Store.
type UserStore interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
	Create(ctx context.Context, username, name, password, providerName string) (*model.User, error)
	SetRoles(ctx context.Context, userID int64, roleNames []string) ([]model.Role, error)
	GetRoles(ctx context.Context, userID int64) ([]model.Role, error)
	CreateRole(ctx context.Context, name string) (*model.Role, error)
	GetRole(ctx context.Context, id int64) (*model.Role, error)
	ListRoles(ctx context.Context) ([]*model.Role, error)
}

// APIHandler — основной обработчик API AAA Module.
type APIHandler struct {
	registry *provider.Registry
	store    UserStore
	tokens   *token.Service
	health   *HealthHandler
	// webURL — адрес web-фронтенда для redirect после федеративной авторизации.
	webURL string
	// compatLoginOK — режим совместимости: неуспешный локальный вход
	// отвечает 200 с falsy-телом вместо 401.
	compatLoginOK bool
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	registry *provider.Registry,
	store UserStore,
	tokens *token.Service,
	health *HealthHandler,
	webURL string,
	compatLoginOK bool,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		registry:      registry,
		store:         store,
		tokens:        tokens,
		health:        health,
		webURL:        webURL,
		compatLoginOK: compatLoginOK,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// idParam извлекает числовой параметр {id} из URL запроса.
func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
