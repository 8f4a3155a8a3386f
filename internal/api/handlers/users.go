// users.go — обработчики управления пользователями и ролями AAA Module.
// /api/aaa/users, /api/aaa/users/{id}, /api/aaa/users/{id}/roles,
// /api/aaa/roles, /api/aaa/roles/{id}
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/gotaskflow/aaa-module/internal/api/errors"
	"github.com/bigkaa/gotaskflow/aaa-module/internal/credstore"
	"github.com/bigkaa/gotaskflow/aaa-module/internal/domain/model"
	"github.com/bigkaa/gotaskflow/aaa-module/internal/repository"
)

// userResponse — представление пользователя в API.
// Хеш пароля наружу не отдаётся.
type userResponse struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Name        string    `json:"name"`
	AAAProvider string    `json:"aaa_provider"`
	Roles       []string  `json:"roles"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Username:    u.Username,
		Name:        u.Name,
		AAAProvider: u.AAAProvider,
		Roles:       u.RoleNames(),
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// roleResponse — представление роли в API.
type roleResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func toRoleResponse(role *model.Role) roleResponse {
	return roleResponse{
		ID:        role.ID,
		Name:      role.Name,
		CreatedAt: role.CreatedAt,
	}
}

// ListUsers — список всех пользователей.
func (h *APIHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("Ошибка получения списка пользователей", slog.String("error", err.Error()))
		apierrors.InternalError(w, "ошибка получения списка пользователей")
		return
	}

	items := make([]userResponse, 0, len(users))
	for _, u := range users {
		items = append(items, toUserResponse(u))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": items,
		"total": len(items),
	})
}

// createUserRequest — тело запроса создания пользователя.
type createUserRequest struct {
	Username string   `json:"username"`
	Name     string   `json:"name"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

// CreateUser — создание локального пользователя.
// Дубликат username → 400 DUPLICATE_USER, несуществующая роль → 400 UNKNOWN_ROLE.
func (h *APIHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "некорректное тело запроса")
		return
	}
	if req.Username == "" {
		apierrors.ValidationError(w, "поле username обязательно")
		return
	}
	if req.Password == "" {
		apierrors.ValidationError(w, "поле password обязательно")
		return
	}

	user, err := h.store.Create(r.Context(), req.Username, req.Name, req.Password, "local")
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			apierrors.DuplicateUser(w, "пользователь уже существует: "+req.Username)
			return
		}
		h.logger.Error("Ошибка создания пользователя",
			slog.String("username", req.Username),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "ошибка создания пользователя")
		return
	}

	if len(req.Roles) > 0 {
		roles, err := h.store.SetRoles(r.Context(), user.ID, req.Roles)
		if err != nil {
			if errors.Is(err, credstore.ErrUnknownRole) {
				apierrors.UnknownRole(w, err.Error())
				return
			}
			apierrors.InternalError(w, "ошибка назначения ролей")
			return
		}
		user.Roles = roles
	}

	h.logger.Info("Пользователь создан",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
	)

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// GetUser — пользователь по id.
func (h *APIHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		apierrors.ValidationError(w, "некорректный id пользователя")
		return
	}

	user, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "пользователь не найден")
			return
		}
		apierrors.InternalError(w, "ошибка получения пользователя")
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// GetUserRoles — роли пользователя.
func (h *APIHandler) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		apierrors.ValidationError(w, "некорректный id пользователя")
		return
	}

	if _, err := h.store.FindByID(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "пользователь не найден")
			return
		}
		apierrors.InternalError(w, "ошибка получения пользователя")
		return
	}

	roles, err := h.store.GetRoles(r.Context(), id)
	if err != nil {
		apierrors.InternalError(w, "ошибка получения ролей")
		return
	}

	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}

	writeJSON(w, http.StatusOK, map[string]any{"roles": names})
}

// setRolesRequest — тело запроса замены набора ролей.
type setRolesRequest struct {
	Roles []string `json:"roles"`
}

// SetUserRoles — полная замена набора ролей пользователя.
// Несуществующее имя роли → 400 UNKNOWN_ROLE (замена не применяется).
func (h *APIHandler) SetUserRoles(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		apierrors.ValidationError(w, "некорректный id пользователя")
		return
	}

	var req setRolesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "некорректное тело запроса")
		return
	}

	if _, err := h.store.FindByID(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "пользователь не найден")
			return
		}
		apierrors.InternalError(w, "ошибка получения пользователя")
		return
	}

	roles, err := h.store.SetRoles(r.Context(), id, req.Roles)
	if err != nil {
		if errors.Is(err, credstore.ErrUnknownRole) {
			apierrors.UnknownRole(w, err.Error())
			return
		}
		h.logger.Error("Ошибка замены ролей",
			slog.Int64("user_id", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "ошибка замены ролей")
		return
	}

	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}

	h.logger.Info("Роли пользователя заменены",
		slog.Int64("user_id", id),
		slog.Any("roles", names),
	)

	writeJSON(w, http.StatusOK, map[string]any{"roles": names})
}

// ListRoles — список всех ролей.
func (h *APIHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		apierrors.InternalError(w, "ошибка получения списка ролей")
		return
	}

	items := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		items = append(items, toRoleResponse(role))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"roles": items,
		"total": len(items),
	})
}

// createRoleRequest — тело запроса создания роли.
type createRoleRequest struct {
	Name string `json:"name"`
}

// CreateRole — создание роли.
func (h *APIHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "некорректное тело запроса")
		return
	}
	if req.Name == "" {
		apierrors.ValidationError(w, "поле name обязательно")
		return
	}

	role, err := h.store.CreateRole(r.Context(), req.Name)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			apierrors.ValidationError(w, "роль уже существует: "+req.Name)
			return
		}
		apierrors.InternalError(w, "ошибка создания роли")
		return
	}

	h.logger.Info("Роль создана",
		slog.Int64("role_id", role.ID),
		slog.String("name", role.Name),
	)

	writeJSON(w, http.StatusCreated, toRoleResponse(role))
}

// GetRole — роль по id.
func (h *APIHandler) GetRole(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		apierrors.ValidationError(w, "некорректный id роли")
		return
	}

	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "роль не найдена")
			return
		}
		apierrors.InternalError(w, "ошибка получения роли")
		return
	}

	writeJSON(w, http.StatusOK, toRoleResponse(role))
}
