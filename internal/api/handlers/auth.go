// auth.go — обработчики аутентификации AAA Module.
// /api/aaa/login/{provider} — вход через выбранный провайдер
// /api/aaa/auth — OIDC callback, обход провайдеров до первой успешной авторизации
// /api/aaa/verify — проверка bearer-токена со скользящим продлением
// /api/aaa/logout — заглушка
package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/gotaskflow/aaa-module/internal/api/errors"
	"github.com/bigkaa/gotaskflow/aaa-module/internal/provider"
)

// loginResponse — успешный ответ на прямой вход (локальный провайдер).
type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      int64  `json:"user_id"`
}

// compatLoginResponse — legacy-ответ на неуспешный вход
// (режим совместимости AAA_COMPAT_LOGIN_OK).
type compatLoginResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Login — вход через провайдер из path-параметра {provider}.
// Redirect → 302 на IDP, Completed → 200 с токеном, Rejected → 401
// (или 200 с falsy-телом в режиме совместимости).
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")

	p, ok := h.registry.Get(name)
	if !ok {
		apierrors.UnknownProvider(w, "провайдер не зарегистрирован: "+name)
		return
	}

	result, err := p.Login(r)
	if err != nil {
		h.logger.Error("Ошибка входа",
			slog.String("provider", name),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "ошибка обработки входа")
		return
	}

	switch result.Kind {
	case provider.LoginRedirect:
		http.Redirect(w, r, result.RedirectURL, http.StatusFound)

	case provider.LoginCompleted:
		writeJSON(w, http.StatusOK, loginResponse{
			AccessToken: result.AccessToken,
			TokenType:   "bearer",
			UserID:      result.User.ID,
		})

	case provider.LoginRejected:
		if h.compatLoginOK {
			// Legacy-поведение: неуспешный вход отвечает 200
			writeJSON(w, http.StatusOK, compatLoginResponse{
				Status:  "rejected",
				Message: "invalid username or password",
			})
			return
		}
		apierrors.InvalidCredentials(w, "неверное имя пользователя или пароль")

	default:
		apierrors.InternalError(w, "неизвестный результат входа")
	}
}

// Auth — callback федеративной авторизации. Обходит провайдеры в порядке
// регистрации до первого успешного Authorize, выпускает токен и делает
// redirect на web-фронтенд с токеном в query-параметре.
func (h *APIHandler) Auth(w http.ResponseWriter, r *http.Request) {
	for _, name := range h.registry.Names() {
		p, ok := h.registry.Get(name)
		if !ok {
			continue
		}

		authorized, err := p.Authorize(r)
		if err != nil {
			h.logger.Debug("Провайдер отклонил авторизацию",
				slog.String("provider", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !authorized {
			continue
		}

		user := p.CurrentUser()
		if user == nil {
			apierrors.UpstreamTokenExpired(w, "провайдер авторизовал, но identity недоступна")
			return
		}

		accessToken, err := h.tokens.Issue(user)
		if err != nil {
			h.logger.Error("Ошибка выпуска токена",
				slog.String("provider", name),
				slog.Int64("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			apierrors.UpstreamTokenExpired(w, "не удалось выпустить токен")
			return
		}

		h.logger.Info("Авторизация завершена",
			slog.String("provider", name),
			slog.Int64("user_id", user.ID),
			slog.String("username", user.Username),
		)

		http.Redirect(w, r, h.buildWebRedirect(r, accessToken), http.StatusFound)
		return
	}

	apierrors.NoValidProvider(w, "ни один провайдер не подтвердил авторизацию")
}

// buildWebRedirect формирует URL возврата на web-фронтенд с токеном
// в query-параметре access_token. Схема берётся из X-Forwarded-Proto
// (reverse proxy), иначе http.
func (h *APIHandler) buildWebRedirect(r *http.Request, accessToken string) string {
	target, err := url.Parse(h.webURL)
	if err != nil {
		target = &url.URL{Path: "/"}
	}

	if target.Host == "" {
		// Относительный web_url: достраиваем из входящего запроса
		target.Host = r.Host
		target.Scheme = "http"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		target.Scheme = proto
	}
	if target.Scheme == "" {
		target.Scheme = "http"
	}

	q := target.Query()
	q.Set("access_token", accessToken)
	target.RawQuery = q.Encode()

	return target.String()
}

// verifyOKResponse — ответ /verify для действующего токена.
type verifyOKResponse struct {
	Status string `json:"status"`
	UserID int64  `json:"user_id"`
	// TokenTTL — остаток жизни токена в секундах.
	TokenTTL int64 `json:"token_ttl"`
	// AutoRenewIn — через сколько секунд токен попадёт в окно продления.
	AutoRenewIn int64 `json:"auto_renew_in"`
}

// verifyRenewedResponse — ответ /verify, когда выпущен новый токен.
type verifyRenewedResponse struct {
	Status      string `json:"status"`
	UserID      int64  `json:"user_id"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// verifyExpiredResponse — ответ /verify для просроченного токена.
// TokenTTL отрицателен: сколько секунд назад истёк токен.
type verifyExpiredResponse struct {
	Status   string `json:"status"`
	TokenTTL int64  `json:"token_ttl"`
}

// Verify — проверка bearer-токена из заголовка Authorization.
// Токен с остатком жизни меньше порога продления заменяется новым
// (скользящее продление); перед выпуском пользователь перечитывается
// из хранилища.
func (h *APIHandler) Verify(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if header == "" {
		apierrors.MissingAuthorization(w, "заголовок Authorization отсутствует")
		return
	}

	parts := strings.Split(header, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		apierrors.MalformedHeader(w, "ожидается заголовок вида: Bearer <token>")
		return
	}

	claims, err := h.tokens.Verify(parts[1])
	if err != nil {
		apierrors.InvalidToken(w, "токен не прошёл проверку")
		return
	}

	remaining := h.tokens.RemainingTTL(claims)
	if remaining <= 0 {
		writeJSON(w, http.StatusUnauthorized, verifyExpiredResponse{
			Status:   "token_expired",
			TokenTTL: int64(remaining.Seconds()),
		})
		return
	}

	if remaining < h.tokens.RenewThreshold() {
		// Окно продления: перечитываем пользователя и выпускаем новый токен
		user, err := h.store.FindByID(r.Context(), claims.UserID)
		if err != nil {
			apierrors.WriteError(w, http.StatusUnauthorized, apierrors.CodeInvalidToken,
				"пользователь токена не найден")
			return
		}

		newToken, renewed, err := h.tokens.RenewIfNearExpiry(claims, user)
		if err != nil {
			h.logger.Error("Ошибка продления токена",
				slog.Int64("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "не удалось продлить токен")
			return
		}
		if renewed {
			h.logger.Debug("Токен продлён",
				slog.Int64("user_id", user.ID),
				slog.Duration("remaining", remaining),
			)
			writeJSON(w, http.StatusOK, verifyRenewedResponse{
				Status:      "logged_in_new_token_issued",
				UserID:      user.ID,
				AccessToken: newToken,
				TokenType:   "bearer",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, verifyOKResponse{
		Status:      "logged_in",
		UserID:      claims.UserID,
		TokenTTL:    int64(remaining.Seconds()),
		AutoRenewIn: int64((remaining - h.tokens.RenewThreshold()).Seconds()),
	})
}

// Logout — заглушка. Stateless-токены не отзываются на стороне сервера.
func (h *APIHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotImplemented, map[string]string{
		"message": "logout не реализован: токены stateless и не отзываются",
	})
}
