package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bigkaa/gotaskflow/aaa-module/internal/domain/model"
	"github.com/bigkaa/gotaskflow/aaa-module/internal/repository"
)

// LocalProvider — локальная аутентификация по username/password.
// В поле username вместо имени может быть передан ранее выданный
// токен (token-as-credential): тогда пароль не проверяется.
type LocalProvider struct {
	name   string
	store  CredentialStore
	tokens TokenService
	logger *slog.Logger

	mu   sync.Mutex
	user *model.User
}

// NewLocalProvider создаёт локальный провайдер под указанным именем.
func NewLocalProvider(name string, store CredentialStore, tokens TokenService, logger *slog.Logger) *LocalProvider {
	return &LocalProvider{
		name:   name,
		store:  store,
		tokens: tokens,
		logger: logger.With(slog.String("component", "provider"), slog.String("provider", name)),
	}
}

// Name возвращает имя провайдера.
func (p *LocalProvider) Name() string { return p.name }

// loginRequest — тело запроса локального логина.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login проверяет учётные данные из тела запроса.
// Успех — LoginCompleted с выданным токеном, неуспех — LoginRejected
// без какого-либо частичного состояния.
func (p *LocalProvider) Login(r *http.Request) (*LoginResult, error) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &LoginResult{Kind: LoginRejected}, nil
	}

	user := p.verifyCredentials(r, req.Username, req.Password)
	if user == nil {
		p.setUser(nil)
		p.logger.Warn("Локальный логин отклонён", slog.String("username", req.Username))
		return &LoginResult{Kind: LoginRejected}, nil
	}

	accessToken, err := p.tokens.Issue(user)
	if err != nil {
		p.setUser(nil)
		return nil, fmt.Errorf("ошибка выдачи токена: %w", err)
	}

	p.setUser(user)
	p.logger.Info("Локальный логин успешен",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return &LoginResult{
		Kind:        LoginCompleted,
		AccessToken: accessToken,
		User:        user,
	}, nil
}

// verifyCredentials возвращает пользователя при успешной проверке.
// Сначала пробует трактовать username как ранее выданный токен,
// затем — как имя пользователя с паролем.
func (p *LocalProvider) verifyCredentials(r *http.Request, username, password string) *model.User {
	// token-as-credential: действительный непросроченный токен вместо пароля
	if claims, err := p.tokens.Verify(username); err == nil {
		if p.tokens.RemainingTTL(claims) > 0 {
			user, err := p.store.FindByID(r.Context(), claims.UserID)
			if err == nil {
				return user
			}
			if !errors.Is(err, repository.ErrNotFound) {
				p.logger.Error("Ошибка поиска пользователя по токену", slog.String("error", err.Error()))
			}
		}
		return nil
	}

	user, err := p.store.FindByUsername(r.Context(), username)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			p.logger.Error("Ошибка поиска пользователя", slog.String("error", err.Error()))
		}
		return nil
	}
	if !p.store.VerifyPassword(user, password) {
		return nil
	}
	return user
}

// Authorize — локальный провайдер не участвует в OIDC callback.
func (p *LocalProvider) Authorize(_ *http.Request) (bool, error) {
	return false, nil
}

// CurrentUser возвращает пользователя последнего успешного логина.
func (p *LocalProvider) CurrentUser() *model.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.user
}

// LoggedInUser возвращает username текущего пользователя.
func (p *LocalProvider) LoggedInUser() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.user == nil {
		return ""
	}
	return p.user.Username
}

func (p *LocalProvider) setUser(u *model.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = u
}
