// Пакет provider — абстракция провайдеров аутентификации AAA Module.
// Два варианта: Local (проверка пароля через credstore) и Federated
// (OIDC Authorization Code Flow против внешнего IDP). Провайдеры
// регистрируются в Registry из YAML-файлов конфигурации при старте.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/bigkaa/gotaskflow/aaa-module/internal/domain/model"
	"github.com/bigkaa/gotaskflow/aaa-module/internal/token"
)

// CredentialStore — подмножество операций credstore.Store,
// необходимое провайдерам.
type CredentialStore interface {
	// FindByUsername возвращает пользователя по имени.
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	// FindByID возвращает пользователя по идентификатору.
	FindByID(ctx context.Context, id int64) (*model.User, error)
	// VerifyPassword сравнивает пароль с сохранённым хешем (fail closed).
	VerifyPassword(user *model.User, plaintext string) bool
	// UpsertFederated сверяет федеративную identity с локальной БД.
	UpsertFederated(ctx context.Context, username, name, providerName string) (*model.User, error)
}

// TokenService — подмножество операций token.Service,
// необходимое провайдерам.
type TokenService interface {
	// Issue выдаёт токен для пользователя.
	Issue(user *model.User) (string, error)
	// Verify проверяет подпись токена (истечение не проверяется).
	Verify(tokenString string) (*token.Claims, error)
	// RemainingTTL возвращает остаток времени жизни токена.
	RemainingTTL(claims *token.Claims) time.Duration
}

// LoginKind — исход операции login.
type LoginKind int

const (
	// LoginRedirect — браузер должен перейти на IDP (федеративный вариант).
	LoginRedirect LoginKind = iota + 1
	// LoginCompleted — синхронный успех с выданным токеном (локальный вариант).
	LoginCompleted
	// LoginRejected — учётные данные отклонены.
	LoginRejected
)

// LoginResult — закрытый вариантный тип исхода login.
// Заполненность полей определяется Kind.
type LoginResult struct {
	// Kind — исход операции.
	Kind LoginKind
	// RedirectURL — URL авторизации IDP (Kind == LoginRedirect).
	RedirectURL string
	// AccessToken — выданный bearer-токен (Kind == LoginCompleted).
	AccessToken string
	// User — аутентифицированный пользователь (Kind == LoginCompleted).
	User *model.User
}

// AuthProvider — провайдер аутентификации.
// Реализации: *LocalProvider, *FederatedProvider.
type AuthProvider interface {
	// Name возвращает имя провайдера в Registry.
	Name() string
	// Login начинает процедуру аутентификации по входящему запросу.
	Login(r *http.Request) (*LoginResult, error)
	// Authorize завершает федеративный flow по callback-запросу.
	// Возвращает false, если callback не относится к этому провайдеру
	// или обмен кода не удался.
	Authorize(r *http.Request) (bool, error)
	// CurrentUser возвращает пользователя последней успешной
	// аутентификации через этот провайдер (nil, если её не было).
	CurrentUser() *model.User
	// LoggedInUser возвращает username текущего пользователя
	// (пустая строка, если аутентификации не было).
	LoggedInUser() string
}
