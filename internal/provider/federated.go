package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/gotaskflow/aaa-module/internal/domain/model"
)

// Путь callback-обработчика OIDC внутри API.
const authCallbackPath = "/api/aaa/auth"

// FederatedProvider — федеративная аутентификация через внешний OIDC IDP.
// Двухфазный автомат: Login формирует redirect на IDP, Authorize
// обменивает код из callback на токены и сверяет identity с локальной БД.
type FederatedProvider struct {
	name   string
	client *OIDCClient
	store  CredentialStore
	logger *slog.Logger
	// jwks — keyfunc для проверки подписи id_token (nil — подпись не проверяется,
	// допустимо только если у IDP не настроен jwks_uri).
	jwks keyfunc.Keyfunc

	mu sync.Mutex
	// redirectURI — callback URI. Пиновка из конфигурации или вычисление
	// по первому запросу; после этого стабилен на весь процесс.
	redirectURI string
	// pendingState — state parameter последнего начатого login flow.
	pendingState string
	// started — был ли вызван Login (Authorize без Login отклоняется).
	started bool
	// user — пользователь последней успешной авторизации.
	user *model.User
}

// NewFederatedProvider создаёт федеративный провайдер.
// pinnedRedirectURI — статический redirect_uri из конфигурации
// (пусто — вычисляется из первого login-запроса).
// jwks может быть nil, если у IDP не сконфигурирован JWKS endpoint.
func NewFederatedProvider(
	name string,
	client *OIDCClient,
	store CredentialStore,
	pinnedRedirectURI string,
	jwks keyfunc.Keyfunc,
	logger *slog.Logger,
) *FederatedProvider {
	return &FederatedProvider{
		name:        name,
		client:      client,
		store:       store,
		jwks:        jwks,
		redirectURI: pinnedRedirectURI,
		logger:      logger.With(slog.String("component", "provider"), slog.String("provider", name)),
	}
}

// Name возвращает имя провайдера.
func (p *FederatedProvider) Name() string { return p.name }

// TokenEndpoint возвращает token endpoint IDP (для мониторинга зависимостей).
func (p *FederatedProvider) TokenEndpoint() string { return p.client.tokenURL }

// Login начинает OIDC flow: фиксирует redirect_uri (идемпотентно на
// процесс), генерирует state и возвращает Redirect на authorize URL IDP.
func (p *FederatedProvider) Login(r *http.Request) (*LoginResult, error) {
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.redirectURI == "" {
		p.redirectURI = buildCallbackURI(r)
		p.logger.Debug("redirect_uri вычислен", slog.String("redirect_uri", p.redirectURI))
	}
	redirectURI := p.redirectURI
	p.pendingState = state
	p.started = true
	p.mu.Unlock()

	authorizeURL := p.client.AuthorizeURL(redirectURI, state)

	p.logger.Debug("Начат OIDC login flow",
		slog.String("authorize_url", authorizeURL),
	)

	return &LoginResult{
		Kind:        LoginRedirect,
		RedirectURL: authorizeURL,
	}, nil
}

// idTokenClaims — клеймы id_token, извлекаемые при авторизации.
type idTokenClaims struct {
	// PreferredUsername — имя пользователя у IDP.
	PreferredUsername string `json:"preferred_username"`
	// Name — отображаемое имя.
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Authorize завершает OIDC flow по callback-запросу: обменивает код,
// проверяет и разбирает id_token, сверяет identity с локальной БД
// (create-or-update, последний провайдер побеждает, пароль ротируется).
// Возвращает false, если flow не был начат или обмен/разбор не удался.
func (p *FederatedProvider) Authorize(r *http.Request) (bool, error) {
	p.mu.Lock()
	started := p.started
	redirectURI := p.redirectURI
	pendingState := p.pendingState
	p.mu.Unlock()

	if !started {
		return false, fmt.Errorf("провайдер %s: authorize без предшествующего login", p.name)
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		return false, errors.New("callback не содержит authorization code")
	}

	// CSRF-защита: state callback должен совпадать с выданным в login
	if state := r.URL.Query().Get("state"); pendingState != "" && state != pendingState {
		return false, errors.New("state parameter не совпадает")
	}

	tokenResp, err := p.client.ExchangeCode(r.Context(), code, redirectURI)
	if err != nil {
		return false, fmt.Errorf("обмен authorization code: %w", err)
	}
	if tokenResp.IDToken == "" {
		return false, errors.New("ответ IDP не содержит id_token")
	}

	claims, err := p.parseIDToken(tokenResp.IDToken)
	if err != nil {
		return false, fmt.Errorf("разбор id_token: %w", err)
	}
	if claims.PreferredUsername == "" {
		return false, errors.New("id_token не содержит preferred_username")
	}

	user, err := p.store.UpsertFederated(r.Context(), claims.PreferredUsername, claims.Name, p.name)
	if err != nil {
		return false, fmt.Errorf("сверка пользователя: %w", err)
	}

	p.mu.Lock()
	p.user = user
	p.pendingState = ""
	p.mu.Unlock()

	p.logger.Info("Федеративная авторизация успешна",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return true, nil
}

// parseIDToken проверяет подпись id_token через JWKS IDP (если настроен)
// и возвращает клеймы.
func (p *FederatedProvider) parseIDToken(idToken string) (*idTokenClaims, error) {
	claims := &idTokenClaims{}

	if p.jwks == nil {
		// IDP без JWKS endpoint: подпись проверить нечем,
		// доверяем прямому TLS-соединению с token endpoint
		parser := jwt.NewParser()
		if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
			return nil, err
		}
		return claims, nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256", "PS256"}),
		jwt.WithAudience(p.client.clientID),
	}
	if p.client.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.client.issuer))
	}

	if _, err := jwt.ParseWithClaims(idToken, claims, p.jwks.Keyfunc, opts...); err != nil {
		return nil, err
	}
	return claims, nil
}

// CurrentUser возвращает пользователя последней успешной авторизации.
func (p *FederatedProvider) CurrentUser() *model.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.user
}

// LoggedInUser возвращает username текущего пользователя.
func (p *FederatedProvider) LoggedInUser() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.user == nil {
		return ""
	}
	return p.user.Username
}

// buildCallbackURI формирует callback URI из входящего запроса.
// Учитывает X-Forwarded-* заголовки от reverse proxy / API Gateway.
func buildCallbackURI(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	host := r.Host
	if fwdHost := r.Header.Get("X-Forwarded-Host"); fwdHost != "" {
		host = fwdHost
	}

	return scheme + "://" + host + authCallbackPath
}
