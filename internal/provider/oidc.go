// oidc.go — OIDC-клиент федеративной аутентификации.
// Реализует Authorization Code Flow конфиденциального клиента
// (client_id + client_secret) против внешнего IDP.
package provider

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OIDCClient — клиент для взаимодействия с OIDC endpoints внешнего IDP.
type OIDCClient struct {
	// clientID — OIDC Client ID.
	clientID string
	// clientSecret — секрет конфиденциального клиента.
	clientSecret string
	// authorizeURL — endpoint авторизации IDP.
	authorizeURL string
	// tokenURL — endpoint обмена code → tokens.
	tokenURL string
	// issuer — issuer URL для валидации id_token.
	issuer string
	// scopes — запрашиваемые scopes (по умолчанию "openid profile email").
	scopes string
	// httpClient — HTTP-клиент (с кастомным CA при необходимости).
	httpClient *http.Client
}

// OIDCClientConfig — конфигурация OIDC-клиента.
type OIDCClientConfig struct {
	// ClientID — OIDC Client ID.
	ClientID string
	// ClientSecret — секрет клиента.
	ClientSecret string
	// AuthorizeURL — endpoint авторизации.
	AuthorizeURL string
	// TokenURL — endpoint обмена code → tokens.
	TokenURL string
	// Issuer — ожидаемый issuer id_token.
	Issuer string
	// Scopes — scopes через пробел. Пусто — "openid profile email".
	Scopes string
	// HTTPClient — HTTP-клиент (nil — создаётся новый с Timeout).
	HTTPClient *http.Client
}

// NewOIDCClient создаёт новый OIDC-клиент на основе конфигурации.
func NewOIDCClient(cfg OIDCClientConfig) *OIDCClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	scopes := cfg.Scopes
	if scopes == "" {
		scopes = "openid profile email"
	}

	return &OIDCClient{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		authorizeURL: cfg.AuthorizeURL,
		tokenURL:     cfg.TokenURL,
		issuer:       cfg.Issuer,
		scopes:       scopes,
		httpClient:   httpClient,
	}
}

// AuthorizeURL формирует URL для redirect пользователя на login IDP.
// redirectURI — URL callback (/api/aaa/auth).
// state — случайный state parameter для CSRF-защиты.
func (c *OIDCClient) AuthorizeURL(redirectURI, state string) string {
	params := url.Values{
		"client_id":     {c.clientID},
		"response_type": {"code"},
		"redirect_uri":  {redirectURI},
		"state":         {state},
		"scope":         {c.scopes},
	}
	return c.authorizeURL + "?" + params.Encode()
}

// TokenResponse — ответ от token endpoint IDP.
type TokenResponse struct {
	AccessToken string `json:"access_token"` //nolint:gosec // G117: структура токена OAuth2
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	IDToken     string `json:"id_token"`
}

// TokenError — ошибка от token endpoint IDP.
type TokenError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// ExchangeCode обменивает authorization code на tokens через token endpoint.
// redirectURI — тот же redirect URI, что использовался в authorize URL.
func (c *OIDCClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"code":          {code},
		"redirect_uri":  {redirectURI},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации провайдера
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса к token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var tokenErr TokenError
		if jsonErr := json.Unmarshal(body, &tokenErr); jsonErr == nil && tokenErr.Error != "" {
			return nil, fmt.Errorf("token endpoint error: %s — %s", tokenErr.Error, tokenErr.Description)
		}
		return nil, fmt.Errorf("token endpoint вернул статус %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("ошибка парсинга token response: %w", err)
	}

	return &tokenResp, nil
}

// ProviderMetadata — документ OIDC discovery (.well-known/openid-configuration).
type ProviderMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// FetchMetadata загружает документ OIDC discovery с указанного URL.
func FetchMetadata(ctx context.Context, metadataURL string, httpClient *http.Client) (*ProviderMetadata, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}

	resp, err := httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации провайдера
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса discovery-документа: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint вернул статус %d", resp.StatusCode)
	}

	var meta ProviderMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("ошибка парсинга discovery-документа: %w", err)
	}

	if meta.AuthorizationEndpoint == "" || meta.TokenEndpoint == "" {
		return nil, fmt.Errorf("discovery-документ %s не содержит обязательных endpoints", metadataURL)
	}

	return &meta, nil
}

// GenerateState генерирует случайный state parameter для CSRF-защиты.
func GenerateState() (string, error) {
	stateBytes := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, stateBytes); err != nil {
		return "", fmt.Errorf("ошибка генерации state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(stateBytes), nil
}
