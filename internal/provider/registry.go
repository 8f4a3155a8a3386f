package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"gopkg.in/yaml.v3"
)

// jwksRefreshInterval — период фонового обновления JWKS федеративных IDP.
const jwksRefreshInterval = 1 * time.Hour

// Registry — упорядоченный реестр провайдеров аутентификации.
// Порядок регистрации определяет порядок обхода в /api/aaa/auth;
// повторная регистрация имени заменяет провайдер на месте,
// сохраняя позицию (последняя конфигурация побеждает).
type Registry struct {
	names     []string
	providers map[string]AuthProvider
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]AuthProvider),
	}
}

// Register добавляет провайдер или заменяет существующий с тем же именем.
func (r *Registry) Register(p AuthProvider) {
	name := p.Name()
	if _, ok := r.providers[name]; !ok {
		r.names = append(r.names, name)
	}
	r.providers[name] = p
}

// Get возвращает провайдер по имени.
func (r *Registry) Get(name string) (AuthProvider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names возвращает имена провайдеров в порядке регистрации.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len возвращает количество зарегистрированных провайдеров.
func (r *Registry) Len() int { return len(r.names) }

// IDPEndpoint — endpoint внешнего IDP для мониторинга зависимостей.
type IDPEndpoint struct {
	// Name — имя провайдера.
	Name string
	// URL — token endpoint IDP.
	URL string
}

// FederatedEndpoints возвращает token endpoints всех федеративных
// провайдеров в порядке регистрации.
func (r *Registry) FederatedEndpoints() []IDPEndpoint {
	var out []IDPEndpoint
	for _, name := range r.names {
		if fp, ok := r.providers[name].(*FederatedProvider); ok {
			out = append(out, IDPEndpoint{Name: name, URL: fp.TokenEndpoint()})
		}
	}
	return out
}

// CheckReady — проверка готовности реестра для readiness probe.
// Реализует интерфейс handlers.ReadinessChecker.
func (r *Registry) CheckReady() (status string, message string) {
	if len(r.names) == 0 {
		return "fail", "ни один провайдер не зарегистрирован"
	}
	return "ok", fmt.Sprintf("провайдеров: %d (%s)", len(r.names), strings.Join(r.names, ", "))
}

// FileConfig — YAML-конфигурация одного провайдера.
type FileConfig struct {
	// Type — тип провайдера: local или authlib (федеративный OIDC).
	Type string `yaml:"type"`
	// Name — имя провайдера (по умолчанию совпадает с типом).
	Name string `yaml:"name"`
	// ClientID — OAuth2 client_id (только authlib).
	ClientID string `yaml:"client_id"`
	// ClientSecret — OAuth2 client_secret (только authlib).
	ClientSecret string `yaml:"client_secret"`
	// RedirectURI — статический redirect_uri; пусто — вычисляется
	// из первого login-запроса.
	RedirectURI string `yaml:"redirect_uri"`
	// Authlib — параметры OIDC endpoint'ов (ключ authlib_configuration).
	Authlib AuthlibConfig `yaml:"authlib_configuration"`
	// AuthlibShort — короткий ключ authlib, синоним authlib_configuration.
	AuthlibShort AuthlibConfig `yaml:"authlib"`
}

// AuthlibConfig — endpoint'ы федеративного IDP. Либо server_metadata_url
// (OIDC discovery), либо явные authorize_url + token_url.
type AuthlibConfig struct {
	// Name — имя провайдера внутри блока; используется, когда
	// name верхнего уровня не задан.
	Name              string `yaml:"name"`
	ServerMetadataURL string `yaml:"server_metadata_url"`
	AuthorizeURL      string `yaml:"authorize_url"`
	TokenURL          string `yaml:"token_url"`
	JWKSURL           string `yaml:"jwks_url"`
	Issuer            string `yaml:"issuer"`
	Scope             string `yaml:"scope"`
}

// Deps — зависимости, передаваемые провайдерам при инициализации.
type Deps struct {
	Store      CredentialStore
	Tokens     TokenService
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Initialize строит реестр из YAML-файлов в каталогах dirs.
// Каталоги обходятся в переданном порядке, файлы внутри каталога —
// в лексикографическом; одноимённый провайдер из более позднего
// файла заменяет более ранний. Всегда регистрирует local-провайдер
// первым (до чтения файлов), чтобы локальный вход работал и без
// единого конфигурационного файла.
func Initialize(ctx context.Context, dirs []string, deps Deps) (*Registry, error) {
	registry := NewRegistry()
	registry.Register(NewLocalProvider("local", deps.Store, deps.Tokens, deps.Logger))

	for _, dir := range dirs {
		files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
		if err != nil {
			return nil, fmt.Errorf("сканирование каталога %s: %w", dir, err)
		}
		sort.Strings(files)

		for _, path := range files {
			cfg, err := loadFileConfig(path)
			if err != nil {
				return nil, fmt.Errorf("конфигурация провайдера %s: %w", path, err)
			}

			p, err := buildProvider(ctx, cfg, deps)
			if err != nil {
				return nil, fmt.Errorf("провайдер из %s: %w", path, err)
			}

			registry.Register(p)
			deps.Logger.Info("Провайдер аутентификации зарегистрирован",
				slog.String("name", p.Name()),
				slog.String("type", cfg.Type),
				slog.String("file", path),
			)
		}
	}

	return registry, nil
}

// loadFileConfig читает и разбирает YAML-файл провайдера.
func loadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение файла: %w", err)
	}

	cfg := &FileConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор YAML: %w", err)
	}

	if cfg.Type == "" {
		return nil, fmt.Errorf("поле type не задано")
	}
	if cfg.Authlib == (AuthlibConfig{}) {
		cfg.Authlib = cfg.AuthlibShort
	}
	// Имя провайдера: верхнеуровневый name, иначе name из блока
	// authlib_configuration, иначе type.
	if cfg.Name == "" {
		cfg.Name = cfg.Authlib.Name
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Type
	}

	return cfg, nil
}

// buildProvider конструирует провайдер по конфигурации.
func buildProvider(ctx context.Context, cfg *FileConfig, deps Deps) (AuthProvider, error) {
	switch strings.ToLower(cfg.Type) {
	case "local":
		return NewLocalProvider(cfg.Name, deps.Store, deps.Tokens, deps.Logger), nil
	case "authlib":
		return buildFederatedProvider(ctx, cfg, deps)
	default:
		return nil, fmt.Errorf("неизвестный тип провайдера: %s", cfg.Type)
	}
}

// buildFederatedProvider конструирует федеративный OIDC-провайдер:
// при наличии server_metadata_url выполняет discovery, иначе использует
// явные endpoint'ы из конфигурации.
func buildFederatedProvider(ctx context.Context, cfg *FileConfig, deps Deps) (AuthProvider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("поле client_id не задано")
	}

	authorizeURL := cfg.Authlib.AuthorizeURL
	tokenURL := cfg.Authlib.TokenURL
	jwksURL := cfg.Authlib.JWKSURL
	issuer := cfg.Authlib.Issuer

	if cfg.Authlib.ServerMetadataURL != "" {
		meta, err := FetchMetadata(ctx, cfg.Authlib.ServerMetadataURL, deps.HTTPClient)
		if err != nil {
			return nil, fmt.Errorf("OIDC discovery: %w", err)
		}
		authorizeURL = meta.AuthorizationEndpoint
		tokenURL = meta.TokenEndpoint
		if jwksURL == "" {
			jwksURL = meta.JWKSURI
		}
		if issuer == "" {
			issuer = meta.Issuer
		}
	}

	if authorizeURL == "" || tokenURL == "" {
		return nil, fmt.Errorf("не заданы authorize_url и token_url (ни напрямую, ни через discovery)")
	}

	client := NewOIDCClient(OIDCClientConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AuthorizeURL: authorizeURL,
		TokenURL:     tokenURL,
		Issuer:       issuer,
		Scopes:       cfg.Authlib.Scope,
		HTTPClient:   deps.HTTPClient,
	})

	var jwks keyfunc.Keyfunc
	if jwksURL != "" {
		k, err := buildJWKS(ctx, jwksURL, deps)
		if err != nil {
			return nil, err
		}
		jwks = k
	}

	return NewFederatedProvider(cfg.Name, client, deps.Store, cfg.RedirectURI, jwks, deps.Logger), nil
}

// buildJWKS создаёт keyfunc с фоновым обновлением JWKS.
// NoErrorReturnFirstHTTPReq — стартуем даже если IDP ещё недоступен.
func buildJWKS(ctx context.Context, jwksURL string, deps Deps) (keyfunc.Keyfunc, error) {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Ctx:                       ctx,
		Client:                    deps.HTTPClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			deps.Logger.Error("Ошибка обновления JWKS",
				slog.String("jwks_url", jwksURL),
				slog.String("error", err.Error()),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Ctx:     ctx,
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return k, nil
}
