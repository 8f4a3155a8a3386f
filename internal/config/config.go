// Пакет config — загрузка и валидация конфигурации AAA Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации AAA Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8000-8009)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Токены ---

	// Секрет подписи bearer-токенов (HS256), общий на процесс
	TokenSecret string
	// Время жизни выданного токена
	TokenTTL time.Duration
	// Порог автопродления: токен с остатком меньше порога продлевается
	TokenRenewThreshold time.Duration

	// --- Провайдеры аутентификации ---

	// Директории с YAML-файлами регистрации провайдеров (через запятую)
	ProviderConfigDirs []string
	// Путь к CA-сертификату для соединений с внешними IDP (пусто — системный пул)
	IDPCACertPath string

	// --- Web front-end ---

	// URL фронтенда, на который /auth возвращает access_token
	WebURL string
	// Совместимость с историческим API: неуспешный локальный логин
	// отвечает 200 с falsy-телом вместо 401
	CompatLoginOK bool

	// --- Мониторинг зависимостей ---

	// Имя группы topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// AAA_PORT — порт HTTP-сервера (по умолчанию 8003)
	cfg.Port, err = getEnvInt("AAA_PORT", 8003)
	if err != nil {
		return nil, fmt.Errorf("AAA_PORT: %w", err)
	}
	if cfg.Port < 8000 || cfg.Port > 8009 {
		return nil, fmt.Errorf("AAA_PORT: значение %d вне допустимого диапазона 8000-8009", cfg.Port)
	}

	// AAA_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("AAA_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("AAA_LOG_LEVEL: %w", err)
	}

	// AAA_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("AAA_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("AAA_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// AAA_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("AAA_DB_HOST")
	if err != nil {
		return nil, err
	}

	// AAA_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("AAA_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("AAA_DB_PORT: %w", err)
	}

	// AAA_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("AAA_DB_NAME")
	if err != nil {
		return nil, err
	}

	// AAA_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("AAA_DB_USER")
	if err != nil {
		return nil, err
	}

	// AAA_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("AAA_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// AAA_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("AAA_DB_SSL_MODE", "disable")

	// --- Токены ---

	// AAA_TOKEN_SECRET — обязательный секрет подписи токенов
	cfg.TokenSecret, err = getEnvRequired("AAA_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}

	// AAA_TOKEN_TTL — время жизни токена (по умолчанию 24h)
	cfg.TokenTTL, err = getEnvDuration("AAA_TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("AAA_TOKEN_TTL: %w", err)
	}

	// AAA_TOKEN_RENEW_THRESHOLD — порог автопродления (по умолчанию 5m)
	cfg.TokenRenewThreshold, err = getEnvDuration("AAA_TOKEN_RENEW_THRESHOLD", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AAA_TOKEN_RENEW_THRESHOLD: %w", err)
	}
	if cfg.TokenRenewThreshold >= cfg.TokenTTL {
		return nil, fmt.Errorf("AAA_TOKEN_RENEW_THRESHOLD: порог %s не меньше TTL %s",
			cfg.TokenRenewThreshold, cfg.TokenTTL)
	}

	// --- Провайдеры ---

	// AAA_PROVIDER_CONFIG_DIRS — директории с YAML-регистрациями провайдеров
	cfg.ProviderConfigDirs = parseCSV(getEnvDefault("AAA_PROVIDER_CONFIG_DIRS", ""))

	// AAA_IDP_CA_CERT — кастомный CA для TLS-соединений с IDP
	cfg.IDPCACertPath = getEnvDefault("AAA_IDP_CA_CERT", "")

	// --- Web front-end ---

	// AAA_WEB_URL — URL фронтенда для redirect после OIDC-логина (по умолчанию "/")
	cfg.WebURL = getEnvDefault("AAA_WEB_URL", "/")

	// AAA_COMPAT_LOGIN_OK — исторический ответ 200 на неуспешный локальный логин
	cfg.CompatLoginOK, err = getEnvBool("AAA_COMPAT_LOGIN_OK", false)
	if err != nil {
		return nil, fmt.Errorf("AAA_COMPAT_LOGIN_OK: %w", err)
	}

	// --- Мониторинг зависимостей ---

	// AAA_DEPHEALTH_GROUP — имя группы topologymetrics (по умолчанию "taskflow")
	cfg.DephealthGroup = getEnvDefault("AAA_DEPHEALTH_GROUP", "taskflow")

	// AAA_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("AAA_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AAA_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// AAA_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("AAA_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AAA_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL
// (для лейблов topologymetrics, не для подключения).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность %q", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("недопустимый уровень логирования %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбивает строку по запятым, отбрасывая пустые элементы и пробелы.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
