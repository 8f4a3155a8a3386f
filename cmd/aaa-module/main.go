// Точка входа AAA Module — модуль аутентификации и авторизации системы Taskflow.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// строит реестр провайдеров из YAML-файлов, создаёт токен-сервис и API handlers,
// запускает topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/gotaskflow/aaa-module/internal/api/handlers"
	"github.com/bigkaa/gotaskflow/aaa-module/internal/config"
	"github.com/bigkaa/gotaskflow/aaa-module/internal/credstore"
	"github.com/bigkaa/gotaskflow/aaa-module/internal/database"
	"github.com/bigkaa/gotaskflow/aaa-module/internal/provider"
	"github.com/bigkaa/gotaskflow/aaa-module/internal/server"
	"github.com/bigkaa/gotaskflow/aaa-module/internal/service"
	"github.com/bigkaa/gotaskflow/aaa-module/internal/token"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("AAA Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("AAA_DEPHEALTH_GROUP") == "" {
		logger.Warn("AAA_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. HTTP-клиент для внешних IDP (с кастомным CA при необходимости)
	var idpHTTPClient *http.Client
	if cfg.IDPCACertPath != "" {
		idpHTTPClient, err = buildHTTPClientWithCA(cfg.IDPCACertPath)
		if err != nil {
			logger.Error("Ошибка загрузки CA-сертификата",
				slog.String("path", cfg.IDPCACertPath),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		logger.Info("CA-сертификат загружен", slog.String("path", cfg.IDPCACertPath))
	}

	// 6. Хранилище учётных записей
	store := credstore.New(pool, logger)

	// 7. Токен-сервис
	tokens := token.New(cfg.TokenSecret, cfg.TokenTTL, cfg.TokenRenewThreshold)

	// 8. Реестр провайдеров из YAML-конфигураций
	registry, err := provider.Initialize(ctx, cfg.ProviderConfigDirs, provider.Deps{
		Store:      store,
		Tokens:     tokens,
		HTTPClient: idpHTTPClient,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("Ошибка инициализации провайдеров", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Реестр провайдеров построен",
		slog.Any("providers", registry.Names()),
	)

	// 9. Readiness checkers (PostgreSQL + реестр провайдеров)
	pgChecker := database.NewReadinessChecker(pool)
	healthHandler := handlers.NewHealthHandler(pgChecker, registry)

	// 10. API handler
	apiHandler := handlers.NewAPIHandler(
		registry,
		store,
		tokens,
		healthHandler,
		cfg.WebURL,
		cfg.CompatLoginOK,
		logger,
	)

	// 11. topologymetrics — мониторинг зависимостей (PostgreSQL + IDP)
	var dephealthSvc *service.DephealthService
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"aaa-module",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		registry.FederatedEndpoints(),
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 12. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 13. Graceful shutdown фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("AAA Module остановлен")
}

// buildHTTPClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func buildHTTPClientWithCA(caCertPath string) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("файл %s не содержит ни одного PEM-сертификата", caCertPath)
	}

	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}
