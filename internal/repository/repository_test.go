// repository_test.go — интеграционные тесты репозиториев поверх
// PostgreSQL в testcontainers. Запускаются только при TEST_INTEGRATION=1.
package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/gotaskflow/aaa-module/internal/config"
	"github.com/bigkaa/gotaskflow/aaa-module/internal/database"
	"github.com/bigkaa/gotaskflow/aaa-module/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool с автоматической очисткой.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("taskflow_test"),
		postgres.WithUsername("taskflow"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	os.Setenv("AAA_DB_HOST", host)
	os.Setenv("AAA_DB_PORT", port.Port())
	os.Setenv("AAA_DB_NAME", "taskflow_test")
	os.Setenv("AAA_DB_USER", "taskflow")
	os.Setenv("AAA_DB_PASSWORD", "test-password")
	os.Setenv("AAA_DB_SSL_MODE", "disable")
	os.Setenv("AAA_TOKEN_SECRET", "integration-test-secret")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Применяем миграции
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	// Подключаемся
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// uniqueName генерирует уникальное имя для изоляции тестов в общей БД.
func uniqueName(prefix string) string {
	return prefix + "-" + uuid.New().String()[:8]
}

// --- Тесты UserRepository ---

func TestUserCRUD(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(pool)

	username := uniqueName("alice")
	u := &model.User{
		Username:     username,
		Name:         "Alice",
		PasswordHash: "$2a$10$fakehash",
		AAAProvider:  "local",
	}

	// Create
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if u.ID == 0 {
		t.Error("ID не установлен после Create")
	}
	if u.CreatedAt.IsZero() {
		t.Error("CreatedAt не установлен")
	}

	// GetByID
	got, err := repo.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.Username != username || got.AAAProvider != "local" {
		t.Errorf("GetByID() = %+v", got)
	}

	// GetByUsername
	got, err = repo.GetByUsername(ctx, username)
	if err != nil {
		t.Fatalf("GetByUsername() ошибка: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("GetByUsername().ID = %d, ожидалось %d", got.ID, u.ID)
	}

	// Неизвестный id → ErrNotFound
	if _, err := repo.GetByID(ctx, 999999999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(unknown) = %v, ожидалась ErrNotFound", err)
	}
}

func TestUserDuplicateUsername(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(pool)

	username := uniqueName("dup")
	first := &model.User{Username: username, PasswordHash: "h", AAAProvider: "local"}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	second := &model.User{Username: username, PasswordHash: "h2", AAAProvider: "local"}
	if err := repo.Create(ctx, second); !errors.Is(err, ErrConflict) {
		t.Fatalf("Create(dup) = %v, ожидалась ErrConflict", err)
	}

	// Прежняя запись не изменилась
	got, err := repo.GetByUsername(ctx, username)
	if err != nil {
		t.Fatalf("GetByUsername() ошибка: %v", err)
	}
	if got.ID != first.ID || got.PasswordHash != "h" {
		t.Errorf("прежняя запись изменена: %+v", got)
	}
}

func TestUserUpdateProviderAndPassword(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(pool)

	u := &model.User{Username: uniqueName("fed"), PasswordHash: "old", AAAProvider: "local"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	if err := repo.UpdateProviderAndPassword(ctx, u.ID, "okta", "new-hash"); err != nil {
		t.Fatalf("UpdateProviderAndPassword() ошибка: %v", err)
	}

	got, err := repo.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.AAAProvider != "okta" || got.PasswordHash != "new-hash" {
		t.Errorf("после обновления: provider=%q hash=%q", got.AAAProvider, got.PasswordHash)
	}
}

// --- Тесты RoleRepository и ReplaceRoles ---

func TestRoleCRUD(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewRoleRepository(pool)

	name := uniqueName("operator")
	role := &model.Role{Name: name}
	if err := repo.Create(ctx, role); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if role.ID == 0 {
		t.Error("ID не установлен")
	}

	got, err := repo.GetByName(ctx, name)
	if err != nil {
		t.Fatalf("GetByName() ошибка: %v", err)
	}
	if got.ID != role.ID {
		t.Errorf("GetByName().ID = %d", got.ID)
	}

	// Дубликат имени
	if err := repo.Create(ctx, &model.Role{Name: name}); !errors.Is(err, ErrConflict) {
		t.Errorf("Create(dup) = %v, ожидалась ErrConflict", err)
	}
}

func TestReplaceRoles(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(pool)
	roles := NewRoleRepository(pool)

	u := &model.User{Username: uniqueName("bob"), PasswordHash: "h", AAAProvider: "local"}
	if err := users.Create(ctx, u); err != nil {
		t.Fatalf("Create(user) ошибка: %v", err)
	}

	r1 := &model.Role{Name: uniqueName("role-a")}
	r2 := &model.Role{Name: uniqueName("role-b")}
	r3 := &model.Role{Name: uniqueName("role-c")}
	for _, r := range []*model.Role{r1, r2, r3} {
		if err := roles.Create(ctx, r); err != nil {
			t.Fatalf("Create(role) ошибка: %v", err)
		}
	}

	// Начальный набор
	if err := users.ReplaceRoles(ctx, u.ID, []int64{r1.ID, r2.ID}); err != nil {
		t.Fatalf("ReplaceRoles() ошибка: %v", err)
	}
	got, err := users.GetRoles(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetRoles() ошибка: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ролей = %d, ожидалось 2", len(got))
	}

	// Полная замена набора
	if err := users.ReplaceRoles(ctx, u.ID, []int64{r3.ID}); err != nil {
		t.Fatalf("ReplaceRoles(замена) ошибка: %v", err)
	}
	got, err = users.GetRoles(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetRoles() ошибка: %v", err)
	}
	if len(got) != 1 || got[0].ID != r3.ID {
		t.Errorf("после замены роли = %+v", got)
	}

	// Пустой набор очищает роли
	if err := users.ReplaceRoles(ctx, u.ID, nil); err != nil {
		t.Fatalf("ReplaceRoles(пусто) ошибка: %v", err)
	}
	got, err = users.GetRoles(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetRoles() ошибка: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("роли не очищены: %+v", got)
	}
}

// TestTxRollback проверяет, что ошибка внутри транзакции
// не оставляет частично записанного состояния.
func TestTxRollback(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	runner := NewTxRunner(pool)

	username := uniqueName("tx")
	sentinel := errors.New("принудительный откат")

	err := runner.RunInTx(ctx, func(tx pgx.Tx) error {
		repo := NewUserRepository(tx)
		u := &model.User{Username: username, PasswordHash: "h", AAAProvider: "local"}
		if createErr := repo.Create(ctx, u); createErr != nil {
			return createErr
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("RunInTx = %v, ожидалась sentinel-ошибка", err)
	}

	// Запись не видна после отката
	users := NewUserRepository(pool)
	if _, err := users.GetByUsername(ctx, username); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByUsername после отката = %v, ожидалась ErrNotFound", err)
	}
}
