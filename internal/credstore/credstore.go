// Пакет credstore — хранилище учётных данных AAA Module.
// Оборачивает репозитории users/roles в доменные операции:
// поиск, проверка пароля (bcrypt), создание пользователей,
// ротация случайного пароля для федеративных identity,
// назначение ролей. Все мутации — транзакционные.
package credstore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/gotaskflow/aaa-module/internal/domain/model"
	"github.com/bigkaa/gotaskflow/aaa-module/internal/repository"
)

// ErrUnknownRole — в назначении ролей указано несуществующее имя роли.
// Назначение отклоняется целиком (см. DESIGN.md, решение по Open Question).
var ErrUnknownRole = errors.New("роль не существует")

// Алфавит случайного одноразового пароля федеративных identity.
const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Длина случайного одноразового пароля (как в историческом API).
const randomPasswordLength = 128

// Store — хранилище учётных данных поверх PostgreSQL.
type Store struct {
	users  repository.UserRepository
	roles  repository.RoleRepository
	tx     *repository.TxRunner
	logger *slog.Logger
}

// New создаёт Store поверх пула подключений.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{
		users:  repository.NewUserRepository(pool),
		roles:  repository.NewRoleRepository(pool),
		tx:     repository.NewTxRunner(pool),
		logger: logger.With(slog.String("component", "credstore")),
	}
}

// FindByUsername возвращает пользователя по имени вместе с ролями.
// Если пользователь не найден — repository.ErrNotFound.
func (s *Store) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.attachRoles(ctx, u)
}

// FindByID возвращает пользователя по идентификатору вместе с ролями.
func (s *Store) FindByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.attachRoles(ctx, u)
}

// ListUsers возвращает всех пользователей с ролями.
func (s *Store) ListUsers(ctx context.Context) ([]*model.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if _, err := s.attachRoles(ctx, u); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// VerifyPassword сравнивает пароль с сохранённым bcrypt-хешем.
// Возвращает false для пользователя без пригодного хеша (fail closed).
func (s *Store) VerifyPassword(user *model.User, plaintext string) bool {
	if user == nil || user.PasswordHash == "" {
		return false
	}
	input := []byte(plaintext)
	if len(input) > 72 {
		input = input[:72]
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), input) == nil
}

// Create создаёт нового пользователя с bcrypt-хешем пароля.
// При дублирующемся username возвращает repository.ErrConflict,
// не оставляя частично созданной записи.
func (s *Store) Create(ctx context.Context, username, name, password, provider string) (*model.User, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	if provider == "" {
		provider = "local"
	}

	u := &model.User{
		Username:     username,
		Name:         name,
		PasswordHash: hash,
		AAAProvider:  provider,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info("Пользователь создан",
		slog.Int64("user_id", u.ID),
		slog.String("username", u.Username),
		slog.String("aaa_provider", u.AAAProvider),
	)
	return u, nil
}

// SetRandomPassword заменяет пароль пользователя случайным одноразовым
// секретом. Используется после каждого федеративного логина: такие
// identity никогда не должны проходить локальную проверку пароля.
func (s *Store) SetRandomPassword(ctx context.Context, user *model.User) error {
	secret, err := randomPassword()
	if err != nil {
		return err
	}
	hash, err := hashPassword(secret)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return err
	}
	user.PasswordHash = hash
	return nil
}

// UpsertFederated сверяет федеративную identity с локальной БД в одной
// транзакции: создаёт пользователя при отсутствии, перезаписывает
// aaa_provider (побеждает последний логин) и ротирует хеш пароля
// случайным секретом. Возвращает актуального пользователя.
func (s *Store) UpsertFederated(ctx context.Context, username, name, providerName string) (*model.User, error) {
	secret, err := randomPassword()
	if err != nil {
		return nil, err
	}
	hash, err := hashPassword(secret)
	if err != nil {
		return nil, err
	}

	var user *model.User
	err = s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		users := repository.NewUserRepository(tx)

		existing, err := users.GetByUsername(ctx, username)
		switch {
		case err == nil:
			if err := users.UpdateProviderAndPassword(ctx, existing.ID, providerName, hash); err != nil {
				return err
			}
			existing.AAAProvider = providerName
			existing.PasswordHash = hash
			user = existing
			s.logger.Info("Федеративный пользователь найден, пароль ротирован",
				slog.Int64("user_id", existing.ID),
				slog.String("username", username),
				slog.String("aaa_provider", providerName),
			)
		case errors.Is(err, repository.ErrNotFound):
			created := &model.User{
				Username:     username,
				Name:         name,
				PasswordHash: hash,
				AAAProvider:  providerName,
			}
			if err := users.Create(ctx, created); err != nil {
				return err
			}
			user = created
			s.logger.Info("Федеративный пользователь создан",
				slog.Int64("user_id", created.ID),
				slog.String("username", username),
				slog.String("aaa_provider", providerName),
			)
		default:
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сверки федеративного пользователя: %w", err)
	}

	return s.attachRoles(ctx, user)
}

// SetRoles заменяет набор ролей пользователя на указанный.
// Несуществующее имя роли отклоняет всю операцию (ErrUnknownRole).
func (s *Store) SetRoles(ctx context.Context, userID int64, roleNames []string) ([]model.Role, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	// Разрешаем имена в идентификаторы до открытия транзакции
	roleIDs := make([]int64, 0, len(roleNames))
	for _, name := range roleNames {
		role, err := s.roles.GetByName(ctx, name)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: %q", ErrUnknownRole, name)
			}
			return nil, err
		}
		roleIDs = append(roleIDs, role.ID)
	}

	err := s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		return repository.NewUserRepository(tx).ReplaceRoles(ctx, userID, roleIDs)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка назначения ролей: %w", err)
	}

	return s.users.GetRoles(ctx, userID)
}

// GetRoles возвращает роли пользователя. Несуществующий пользователь — ErrNotFound.
func (s *Store) GetRoles(ctx context.Context, userID int64) ([]model.Role, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.users.GetRoles(ctx, userID)
}

// CreateRole создаёт новую роль.
func (s *Store) CreateRole(ctx context.Context, name string) (*model.Role, error) {
	role := &model.Role{Name: name}
	if err := s.roles.Create(ctx, role); err != nil {
		return nil, err
	}
	s.logger.Info("Роль создана", slog.Int64("role_id", role.ID), slog.String("name", role.Name))
	return role, nil
}

// GetRole возвращает роль по идентификатору.
func (s *Store) GetRole(ctx context.Context, id int64) (*model.Role, error) {
	return s.roles.GetByID(ctx, id)
}

// ListRoles возвращает все роли.
func (s *Store) ListRoles(ctx context.Context) ([]*model.Role, error) {
	return s.roles.List(ctx)
}

// attachRoles загружает роли пользователя.
func (s *Store) attachRoles(ctx context.Context, u *model.User) (*model.User, error) {
	roles, err := s.users.GetRoles(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return u, nil
}

// hashPassword хеширует пароль через bcrypt (DefaultCost).
// bcrypt принимает не более 72 байт входа, остаток отбрасывается.
func hashPassword(plaintext string) (string, error) {
	input := []byte(plaintext)
	if len(input) > 72 {
		input = input[:72]
	}
	hash, err := bcrypt.GenerateFromPassword(input, bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("ошибка хеширования пароля: %w", err)
	}
	return string(hash), nil
}

// randomPassword генерирует криптографически случайную строку
// из 128 символов латиницы и цифр.
func randomPassword() (string, error) {
	max := big.NewInt(int64(len(passwordAlphabet)))
	buf := make([]byte, randomPasswordLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("ошибка генерации случайного пароля: %w", err)
		}
		buf[i] = passwordAlphabet[n.Int64()]
	}
	return string(buf), nil
}
