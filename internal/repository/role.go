package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/gotaskflow/aaa-module/internal/domain/model"
)

// RoleRepository — интерфейс CRUD для таблицы roles.
type RoleRepository interface {
	// Create создаёт новую роль. При дублирующемся имени возвращает ErrConflict.
	Create(ctx context.Context, role *model.Role) error
	// GetByID возвращает роль по идентификатору.
	GetByID(ctx context.Context, id int64) (*model.Role, error)
	// GetByName возвращает роль по имени.
	GetByName(ctx context.Context, name string) (*model.Role, error)
	// List возвращает все роли в порядке создания.
	List(ctx context.Context) ([]*model.Role, error)
}

// roleRepo — реализация RoleRepository.
type roleRepo struct {
	db DBTX
}

// NewRoleRepository создаёт репозиторий ролей.
func NewRoleRepository(db DBTX) RoleRepository {
	return &roleRepo{db: db}
}

func (r *roleRepo) Create(ctx context.Context, role *model.Role) error {
	query := `INSERT INTO roles (name) VALUES ($1) RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query, role.Name).Scan(&role.ID, &role.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: роль %q уже существует", ErrConflict, role.Name)
		}
		return fmt.Errorf("ошибка создания роли: %w", err)
	}
	return nil
}

func (r *roleRepo) GetByID(ctx context.Context, id int64) (*model.Role, error) {
	role := &model.Role{}
	err := r.db.QueryRow(ctx,
		`SELECT id, name, created_at FROM roles WHERE id = $1`, id,
	).Scan(&role.ID, &role.Name, &role.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения роли: %w", err)
	}
	return role, nil
}

func (r *roleRepo) GetByName(ctx context.Context, name string) (*model.Role, error) {
	role := &model.Role{}
	err := r.db.QueryRow(ctx,
		`SELECT id, name, created_at FROM roles WHERE name = $1`, name,
	).Scan(&role.ID, &role.Name, &role.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения роли по имени: %w", err)
	}
	return role, nil
}

func (r *roleRepo) List(ctx context.Context) ([]*model.Role, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, created_at FROM roles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка ролей: %w", err)
	}
	defer rows.Close()

	var result []*model.Role
	for rows.Next() {
		role := &model.Role{}
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования роли: %w", err)
		}
		result = append(result, role)
	}
	return result, rows.Err()
}
