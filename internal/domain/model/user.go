// Пакет model — доменные модели AAA Module.
package model

import "time"

// User — пользователь taskflow.
// Хранится в таблице users, роли — через join-таблицу user_roles.
type User struct {
	// ID — серверный идентификатор пользователя (bigserial)
	ID int64
	// Username — уникальное имя пользователя (неизменяемо после создания)
	Username string
	// Name — отображаемое имя
	Name string
	// PasswordHash — bcrypt-хеш пароля. Для федеративных пользователей
	// после каждого логина перезаписывается хешем случайного секрета.
	PasswordHash string
	// AAAProvider — имя провайдера, который последним аутентифицировал
	// пользователя (владеет identity). "local" по умолчанию.
	AAAProvider string
	// Roles — роли пользователя (заполняются при чтении)
	Roles []Role
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// HasRole проверяет, назначена ли пользователю указанная роль.
func (u *User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// RoleNames возвращает имена ролей пользователя.
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

// Role — роль пользователя. Жизненный цикл независим от User.
type Role struct {
	// ID — серверный идентификатор роли
	ID int64
	// Name — уникальное имя роли
	Name string
	// CreatedAt — время создания записи
	CreatedAt time.Time
}
