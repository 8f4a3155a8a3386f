// users_test.go — unit-тесты CRUD пользователей и ролей.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"testing"

	"github.com/bigkaa/gotaskflow/aaa-module/internal/domain/model"
)

// TestCreateUser проверяет создание локального пользователя с ролями.
func TestCreateUser(t *testing.T) {
	h := newTestHarness(t, nil)
	h.store.addRole(&model.Role{ID: 1, Name: "operator"})

	rec := h.do("POST", "/api/aaa/users",
		`{"username":"alice","name":"Alice","password":"pw","roles":["operator"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("статус = %d, ожидался 201: %s", rec.Code, rec.Body.String())
	}

	var body userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("разбор ответа: %v", err)
	}
	if body.Username != "alice" || body.AAAProvider != "local" {
		t.Errorf("тело = %+v", body)
	}
	if len(body.Roles) != 1 || body.Roles[0] != "operator" {
		t.Errorf("roles = %v", body.Roles)
	}
}

// TestCreateUserValidation проверяет 400 для неполного тела.
func TestCreateUserValidation(t *testing.T) {
	h := newTestHarness(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"без username", `{"password":"pw"}`},
		{"без password", `{"username":"alice"}`},
		{"мусор вместо JSON", "не json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do("POST", "/api/aaa/users", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("статус = %d, ожидался 400", rec.Code)
			}
			if code := errorCode(t, rec); code != "VALIDATION_ERROR" {
				t.Errorf("код = %q", code)
			}
		})
	}
}

// TestCreateUserDuplicate проверяет 400 DUPLICATE_USER.
func TestCreateUserDuplicate(t *testing.T) {
	h := newTestHarness(t, nil)
	h.store.addUser(&model.User{ID: 1, Username: "alice"})

	rec := h.do("POST", "/api/aaa/users", `{"username":"alice","password":"pw"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("статус = %d, ожидался 400", rec.Code)
	}
	if code := errorCode(t, rec); code != "DUPLICATE_USER" {
		t.Errorf("код = %q", code)
	}
}

// TestCreateUserUnknownRole проверяет 400 UNKNOWN_ROLE.
func TestCreateUserUnknownRole(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do("POST", "/api/aaa/users",
		`{"username":"alice","password":"pw","roles":["нет-такой"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("статус = %d, ожидался 400", rec.Code)
	}
	if code := errorCode(t, rec); code != "UNKNOWN_ROLE" {
		t.Errorf("код = %q", code)
	}
}

// TestGetUser проверяет выдачу пользователя и 404 для неизвестного id.
func TestGetUser(t *testing.T) {
	h := newTestHarness(t, nil)
	h.store.addUser(&model.User{ID: 5, Username: "bob", AAAProvider: "okta"})

	rec := h.do("GET", "/api/aaa/users/5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидался 200", rec.Code)
	}
	var body userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("разбор ответа: %v", err)
	}
	if body.ID != 5 || body.Username != "bob" || body.AAAProvider != "okta" {
		t.Errorf("тело = %+v", body)
	}

	rec = h.do("GET", "/api/aaa/users/999", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("статус = %d, ожидался 404", rec.Code)
	}
	if code := errorCode(t, rec); code != "NOT_FOUND" {
		t.Errorf("код = %q", code)
	}

	rec = h.do("GET", "/api/aaa/users/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("статус для нечислового id = %d, ожидался 400", rec.Code)
	}
}

// TestListUsers проверяет список пользователей.
func TestListUsers(t *testing.T) {
	h := newTestHarness(t, nil)
	h.store.addUser(&model.User{ID: 1, Username: "alice"})
	h.store.addUser(&model.User{ID: 2, Username: "bob"})

	rec := h.do("GET", "/api/aaa/users", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}

	var body struct {
		Users []userResponse `json:"users"`
		Total int            `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("разбор ответа: %v", err)
	}
	if body.Total != 2 || len(body.Users) != 2 {
		t.Errorf("total = %d, users = %d", body.Total, len(body.Users))
	}
}

// TestSetUserRoles проверяет полную замену набора ролей.
func TestSetUserRoles(t *testing.T) {
	h := newTestHarness(t, nil)
	h.store.addUser(&model.User{ID: 5, Username: "bob",
		Roles: []model.Role{{ID: 1, Name: "old"}}})
	h.store.addRole(&model.Role{ID: 1, Name: "old"})
	h.store.addRole(&model.Role{ID: 2, Name: "operator"})
	h.store.addRole(&model.Role{ID: 3, Name: "admin"})

	rec := h.do("POST", "/api/aaa/users/5/roles", `{"roles":["operator","admin"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Roles []string `json:"roles"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("разбор ответа: %v", err)
	}
	if len(body.Roles) != 2 {
		t.Errorf("roles = %v", body.Roles)
	}

	// Набор заменён, старая роль исчезла
	rec = h.do("GET", "/api/aaa/users/5/roles", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("разбор ответа: %v", err)
	}
	for _, name := range body.Roles {
		if name == "old" {
			t.Error("старая роль осталась после замены набора")
		}
	}
}

// TestSetUserRolesUnknownRole проверяет 400 UNKNOWN_ROLE без частичной замены.
func TestSetUserRolesUnknownRole(t *testing.T) {
	h := newTestHarness(t, nil)
	h.store.addUser(&model.User{ID: 5, Username: "bob"})

	rec := h.do("POST", "/api/aaa/users/5/roles", `{"roles":["нет-такой"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("статус = %d, ожидался 400", rec.Code)
	}
	if code := errorCode(t, rec); code != "UNKNOWN_ROLE" {
		t.Errorf("код = %q", code)
	}
}

// TestSetUserRolesUserNotFound проверяет 404 для неизвестного пользователя.
func TestSetUserRolesUserNotFound(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do("POST", "/api/aaa/users/999/roles", `{"roles":[]}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("статус = %d, ожидался 404", rec.Code)
	}
}

// TestRolesCRUD проверяет создание, чтение и конфликт ролей.
func TestRolesCRUD(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do("POST", "/api/aaa/roles", `{"name":"operator"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("статус = %d: %s", rec.Code, rec.Body.String())
	}
	var created roleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("разбор ответа: %v", err)
	}
	if created.Name != "operator" {
		t.Errorf("name = %q", created.Name)
	}

	// Дубликат
	rec = h.do("POST", "/api/aaa/roles", `{"name":"operator"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("статус дубликата = %d, ожидался 400", rec.Code)
	}

	// Чтение по id
	rec = h.do("GET", "/api/aaa/roles/"+itoa(created.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}

	// Список
	rec = h.do("GET", "/api/aaa/roles", "")
	var list struct {
		Roles []roleResponse `json:"roles"`
		Total int            `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("разбор ответа: %v", err)
	}
	if list.Total != 1 {
		t.Errorf("total = %d", list.Total)
	}

	// Неизвестный id
	rec = h.do("GET", "/api/aaa/roles/999", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("статус = %d, ожидался 404", rec.Code)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
