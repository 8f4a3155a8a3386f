// Пакет errors — конструкторы стандартных ошибок AAA-модуля Taskflow.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок API.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeUnknownProvider      = "UNKNOWN_PROVIDER"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeAuthorizationFailed  = "AUTHORIZATION_FAILED"
	CodeNoValidProvider      = "NO_VALID_PROVIDER"
	CodeUpstreamTokenExpired = "UPSTREAM_TOKEN_EXPIRED"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeMalformedHeader      = "MALFORMED_HEADER"
	CodeMissingAuthorization = "MISSING_AUTHORIZATION"
	CodeDuplicateUser        = "DUPLICATE_USER"
	CodeUnknownRole          = "UNKNOWN_ROLE"
	CodeInternalError        = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// UnknownProvider — 400 запрошенный провайдер не зарегистрирован.
func UnknownProvider(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeUnknownProvider, message)
}

// InvalidCredentials — 401 логин или пароль неверны.
func InvalidCredentials(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeInvalidCredentials, message)
}

// NoValidProvider — 400 ни один провайдер не подтвердил авторизацию.
func NoValidProvider(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeNoValidProvider, message)
}

// UpstreamTokenExpired — 401 токен внешнего IDP просрочен или отозван.
func UpstreamTokenExpired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUpstreamTokenExpired, message)
}

// InvalidToken — 400 токен не прошёл проверку подписи или структуры.
func InvalidToken(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeInvalidToken, message)
}

// MalformedHeader — 400 заголовок Authorization имеет неверный формат.
func MalformedHeader(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeMalformedHeader, message)
}

// MissingAuthorization — 401 заголовок Authorization отсутствует.
func MissingAuthorization(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeMissingAuthorization, message)
}

// DuplicateUser — 400 пользователь с таким именем уже существует.
func DuplicateUser(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeDuplicateUser, message)
}

// UnknownRole — 400 роль с таким именем не существует.
func UnknownRole(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeUnknownRole, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
