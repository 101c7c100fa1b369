// Пакет errors — JSON-ответы об ошибках API tempobox.
//
// Формат один для всех endpoints:
//
//	{"error": {"code": "...", "message": "..."}}
//
// Для 410 дополнительно передаётся expiredAt (RFC 3339, UTC).
package errors //nolint:revive // конфликт имени со stdlib

import (
	"encoding/json"
	"net/http"
	"time"
)

// Машиночитаемые коды ошибок (совпадают с OpenAPI-документом).
const (
	CodeValidationError  = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeExpired          = "EXPIRED"
	CodeFileTooLarge     = "FILE_TOO_LARGE"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeInternalError    = "INTERNAL_ERROR"
)

// statusByCode — HTTP-статус для каждого кода.
var statusByCode = map[string]int{
	CodeValidationError:  http.StatusBadRequest,
	CodeNotFound:         http.StatusNotFound,
	CodeUnauthorized:     http.StatusUnauthorized,
	CodeExpired:          http.StatusGone,
	CodeFileTooLarge:     http.StatusRequestEntityTooLarge,
	CodeMethodNotAllowed: http.StatusMethodNotAllowed,
	CodeInternalError:    http.StatusInternalServerError,
}

// Problem — тело ошибки.
type Problem struct {
	Code      string     `json:"code"`
	Message   string     `json:"message"`
	ExpiredAt *time.Time `json:"expiredAt,omitempty"`
}

// Status возвращает HTTP-статус для кода; неизвестный код — 500.
func (p Problem) Status() int {
	if s, ok := statusByCode[p.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Write отправляет p клиенту.
func Write(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(p.Status())
	_ = json.NewEncoder(w).Encode(struct {
		Error Problem `json:"error"`
	}{p})
}

// ValidationError — 400 при невалидных входных данных.
func ValidationError(w http.ResponseWriter, message string) {
	Write(w, Problem{Code: CodeValidationError, Message: message})
}

// NotFound — 404, запись есть, а содержимого нет.
func NotFound(w http.ResponseWriter, message string) {
	Write(w, Problem{Code: CodeNotFound, Message: message})
}

// Unauthorized — 401. Причину (нет файла или неверный токен) не раскрываем.
func Unauthorized(w http.ResponseWriter, message string) {
	Write(w, Problem{Code: CodeUnauthorized, Message: message})
}

// Expired — 410 с моментом истечения.
func Expired(w http.ResponseWriter, message string, expiredAt time.Time) {
	at := expiredAt.UTC()
	Write(w, Problem{Code: CodeExpired, Message: message, ExpiredAt: &at})
}

// FileTooLarge — 413 при превышении максимального размера файла.
func FileTooLarge(w http.ResponseWriter, message string) {
	Write(w, Problem{Code: CodeFileTooLarge, Message: message})
}

// MethodNotAllowed — 405 для известного пути с чужим методом.
func MethodNotAllowed(w http.ResponseWriter, message string) {
	Write(w, Problem{Code: CodeMethodNotAllowed, Message: message})
}

// InternalError — 500. Детали пишутся в лог, клиенту уходит общее сообщение.
func InternalError(w http.ResponseWriter, message string) {
	Write(w, Problem{Code: CodeInternalError, Message: message})
}
