// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized — неверный токен аутентификации, неизвестный file_id
	// или неверный access-токен. Причины намеренно не различаются.
	ErrUnauthorized = errors.New("доступ запрещён")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrStorage — ошибка хранилища метаданных или blob.
	ErrStorage = errors.New("ошибка хранилища")
	// ErrBlobNotFound — запись есть, но содержимое файла отсутствует.
	ErrBlobNotFound = errors.New("содержимое файла не найдено")
	// ErrFileTooLarge — размер загружаемого файла превышает лимит.
	ErrFileTooLarge = errors.New("файл превышает допустимый размер")
)

// ExpiredError — срок хранения файла истёк.
type ExpiredError struct {
	// ExpiredAt — исходный момент истечения записи
	ExpiredAt time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("срок хранения файла истёк %s", e.ExpiredAt.Format(time.RFC3339))
}
