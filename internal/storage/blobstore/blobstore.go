// Пакет blobstore — контракт хранилища содержимого файлов (blob)
// и общие правила построения ключей.
//
// Реализации: filestore (локальная директория через afero) и
// s3store (S3-совместимое хранилище через minio-go).
package blobstore

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrNotFound — blob с указанным ключом отсутствует.
var ErrNotFound = errors.New("blob не найден")

// maxNameLen — ограничение длины имени в ключе.
const maxNameLen = 100

// SaveResult — результат записи blob.
type SaveResult struct {
	// Key — ключ, под которым сохранено содержимое
	Key string
	// Size — количество записанных байт
	Size int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
}

// Object — открытый на чтение blob. Вызывающий код обязан вызвать Close.
type Object struct {
	io.ReadSeekCloser
	// Size — размер в байтах
	Size int64
	// ModTime — время последней записи
	ModTime time.Time
}

// Info — описание blob при листинге.
type Info struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store — хранилище blob.
type Store interface {
	// Save записывает содержимое reader под ключом key.
	Save(ctx context.Context, key string, reader io.Reader) (*SaveResult, error)
	// Open открывает blob на чтение. Отсутствующий ключ — ErrNotFound.
	Open(ctx context.Context, key string) (*Object, error)
	// Delete удаляет blob. Удаление отсутствующего ключа — не ошибка.
	Delete(ctx context.Context, key string) error
	// List возвращает все blob хранилища.
	List(ctx context.Context) ([]Info, error)
	// Ping проверяет доступность хранилища на запись.
	Ping(ctx context.Context) error
}

// KeyFor строит ключ blob: {file_id}_{имя файла}.
// Префикс file_id (UUID v4) делает ключ непредсказуемым и исключает коллизии.
func KeyFor(fileID, originalFilename string) string {
	ext := filepath.Ext(originalFilename)
	name := sanitize(strings.TrimSuffix(originalFilename, ext))
	ext = sanitize(strings.TrimPrefix(ext, "."))

	if name == "" {
		name = "file"
	}
	for len(name) > maxNameLen {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	if ext != "" {
		return fileID + "_" + name + "." + ext
	}
	return fileID + "_" + name
}

// FileIDFromKey извлекает file_id из ключа, построенного KeyFor.
// Возвращает пустую строку, если ключ не соответствует формату.
func FileIDFromKey(key string) string {
	id, _, ok := strings.Cut(key, "_")
	if !ok || id == "" {
		return ""
	}
	return id
}

// ValidKey проверяет, что ключ безопасен как имя файла в плоской директории.
func ValidKey(key string) bool {
	if key == "" || key == "." || key == ".." || strings.HasPrefix(key, ".") {
		return false
	}
	return !strings.ContainsAny(key, `/\`) && !strings.Contains(key, "..")
}

// sanitize убирает небезопасные символы из строки для использования в имени файла.
// Оставляет только буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' ||
			(r >= 0x0400 && r <= 0x04FF) { // Кириллица
			result.WriteRune(r)
		}
	}
	return result.String()
}
