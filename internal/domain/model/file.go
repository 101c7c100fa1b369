// Пакет model — доменные модели tempobox.
// FileRecord — единственная персистентная сущность: метаданные временного
// файла, ссылка на blob и токены доступа.
package model

import (
	"time"
)

// FileStatus — состояние записи в таблице метаданных.
type FileStatus string

const (
	// StatusPending — запись создана до записи blob (write-ahead), файл ещё недоступен
	StatusPending FileStatus = "pending"
	// StatusActive — blob записан, файл доступен до expires_at
	StatusActive FileStatus = "active"
)

// Description — плоский набор key/value метаданных CI/CD.
// Хранилище не интерпретирует содержимое и возвращает его без изменений.
type Description map[string]string

// Известные ключи Description (имена полей multipart-формы загрузки).
const (
	DescRepository    = "repository"
	DescCommit        = "commit"
	DescCommitMessage = "commitMessage"
	DescBranch        = "branch"
	DescRunID         = "runId"
	DescActor         = "actor"
	DescApkName       = "apkName"
	DescDownloadURL   = "downloadUrl"
)

// DescriptionKeys — порядок известных ключей описания.
var DescriptionKeys = []string{
	DescRepository, DescCommit, DescCommitMessage, DescBranch,
	DescRunID, DescActor, DescApkName, DescDownloadURL,
}

// FileRecord — запись о временном файле. Хранится в таблице file_metadata.
type FileRecord struct {
	// FileID — UUID v4, назначается при загрузке, никогда не переиспользуется
	FileID string
	// OriginalFilename — имя файла при загрузке
	OriginalFilename string
	// ContentType — MIME-тип
	ContentType string
	// FileSize — размер в байтах
	FileSize int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
	// BlobKey — ключ blob в хранилище ({file_id}_{имя}). Не владеющая ссылка.
	BlobKey string
	// AccessToken — capability-токен для скачивания
	AccessToken string
	// OwnerToken — идентичность арендатора (токен аутентификации при загрузке)
	OwnerToken string
	// ScopeToken — вторичный ключ разбиения внутри арендатора (nil — не задан)
	ScopeToken *string
	// CreatedAt — время создания (UTC)
	CreatedAt time.Time
	// ExpiresAt — created_at + storage_duration_minutes; сдвигается только назад (tombstone)
	ExpiresAt time.Time
	// StorageDurationMinutes — срок хранения в минутах (> 0)
	StorageDurationMinutes int
	// Description — CI/CD метаданные (опционально)
	Description Description
	// Status — pending или active
	Status FileStatus
}

// Clone возвращает глубокую копию записи.
func (r *FileRecord) Clone() *FileRecord {
	c := *r
	if r.ScopeToken != nil {
		s := *r.ScopeToken
		c.ScopeToken = &s
	}
	if r.Description != nil {
		c.Description = make(Description, len(r.Description))
		for k, v := range r.Description {
			c.Description[k] = v
		}
	}
	return &c
}

// Scope возвращает scope token или пустую строку.
func (r *FileRecord) Scope() string {
	if r.ScopeToken == nil {
		return ""
	}
	return *r.ScopeToken
}

// IsActive — blob записан и запись доступна на чтение.
func (r *FileRecord) IsActive() bool {
	return r.Status == StatusActive
}
