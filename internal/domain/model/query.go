package model

import "strings"

// SortField — поле сортировки списка файлов.
type SortField string

const (
	SortByCreatedAt SortField = "createdAt"
	SortByFilename  SortField = "filename"
	SortByFileSize  SortField = "fileSize"
	SortByExpiresAt SortField = "expiresAt"
)

// SortDir — направление сортировки.
type SortDir string

const (
	SortAsc  SortDir = "asc"
	SortDesc SortDir = "desc"
)

// ListQuery — единый параметризованный запрос списка файлов арендатора.
type ListQuery struct {
	// OwnerToken — арендатор (обязательный)
	OwnerToken string
	// ScopeToken — сужение до подраздела; nil — все записи арендатора
	ScopeToken *string
	// SortField — поле сортировки (по умолчанию createdAt)
	SortField SortField
	// SortDir — направление (по умолчанию desc)
	SortDir SortDir
}

// ParseSortField разбирает поле сортировки без учёта регистра.
// Пустое или неизвестное значение — createdAt.
func ParseSortField(s string) SortField {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "filename":
		return SortByFilename
	case "filesize":
		return SortByFileSize
	case "expiresat":
		return SortByExpiresAt
	default:
		return SortByCreatedAt
	}
}

// ParseSortDir разбирает направление сортировки. Всё, кроме "asc", — desc.
func ParseSortDir(s string) SortDir {
	if strings.EqualFold(strings.TrimSpace(s), "asc") {
		return SortAsc
	}
	return SortDesc
}

// Normalize подставляет значения по умолчанию и убирает пустой scope.
func (q ListQuery) Normalize() ListQuery {
	q.SortField = ParseSortField(string(q.SortField))
	q.SortDir = ParseSortDir(string(q.SortDir))
	if q.ScopeToken != nil && strings.TrimSpace(*q.ScopeToken) == "" {
		q.ScopeToken = nil
	}
	return q
}
