package repository

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/tempobox/internal/auth"
	"github.com/bigkaa/tempobox/internal/domain/model"
)

// MemoryRepository — потокобезопасная in-memory реализация FileRepository.
// Использует sync.RWMutex для конкурентного чтения и эксклюзивной записи.
// Записи копируются на входе и выходе.
//
// Не персистентная: при рестарте процесса метаданные теряются.
type MemoryRepository struct {
	mu    sync.RWMutex
	files map[string]*model.FileRecord // file_id → запись
}

// NewMemoryRepository создаёт пустой репозиторий.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{files: make(map[string]*model.FileRecord)}
}

func (m *MemoryRepository) Insert(_ context.Context, r *model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[r.FileID]; ok {
		return ErrConflict
	}
	r.Status = model.StatusPending
	m.files[r.FileID] = r.Clone()
	return nil
}

func (m *MemoryRepository) Activate(_ context.Context, fileID string, size int64, checksum string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[fileID]
	if !ok || f.Status != model.StatusPending {
		return ErrNotFound
	}
	f.Status = model.StatusActive
	f.FileSize = size
	f.Checksum = checksum
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[fileID]; !ok {
		return ErrNotFound
	}
	delete(m.files, fileID)
	return nil
}

func (m *MemoryRepository) FindByIDAndAccess(_ context.Context, fileID, accessToken string) (*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[fileID]
	if !ok || !f.IsActive() || !auth.TokensEqual(f.AccessToken, accessToken) {
		return nil, ErrNotFound
	}
	return f.Clone(), nil
}

func (m *MemoryRepository) FindByIDAndOwner(_ context.Context, fileID, ownerToken string, scopeToken *string) (*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[fileID]
	if !ok || !f.IsActive() || !auth.TokensEqual(f.OwnerToken, ownerToken) {
		return nil, ErrNotFound
	}
	if scopeToken != nil && f.Scope() != *scopeToken {
		return nil, ErrNotFound
	}
	return f.Clone(), nil
}

func (m *MemoryRepository) List(_ context.Context, q model.ListQuery, now time.Time) ([]*model.FileRecord, error) {
	q = q.Normalize()
	if q.OwnerToken == "" {
		return nil, nil
	}

	m.mu.RLock()
	var result []*model.FileRecord
	for _, f := range m.files {
		if !f.IsActive() || f.OwnerToken != q.OwnerToken || f.ExpiresAt.Before(now) {
			continue
		}
		if q.ScopeToken != nil && f.Scope() != *q.ScopeToken {
			continue
		}
		result = append(result, f.Clone())
	}
	m.mu.RUnlock()

	slices.SortFunc(result, func(a, b *model.FileRecord) int {
		c := compareBy(q.SortField, a, b)
		if c == 0 {
			c = strings.Compare(a.FileID, b.FileID)
		}
		if q.SortDir == model.SortDesc {
			return -c
		}
		return c
	})
	return result, nil
}

func (m *MemoryRepository) MarkExpired(_ context.Context, fileID string, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[fileID]
	if !ok || !expiresAt.Before(f.ExpiresAt) {
		return false, nil
	}
	f.ExpiresAt = expiresAt
	return true, nil
}

func (m *MemoryRepository) FindExpired(_ context.Context, now time.Time) ([]*model.FileRecord, error) {
	return m.collect(func(f *model.FileRecord) bool { return f.ExpiresAt.Before(now) }), nil
}

func (m *MemoryRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	return m.deleteWhere(func(f *model.FileRecord) bool { return f.ExpiresAt.Before(now) }), nil
}

func (m *MemoryRepository) FindStalePending(_ context.Context, before time.Time) ([]*model.FileRecord, error) {
	return m.collect(func(f *model.FileRecord) bool { return isStalePending(f, before) }), nil
}

func (m *MemoryRepository) DeleteStalePending(_ context.Context, before time.Time) (int64, error) {
	return m.deleteWhere(func(f *model.FileRecord) bool { return isStalePending(f, before) }), nil
}

func (m *MemoryRepository) ExistingIDs(_ context.Context, ids []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := m.files[id]; ok {
			result[id] = true
		}
	}
	return result, nil
}

// Count возвращает общее количество записей.
func (m *MemoryRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

// Get возвращает копию записи по file_id без учёта статуса и срока.
// Возвращает nil, если записи нет.
func (m *MemoryRepository) Get(fileID string) *model.FileRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[fileID]
	if !ok {
		return nil
	}
	return f.Clone()
}

func (m *MemoryRepository) collect(match func(*model.FileRecord) bool) []*model.FileRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*model.FileRecord
	for _, f := range m.files {
		if match(f) {
			result = append(result, f.Clone())
		}
	}
	return result
}

func (m *MemoryRepository) deleteWhere(match func(*model.FileRecord) bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, f := range m.files {
		if match(f) {
			delete(m.files, id)
			n++
		}
	}
	return n
}

func isStalePending(f *model.FileRecord, before time.Time) bool {
	return f.Status == model.StatusPending && f.CreatedAt.Before(before)
}

func compareBy(field model.SortField, a, b *model.FileRecord) int {
	switch field {
	case model.SortByFilename:
		return strings.Compare(a.OriginalFilename, b.OriginalFilename)
	case model.SortByFileSize:
		return cmp.Compare(a.FileSize, b.FileSize)
	case model.SortByExpiresAt:
		return a.ExpiresAt.Compare(b.ExpiresAt)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

var _ FileRepository = (*MemoryRepository)(nil)
