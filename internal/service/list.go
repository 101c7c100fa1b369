// list.go — список неистёкших файлов арендатора.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/tempobox/internal/auth"
	"github.com/bigkaa/tempobox/internal/domain/model"
	"github.com/bigkaa/tempobox/internal/repository"
)

// ListService — сервис списка файлов.
type ListService struct {
	repo      repository.FileRepository
	authority *auth.TokenAuthority
}

// NewListService создаёт сервис списка файлов.
func NewListService(repo repository.FileRepository, authority *auth.TokenAuthority) *ListService {
	return &ListService{repo: repo, authority: authority}
}

// List возвращает активные файлы владельца с expires_at >= now.
// q.OwnerToken должен быть валидным токеном аутентификации.
func (s *ListService) List(ctx context.Context, q model.ListQuery, now time.Time) ([]*model.FileRecord, error) {
	if !s.authority.Validate(q.OwnerToken) {
		return nil, ErrUnauthorized
	}
	files, err := s.repo.List(ctx, q.Normalize(), now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return files, nil
}
