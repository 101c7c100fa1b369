// expire.go — принудительное истечение файла владельцем.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/tempobox/internal/api/middleware"
	"github.com/bigkaa/tempobox/internal/auth"
	"github.com/bigkaa/tempobox/internal/domain/model"
	"github.com/bigkaa/tempobox/internal/repository"
	"github.com/bigkaa/tempobox/internal/storage/blobstore"
)

// ExpireService — сервис принудительного истечения.
type ExpireService struct {
	repo      repository.FileRepository
	blobs     blobstore.Store
	authority *auth.TokenAuthority
	logger    *slog.Logger
}

// NewExpireService создаёт сервис принудительного истечения.
func NewExpireService(
	repo repository.FileRepository,
	blobs blobstore.Store,
	authority *auth.TokenAuthority,
	logger *slog.Logger,
) *ExpireService {
	return &ExpireService{
		repo:      repo,
		blobs:     blobs,
		authority: authority,
		logger:    logger.With(slog.String("component", "expire_service")),
	}
}

// ExpireNow делает файл недоступным немедленно.
//
// Сначала expires_at сдвигается в прошлое (tombstone), затем удаляется
// blob. Скачивание в промежутке получает 410, а не 404. Запись остаётся
// до ближайшей очистки. Повторный вызов для истёкшего файла ничего не делает.
func (s *ExpireService) ExpireNow(ctx context.Context, fileID, ownerToken string, scopeToken *string, now time.Time) error {
	if !s.authority.Validate(ownerToken) {
		middleware.OperationsTotal.WithLabelValues("expire", "unauthorized").Inc()
		return ErrUnauthorized
	}

	record, err := s.repo.FindByIDAndOwner(ctx, fileID, ownerToken, normalizeScope(scopeToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			middleware.OperationsTotal.WithLabelValues("expire", "unauthorized").Inc()
			return ErrUnauthorized
		}
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if model.IsExpired(record, now) {
		middleware.OperationsTotal.WithLabelValues("expire", "noop").Inc()
		return nil
	}

	tombstone := model.ForceExpire(record, now)
	if _, err := s.repo.MarkExpired(ctx, fileID, tombstone.ExpiresAt); err != nil {
		middleware.OperationsTotal.WithLabelValues("expire", "error").Inc()
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if err := s.blobs.Delete(ctx, record.BlobKey); err != nil {
		s.logger.Warn("Не удалось удалить blob, удалит очистка",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}

	middleware.OperationsTotal.WithLabelValues("expire", "success").Inc()
	s.logger.Info("Файл принудительно истёк",
		slog.String("file_id", fileID),
		slog.Time("expires_at", tombstone.ExpiresAt),
	)
	return nil
}
