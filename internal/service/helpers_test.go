package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/bigkaa/tempobox/internal/auth"
	"github.com/bigkaa/tempobox/internal/domain/model"
	"github.com/bigkaa/tempobox/internal/repository"
	"github.com/bigkaa/tempobox/internal/storage/blobstore"
	"github.com/bigkaa/tempobox/internal/storage/filestore"
)

const testSecret = "tempobox-admin-token"

// testEnv — окружение сервисных тестов: in-memory метаданные и
// in-memory файловая система.
type testEnv struct {
	repo      *repository.MemoryRepository
	store     *filestore.FileStore
	authority *auth.TokenAuthority
	logger    *slog.Logger
	now       time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := filestore.New(afero.NewMemMapFs(), "/data/uploads")
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}

	return &testEnv{
		repo:      repository.NewMemoryRepository(),
		store:     store,
		authority: auth.NewTokenAuthority(testSecret),
		logger:    slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (e *testEnv) clock() time.Time { return e.now }

func (e *testEnv) uploadService(blobs blobstore.Store, repo repository.FileRepository, limits UploadLimits) *UploadService {
	if blobs == nil {
		blobs = e.store
	}
	if repo == nil {
		repo = e.repo
	}
	s := NewUploadService(repo, blobs, e.authority, limits, e.logger)
	s.now = e.clock
	return s
}

// upload загружает файл через UploadService и проверяет успех.
func (e *testEnv) upload(t *testing.T, content string, minutes int, scope *string) *UploadResult {
	t.Helper()

	res, err := e.uploadService(nil, nil, UploadLimits{}).Upload(context.Background(), UploadParams{
		AuthToken:        testSecret,
		Reader:           strings.NewReader(content),
		OriginalFilename: "build.apk",
		ContentType:      "application/vnd.android.package-archive",
		DurationMinutes:  minutes,
		ScopeToken:       scope,
	})
	if err != nil {
		t.Fatalf("Upload() ошибка: %v", err)
	}
	return res
}

// blobExists проверяет наличие blob записи.
func (e *testEnv) blobExists(t *testing.T, rec *model.FileRecord) bool {
	t.Helper()
	obj, err := e.store.Open(context.Background(), rec.BlobKey)
	if errors.Is(err, blobstore.ErrNotFound) {
		return false
	}
	if err != nil {
		t.Fatalf("Open() ошибка: %v", err)
	}
	obj.Close()
	return true
}

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return string(data)
}

func strPtr(s string) *string { return &s }

// faultyStore — blob-хранилище с настраиваемыми сбоями.
type faultyStore struct {
	blobstore.Store
	saveErr   error
	deleteErr error
	listErr   error
}

func (f *faultyStore) Save(ctx context.Context, key string, r io.Reader) (*blobstore.SaveResult, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	return f.Store.Save(ctx, key, r)
}

func (f *faultyStore) Delete(ctx context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Store.Delete(ctx, key)
}

func (f *faultyStore) List(ctx context.Context) ([]blobstore.Info, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Store.List(ctx)
}

// faultyRepo — репозиторий метаданных с настраиваемыми сбоями.
type faultyRepo struct {
	repository.FileRepository
	activateErr error
	panicOnFind bool
}

func (f *faultyRepo) Activate(ctx context.Context, id string, size int64, checksum string) error {
	if f.activateErr != nil {
		return f.activateErr
	}
	return f.FileRepository.Activate(ctx, id, size, checksum)
}

func (f *faultyRepo) FindExpired(ctx context.Context, now time.Time) ([]*model.FileRecord, error) {
	if f.panicOnFind {
		panic("сбой репозитория")
	}
	return f.FileRepository.FindExpired(ctx, now)
}
