package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/tempobox/internal/domain/model"
	"github.com/bigkaa/tempobox/internal/repository"
	"github.com/bigkaa/tempobox/internal/storage/blobstore"
)

func (e *testEnv) cleanupService(repo repository.FileRepository, blobs blobstore.Store, locker Locker) *CleanupService {
	if repo == nil {
		repo = e.repo
	}
	if blobs == nil {
		blobs = e.store
	}
	s := NewCleanupService(repo, blobs, locker, CleanupConfig{
		Interval:     time.Hour,
		PendingGrace: time.Hour,
		LockTTL:      time.Minute,
	}, e.logger)
	s.now = e.clock
	return s
}

func TestCleanupRunOnce_NothingToDo(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "active", 60, nil)

	result := env.cleanupService(nil, nil, nil).RunOnce(context.Background())

	if result.ExpiredDeleted != 0 || result.PendingDeleted != 0 || result.Errors != 0 {
		t.Errorf("неожиданный результат: %+v", result)
	}
	if env.repo.Count() != 1 {
		t.Error("активная запись удалена")
	}
}

func TestCleanupRunOnce_DeletesExpired(t *testing.T) {
	env := newTestEnv(t)
	expired := env.upload(t, "old", 5, nil)
	active := env.upload(t, "new", 60, nil)
	expiredRec := env.repo.Get(expired.FileID)

	env.now = env.now.Add(10 * time.Minute)
	result := env.cleanupService(nil, nil, nil).RunOnce(context.Background())

	if result.ExpiredDeleted != 1 || result.BlobsDeleted != 1 || result.BytesFreed != 3 {
		t.Errorf("неожиданный результат: %+v", result)
	}
	if env.repo.Get(expired.FileID) != nil {
		t.Error("истёкшая запись не удалена")
	}
	if env.blobExists(t, expiredRec) {
		t.Error("blob истёкшей записи не удалён")
	}
	if env.repo.Get(active.FileID) == nil {
		t.Error("активная запись удалена")
	}
}

func TestCleanupRunOnce_ExpiryInstantIsKept(t *testing.T) {
	env := newTestEnv(t)
	res := env.upload(t, "edge", 5, nil)

	// now == expires_at: запись ещё действительна
	env.now = res.ExpiresAt
	env.cleanupService(nil, nil, nil).RunOnce(context.Background())

	if env.repo.Get(res.FileID) == nil {
		t.Error("запись удалена в момент expires_at")
	}
}

func TestCleanupRunOnce_BlobErrorsDoNotAbort(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "a", 5, nil)
	env.upload(t, "b", 5, nil)
	blobs := &faultyStore{Store: env.store, deleteErr: errors.New("I/O error")}

	env.now = env.now.Add(time.Hour)
	result := env.cleanupService(nil, blobs, nil).RunOnce(context.Background())

	if result.Errors != 2 {
		t.Errorf("Errors = %d, хотели 2", result.Errors)
	}
	if result.ExpiredDeleted != 2 || env.repo.Count() != 0 {
		t.Errorf("записи должны быть удалены несмотря на ошибки blob: %+v", result)
	}
}

func TestCleanupRunOnce_StalePending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stale := &model.FileRecord{
		FileID:                 "stale-1",
		OriginalFilename:       "stale.bin",
		BlobKey:                "stale-1_stale.bin",
		AccessToken:            "a",
		OwnerToken:             testSecret,
		CreatedAt:              env.now.Add(-2 * time.Hour),
		ExpiresAt:              env.now.Add(time.Hour),
		StorageDurationMinutes: 180,
	}
	fresh := stale.Clone()
	fresh.FileID, fresh.BlobKey, fresh.CreatedAt = "fresh-1", "fresh-1_fresh.bin", env.now.Add(-time.Minute)

	for _, r := range []*model.FileRecord{stale, fresh} {
		if err := env.repo.Insert(ctx, r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if _, err := env.store.Save(ctx, r.BlobKey, strings.NewReader("partial")); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	result := env.cleanupService(nil, nil, nil).RunOnce(ctx)

	if result.PendingDeleted != 1 {
		t.Errorf("PendingDeleted = %d, хотели 1", result.PendingDeleted)
	}
	if env.repo.Get("stale-1") != nil || env.blobExists(t, stale) {
		t.Error("зависшая pending-запись или её blob не удалены")
	}
	if env.repo.Get("fresh-1") == nil {
		t.Error("свежая pending-запись удалена")
	}
}

func TestCleanupRunOnce_RecoversPanic(t *testing.T) {
	env := newTestEnv(t)
	repo := &faultyRepo{FileRepository: env.repo, panicOnFind: true}

	result := env.cleanupService(repo, nil, nil).RunOnce(context.Background())
	if result.Errors != 1 {
		t.Errorf("паника должна учитываться как ошибка: %+v", result)
	}

	// Сервис продолжает работать после паники
	repo.panicOnFind = false
	if result := env.cleanupService(repo, nil, nil).RunOnce(context.Background()); result.Errors != 0 {
		t.Errorf("повторный запуск: %+v", result)
	}
}

// panickingLocker — блокировка, паникующая при захвате.
type panickingLocker struct{}

func (panickingLocker) TryLock(context.Context, string, time.Duration) (UnlockFunc, bool, error) {
	panic("lock backend broken")
}

func TestCleanupRunOnce_RecoversLockerPanic(t *testing.T) {
	env := newTestEnv(t)

	result := env.cleanupService(nil, nil, panickingLocker{}).RunOnce(context.Background())
	if result == nil || result.Errors != 1 {
		t.Errorf("паника блокировки должна учитываться как ошибка: %+v", result)
	}
}

// stubLocker — блокировка с фиксированным ответом.
type stubLocker struct {
	ok       bool
	err      error
	released int
}

func (l *stubLocker) TryLock(context.Context, string, time.Duration) (UnlockFunc, bool, error) {
	if l.err != nil || !l.ok {
		return nil, l.ok, l.err
	}
	return func(context.Context) error { l.released++; return nil }, true, nil
}

func TestCleanupRunOnce_Locking(t *testing.T) {
	t.Run("блокировку держит другой процесс", func(t *testing.T) {
		env := newTestEnv(t)
		env.upload(t, "a", 5, nil)
		env.now = env.now.Add(time.Hour)

		result := env.cleanupService(nil, nil, &stubLocker{ok: false}).RunOnce(context.Background())
		if !result.Skipped || env.repo.Count() != 1 {
			t.Errorf("запуск должен быть пропущен: %+v", result)
		}
	})

	t.Run("блокировка недоступна", func(t *testing.T) {
		env := newTestEnv(t)
		env.upload(t, "a", 5, nil)
		env.now = env.now.Add(time.Hour)

		result := env.cleanupService(nil, nil, &stubLocker{err: errors.New("redis down")}).RunOnce(context.Background())
		if result.Skipped || result.ExpiredDeleted != 1 {
			t.Errorf("без блокировки очистка должна выполняться: %+v", result)
		}
	})

	t.Run("блокировка освобождается", func(t *testing.T) {
		env := newTestEnv(t)
		locker := &stubLocker{ok: true}

		env.cleanupService(nil, nil, locker).RunOnce(context.Background())
		if locker.released != 1 {
			t.Errorf("released = %d, хотели 1", locker.released)
		}
	})
}

func TestCleanupService_StartStop(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "a", 5, nil)
	env.now = env.now.Add(time.Hour)

	svc := env.cleanupService(nil, nil, nil)
	svc.Start(context.Background())

	// Первый запуск выполняется сразу после старта
	deadline := time.Now().Add(2 * time.Second)
	for env.repo.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	svc.Stop()
	if env.repo.Count() != 0 {
		t.Error("первый запуск очистки не выполнен")
	}

	// Повторный Stop безопасен
	svc.Stop()
}
