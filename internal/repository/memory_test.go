package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/bigkaa/tempobox/internal/domain/model"
)

func TestMemoryRepository_Contract(t *testing.T) {
	runContractTests(t, func(*testing.T) FileRepository { return NewMemoryRepository() })
}

// TestMemoryRepository_CopiesRecords проверяет, что внешние изменения
// не влияют на хранимые записи.
func TestMemoryRepository_CopiesRecords(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	r := newRecord("T", strPtr("S"), "a.bin", 1, baseTime, 60)
	r.Description = model.Description{model.DescActor: "ci"}
	insertActive(t, repo, r)

	r.OriginalFilename = "changed"
	*r.ScopeToken = "changed"
	r.Description[model.DescActor] = "changed"

	got, err := repo.FindByIDAndAccess(ctx, r.FileID, r.AccessToken)
	if err != nil {
		t.Fatalf("FindByIDAndAccess: %v", err)
	}
	if got.OriginalFilename != "a.bin" || got.Scope() != "S" || got.Description[model.DescActor] != "ci" {
		t.Errorf("запись изменена извне: %+v", got)
	}

	got.ExpiresAt = baseTime
	if stored := repo.Get(r.FileID); !stored.ExpiresAt.Equal(r.ExpiresAt) {
		t.Error("изменение возвращённой копии не должно влиять на хранилище")
	}
}

func TestMemoryRepository_Concurrent(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := newRecord("T", nil, "f.bin", int64(i), baseTime, 60)
			if err := repo.Insert(ctx, r); err != nil {
				t.Errorf("Insert: %v", err)
				return
			}
			repo.Activate(ctx, r.FileID, r.FileSize, "")
			repo.List(ctx, model.ListQuery{OwnerToken: "T"}, baseTime)
		}()
	}
	wg.Wait()

	if repo.Count() != 50 {
		t.Errorf("Count() = %d, хотели 50", repo.Count())
	}
}
