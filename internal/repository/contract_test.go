package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/tempobox/internal/domain/model"
)

// базовое время тестов; микросекунды отброшены под точность TIMESTAMPTZ
var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

// newRecord создаёт запись арендатора owner со сроком minutes от createdAt.
func newRecord(owner string, scope *string, name string, size int64, createdAt time.Time, minutes int) *model.FileRecord {
	id := uuid.NewString()
	return &model.FileRecord{
		FileID:                 id,
		OriginalFilename:       name,
		ContentType:            "application/octet-stream",
		FileSize:               size,
		BlobKey:                id + "_" + name,
		AccessToken:            "access-" + id,
		OwnerToken:             owner,
		ScopeToken:             scope,
		CreatedAt:              createdAt,
		ExpiresAt:              model.ComputeExpiry(createdAt, minutes),
		StorageDurationMinutes: minutes,
	}
}

// insertActive вставляет запись и сразу активирует её.
func insertActive(t *testing.T, repo FileRepository, r *model.FileRecord) {
	t.Helper()
	ctx := context.Background()
	if err := repo.Insert(ctx, r); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := repo.Activate(ctx, r.FileID, r.FileSize, "sum-"+r.FileID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	r.Status = model.StatusActive
}

func ids(records []*model.FileRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.FileID
	}
	return out
}

// runContractTests проверяет поведение, общее для всех реализаций FileRepository.
func runContractTests(t *testing.T, newRepo func(t *testing.T) FileRepository) {
	t.Run("PendingНеВиденДоАктивации", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		r := newRecord("T", nil, "a.bin", 10, baseTime, 60)
		r.Description = model.Description{model.DescBranch: "main", model.DescCommit: "abc123"}

		if err := repo.Insert(ctx, r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if _, err := repo.FindByIDAndAccess(ctx, r.FileID, r.AccessToken); !errors.Is(err, ErrNotFound) {
			t.Errorf("pending запись не должна находиться: %v", err)
		}

		if err := repo.Activate(ctx, r.FileID, 42, "deadbeef"); err != nil {
			t.Fatalf("Activate: %v", err)
		}
		got, err := repo.FindByIDAndAccess(ctx, r.FileID, r.AccessToken)
		if err != nil {
			t.Fatalf("FindByIDAndAccess: %v", err)
		}
		if got.Status != model.StatusActive || got.FileSize != 42 || got.Checksum != "deadbeef" {
			t.Errorf("после активации: %+v", got)
		}
		if got.Description[model.DescBranch] != "main" || got.Description[model.DescCommit] != "abc123" {
			t.Errorf("описание не сохранено: %v", got.Description)
		}
		if !got.ExpiresAt.Equal(r.ExpiresAt) || !got.CreatedAt.Equal(r.CreatedAt) {
			t.Errorf("время: created=%v expires=%v", got.CreatedAt, got.ExpiresAt)
		}

		if err := repo.Activate(ctx, r.FileID, 1, "x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("повторная активация: ожидалась ErrNotFound, получено %v", err)
		}
	})

	t.Run("ДубликатID", func(t *testing.T) {
		repo := newRepo(t)
		r := newRecord("T", nil, "a.bin", 1, baseTime, 60)
		if err := repo.Insert(context.Background(), r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if err := repo.Insert(context.Background(), r.Clone()); !errors.Is(err, ErrConflict) {
			t.Errorf("ожидалась ErrConflict, получено %v", err)
		}
	})

	t.Run("ПоискПоAccessТокену", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		r := newRecord("T", nil, "a.bin", 1, baseTime, 60)
		insertActive(t, repo, r)

		cases := []struct{ id, token string }{
			{r.FileID, "wrong"},
			{r.FileID, ""},
			{uuid.NewString(), r.AccessToken},
			{"", r.AccessToken},
		}
		for _, c := range cases {
			if _, err := repo.FindByIDAndAccess(ctx, c.id, c.token); !errors.Is(err, ErrNotFound) {
				t.Errorf("(%q, %q): ожидалась ErrNotFound, получено %v", c.id, c.token, err)
			}
		}
	})

	t.Run("ПоискПоВладельцуИScope", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		r := newRecord("T", strPtr("S1"), "a.bin", 1, baseTime, 60)
		insertActive(t, repo, r)

		if _, err := repo.FindByIDAndOwner(ctx, r.FileID, "T", nil); err != nil {
			t.Errorf("без scope: %v", err)
		}
		if _, err := repo.FindByIDAndOwner(ctx, r.FileID, "T", strPtr("S1")); err != nil {
			t.Errorf("верный scope: %v", err)
		}
		if _, err := repo.FindByIDAndOwner(ctx, r.FileID, "T", strPtr("S2")); !errors.Is(err, ErrNotFound) {
			t.Errorf("чужой scope: ожидалась ErrNotFound, получено %v", err)
		}
		if _, err := repo.FindByIDAndOwner(ctx, r.FileID, "OTHER", nil); !errors.Is(err, ErrNotFound) {
			t.Errorf("чужой владелец: ожидалась ErrNotFound, получено %v", err)
		}
	})

	t.Run("ListИзоляцияИСортировка", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := baseTime.Add(30 * time.Minute)

		a := newRecord("T", strPtr("S1"), "charlie.bin", 300, baseTime, 60)
		b := newRecord("T", strPtr("S2"), "alpha.bin", 100, baseTime.Add(time.Minute), 120)
		c := newRecord("T", nil, "bravo.bin", 200, baseTime.Add(2*time.Minute), 90)
		expired := newRecord("T", strPtr("S1"), "old.bin", 1, baseTime.Add(-2*time.Hour), 60)
		foreign := newRecord("U", strPtr("S1"), "foreign.bin", 1, baseTime, 60)
		pending := newRecord("T", strPtr("S1"), "pending.bin", 1, baseTime, 60)

		for _, r := range []*model.FileRecord{a, b, c, expired, foreign} {
			insertActive(t, repo, r)
		}
		if err := repo.Insert(ctx, pending); err != nil {
			t.Fatalf("Insert: %v", err)
		}

		tests := []struct {
			name string
			q    model.ListQuery
			want []string
		}{
			{"по умолчанию createdAt desc", model.ListQuery{OwnerToken: "T"}, []string{c.FileID, b.FileID, a.FileID}},
			{"filename asc", model.ListQuery{OwnerToken: "T", SortField: model.SortByFilename, SortDir: model.SortAsc}, []string{b.FileID, c.FileID, a.FileID}},
			{"fileSize desc", model.ListQuery{OwnerToken: "T", SortField: model.SortByFileSize, SortDir: model.SortDesc}, []string{a.FileID, c.FileID, b.FileID}},
			{"expiresAt asc", model.ListQuery{OwnerToken: "T", SortField: model.SortByExpiresAt, SortDir: model.SortAsc}, []string{a.FileID, c.FileID, b.FileID}},
			{"scope S1", model.ListQuery{OwnerToken: "T", ScopeToken: strPtr("S1")}, []string{a.FileID}},
			{"пустой scope — все", model.ListQuery{OwnerToken: "T", ScopeToken: strPtr("")}, []string{c.FileID, b.FileID, a.FileID}},
			{"чужой владелец", model.ListQuery{OwnerToken: "U"}, []string{foreign.FileID}},
			{"неизвестный владелец", model.ListQuery{OwnerToken: "nobody"}, nil},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := repo.List(ctx, tt.q, now)
				if err != nil {
					t.Fatalf("List: %v", err)
				}
				gotIDs := ids(got)
				if len(gotIDs) != len(tt.want) {
					t.Fatalf("получено %v, хотели %v", gotIDs, tt.want)
				}
				for i := range tt.want {
					if gotIDs[i] != tt.want[i] {
						t.Fatalf("позиция %d: получено %v, хотели %v", i, gotIDs, tt.want)
					}
				}
			})
		}
	})

	t.Run("ListСортировкаИмёнПобайтово", func(t *testing.T) {
		repo := newRepo(t)
		now := baseTime.Add(30 * time.Minute)

		upper := newRecord("T", nil, "B.txt", 1, baseTime, 60)
		lower := newRecord("T", nil, "a.txt", 1, baseTime.Add(time.Minute), 60)
		digit := newRecord("T", nil, "9.txt", 1, baseTime.Add(2*time.Minute), 60)
		for _, r := range []*model.FileRecord{upper, lower, digit} {
			insertActive(t, repo, r)
		}

		got, err := repo.List(context.Background(), model.ListQuery{
			OwnerToken: "T", SortField: model.SortByFilename, SortDir: model.SortAsc,
		}, now)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		want := []string{digit.FileID, upper.FileID, lower.FileID}
		gotIDs := ids(got)
		if len(gotIDs) != len(want) {
			t.Fatalf("получено %v, хотели %v", gotIDs, want)
		}
		for i := range want {
			if gotIDs[i] != want[i] {
				t.Fatalf("позиция %d: получено %v, хотели %v", i, gotIDs, want)
			}
		}
	})

	t.Run("ListГраницаИстечения", func(t *testing.T) {
		repo := newRepo(t)
		r := newRecord("T", nil, "edge.bin", 1, baseTime, 10)
		insertActive(t, repo, r)

		got, _ := repo.List(context.Background(), model.ListQuery{OwnerToken: "T"}, r.ExpiresAt)
		if len(got) != 1 {
			t.Errorf("в момент expires_at запись ещё видна, получено %d", len(got))
		}
		got, _ = repo.List(context.Background(), model.ListQuery{OwnerToken: "T"}, r.ExpiresAt.Add(time.Millisecond))
		if len(got) != 0 {
			t.Errorf("после expires_at запись не видна, получено %d", len(got))
		}
	})

	t.Run("ListСтабильныйПорядокПриРавенстве", func(t *testing.T) {
		repo := newRepo(t)
		var want []string
		for range 4 {
			r := newRecord("T", nil, "same.bin", 5, baseTime, 60)
			insertActive(t, repo, r)
			want = append(want, r.FileID)
		}
		q := model.ListQuery{OwnerToken: "T", SortField: model.SortByFileSize, SortDir: model.SortAsc}
		first, _ := repo.List(context.Background(), q, baseTime)
		second, _ := repo.List(context.Background(), q, baseTime)
		for i := range first {
			if first[i].FileID != second[i].FileID {
				t.Fatal("порядок при равных ключах должен быть стабильным")
			}
			if i > 0 && first[i-1].FileID > first[i].FileID {
				t.Fatal("при равных ключах записи упорядочены по file_id")
			}
		}
	})

	t.Run("MarkExpiredТолькоНазад", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		r := newRecord("T", nil, "a.bin", 1, baseTime, 60)
		insertActive(t, repo, r)

		earlier := baseTime.Add(-time.Minute)
		changed, err := repo.MarkExpired(ctx, r.FileID, earlier)
		if err != nil || !changed {
			t.Fatalf("MarkExpired: changed=%v err=%v", changed, err)
		}

		changed, err = repo.MarkExpired(ctx, r.FileID, baseTime.Add(24*time.Hour))
		if err != nil || changed {
			t.Errorf("сдвиг вперёд запрещён: changed=%v err=%v", changed, err)
		}

		expired, _ := repo.FindExpired(ctx, baseTime)
		if len(expired) != 1 || !expired[0].ExpiresAt.Equal(earlier) {
			t.Errorf("FindExpired после MarkExpired: %+v", expired)
		}

		changed, err = repo.MarkExpired(ctx, uuid.NewString(), earlier)
		if err != nil || changed {
			t.Errorf("неизвестный id: changed=%v err=%v", changed, err)
		}
	})

	t.Run("FindИDeleteExpired", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := baseTime.Add(time.Hour)

		old := newRecord("T", nil, "old.bin", 1, baseTime, 30)
		edge := newRecord("T", nil, "edge.bin", 1, baseTime, 60)
		fresh := newRecord("T", nil, "fresh.bin", 1, baseTime, 120)
		for _, r := range []*model.FileRecord{old, edge, fresh} {
			insertActive(t, repo, r)
		}

		expired, err := repo.FindExpired(ctx, now)
		if err != nil {
			t.Fatalf("FindExpired: %v", err)
		}
		if len(expired) != 1 || expired[0].FileID != old.FileID {
			t.Errorf("FindExpired: %v", ids(expired))
		}

		n, err := repo.DeleteExpired(ctx, now)
		if err != nil || n != 1 {
			t.Fatalf("DeleteExpired: n=%d err=%v", n, err)
		}
		n, _ = repo.DeleteExpired(ctx, now)
		if n != 0 {
			t.Errorf("повторный DeleteExpired удалил %d", n)
		}
		if _, err := repo.FindByIDAndAccess(ctx, edge.FileID, edge.AccessToken); err != nil {
			t.Errorf("запись с expires_at == now не удаляется: %v", err)
		}
	})

	t.Run("StalePending", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		stale := newRecord("T", nil, "stale.bin", 1, baseTime, 600)
		recent := newRecord("T", nil, "recent.bin", 1, baseTime.Add(2*time.Hour), 600)
		active := newRecord("T", nil, "active.bin", 1, baseTime, 600)
		for _, r := range []*model.FileRecord{stale, recent} {
			if err := repo.Insert(ctx, r); err != nil {
				t.Fatalf("Insert: %v", err)
			}
		}
		insertActive(t, repo, active)

		before := baseTime.Add(time.Hour)
		found, err := repo.FindStalePending(ctx, before)
		if err != nil {
			t.Fatalf("FindStalePending: %v", err)
		}
		if len(found) != 1 || found[0].FileID != stale.FileID {
			t.Errorf("FindStalePending: %v", ids(found))
		}

		n, err := repo.DeleteStalePending(ctx, before)
		if err != nil || n != 1 {
			t.Fatalf("DeleteStalePending: n=%d err=%v", n, err)
		}
		existing, _ := repo.ExistingIDs(ctx, []string{stale.FileID, recent.FileID, active.FileID})
		if existing[stale.FileID] || !existing[recent.FileID] || !existing[active.FileID] {
			t.Errorf("ExistingIDs после очистки: %v", existing)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		r := newRecord("T", nil, "a.bin", 1, baseTime, 60)
		if err := repo.Insert(ctx, r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if err := repo.Delete(ctx, r.FileID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := repo.Delete(ctx, r.FileID); !errors.Is(err, ErrNotFound) {
			t.Errorf("повторный Delete: ожидалась ErrNotFound, получено %v", err)
		}
		existing, err := repo.ExistingIDs(ctx, []string{r.FileID})
		if err != nil || len(existing) != 0 {
			t.Errorf("ExistingIDs: %v %v", existing, err)
		}
		if got, _ := repo.ExistingIDs(ctx, nil); len(got) != 0 {
			t.Errorf("ExistingIDs(nil): %v", got)
		}
	})
}
