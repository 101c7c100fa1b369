package model

import (
	"testing"
	"time"
)

func TestComputeExpiry(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		minutes int
		want    time.Time
	}{
		{"одна минута", 1, t0.Add(time.Minute)},
		{"сутки", 1440, t0.Add(24 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeExpiry(t0, tt.minutes)
			if !got.Equal(tt.want) {
				t.Errorf("ComputeExpiry() = %v, хотели %v", got, tt.want)
			}
		})
	}
}

func TestComputeExpiry_MaxDuration(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	got := ComputeExpiry(t0, MaxDurationMinutes)
	if !got.After(t0) {
		t.Fatalf("ComputeExpiry(MaxDurationMinutes) = %v, должно быть позже %v", got, t0)
	}
	if IsExpired(&FileRecord{CreatedAt: t0, ExpiresAt: got}, t0.Add(time.Second)) {
		t.Error("запись с максимальным сроком не должна быть истёкшей сразу после создания")
	}
	if MaxDurationMinutes > 1<<31-1 {
		t.Errorf("MaxDurationMinutes = %d не помещается в INTEGER", MaxDurationMinutes)
	}
}

// TestIsExpired_Boundary проверяет строгую границу: действителен в момент
// expires_at, истёк через 1ns.
func TestIsExpired_Boundary(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &FileRecord{CreatedAt: t0, ExpiresAt: ComputeExpiry(t0, 5)}

	if IsExpired(rec, t0) {
		t.Error("запись не должна быть истёкшей в момент создания")
	}
	if IsExpired(rec, t0.Add(5*time.Minute)) {
		t.Error("запись не должна быть истёкшей ровно в момент expires_at")
	}
	if !IsExpired(rec, t0.Add(5*time.Minute+time.Nanosecond)) {
		t.Error("запись должна быть истёкшей через 1ns после expires_at")
	}
}

func TestForceExpire(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	scope := "team-a"
	rec := &FileRecord{
		FileID:      "f-1",
		CreatedAt:   t0,
		ExpiresAt:   ComputeExpiry(t0, 60),
		ScopeToken:  &scope,
		Description: Description{DescBranch: "main"},
	}

	now := t0.Add(10 * time.Minute)
	expired := ForceExpire(rec, now)

	if !expired.ExpiresAt.Equal(now.Add(-time.Minute)) {
		t.Errorf("ExpiresAt = %v, хотели %v", expired.ExpiresAt, now.Add(-time.Minute))
	}
	if !IsExpired(expired, now) {
		t.Error("после ForceExpire запись должна быть истёкшей")
	}
	if !rec.ExpiresAt.Equal(ComputeExpiry(t0, 60)) {
		t.Error("ForceExpire не должен изменять исходную запись")
	}

	// Копия независима от оригинала
	expired.Description[DescBranch] = "dev"
	*expired.ScopeToken = "team-b"
	if rec.Description[DescBranch] != "main" || rec.Scope() != "team-a" {
		t.Error("ForceExpire должен возвращать глубокую копию")
	}
}

func TestForceExpire_NeverMovesForward(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &FileRecord{CreatedAt: t0, ExpiresAt: t0.Add(-time.Hour)}

	got := ForceExpire(rec, t0)
	if !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Errorf("ExpiresAt сдвинут вперёд: %v → %v", rec.ExpiresAt, got.ExpiresAt)
	}
}
