package model

import "time"

// ForceExpireOffset — на сколько раньше now выставляется expires_at при
// принудительном истечении. Гарантирует попадание в ближайшую очистку
// независимо от точности часов.
const ForceExpireOffset = time.Minute

// MaxDurationMinutes — наибольший срок хранения, при котором
// createdAt + срок ещё представим как time.Duration (около 292 лет).
const MaxDurationMinutes = int(time.Duration(1<<63-1) / time.Minute)

// ComputeExpiry вычисляет момент истечения: createdAt + durationMinutes.
func ComputeExpiry(createdAt time.Time, durationMinutes int) time.Time {
	return createdAt.Add(time.Duration(durationMinutes) * time.Minute)
}

// IsExpired — строгая проверка: запись действительна до момента expires_at
// включительно и истекает сразу после него.
func IsExpired(r *FileRecord, now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ForceExpire возвращает копию записи с expires_at = now - 1 минута.
// Исходная запись не изменяется. Переход односторонний: если запись
// уже истекает раньше, expires_at не сдвигается вперёд.
func ForceExpire(r *FileRecord, now time.Time) *FileRecord {
	c := r.Clone()
	tombstone := now.Add(-ForceExpireOffset)
	if tombstone.Before(c.ExpiresAt) {
		c.ExpiresAt = tombstone
	}
	return c
}
