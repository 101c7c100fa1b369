// lock.go — блокировка фоновых задач между процессами.
//
// Внутри процесса параллельный запуск исключает mutex сервиса. Между
// процессами, разделяющими одно хранилище метаданных, используется
// Redis-блокировка (TB_REDIS_URL) или flock в общей директории данных
// (lock_file.go). Без них пересечение запусков допустимо: все шаги
// очистки идемпотентны.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Ключи блокировок фоновых задач.
const (
	LockKeyCleanup   = "tempobox:lock:cleanup"
	LockKeyReconcile = "tempobox:lock:reconcile"
)

// UnlockFunc освобождает захваченную блокировку.
type UnlockFunc func(ctx context.Context) error

// Locker — распределённая блокировка с TTL.
type Locker interface {
	// TryLock пытается захватить key на ttl. ok = false — блокировку
	// держит другой процесс.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock UnlockFunc, ok bool, err error)
}

// LocalLocker — блокировка для одиночного процесса: всегда успешна.
type LocalLocker struct{}

func (LocalLocker) TryLock(context.Context, string, time.Duration) (UnlockFunc, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

// releaseScript удаляет ключ, только если он принадлежит владельцу.
// Истёкшая и перехваченная другим процессом блокировка не снимается.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker — блокировка на SET NX PX с уникальным значением владельца.
type RedisLocker struct {
	client  *redis.Client
	release *redis.Script
	logger  *slog.Logger
}

// NewRedisLocker подключается к Redis по URL вида redis://[:password@]host:port/db.
func NewRedisLocker(ctx context.Context, redisURL string, logger *slog.Logger) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("некорректный TB_REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redis недоступен (%s): %w", opts.Addr, err)
	}

	logger.Info("Подключение к Redis установлено", slog.String("addr", opts.Addr))

	return &RedisLocker{
		client:  client,
		release: redis.NewScript(releaseScript),
		logger:  logger.With(slog.String("component", "redis_lock")),
	}, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, bool, error) {
	owner := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("ошибка захвата блокировки %s: %w", key, err)
	}
	if !acquired {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		if err := l.release.Run(ctx, l.client, []string{key}, owner).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("ошибка освобождения блокировки %s: %w", key, err)
		}
		return nil
	}
	return unlock, true, nil
}

// Close закрывает соединение с Redis.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
