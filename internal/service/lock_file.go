// lock_file.go — блокировка через flock() на общей файловой системе.
//
// Для реплик с локальным blob-бэкендом на общем томе (NFS v4+) без Redis.
// Блокировка снимается ядром при завершении процесса, поэтому TTL не нужен.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// FileLocker — блокировка на файлах {dir}/.{key}.lock.
type FileLocker struct {
	dir string
}

// NewFileLocker создаёт блокировку в директории dir (обычно TB_DATA_DIR).
// Имена lock-файлов начинаются с точки и не считаются blob.
func NewFileLocker(dir string) *FileLocker {
	return &FileLocker{dir: dir}
}

// TryLock захватывает эксклюзивный flock без ожидания. ttl игнорируется.
func (l *FileLocker) TryLock(_ context.Context, key string, _ time.Duration) (UnlockFunc, bool, error) {
	path := l.path(key)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, false, fmt.Errorf("не удалось открыть lock-файл %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("ошибка flock %s: %w", path, err)
	}

	unlock := func(context.Context) error {
		unlockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		if err := f.Close(); err != nil && unlockErr == nil {
			unlockErr = err
		}
		return unlockErr
	}
	return unlock, true, nil
}

func (l *FileLocker) path(key string) string {
	name := strings.NewReplacer(":", "-", "/", "-").Replace(key)
	return filepath.Join(l.dir, "."+name+".lock")
}
