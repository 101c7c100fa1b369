// Пакет filestore — хранение blob в локальной директории.
// Обеспечивает streaming-запись с подсчётом SHA-256 на лету,
// чтение, удаление и листинг. Файловая система абстрагирована
// через afero: в тестах используется MemMapFs.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/bigkaa/tempobox/internal/storage/blobstore"
)

// tmpSuffix — суффикс временных файлов незавершённой записи.
const tmpSuffix = ".tmp"

// healthCheckName — имя файла для проверки записи (Ping).
const healthCheckName = ".health_check"

// FileStore — blob-хранилище в плоской директории.
type FileStore struct {
	fs afero.Fs
	// dataDir — корневая директория хранения (TB_DATA_DIR)
	dataDir string
}

// New создаёт FileStore поверх файловой системы fsys.
// Директория dataDir создаётся, если она не существует.
func New(fsys afero.Fs, dataDir string) (*FileStore, error) {
	if err := fsys.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{fs: fsys, dataDir: dataDir}, nil
}

// NewOS создаёт FileStore на реальной файловой системе.
func NewOS(dataDir string) (*FileStore, error) {
	return New(afero.NewOsFs(), dataDir)
}

// Save записывает данные из reader с подсчётом SHA-256 на лету.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (s *FileStore) Save(ctx context.Context, key string, reader io.Reader) (*blobstore.SaveResult, error) {
	if !blobstore.ValidKey(key) {
		return nil, fmt.Errorf("недопустимый ключ blob: %q", key)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPath := filepath.Join(s.dataDir, key)
	tmpPath := fullPath + tmpSuffix

	f, err := s.fs.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(reader, hasher))
	if err != nil {
		f.Close()
		s.fs.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		s.fs.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		s.fs.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := s.fs.Rename(tmpPath, fullPath); err != nil {
		s.fs.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &blobstore.SaveResult{
		Key:      key,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает blob для чтения. Вызывающий код обязан закрыть Object.
func (s *FileStore) Open(_ context.Context, key string) (*blobstore.Object, error) {
	if !blobstore.ValidKey(key) {
		return nil, blobstore.ErrNotFound
	}

	f, err := s.fs.Open(filepath.Join(s.dataDir, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, blobstore.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", key, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", key, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, blobstore.ErrNotFound
	}

	return &blobstore.Object{
		ReadSeekCloser: f,
		Size:           info.Size(),
		ModTime:        info.ModTime(),
	}, nil
}

// Delete удаляет blob. Возвращает nil, если файл уже не существует.
func (s *FileStore) Delete(_ context.Context, key string) error {
	if !blobstore.ValidKey(key) {
		return nil
	}
	err := s.fs.Remove(filepath.Join(s.dataDir, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", key, err)
	}
	return nil
}

// List возвращает все завершённые blob директории.
// Временные и скрытые файлы, а также поддиректории пропускаются.
func (s *FileStore) List(ctx context.Context) ([]blobstore.Info, error) {
	entries, err := afero.ReadDir(s.fs, s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", s.dataDir, err)
	}

	result := make([]blobstore.Info, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, tmpSuffix) {
			continue
		}
		result = append(result, blobstore.Info{
			Key:     name,
			Size:    e.Size(),
			ModTime: e.ModTime(),
		})
	}
	return result, nil
}

// Ping проверяет, что директория данных доступна на запись.
func (s *FileStore) Ping(_ context.Context) error {
	testFile := filepath.Join(s.dataDir, healthCheckName)
	if err := afero.WriteFile(s.fs, testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("директория данных недоступна на запись: %w", err)
	}
	s.fs.Remove(testFile)
	return nil
}

// DataDir возвращает путь к директории данных.
func (s *FileStore) DataDir() string {
	return s.dataDir
}

var _ blobstore.Store = (*FileStore)(nil)
