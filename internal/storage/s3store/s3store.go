// Пакет s3store — хранение blob в S3-совместимом бакете (MinIO, AWS S3).
package s3store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bigkaa/tempobox/internal/storage/blobstore"
)

// initTimeout — таймаут проверки/создания бакета при старте.
const initTimeout = 10 * time.Second

// Config — параметры подключения к S3.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Store — blob-хранилище в одном бакете.
type S3Store struct {
	client *minio.Client
	bucket string
}

// New подключается к S3 и создаёт бакет, если его нет.
func New(ctx context.Context, cfg Config) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания S3 клиента: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки бакета %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("ошибка создания бакета %s: %w", cfg.Bucket, err)
		}
	}

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// Save загружает содержимое reader в бакет. Размер заранее неизвестен,
// поэтому используется multipart-загрузка; SHA-256 считается на лету.
func (s *S3Store) Save(ctx context.Context, key string, reader io.Reader) (*blobstore.SaveResult, error) {
	if !blobstore.ValidKey(key) {
		return nil, fmt.Errorf("недопустимый ключ blob: %q", key)
	}

	hasher := sha256.New()
	info, err := s.client.PutObject(ctx, s.bucket, key, io.TeeReader(reader, hasher), -1,
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки объекта %s: %w", key, err)
	}

	return &blobstore.SaveResult{
		Key:      key,
		Size:     info.Size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает объект для чтения. minio.Object поддерживает Seek,
// поэтому Range-запросы обслуживаются без буферизации.
func (s *S3Store) Open(ctx context.Context, key string) (*blobstore.Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateErr(key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, translateErr(key, err)
	}
	return &blobstore.Object{
		ReadSeekCloser: obj,
		Size:           info.Size,
		ModTime:        info.LastModified,
	}, nil
}

// Delete удаляет объект. S3 не возвращает ошибку для отсутствующего ключа.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("ошибка удаления объекта %s: %w", key, err)
	}
	return nil
}

// List возвращает все объекты бакета.
func (s *S3Store) List(ctx context.Context) ([]blobstore.Info, error) {
	var result []blobstore.Info
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("ошибка листинга бакета %s: %w", s.bucket, obj.Err)
		}
		result = append(result, blobstore.Info{
			Key:     obj.Key,
			Size:    obj.Size,
			ModTime: obj.LastModified,
		})
	}
	return result, nil
}

// Ping проверяет доступность бакета.
func (s *S3Store) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("S3 недоступен: %w", err)
	}
	if !exists {
		return fmt.Errorf("бакет %s не существует", s.bucket)
	}
	return nil
}

// Bucket возвращает имя бакета.
func (s *S3Store) Bucket() string {
	return s.bucket
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func translateErr(key string, err error) error {
	if isNotFound(err) {
		return blobstore.ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("ошибка чтения объекта %s: %w", key, err)
}

var _ blobstore.Store = (*S3Store)(nil)
