// Пакет config — загрузка и валидация конфигурации tempobox
// из переменных окружения (и опционального .env файла).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды метаданных и blob.
const (
	MetadataPostgres = "postgres"
	MetadataMemory   = "memory"

	BlobLocal = "local"
	BlobS3    = "s3"
)

// Config содержит все параметры конфигурации tempobox.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Секрет аутентификации владельца (он же owner_token)
	AuthToken string
	// Ключ подписи сессионных токенов (пустой — случайный при старте)
	SessionKey string
	// Время жизни сессионного токена
	SessionTTL time.Duration

	// Бэкенд метаданных: postgres или memory
	MetadataBackend string
	DBHost          string
	DBPort          int
	DBName          string
	DBUser          string
	DBPassword      string
	DBSSLMode       string
	// Максимальный размер пула подключений (0 — значение pgxpool по умолчанию)
	DBMaxConns      int32

	// Бэкенд blob: local или s3
	BlobBackend string
	// Директория хранения blob (local)
	DataDir     string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	// Максимальный размер загружаемого файла в байтах
	MaxFileSize int64
	// Максимальный срок хранения в минутах (0 — без ограничения)
	MaxDurationMinutes int

	// Интервал очистки истёкших файлов
	CleanupInterval time.Duration
	// Возраст, после которого незавершённая загрузка или blob без записи считаются мусором
	PendingGrace time.Duration
	// Интервал сверки blob с метаданными
	ReconcileInterval time.Duration
	// URL Redis для распределённой блокировки очистки (опционально)
	RedisURL string
	// TTL блокировки очистки
	CleanupLockTTL time.Duration

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Путь к TLS сертификату (опционально)
	TLSCert string
	// Путь к TLS приватному ключу (опционально)
	TLSKey string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
	// Таймаут чтения заголовков запроса
	HTTPReadHeaderTimeout time.Duration
	// Таймаут keep-alive соединения
	HTTPIdleTimeout time.Duration

	// Идентификатор сервиса в метриках topologymetrics
	ServiceID string
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Перед чтением переменных подгружается .env файл (TB_ENV_FILE),
// если он существует. Уже заданные переменные не перезаписываются.
func Load() (*Config, error) {
	envFile := getEnvDefault("TB_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("TB_ENV_FILE: ошибка чтения %s: %w", envFile, err)
	}

	cfg := &Config{}
	var err error

	// TB_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("TB_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("TB_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("TB_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// TB_AUTH_TOKEN — обязательный
	cfg.AuthToken, err = getEnvRequired("TB_AUTH_TOKEN")
	if err != nil {
		return nil, err
	}

	cfg.SessionKey = getEnvDefault("TB_SESSION_KEY", "")
	cfg.SessionTTL, err = getEnvDuration("TB_SESSION_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("TB_SESSION_TTL: %w", err)
	}

	// TB_METADATA_BACKEND — postgres (по умолчанию) или memory
	cfg.MetadataBackend = getEnvDefault("TB_METADATA_BACKEND", MetadataPostgres)
	switch cfg.MetadataBackend {
	case MetadataPostgres:
		if err := loadDatabase(cfg); err != nil {
			return nil, err
		}
	case MetadataMemory:
	default:
		return nil, fmt.Errorf("TB_METADATA_BACKEND: недопустимое значение %q, допустимые: postgres, memory", cfg.MetadataBackend)
	}

	// TB_BLOB_BACKEND — local (по умолчанию) или s3
	cfg.BlobBackend = getEnvDefault("TB_BLOB_BACKEND", BlobLocal)
	cfg.DataDir = getEnvDefault("TB_DATA_DIR", "./uploads")
	switch cfg.BlobBackend {
	case BlobLocal:
	case BlobS3:
		if err := loadS3(cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("TB_BLOB_BACKEND: недопустимое значение %q, допустимые: local, s3", cfg.BlobBackend)
	}

	// TB_MAX_FILE_SIZE — байты или человекочитаемое значение (100MiB, 1GB)
	cfg.MaxFileSize, err = getEnvBytes("TB_MAX_FILE_SIZE", 100*humanize.MiByte)
	if err != nil {
		return nil, fmt.Errorf("TB_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("TB_MAX_FILE_SIZE: значение должно быть положительным")
	}

	cfg.MaxDurationMinutes, err = getEnvInt("TB_MAX_DURATION_MINUTES", 0)
	if err != nil {
		return nil, fmt.Errorf("TB_MAX_DURATION_MINUTES: %w", err)
	}
	if cfg.MaxDurationMinutes < 0 {
		return nil, fmt.Errorf("TB_MAX_DURATION_MINUTES: значение не может быть отрицательным")
	}

	cfg.CleanupInterval, err = getEnvPositiveDuration("TB_CLEANUP_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.PendingGrace, err = getEnvPositiveDuration("TB_PENDING_GRACE", time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.ReconcileInterval, err = getEnvPositiveDuration("TB_RECONCILE_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, err
	}

	// TB_REDIS_URL — опционально; без него блокировка только внутри процесса
	cfg.RedisURL = getEnvDefault("TB_REDIS_URL", "")
	cfg.CleanupLockTTL, err = getEnvPositiveDuration("TB_CLEANUP_LOCK_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("TB_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("TB_LOG_LEVEL: %w", err)
	}
	cfg.LogFormat = getEnvDefault("TB_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("TB_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// TLS — оба параметра или ни одного
	cfg.TLSCert = getEnvDefault("TB_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("TB_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("TB_TLS_CERT и TB_TLS_KEY задаются только вместе")
	}

	cfg.ShutdownTimeout, err = getEnvDuration("TB_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TB_SHUTDOWN_TIMEOUT: %w", err)
	}
	// Таймауты чтения/записи тела не задаются: загрузка и скачивание
	// больших файлов ограничены только TB_MAX_FILE_SIZE.
	cfg.HTTPReadHeaderTimeout, err = getEnvPositiveDuration("TB_HTTP_READ_HEADER_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.HTTPIdleTimeout, err = getEnvPositiveDuration("TB_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.ServiceID = getEnvDefault("TB_SERVICE_ID", "tempobox")
	cfg.DephealthGroup = getEnvDefault("TB_DEPHEALTH_GROUP", "tempobox")
	cfg.DephealthCheckInterval, err = getEnvDuration("TB_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TB_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

func loadDatabase(cfg *Config) error {
	var err error
	cfg.DBHost, err = getEnvRequired("TB_DB_HOST")
	if err != nil {
		return err
	}
	cfg.DBPort, err = getEnvInt("TB_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("TB_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("TB_DB_NAME")
	if err != nil {
		return err
	}
	cfg.DBUser, err = getEnvRequired("TB_DB_USER")
	if err != nil {
		return err
	}
	cfg.DBPassword, err = getEnvRequired("TB_DB_PASSWORD")
	if err != nil {
		return err
	}
	cfg.DBSSLMode = getEnvDefault("TB_DB_SSL_MODE", "disable")
	maxConns, err := getEnvInt("TB_DB_MAX_CONNS", 10)
	if err != nil {
		return fmt.Errorf("TB_DB_MAX_CONNS: %w", err)
	}
	if maxConns < 1 || maxConns > 1000 {
		return fmt.Errorf("TB_DB_MAX_CONNS: значение %d вне диапазона 1-1000", maxConns)
	}
	cfg.DBMaxConns = int32(maxConns)
	return nil
}

func loadS3(cfg *Config) error {
	var err error
	cfg.S3Endpoint, err = getEnvRequired("TB_S3_ENDPOINT")
	if err != nil {
		return err
	}
	cfg.S3AccessKey, err = getEnvRequired("TB_S3_ACCESS_KEY")
	if err != nil {
		return err
	}
	cfg.S3SecretKey, err = getEnvRequired("TB_S3_SECRET_KEY")
	if err != nil {
		return err
	}
	cfg.S3Bucket = getEnvDefault("TB_S3_BUCKET", "tempobox")
	cfg.S3UseSSL, err = getEnvBool("TB_S3_USE_SSL", false)
	if err != nil {
		return fmt.Errorf("TB_S3_USE_SSL: %w", err)
	}
	return nil
}

// DatabaseDSN возвращает DSN для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL со схемой scheme
// (postgres для dephealth, pgx5 для golang-migrate).
func (c *Config) DatabaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// S3HealthURL возвращает базовый URL S3 endpoint для проверки доступности.
func (c *Config) S3HealthURL() string {
	scheme := "http"
	if c.S3UseSSL {
		scheme = "https"
	}
	return scheme + "://" + c.S3Endpoint
}

// TLSEnabled — сервер слушает HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
// Формат text выводится цветным через tint.
func SetupLogger(cfg *Config) *slog.Logger {
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      cfg.LogLevel,
			TimeFormat: time.TimeOnly,
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvBytes разбирает размер: целое число байт или значение с единицами (100MiB).
func getEnvBytes(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := humanize.ParseBytes(val)
	if err != nil {
		return 0, fmt.Errorf("некорректный размер: %q (примеры: 1048576, 100MiB, 1GB)", val)
	}
	if n > uint64(1<<62) {
		return 0, fmt.Errorf("слишком большой размер: %q", val)
	}
	return int64(n), nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 5m, 6h)", val)
	}
	return d, nil
}

func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: значение должно быть положительным", key)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
