// health.go — обработчики health endpoints tempobox.
// /health — краткий статус
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (метаданные и хранилище blob доступны)
// /metrics — Prometheus метрики
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/tempobox/internal/config"
	"github.com/bigkaa/tempobox/internal/storage/blobstore"
)

// serviceName — имя сервиса в ответах health.
const serviceName = "tempobox"

// readyTimeout — таймаут проверок readiness.
const readyTimeout = 3 * time.Second

// Константы статусов health check.
const (
	statusOK   = "ok"
	statusFail = "fail"
)

// ReadinessChecker — проверка готовности одной зависимости.
type ReadinessChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// DependencyHealth — снимок состояния зависимостей (topologymetrics).
type DependencyHealth interface {
	Health() map[string]bool
}

// BlobReadiness — проверка готовности хранилища blob.
func BlobReadiness(store blobstore.Store) ReadinessChecker {
	return blobChecker{store: store}
}

type blobChecker struct {
	store blobstore.Store
}

func (c blobChecker) Name() string { return "storage" }

func (c blobChecker) Check(ctx context.Context) error { return c.store.Ping(ctx) }

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	checkers    []ReadinessChecker
	deps        DependencyHealth
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// deps может быть nil — внешних зависимостей нет.
func NewHealthHandler(deps DependencyHealth, checkers ...ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		checkers:    checkers,
		deps:        deps,
		promHandler: promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthResponse — ответ /health и /health/live.
type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	healthResponse
	Checks       map[string]healthCheckResult `json:"checks"`
	Dependencies map[string]bool              `json:"dependencies,omitempty"`
}

// Health — краткий статус сервиса: {"status": "UP", ...}.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newHealthResponse("UP"))
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newHealthResponse(statusOK))
}

// HealthReady — readiness probe. Выполняет все проверки.
// Возвращает 200 (ok) или 503 (fail). Снимок зависимостей topologymetrics
// носит справочный характер и на статус не влияет.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	resp := healthReadyResponse{
		healthResponse: newHealthResponse(statusOK),
		Checks:         make(map[string]healthCheckResult, len(h.checkers)),
	}

	for _, c := range h.checkers {
		if err := c.Check(ctx); err != nil {
			resp.Checks[c.Name()] = healthCheckResult{Status: statusFail, Message: err.Error()}
			resp.Status = statusFail
			continue
		}
		resp.Checks[c.Name()] = healthCheckResult{Status: statusOK}
	}

	if h.deps != nil {
		resp.Dependencies = h.deps.Health()
	}

	status := http.StatusOK
	if resp.Status == statusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

func newHealthResponse(status string) healthResponse {
	return healthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}
}
