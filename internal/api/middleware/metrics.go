// metrics.go — Prometheus HTTP метрики tempobox.
// Бизнес-метрики экспортируются для обновления из сервисного слоя.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tb_http_requests_total",
			Help: "Общее количество HTTP-запросов к tempobox",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tb_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к tempobox в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики (экспортируются для обновления из сервисного слоя)
var (
	// OperationsTotal — общее количество файловых операций.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tb_operations_total",
			Help: "Общее количество файловых операций",
		},
		[]string{"operation", "result"},
	)

	// UploadedBytesTotal — суммарный объём загруженных данных.
	UploadedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tb_uploaded_bytes_total",
			Help: "Суммарный объём загруженных файлов в байтах",
		},
	)

	// ExpiredFilesTotal — количество файлов, удалённых по истечении срока.
	ExpiredFilesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tb_expired_files_total",
			Help: "Общее количество файлов, удалённых очисткой",
		},
	)
)

// unmatchedRoute — метка пути для запросов, не попавших ни в один маршрут.
const unmatchedRoute = "unmatched"

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Метка path — шаблон маршрута chi (/api/v1/files/download/{fileId}),
// поэтому file_id не раздувает кардинальность.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			path := metricsPath(r)
			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// metricsPath возвращает шаблон маршрута или unmatchedRoute.
func metricsPath(r *http.Request) string {
	if route := routePattern(r); route != "" && !strings.HasSuffix(route, "/*") {
		return route
	}
	return unmatchedRoute
}
