// handler.go — APIHandler собирает доменные handlers и монтирует
// их маршруты на chi-роутер.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/tempobox/internal/api/errors"
	"github.com/bigkaa/tempobox/internal/api/middleware"
	"github.com/bigkaa/tempobox/internal/api/openapi"
)

// APIHandler — единая точка монтирования всех endpoints.
type APIHandler struct {
	files     *FilesHandler
	session   *SessionHandler
	health    *HealthHandler
	ownerAuth *middleware.OwnerAuth
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(
	files *FilesHandler,
	session *SessionHandler,
	health *HealthHandler,
	ownerAuth *middleware.OwnerAuth,
) *APIHandler {
	return &APIHandler{
		files:     files,
		session:   session,
		health:    health,
		ownerAuth: ownerAuth,
	}
}

// Mount регистрирует маршруты на роутере.
//
// Публичные: health, metrics, OpenAPI, скачивание (по access-токену),
// выдача сессии и загрузка (токен проверяет сервис, он может прийти в форме).
// Список и истечение требуют аутентификации владельца.
func (h *APIHandler) Mount(r chi.Router) {
	r.Get("/health", h.health.Health)
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/openapi.yaml", openapi.Handler())
		r.Post("/session", h.session.CreateSession)

		r.Post("/files/upload", h.files.UploadFile)
		r.Get("/files/download/{fileId}", h.files.DownloadFile)

		r.Group(func(r chi.Router) {
			r.Use(h.ownerAuth.Middleware())
			r.Get("/files", h.files.ListFiles)
			r.Post("/files/{fileId}/expire", h.files.ExpireFile)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.NotFound(w, "Endpoint не найден")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apierrors.MethodNotAllowed(w, "Метод "+r.Method+" не поддерживается")
	})
}
