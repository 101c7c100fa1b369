// files.go — HTTP handlers файловых операций tempobox.
// Upload, Download, List, Expire.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/tempobox/internal/api/errors"
	"github.com/bigkaa/tempobox/internal/api/middleware"
	"github.com/bigkaa/tempobox/internal/domain/model"
	"github.com/bigkaa/tempobox/internal/service"
)

// Сообщения об ошибках доступа к файлу.
const (
	msgInvalidAccess = "Invalid file ID or access token"
	msgExpired       = "The requested file has expired and is no longer available"
	msgBlobNotFound  = "The requested file could not be found on the server"
)

// HeaderAccessToken — заголовок с access-токеном для скачивания.
const HeaderAccessToken = "Access-Token"

// multipartMemory — сколько данных multipart держится в памяти,
// остальное ParseMultipartForm пишет во временные файлы.
const multipartMemory = 32 << 20

// multipartOverhead — запас на заголовки и текстовые поля формы сверх MaxFileSize.
const multipartOverhead = 1 << 20

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	uploadSvc   *service.UploadService
	downloadSvc *service.DownloadService
	expireSvc   *service.ExpireService
	listSvc     *service.ListService
	ownerAuth   *middleware.OwnerAuth
	maxFileSize int64
	logger      *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
// maxFileSize ограничивает тело запроса загрузки (0 — без ограничения).
func NewFilesHandler(
	uploadSvc *service.UploadService,
	downloadSvc *service.DownloadService,
	expireSvc *service.ExpireService,
	listSvc *service.ListService,
	ownerAuth *middleware.OwnerAuth,
	maxFileSize int64,
	logger *slog.Logger,
) *FilesHandler {
	return &FilesHandler{
		uploadSvc:   uploadSvc,
		downloadSvc: downloadSvc,
		expireSvc:   expireSvc,
		listSvc:     listSvc,
		ownerAuth:   ownerAuth,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "files_handler")),
	}
}

// uploadResponse — ответ на успешную загрузку.
type uploadResponse struct {
	FileID           string    `json:"fileId"`
	AccessToken      string    `json:"accessToken"`
	Message          string    `json:"message"`
	ExpiresInMinutes int       `json:"expiresInMinutes"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// fileItem — файл в ответе списка.
type fileItem struct {
	FileID                 string            `json:"fileId"`
	OriginalFilename       string            `json:"originalFilename"`
	ContentType            string            `json:"contentType"`
	FileSize               int64             `json:"fileSize"`
	Checksum               string            `json:"checksum"`
	AccessToken            string            `json:"accessToken"`
	IDToken                *string           `json:"idToken,omitempty"`
	CreatedAt              time.Time         `json:"createdAt"`
	ExpiresAt              time.Time         `json:"expiresAt"`
	StorageDurationMinutes int               `json:"storageDurationMinutes"`
	Description            map[string]string `json:"description,omitempty"`
}

// listResponse — ответ списка файлов.
type listResponse struct {
	Items []fileItem `json:"items"`
	Total int        `json:"total"`
}

// UploadFile обрабатывает POST /api/v1/files/upload.
// Multipart form: file, storageDurationMinutes (обязательно); authToken,
// idToken, accessToken и поля описания CI/CD (опционально).
// Токен аутентификации принимается из поля authToken или заголовков владельца.
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	if h.maxFileSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.FileTooLarge(w, fmt.Sprintf("Размер запроса превышает %d байт", tooLarge.Limit))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	minutes, err := strconv.Atoi(strings.TrimSpace(r.FormValue("storageDurationMinutes")))
	if err != nil {
		apierrors.ValidationError(w, "Поле 'storageDurationMinutes' должно быть целым числом")
		return
	}

	params := service.UploadParams{
		AuthToken:        r.FormValue("authToken"),
		Reader:           file,
		OriginalFilename: header.Filename,
		ContentType:      header.Header.Get("Content-Type"),
		DurationMinutes:  minutes,
		AccessToken:      r.FormValue("accessToken"),
		Description:      descriptionFromForm(r),
	}
	if idToken := r.FormValue("idToken"); idToken != "" {
		params.ScopeToken = &idToken
	}

	// Без authToken в форме — заголовки владельца (X-Auth-Token, Bearer, сессия)
	if params.AuthToken == "" {
		if owner, ok := h.ownerAuth.Resolve(r); ok {
			params.AuthToken = owner.Token
			if params.ScopeToken == nil {
				params.ScopeToken = owner.Scope
			}
		}
	}

	result, err := h.uploadSvc.Upload(r.Context(), params)
	if err != nil {
		h.writeServiceError(w, err, middleware.MsgInvalidAuthToken)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		FileID:           result.FileID,
		AccessToken:      result.AccessToken,
		Message:          result.Message,
		ExpiresInMinutes: result.ExpiresInMinutes,
		ExpiresAt:        result.ExpiresAt,
	})
}

// DownloadFile обрабатывает GET /api/v1/files/download/{fileId}.
// Access-токен — заголовок Access-Token или query-параметр token.
// Поддерживает Range requests и ETag (SHA-256 содержимого).
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	var fileID string
	if err := runtime.BindStyledParameterWithOptions("simple", "fileId", chi.URLParam(r, "fileId"), &fileID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true}); err != nil {
		apierrors.Unauthorized(w, msgInvalidAccess)
		return
	}

	accessToken := r.Header.Get(HeaderAccessToken)
	if accessToken == "" {
		if err := runtime.BindQueryParameter("form", true, false, "token", r.URL.Query(), &accessToken); err != nil {
			apierrors.ValidationError(w, "Некорректный параметр token")
			return
		}
	}

	dl, err := h.downloadSvc.Open(r.Context(), fileID, accessToken, time.Now())
	if err != nil {
		h.writeServiceError(w, err, msgInvalidAccess)
		return
	}
	defer dl.Object.Close()

	rec := dl.Record
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("Content-Disposition", contentDisposition(rec.OriginalFilename))
	w.Header().Set("Cache-Control", "private, no-store")
	w.Header().Set("X-Expires-At", rec.ExpiresAt.UTC().Format(time.RFC3339))
	if rec.Checksum != "" {
		w.Header().Set("ETag", `"`+rec.Checksum+`"`)
	}

	http.ServeContent(w, r, rec.OriginalFilename, rec.CreatedAt, dl.Object)
}

// ListFiles обрабатывает GET /api/v1/files.
// Query: idToken (scope), sortBy (createdAt|filename|fileSize|expiresAt), sortDir (asc|desc).
// Без idToken используется scope сессии, если он задан.
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, middleware.MsgInvalidAuthToken)
		return
	}

	var idToken, sortBy, sortDir *string
	query := r.URL.Query()
	for name, dest := range map[string]**string{"idToken": &idToken, "sortBy": &sortBy, "sortDir": &sortDir} {
		if err := runtime.BindQueryParameter("form", true, false, name, query, dest); err != nil {
			apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр %s", name))
			return
		}
	}

	q := model.ListQuery{OwnerToken: owner.Token, ScopeToken: owner.Scope}
	if idToken != nil {
		q.ScopeToken = idToken
	}
	if sortBy != nil {
		q.SortField = model.SortField(*sortBy)
	}
	if sortDir != nil {
		q.SortDir = model.SortDir(*sortDir)
	}

	files, err := h.listSvc.List(r.Context(), q, time.Now())
	if err != nil {
		h.writeServiceError(w, err, middleware.MsgInvalidAuthToken)
		return
	}

	resp := listResponse{Items: make([]fileItem, 0, len(files)), Total: len(files)}
	for _, f := range files {
		resp.Items = append(resp.Items, toFileItem(f))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ExpireFile обрабатывает POST /api/v1/files/{fileId}/expire.
// Файл становится недоступен немедленно, физически удаляется очисткой.
func (h *FilesHandler) ExpireFile(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, middleware.MsgInvalidAuthToken)
		return
	}

	var fileID string
	if err := runtime.BindStyledParameterWithOptions("simple", "fileId", chi.URLParam(r, "fileId"), &fileID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true}); err != nil {
		apierrors.Unauthorized(w, middleware.MsgInvalidAuthToken)
		return
	}

	if err := h.expireSvc.ExpireNow(r.Context(), fileID, owner.Token, owner.Scope, time.Now()); err != nil {
		h.writeServiceError(w, err, middleware.MsgInvalidAuthToken)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
// unauthorizedMsg — сообщение для 401 (у загрузки и скачивания они разные).
func (h *FilesHandler) writeServiceError(w http.ResponseWriter, err error, unauthorizedMsg string) {
	var expired *service.ExpiredError
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		apierrors.Unauthorized(w, unauthorizedMsg)
	case errors.As(err, &expired):
		apierrors.Expired(w, msgExpired, expired.ExpiredAt)
	case errors.Is(err, service.ErrBlobNotFound):
		apierrors.NotFound(w, msgBlobNotFound)
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrFileTooLarge):
		apierrors.FileTooLarge(w, err.Error())
	default:
		h.logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// descriptionFromForm собирает известные поля описания CI/CD.
// Возвращает nil, если ни одно поле не заполнено.
func descriptionFromForm(r *http.Request) model.Description {
	var desc model.Description
	for _, key := range model.DescriptionKeys {
		v := strings.TrimSpace(r.FormValue(key))
		if v == "" {
			continue
		}
		if desc == nil {
			desc = make(model.Description)
		}
		desc[key] = v
	}
	return desc
}

// contentDisposition формирует заголовок attachment с именем файла
// (RFC 6266, non-ASCII имена кодируются через filename*).
func contentDisposition(filename string) string {
	if filename == "" {
		return "attachment"
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

// toFileItem конвертирует запись в элемент ответа списка.
func toFileItem(f *model.FileRecord) fileItem {
	return fileItem{
		FileID:                 f.FileID,
		OriginalFilename:       f.OriginalFilename,
		ContentType:            f.ContentType,
		FileSize:               f.FileSize,
		Checksum:               f.Checksum,
		AccessToken:            f.AccessToken,
		IDToken:                f.ScopeToken,
		CreatedAt:              f.CreatedAt,
		ExpiresAt:              f.ExpiresAt,
		StorageDurationMinutes: f.StorageDurationMinutes,
		Description:            f.Description,
	}
}

// writeJSON записывает JSON-ответ.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
