// session.go — выдача сессионного токена владельца.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/bigkaa/tempobox/internal/api/errors"
	"github.com/bigkaa/tempobox/internal/api/middleware"
	"github.com/bigkaa/tempobox/internal/auth"
)

// SessionHandler — обработчик POST /api/v1/session.
type SessionHandler struct {
	authority *auth.TokenAuthority
	sessions  *auth.SessionManager
	logger    *slog.Logger
}

// NewSessionHandler создаёт обработчик сессий.
func NewSessionHandler(authority *auth.TokenAuthority, sessions *auth.SessionManager, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		authority: authority,
		sessions:  sessions,
		logger:    logger.With(slog.String("component", "session_handler")),
	}
}

type sessionRequest struct {
	AuthToken string `json:"authToken"`
	IDToken   string `json:"idToken,omitempty"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CreateSession обменивает токен аутентификации на подписанный сессионный
// токен. idToken становится scope по умолчанию для списка и истечения.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	if !h.authority.Validate(req.AuthToken) {
		h.logger.Warn("Отклонена попытка входа", slog.String("remote_addr", r.RemoteAddr))
		apierrors.Unauthorized(w, middleware.MsgInvalidAuthToken)
		return
	}

	token, expiresAt, err := h.sessions.Issue(strings.TrimSpace(req.IDToken), time.Now())
	if err != nil {
		h.logger.Error("Ошибка выдачи сессии", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Token: token, ExpiresAt: expiresAt.UTC()})
}
