// auth.go — аутентификация владельца файлов.
//
// Владелец предъявляет секрет одним из способов:
//   - заголовок X-Auth-Token: <секрет>
//   - Authorization: Bearer <секрет>
//   - Authorization: Bearer <сессионный токен> (выдаётся POST /api/v1/session)
//
// Публичные endpoints (health, metrics, download по access-токену) — без аутентификации.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/tempobox/internal/api/errors"
	"github.com/bigkaa/tempobox/internal/auth"
)

// HeaderAuthToken — заголовок с секретом владельца.
const HeaderAuthToken = "X-Auth-Token"

// MsgInvalidAuthToken — единое сообщение об ошибке аутентификации владельца.
const MsgInvalidAuthToken = "Invalid authentication token"

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyOwner — ключ для Owner в контексте запроса.
const ContextKeyOwner contextKey = "owner"

// Owner — аутентифицированный владелец запроса.
type Owner struct {
	// Token — owner_token (значение секрета)
	Token string
	// Scope — scope token из сессии (nil — не задан)
	Scope *string
}

// OwnerAuth проверяет секрет владельца или сессионный токен.
type OwnerAuth struct {
	authority *auth.TokenAuthority
	sessions  *auth.SessionManager
	logger    *slog.Logger
}

// NewOwnerAuth создаёт middleware аутентификации владельца.
func NewOwnerAuth(authority *auth.TokenAuthority, sessions *auth.SessionManager, logger *slog.Logger) *OwnerAuth {
	return &OwnerAuth{
		authority: authority,
		sessions:  sessions,
		logger:    logger.With(slog.String("component", "owner_auth")),
	}
}

// Resolve извлекает владельца из заголовков запроса.
// Возвращает false, если учётные данные отсутствуют или невалидны.
func (a *OwnerAuth) Resolve(r *http.Request) (Owner, bool) {
	if token := r.Header.Get(HeaderAuthToken); token != "" {
		if a.authority.Validate(token) {
			return Owner{Token: a.authority.OwnerToken()}, true
		}
		return Owner{}, false
	}

	bearer := bearerToken(r)
	if bearer == "" {
		return Owner{}, false
	}
	if a.authority.Validate(bearer) {
		return Owner{Token: a.authority.OwnerToken()}, true
	}
	if a.sessions == nil {
		return Owner{}, false
	}

	claims, err := a.sessions.Parse(bearer)
	if err != nil {
		a.logger.Debug("Сессионный токен отклонён",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr),
		)
		return Owner{}, false
	}

	owner := Owner{Token: a.authority.OwnerToken()}
	if claims.Scope != "" {
		scope := claims.Scope
		owner.Scope = &scope
	}
	return owner, true
}

// Middleware возвращает HTTP middleware, требующий аутентификации владельца.
// Владелец помещается в контекст запроса.
func (a *OwnerAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, ok := a.Resolve(r)
			if !ok {
				apierrors.Unauthorized(w, MsgInvalidAuthToken)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyOwner, owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerFromContext извлекает владельца из контекста запроса.
func OwnerFromContext(ctx context.Context) (Owner, bool) {
	owner, ok := ctx.Value(ContextKeyOwner).(Owner)
	return owner, ok
}

// bearerToken извлекает токен из заголовка Authorization: Bearer <token>.
func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
