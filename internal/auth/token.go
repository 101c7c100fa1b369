// Пакет auth — проверка токена владельца и выдача access-токенов.
//
// Модель доступа — capability-токены, без серверных сессий:
//   - токен аутентификации (один общий секрет) даёт право загружать файлы
//     и управлять ими; его значение одновременно является owner_token;
//   - access-токен — непрозрачная строка, дающая право скачать один файл.
package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/google/uuid"
)

// TokenAuthority сравнивает предъявленный токен с настроенным секретом.
type TokenAuthority struct {
	secret []byte
}

// NewTokenAuthority создаёт TokenAuthority для секрета secret.
func NewTokenAuthority(secret string) *TokenAuthority {
	return &TokenAuthority{secret: []byte(secret)}
}

// Validate возвращает true, если presented совпадает с секретом.
// Сравнение выполняется за постоянное время. Пустой токен не валиден никогда.
func (a *TokenAuthority) Validate(presented string) bool {
	if presented == "" || len(a.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), a.secret) == 1
}

// OwnerToken возвращает значение owner_token для записей, загруженных
// с валидным токеном.
func (a *TokenAuthority) OwnerToken() string {
	return string(a.secret)
}

// ResolveAccessToken возвращает supplied, если он непустой,
// иначе генерирует новый непредсказуемый токен (UUID v4, crypto/rand).
func ResolveAccessToken(supplied string) string {
	if strings.TrimSpace(supplied) != "" {
		return supplied
	}
	return uuid.NewString()
}

// TokensEqual — сравнение двух токенов за постоянное время.
// Используется in-memory репозиторием при поиске по access-токену.
func TokensEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
