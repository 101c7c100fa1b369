package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// sessionSubject — subject всех сессий владельца.
const sessionSubject = "owner"

// sessionIssuer — значение claim iss.
const sessionIssuer = "tempobox"

// ErrInvalidSession — сессионный токен не прошёл проверку.
var ErrInvalidSession = errors.New("недействительный сессионный токен")

// SessionClaims — claims сессии владельца.
// Секрет владельца в токен не записывается: подпись доказывает, что
// секрет был предъявлен при выдаче.
type SessionClaims struct {
	jwt.RegisteredClaims
	// Scope — scope token (idToken), выбранный при входе (опционально)
	Scope string `json:"scope,omitempty"`
}

// SessionManager выдаёт и проверяет подписанные (HS256) сессии владельца.
type SessionManager struct {
	key []byte
	ttl time.Duration
}

// NewSessionManager создаёт менеджер сессий.
// key — ключ подписи; если пустой, генерируется случайный
// (сессии не переживают рестарт процесса).
func NewSessionManager(key string, ttl time.Duration) (*SessionManager, error) {
	var raw []byte
	if key == "" {
		raw = make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("ошибка генерации ключа сессий: %w", err)
		}
	} else {
		sum := sha256.Sum256([]byte(key))
		raw = sum[:]
	}
	return &SessionManager{key: raw, ttl: ttl}, nil
}

// Issue выдаёт сессионный токен со scope и возвращает его вместе со
// временем истечения.
func (m *SessionManager) Issue(scope string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(m.ttl)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionSubject,
			Issuer:    sessionIssuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Scope: scope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("ошибка подписи сессии: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse проверяет подпись, срок действия и subject сессии.
func (m *SessionManager) Parse(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return m.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithSubject(sessionSubject),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !token.Valid {
		return nil, ErrInvalidSession
	}
	return claims, nil
}
