// Пакет token — выдача, проверка и продление bearer-токенов AAA Module.
// Токены — самодостаточные JWT (HS256) с клеймами {user_id, jti, iat, exp},
// подписанные общим для процесса секретом. Состояние на сервере не
// хранится, списка отзыва нет.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bigkaa/gotaskflow/aaa-module/internal/domain/model"
)

// ErrInvalidToken — подпись неверна или токен не разбирается.
// Истечение срока действия этой ошибкой НЕ является: остаток TTL
// возвращается вызывающему для интерпретации.
var ErrInvalidToken = errors.New("недействительный токен")

// Claims — клеймы bearer-токена.
type Claims struct {
	// UserID — идентификатор пользователя, которому выдан токен.
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Service — сервис bearer-токенов.
type Service struct {
	secret []byte
	ttl    time.Duration
	// renewThreshold — остаток TTL, ниже которого токен продлевается.
	renewThreshold time.Duration
	// now — источник времени (подменяется в тестах).
	now func() time.Time
}

// New создаёт сервис токенов.
// secret — секрет подписи HS256, ttl — время жизни выданного токена,
// renewThreshold — порог автопродления (см. RenewIfNearExpiry).
func New(secret string, ttl, renewThreshold time.Duration) *Service {
	return &Service{
		secret:         []byte(secret),
		ttl:            ttl,
		renewThreshold: renewThreshold,
		now:            time.Now,
	}
}

// Issue выдаёт новый токен для пользователя с полным TTL.
// jti делает каждый выданный токен уникальным: продление в ту же
// секунду всё равно даёт новую строку токена.
func (s *Service) Issue(user *model.User) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи токена: %w", err)
	}
	return signed, nil
}

// Verify проверяет подпись и структуру токена.
// Истечение срока НЕ считается ошибкой: клеймы возвращаются и для
// просроченного токена, интерпретация остатка TTL — на вызывающем.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		// Срок действия проверяется вызывающим через RemainingTTL
		jwt.WithoutClaimsValidation(),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.UserID == 0 || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: отсутствуют обязательные клеймы", ErrInvalidToken)
	}

	return claims, nil
}

// RemainingTTL возвращает остаток времени жизни токена.
// Для просроченного токена значение отрицательное.
func (s *Service) RemainingTTL(claims *Claims) time.Duration {
	return claims.ExpiresAt.Time.Sub(s.now())
}

// RenewThreshold возвращает порог автопродления.
func (s *Service) RenewThreshold() time.Duration {
	return s.renewThreshold
}

// RenewIfNearExpiry выдаёт свежий токен для того же пользователя, если
// остаток TTL меньше порога, но токен ещё действителен. Просроченный
// токен не продлевается — вызывающий обязан требовать повторный логин.
// Возвращает ("", false, nil), если продление не требуется.
func (s *Service) RenewIfNearExpiry(claims *Claims, user *model.User) (string, bool, error) {
	remaining := s.RemainingTTL(claims)
	if remaining <= 0 || remaining >= s.renewThreshold {
		return "", false, nil
	}

	renewed, err := s.Issue(user)
	if err != nil {
		return "", false, err
	}
	return renewed, true, nil
}
