package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ShareClaims scope a token to exactly one chat.
type ShareClaims struct {
	ChatID    uint64 `json:"chat_id"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// ShareTokens issues and verifies read-only capability tokens for result links.
type ShareTokens struct {
	key []byte
	ttl time.Duration
}

func NewShareTokens(secret string, ttl time.Duration) *ShareTokens {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &ShareTokens{key: DeriveKey(secret, PurposeShare), ttl: ttl}
}

func (s *ShareTokens) Issue(chatID uint64, sessionID string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.ttl)
	claims := ShareClaims{
		ChatID:    chatID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(chatID, 10),
			Audience:  jwt.ClaimStrings{"share"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, exp, nil
}

// Verify returns the chat id the token grants read access to.
func (s *ShareTokens) Verify(tokenStr string) (uint64, error) {
	var claims ShareClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	}, jwt.WithAudience("share"))
	if err != nil || !token.Valid || claims.ChatID == 0 {
		return 0, ErrInvalidToken
	}
	return claims.ChatID, nil
}
