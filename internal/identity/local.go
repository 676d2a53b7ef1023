package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/pixelshift/internal/auth"
	"gorm.io/gorm"
)

type AnonymousUser struct {
	ID               string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	RefreshTokenHash string     `gorm:"type:char(64);uniqueIndex;not null" json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	LastRefreshedAt  *time.Time `json:"last_refreshed_at"`
}

func (AnonymousUser) TableName() string { return "anonymous_users" }

// LocalProvider mints anonymous identities itself: a users row, an HS256
// access token and an opaque rotating refresh token.
type LocalProvider struct {
	db  *gorm.DB
	key []byte
	ttl time.Duration
}

func NewLocalProvider(db *gorm.DB, secret string, ttl time.Duration) *LocalProvider {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LocalProvider{db: db, key: auth.DeriveKey(secret, auth.PurposeAccess), ttl: ttl}
}

func (p *LocalProvider) SignInAnonymously(ctx context.Context) (*Identity, error) {
	refresh, hash, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	u := &AnonymousUser{
		ID:               uuid.NewString(),
		RefreshTokenHash: hash,
	}
	if err := p.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return p.issue(u.ID, refresh)
}

// Refresh rotates refreshToken and returns a fresh token pair.
func (p *LocalProvider) Refresh(ctx context.Context, refreshToken string) (*Identity, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	var u AnonymousUser
	if err := p.db.WithContext(ctx).
		Where("refresh_token_hash = ?", hashToken(refreshToken)).
		First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	next, hash, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	// conditional update so two concurrent refreshes cannot both win
	res := p.db.WithContext(ctx).Model(&AnonymousUser{}).
		Where("id = ? AND refresh_token_hash = ?", u.ID, u.RefreshTokenHash).
		Updates(map[string]any{
			"refresh_token_hash": hash,
			"last_refreshed_at":  &now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrInvalidRefreshToken
	}
	return p.issue(u.ID, next)
}

// VerifyAccess returns the user id carried by a valid access token.
func (p *LocalProvider) VerifyAccess(token string) (string, error) {
	return auth.ParseAccessToken(token, p.key)
}

func (p *LocalProvider) issue(userID, refresh string) (*Identity, error) {
	access, exp, err := auth.SignAccessToken(userID, p.key, p.ttl)
	if err != nil {
		return nil, err
	}
	return &Identity{
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    exp,
	}, nil
}

func newRefreshToken() (token, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(b)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
