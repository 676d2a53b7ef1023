package fulfillment

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	ErrMappingNotFound   = errors.New("session not found or no user associated")
	ErrMappingIncomplete = errors.New("authentication data not found")
)

type SessionUser struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	// ExpiresAt in epoch seconds, nil when the provider gave none.
	ExpiresAt *int64
}

// Sessions resolves a checkout session back to its anonymous identity.
type Sessions struct {
	repo *Repo
}

func NewSessions(repo *Repo) *Sessions {
	return &Sessions{repo: repo}
}

func (s *Sessions) UserForCheckout(ctx context.Context, sessionID string) (*SessionUser, error) {
	ps, err := s.repo.GetPaymentSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMappingNotFound
		}
		return nil, err
	}
	if ps.SessionToken == nil || *ps.SessionToken == "" || ps.RefreshToken == nil || *ps.RefreshToken == "" {
		return nil, ErrMappingIncomplete
	}

	u := &SessionUser{
		UserID:       ps.UserID,
		AccessToken:  *ps.SessionToken,
		RefreshToken: *ps.RefreshToken,
	}
	if ps.ExpiresAt != nil {
		sec := ps.ExpiresAt.Unix()
		u.ExpiresAt = &sec
	}
	return u, nil
}
