package chat

import (
	"context"
	"errors"
	"strings"
)

var ErrInvalidGrant = errors.New("session id and chat id are required")

// Registry is the shared-session grant table: checkout-session id -> chat.
type Registry struct {
	repo *Repo
}

func NewRegistry(repo *Repo) *Registry {
	return &Registry{repo: repo}
}

// Register is idempotent; registering the same pair twice leaves one row.
func (r *Registry) Register(ctx context.Context, sessionID string, chatID uint64) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || chatID == 0 {
		return ErrInvalidGrant
	}
	return r.repo.InsertSharedSession(ctx, &SharedSession{SessionID: sessionID, ChatID: chatID})
}

func (r *Registry) Allows(ctx context.Context, sessionID string, chatID uint64) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || chatID == 0 {
		return false, nil
	}
	return r.repo.SharedSessionExists(ctx, sessionID, chatID)
}
