package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// WithTx returns a Repo bound to tx.
func (r *Repo) WithTx(tx *gorm.DB) *Repo {
	return &Repo{db: tx}
}

func (r *Repo) CreateChat(ctx context.Context, c *Chat) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) CreateRequest(ctx context.Context, req *Request) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *Repo) GetChat(ctx context.Context, id uint64) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetRequestByChat returns gorm.ErrRecordNotFound when the chat has no request yet.
func (r *Repo) GetRequestByChat(ctx context.Context, chatID uint64) (*Request, error) {
	var req Request
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id ASC").
		First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// GetResponseByChat returns the newest response for the chat.
func (r *Repo) GetResponseByChat(ctx context.Context, chatID uint64) (*Response, error) {
	var resp Response
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id DESC").
		First(&resp).Error; err != nil {
		return nil, err
	}
	return &resp, nil
}

// InsertSharedSession inserts the grant and ignores a duplicate (session_id, chat_id).
func (r *Repo) InsertSharedSession(ctx context.Context, s *SharedSession) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "chat_id"}},
			DoNothing: true,
		}).
		Create(s).Error
}

func (r *Repo) SharedSessionExists(ctx context.Context, sessionID string, chatID uint64) (bool, error) {
	var s SharedSession
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND chat_id = ?", sessionID, chatID).
		First(&s).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}
