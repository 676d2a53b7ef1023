package fulfillment

import (
	"context"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) InsertPaymentSession(ctx context.Context, s *PaymentSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) GetPaymentSession(ctx context.Context, stripeSessionID string) (*PaymentSession, error) {
	var s PaymentSession
	if err := r.db.WithContext(ctx).
		Where("stripe_sessions_id = ?", stripeSessionID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) GetProcessed(ctx context.Context, stripeSessionID string) (*ProcessedSession, error) {
	var p ProcessedSession
	if err := r.db.WithContext(ctx).
		Where("stripe_sessions_id = ?", stripeSessionID).
		First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
