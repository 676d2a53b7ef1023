package fulfillment

import "time"

// PaymentSession maps a checkout session to the anonymous identity created
// for it, so a returning browser can resume that identity's auth session.
type PaymentSession struct {
	ID               uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	StripeSessionsID string     `gorm:"column:stripe_sessions_id;type:varchar(255);uniqueIndex;not null" json:"stripe_sessions_id"`
	UserID           string     `gorm:"type:varchar(36);index;not null" json:"user_id"`
	SessionToken     *string    `gorm:"type:text" json:"-"`
	RefreshToken     *string    `gorm:"type:text" json:"-"`
	ExpiresAt        *time.Time `json:"expires_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

func (PaymentSession) TableName() string { return "payment_sessions" }

// ProcessedSession marks a checkout session whose Chat and Request were
// committed. It is written in the same transaction as those rows.
type ProcessedSession struct {
	StripeSessionsID string    `gorm:"column:stripe_sessions_id;type:varchar(255);primaryKey" json:"stripe_sessions_id"`
	UserID           string    `gorm:"type:varchar(36);not null" json:"user_id"`
	ChatID           uint64    `gorm:"not null" json:"chat_id"`
	RequestID        uint64    `gorm:"not null" json:"request_id"`
	CreatedAt        time.Time `json:"created_at"`
}

func (ProcessedSession) TableName() string { return "processed_sessions" }

// ReconcileMessage asks the reconciler to finish provisioning for an
// identity that already exists.
type ReconcileMessage struct {
	SessionID string   `json:"session_id"`
	UserID    string   `json:"user_id"`
	ImageURLs []string `json:"image_urls"`
	Prompt    string   `json:"prompt"`
	Attempt   int      `json:"attempt"`
}

func Models() []any {
	return []any{&PaymentSession{}, &ProcessedSession{}}
}
