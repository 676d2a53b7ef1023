package chat

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Chat is one transformation work unit. Status moves are made by the
// external transform worker; this service only creates pending chats.
type Chat struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:varchar(36);index;not null" json:"user_id"`
	Status    Status    `gorm:"type:varchar(16);index;not null" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Chat) TableName() string { return "chats" }

type Request struct {
	ID        uint64                      `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID    uint64                      `gorm:"index;not null" json:"chat_id"`
	ImageURL  datatypes.JSONSlice[string] `gorm:"not null" json:"image_url"`
	Prompt    string                      `gorm:"type:text;not null" json:"prompt"`
	CreatedAt time.Time                   `json:"created_at"`
}

func (Request) TableName() string { return "requests" }

// Response rows are written by the transform worker only.
type Response struct {
	ID        uint64                      `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID    uint64                      `gorm:"index;not null" json:"chat_id"`
	ImageURL  datatypes.JSONSlice[string] `json:"image_url"`
	Message   *string                     `gorm:"type:text" json:"message"`
	CreatedAt time.Time                   `json:"created_at"`
}

func (Response) TableName() string { return "responses" }

// SharedSession grants any holder of the checkout-session id read access to
// one chat.
type SharedSession struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string    `gorm:"type:varchar(255);not null;index:uniq_shared_session_chat,unique,priority:1" json:"session_id"`
	ChatID    uint64    `gorm:"not null;index:uniq_shared_session_chat,unique,priority:2" json:"chat_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (SharedSession) TableName() string { return "shared_sessions" }

// Models lists the tables owned by this package, for migrations.
func Models() []any {
	return []any{&Chat{}, &Request{}, &Response{}, &SharedSession{}}
}
