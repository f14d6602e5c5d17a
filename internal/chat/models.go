package chat

import "time"

const (
	SenderHuman = "human"
	SenderAI    = "ai"

	StatusSent = "sent"
)

type Message struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID        uint64    `gorm:"not null;index:idx_msg_session_created,priority:1" json:"session_id"`
	UserID           uint64    `gorm:"not null;index" json:"user_id"`
	Content          string    `gorm:"type:text;not null" json:"content"`
	SenderType       string    `gorm:"type:varchar(10);not null" json:"sender_type"`
	MessageStatus    string    `gorm:"type:varchar(20);not null;default:sent" json:"message_status"`
	ReplyToMessageID *uint64   `json:"reply_to_message_id,omitempty"`
	CreatedAt        time.Time `gorm:"index:idx_msg_session_created,priority:2" json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Message) TableName() string { return "messages" }
