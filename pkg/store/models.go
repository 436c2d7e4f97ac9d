package store

import "time"

// GORM models used for persistence. Table names match the existing schema.
type UserModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"size:50;uniqueIndex;not null"`
	Email        string `gorm:"size:100;uniqueIndex;not null"`
	PasswordHash string `gorm:"column:password;size:200;not null"`
}

func (UserModel) TableName() string { return "users" }

type MessageModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	SenderID   int64     `gorm:"not null;index:idx_messages_unread,priority:1"`
	ReceiverID int64     `gorm:"not null;index:idx_messages_unread,priority:2;index"`
	Content    string    `gorm:"size:1000;not null"`
	Timestamp  time.Time `gorm:"not null;index"`
	IsRead     bool      `gorm:"not null;index:idx_messages_unread,priority:3"`
}

func (MessageModel) TableName() string { return "messages" }

type unreadRow struct {
	ID          int64
	Username    string
	UnreadCount int64
}
