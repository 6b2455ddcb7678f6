package models

import "time"

// ChatMessage is a message posted to a course chat room or a private pairwise room.
type ChatMessage struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	RoomID       string    `gorm:"size:160;index:idx_chat_room_created,priority:1" json:"room_id"`
	SenderID     string    `gorm:"size:64;index" json:"sender_id"`
	SenderName   string    `gorm:"size:128" json:"sender_name"`
	SenderAvatar string    `gorm:"size:512" json:"sender_avatar"`
	ReceiverID   string    `gorm:"size:64;index" json:"receiver_id"`
	Content      string    `gorm:"type:text" json:"content"`
	Type         string    `gorm:"size:32;default:text" json:"type"`
	CreatedAt    time.Time `gorm:"index:idx_chat_room_created,priority:2" json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
