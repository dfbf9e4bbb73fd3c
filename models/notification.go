package models

import "time"

// Notification is one entry in the bounded in-app notification queue.
// The queue keeps at most the configured cap (default 100); the oldest
// entries are evicted first when new ones arrive.
type Notification struct {
	ID          int              `gorm:"primary_key" json:"id"`
	Type        NotificationType `gorm:"size:40;not null" json:"type"`
	RecipientId string           `gorm:"size:64;index" json:"recipient_id"`
	ReviewId    *string          `gorm:"size:36;index" json:"review_id"`
	BatchId     *string          `gorm:"size:36" json:"batch_id"`
	Message     string           `gorm:"type:text" json:"message"`
	IsRead      *bool            `gorm:"not null;default:false" json:"is_read"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
}
