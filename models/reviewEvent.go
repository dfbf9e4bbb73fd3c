package models

import "time"

// ReviewEvent is one append-only audit entry for a review. Rows are never
// updated or deleted; the first row of every review records the quality gate
// outcome at submission.
type ReviewEvent struct {
	ID        int       `gorm:"primary_key" json:"id"`
	ReviewId  string    `gorm:"size:36;not null;index:idx_review_events_review,priority:1" json:"review_id"`
	Action    string    `gorm:"size:40;not null" json:"action"`
	ActorId   string    `gorm:"size:64" json:"actor_id"`
	ActorName string    `gorm:"size:100" json:"actor_name"`
	Detail    string    `gorm:"type:text" json:"detail"`
	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_review_events_review,priority:2" json:"created_at"`
}
