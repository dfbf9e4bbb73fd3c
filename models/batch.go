package models

import "time"

// BatchJob records one batch submission. The aggregate counters are frozen at
// completion time; reviews moving on afterwards (manual approvals etc.) do not
// change them.
type BatchJob struct {
	ID          string      `gorm:"primaryKey;size:36" json:"id"`
	SubmitterId string      `gorm:"size:64;not null;index" json:"submitter_id"`
	Status      BatchStatus `gorm:"size:20;not null" json:"status"`

	Total         int `gorm:"not null" json:"total"`
	Succeeded     int `gorm:"not null" json:"succeeded"`
	Failed        int `gorm:"not null" json:"failed"`
	AutoApproved  int `gorm:"not null" json:"auto_approved"`
	AutoRejected  int `gorm:"not null" json:"auto_rejected"`
	PendingReview int `gorm:"not null" json:"pending_review"`

	// SettingsSnapshot is the shared policy JSON captured at batch start.
	SettingsSnapshot string `gorm:"type:text" json:"settings_snapshot"`

	Members []BatchMember `gorm:"foreignKey:BatchId" json:"members"`

	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// BatchMember is one successfully created review of a batch, keeping its
// original item index. Items that fail creation are counted on the batch and
// logged; they leave no member row and never block the other items.
type BatchMember struct {
	ID        int     `gorm:"primary_key" json:"id"`
	BatchId   string  `gorm:"size:36;not null;index" json:"batch_id"`
	ItemIndex int     `gorm:"not null" json:"item_index"`
	ReviewId  *string `gorm:"size:36" json:"review_id"`
	Outcome   string  `gorm:"size:40" json:"outcome"`
}
