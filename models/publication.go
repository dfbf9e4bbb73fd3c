package models

import (
	"context"
	"time"

	"bitbucket.org/dressforpleasure/stylereview_backend/config"
	"bitbucket.org/dressforpleasure/stylereview_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

const CatalogActionReviewApproved = "review_approved"

// CatalogPublishRecord implements the transactional outbox for catalog
// publication: the row is written inside the approval's DB transaction and
// picked up asynchronously by the publish dispatcher after commit.
type CatalogPublishRecord struct {
	ID          int    `gorm:"primary_key" json:"id"`
	ReviewId    string `gorm:"size:36;not null;index:idx_catalog_publish_review" json:"review_id"`
	ReviewKind  string `gorm:"size:30;not null" json:"review_kind"`
	SubmitterId string `gorm:"size:64;not null" json:"submitter_id"`
	AssetObject string `gorm:"size:255" json:"asset_object"`
	Action      string `gorm:"size:40;not null" json:"action"`
	Payload     []byte `gorm:"type:mediumblob" json:"payload"`

	DecidedAt     time.Time `json:"decided_at"`
	CorrelationId string    `gorm:"size:64" json:"correlation_id"`

	PublishStatus    string     `gorm:"size:20;not null;default:PENDING;index:idx_catalog_publish_claim,priority:1" json:"publish_status"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index:idx_catalog_publish_claim,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:64" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	PubSubMessageId  *string    `gorm:"size:64" json:"pub_sub_message_id"`
	PublishedAt      *time.Time `json:"published_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnqueueCatalogPublish writes the outbox row inside the caller's DB
// transaction but does NOT publish to Pub/Sub. Publishing is performed
// asynchronously by the publish dispatcher after commit.
func EnqueueCatalogPublish(ctx context.Context, tx *gorm.DB, review *ReviewRecord) error {
	record := CatalogPublishRecord{
		ReviewId:      review.ID,
		ReviewKind:    string(review.Kind),
		SubmitterId:   review.SubmitterId,
		AssetObject:   review.AssetObject,
		Action:        CatalogActionReviewApproved,
		Payload:       []byte(review.OutputData),
		DecidedAt:     time.Now().UTC(),
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: CorrelationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func CorrelationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToCatalogMessage(rec CatalogPublishRecord) config.CatalogEventMessage {
	return config.CatalogEventMessage{
		ID:            rec.ID,
		ReviewId:      rec.ReviewId,
		ReviewKind:    rec.ReviewKind,
		Action:        rec.Action,
		SubmitterId:   rec.SubmitterId,
		AssetObject:   rec.AssetObject,
		Payload:       rec.Payload,
		DecidedAt:     rec.DecidedAt,
		CorrelationId: rec.CorrelationId,
	}
}
