package workflow

import (
	"context"
	"time"

	"bitbucket.org/dressforpleasure/stylereview_backend/models"
	"github.com/shopspring/decimal"
)

// Store is the persistence boundary of the review engine. The engine core
// never talks to GORM directly so the same transition logic runs against
// MySQL in production and against the in-memory store in tests and
// embedded deployments.
type Store interface {
	// Transaction runs fn against a store whose writes commit or roll back
	// together. The memory store runs fn directly; engine-level locking via
	// WithReviewLock keeps that safe.
	Transaction(ctx context.Context, fn func(Store) error) error

	// WithReviewLock serializes check-then-act sections per review across
	// instances. MySQL advisory lock in production, per-id mutex in memory.
	WithReviewLock(ctx context.Context, reviewId string, fn func(ctx context.Context) error) error

	CreateReview(ctx context.Context, review *models.ReviewRecord) error
	GetReview(ctx context.Context, id string) (*models.ReviewRecord, error)
	UpdateReview(ctx context.Context, id string, fields map[string]interface{}) error
	ListReviews(ctx context.Context, filter models.ReviewFilter) ([]*models.ReviewRecord, error)

	AppendEvent(ctx context.Context, event *models.ReviewEvent) error
	ListEvents(ctx context.Context, reviewId string) ([]*models.ReviewEvent, error)

	// AddNotification inserts and evicts the oldest rows beyond cap (FIFO).
	AddNotification(ctx context.Context, n *models.Notification, cap int) error
	ListNotifications(ctx context.Context, limit int) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, id int) error

	CreateBatch(ctx context.Context, batch *models.BatchJob) error
	FinalizeBatch(ctx context.Context, batch *models.BatchJob) error
	GetBatch(ctx context.Context, id string) (*models.BatchJob, error)

	EnqueuePublish(ctx context.Context, review *models.ReviewRecord) error
	ClaimPublishBatch(ctx context.Context, claim PublishClaim) ([]*models.CatalogPublishRecord, error)
	MarkPublishSent(ctx context.Context, recordId int, pubsubMsgId string) error
	MarkPublishFailed(ctx context.Context, recordId int, errMsg string, nextAttemptAt *time.Time, dead bool) error
	ReplayDeadPublishes(ctx context.Context) (int64, error)

	Stats(ctx context.Context) (*ReviewStats, error)
}

// PublishClaim parameterizes one dispatcher claim pass.
type PublishClaim struct {
	DispatcherId string
	BatchSize    int
	LockTimeout  time.Duration
	MaxAttempts  int
}

type ReviewStats struct {
	Total               int64                        `json:"total"`
	ByState             map[models.ReviewState]int64 `json:"by_state"`
	AverageQualityScore decimal.Decimal              `json:"average_quality_score"`
	// AutoApprovalRate is the fraction of reviews whose first audit event is
	// auto_approved. Later manual decisions do not change it.
	AutoApprovalRate    decimal.Decimal `json:"auto_approval_rate"`
	Batches             int64           `json:"batches"`
	UnreadNotifications int64           `json:"unread_notifications"`
}
