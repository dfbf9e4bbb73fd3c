package workflow

import (
	"context"
	"time"

	"bitbucket.org/dressforpleasure/stylereview_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PublishDispatcher drains the catalog publish outbox. Approval transactions
// only enqueue; this loop does the actual Pub/Sub + bucket work after commit,
// with retries and a DEAD terminal state for poison records.
type PublishDispatcher struct {
	Store        Store
	Publisher    Publisher
	Logger       *logrus.Logger
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewPublishDispatcher(store Store, publisher Publisher, logger *logrus.Logger) *PublishDispatcher {
	return &PublishDispatcher{
		Store:          store,
		Publisher:      publisher,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

func (d *PublishDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch of eligible outbox rows and publishes them.
// Exposed for tests and the ops replay endpoint.
func (d *PublishDispatcher) DispatchOnce(ctx context.Context) {
	if d.Store == nil || d.Publisher == nil {
		return
	}

	claimed, err := d.Store.ClaimPublishBatch(ctx, PublishClaim{
		DispatcherId: d.DispatcherID,
		BatchSize:    d.BatchSize,
		LockTimeout:  d.LockTimeout,
		MaxAttempts:  d.MaxAttempts,
	})
	if err != nil || len(claimed) == 0 {
		return
	}

	now := time.Now().UTC()
	for _, rec := range claimed {
		// Rows that hit max attempts were marked DEAD during the claim.
		if rec.PublishStatus == models.OutboxPublishStatusDead {
			d.recordPublicationFailure(ctx, rec, "max publish attempts exceeded")
			continue
		}
		msg := models.ConvertToCatalogMessage(*rec)
		pubID, pubErr := d.Publisher.Publish(ctx, msg)
		if pubErr != nil {
			d.markPublishFailed(ctx, rec, pubErr)
			continue
		}
		d.markPublishSent(ctx, rec, pubID, now)
	}
}

func (d *PublishDispatcher) markPublishSent(ctx context.Context, rec *models.CatalogPublishRecord, pubID string, now time.Time) {
	if err := d.Store.MarkPublishSent(ctx, rec.ID, pubID); err != nil && d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"field":     "PublishDispatcher",
			"review_id": rec.ReviewId,
			"record_id": rec.ID,
		}).Error("failed to mark publish sent: " + err.Error())
	}

	// Record the publication on the review. The review state is untouched.
	_ = d.Store.UpdateReview(ctx, rec.ReviewId, map[string]interface{}{
		"publication_status": models.PublicationStatusPublished,
		"publication_id":     pubID,
		"published_at":       now,
		"publish_error":      nil,
	})
	_ = d.Store.AppendEvent(ctx, &models.ReviewEvent{
		ReviewId:  rec.ReviewId,
		Action:    models.ReviewActionPublished,
		ActorId:   d.DispatcherID,
		ActorName: "publish_dispatcher",
	})
}

func (d *PublishDispatcher) markPublishFailed(ctx context.Context, rec *models.CatalogPublishRecord, pubErr error) {
	attempt := rec.PublishAttempts

	if d.MaxAttempts > 0 && attempt >= d.MaxAttempts {
		_ = d.Store.MarkPublishFailed(ctx, rec.ID, pubErr.Error(), nil, true)
		d.recordPublicationFailure(ctx, rec, pubErr.Error())

		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":     "PublishDispatcher",
				"review_id": rec.ReviewId,
				"record_id": rec.ID,
				"attempt":   attempt,
			}).Error("catalog publish moved to DEAD after max attempts: " + pubErr.Error())
		}
		return
	}

	next := time.Now().UTC().Add(d.backoffFor(attempt))
	_ = d.Store.MarkPublishFailed(ctx, rec.ID, pubErr.Error(), &next, false)

	if d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"field":           "PublishDispatcher",
			"review_id":       rec.ReviewId,
			"record_id":       rec.ID,
			"attempt":         attempt,
			"next_attempt_at": next.Format(time.RFC3339Nano),
		}).Error("catalog publish failed: " + pubErr.Error())
	}
}

// recordPublicationFailure stamps the failed publication group on the review.
// The approval itself is never reverted.
func (d *PublishDispatcher) recordPublicationFailure(ctx context.Context, rec *models.CatalogPublishRecord, msg string) {
	_ = d.Store.UpdateReview(ctx, rec.ReviewId, map[string]interface{}{
		"publication_status": models.PublicationStatusFailed,
		"publish_error":      msg,
	})
	_ = d.Store.AppendEvent(ctx, &models.ReviewEvent{
		ReviewId:  rec.ReviewId,
		Action:    models.ReviewActionPublishFailed,
		ActorId:   d.DispatcherID,
		ActorName: "publish_dispatcher",
		Detail:    msg,
	})
}

func (d *PublishDispatcher) backoffFor(attempt int) time.Duration {
	backoff := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > time.Minute*10 {
			backoff = time.Minute * 10
			break
		}
	}
	return backoff
}
