package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/dressforpleasure/stylereview_backend/config"
	"bitbucket.org/dressforpleasure/stylereview_backend/models"
	"bitbucket.org/dressforpleasure/stylereview_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// gormStore is the production Store on MySQL.
type gormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Transaction(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

// WithReviewLock serializes per review across instances using MySQL advisory
// locks. GET_LOCK is connection-scoped, so the lock is held on a dedicated
// connection for the whole critical section.
func (s *gormStore) WithReviewLock(ctx context.Context, reviewId string, fn func(ctx context.Context) error) error {
	return s.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		lockName := fmt.Sprintf("review:%s", reviewId)
		var ok int
		if err := conn.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
			return err
		}
		if ok != 1 {
			return fmt.Errorf("could not acquire review lock for review_id=%s", reviewId)
		}
		defer func() {
			var _ok int
			_ = conn.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
		}()
		return fn(ctx)
	})
}

func (s *gormStore) CreateReview(ctx context.Context, review *models.ReviewRecord) error {
	return s.db.WithContext(ctx).Create(review).Error
}

// notFoundOr maps gorm's miss sentinel to the engine's; connectivity and
// query errors pass through untouched.
func notFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorRecordNotFound
	}
	return err
}

func (s *gormStore) GetReview(ctx context.Context, id string) (*models.ReviewRecord, error) {
	var review models.ReviewRecord
	if err := s.db.WithContext(ctx).First(&review, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &review, nil
}

func (s *gormStore) UpdateReview(ctx context.Context, id string, fields map[string]interface{}) error {
	return s.db.WithContext(ctx).Model(&models.ReviewRecord{}).Where("id = ?", id).Updates(fields).Error
}

func (s *gormStore) ListReviews(ctx context.Context, filter models.ReviewFilter) ([]*models.ReviewRecord, error) {
	q := s.db.WithContext(ctx).Model(&models.ReviewRecord{})
	if filter.State != "" {
		q = q.Where("state = ?", filter.State)
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", filter.Kind)
	}
	if filter.SubmitterId != "" {
		q = q.Where("submitter_id = ?", filter.SubmitterId)
	}
	if filter.BatchId != "" {
		q = q.Where("batch_id = ?", filter.BatchId)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = config.SearchLimit
	}

	var reviews []*models.ReviewRecord
	err := q.Order("updated_at DESC").Limit(limit).Find(&reviews).Error
	if err != nil {
		return nil, err
	}
	return reviews, nil
}

func (s *gormStore) AppendEvent(ctx context.Context, event *models.ReviewEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *gormStore) ListEvents(ctx context.Context, reviewId string) ([]*models.ReviewEvent, error) {
	var events []*models.ReviewEvent
	err := s.db.WithContext(ctx).
		Where("review_id = ?", reviewId).
		Order("id ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *gormStore) AddNotification(ctx context.Context, n *models.Notification, cap int) error {
	if n.IsRead == nil {
		n.IsRead = utils.NewFalse()
	}
	db := s.db.WithContext(ctx)
	if err := db.Create(n).Error; err != nil {
		return err
	}
	if cap <= 0 {
		return nil
	}
	// FIFO eviction beyond cap. The subselect wrapper is required by MySQL.
	return db.Exec(`
		DELETE FROM notifications
		WHERE id NOT IN (
			SELECT id FROM (
				SELECT id FROM notifications ORDER BY id DESC LIMIT ?
			) keep
		)`, cap).Error
}

func (s *gormStore) ListNotifications(ctx context.Context, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = config.SearchLimit
	}
	var ns []*models.Notification
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&ns).Error
	if err != nil {
		return nil, err
	}
	return ns, nil
}

func (s *gormStore) MarkNotificationRead(ctx context.Context, id int) error {
	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ?", id).
		Update("is_read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

func (s *gormStore) CreateBatch(ctx context.Context, batch *models.BatchJob) error {
	return s.db.WithContext(ctx).Omit("Members").Create(batch).Error
}

func (s *gormStore) FinalizeBatch(ctx context.Context, batch *models.BatchJob) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.BatchJob{}).Where("id = ?", batch.ID).Updates(map[string]interface{}{
			"status":         batch.Status,
			"succeeded":      batch.Succeeded,
			"failed":         batch.Failed,
			"auto_approved":  batch.AutoApproved,
			"auto_rejected":  batch.AutoRejected,
			"pending_review": batch.PendingReview,
			"completed_at":   batch.CompletedAt,
		}).Error; err != nil {
			return err
		}
		if len(batch.Members) == 0 {
			return nil
		}
		members := make([]models.BatchMember, len(batch.Members))
		copy(members, batch.Members)
		return tx.Create(&members).Error
	})
}

func (s *gormStore) GetBatch(ctx context.Context, id string) (*models.BatchJob, error) {
	var batch models.BatchJob
	if err := s.db.WithContext(ctx).Preload("Members").First(&batch, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &batch, nil
}

func (s *gormStore) EnqueuePublish(ctx context.Context, review *models.ReviewRecord) error {
	return models.EnqueueCatalogPublish(ctx, s.db.WithContext(ctx), review)
}

func (s *gormStore) ClaimPublishBatch(ctx context.Context, claim PublishClaim) ([]*models.CatalogPublishRecord, error) {
	now := time.Now().UTC()
	staleBefore := now.Add(-claim.LockTimeout)

	var claimed []*models.CatalogPublishRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Eligible:
		// - PENDING / FAILED and ready to retry
		// - PROCESSING but lock is stale (dispatcher crashed mid-batch), reclaim after LockTimeout
		q := tx.
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now, models.OutboxPublishStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(claim.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		for i := range claimed {
			// Enforce max attempts: poison records go terminal (DLQ equivalent).
			if claim.MaxAttempts > 0 && claimed[i].PublishAttempts >= claim.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", claim.MaxAttempts)
				claimed[i].PublishStatus = models.OutboxPublishStatusDead
				if err := tx.Model(&models.CatalogPublishRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"publish_status":     models.OutboxPublishStatusDead,
					"last_publish_error": &msg,
					"next_attempt_at":    nil,
					"locked_at":          nil,
					"locked_by":          nil,
				}).Error; err != nil {
					return err
				}
				continue
			}

			// Claim for publishing.
			claimed[i].PublishStatus = models.OutboxPublishStatusProcessing
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &claim.DispatcherId
			claimed[i].PublishAttempts = claimed[i].PublishAttempts + 1
			claimed[i].LastPublishError = nil
			if err := tx.Model(&models.CatalogPublishRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"publish_status":     claimed[i].PublishStatus,
				"locked_at":          claimed[i].LockedAt,
				"locked_by":          claimed[i].LockedBy,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *gormStore) MarkPublishSent(ctx context.Context, recordId int, pubsubMsgId string) error {
	now := time.Now().UTC()
	id := pubsubMsgId
	return s.db.WithContext(ctx).Model(&models.CatalogPublishRecord{}).
		Where("id = ?", recordId).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusSent,
			"published_at":       &now,
			"pub_sub_message_id": &id,
			"locked_at":          nil,
			"locked_by":          nil,
			"next_attempt_at":    nil,
		}).Error
}

func (s *gormStore) MarkPublishFailed(ctx context.Context, recordId int, errMsg string, nextAttemptAt *time.Time, dead bool) error {
	status := models.OutboxPublishStatusFailed
	if dead {
		status = models.OutboxPublishStatusDead
	}
	return s.db.WithContext(ctx).Model(&models.CatalogPublishRecord{}).
		Where("id = ?", recordId).
		Updates(map[string]interface{}{
			"publish_status":     status,
			"last_publish_error": &errMsg,
			"next_attempt_at":    nextAttemptAt,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
}

func (s *gormStore) ReplayDeadPublishes(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.CatalogPublishRecord{}).
		Where("publish_status = ?", models.OutboxPublishStatusDead).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusPending,
			"publish_attempts":   0,
			"next_attempt_at":    nil,
			"locked_at":          nil,
			"locked_by":          nil,
			"last_publish_error": nil,
		})
	return result.RowsAffected, result.Error
}

func (s *gormStore) Stats(ctx context.Context) (*ReviewStats, error) {
	db := s.db.WithContext(ctx)
	stats := &ReviewStats{ByState: map[models.ReviewState]int64{}}

	var rows []struct {
		State models.ReviewState
		Count int64
	}
	if err := db.Model(&models.ReviewRecord{}).
		Select("state, COUNT(*) AS count").
		Group("state").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		stats.ByState[r.State] = r.Count
		stats.Total += r.Count
	}

	var avg decimal.Decimal
	if err := db.Raw("SELECT COALESCE(AVG(quality_score), 0) FROM review_records").Scan(&avg).Error; err != nil {
		return nil, err
	}
	stats.AverageQualityScore = avg.Round(2)

	// Auto-approval rate: reviews whose FIRST audit event is auto_approved.
	var autoApproved int64
	if err := db.Raw(`
		SELECT COUNT(*) FROM review_events e
		JOIN (
			SELECT review_id, MIN(id) AS first_id
			FROM review_events
			GROUP BY review_id
		) f ON f.first_id = e.id
		WHERE e.action = ?`, models.ReviewActionAutoApproved).Scan(&autoApproved).Error; err != nil {
		return nil, err
	}
	if stats.Total > 0 {
		stats.AutoApprovalRate = decimal.NewFromInt(autoApproved).
			Div(decimal.NewFromInt(stats.Total)).Round(4)
	}

	if err := db.Model(&models.BatchJob{}).Count(&stats.Batches).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Notification{}).Where("is_read = ?", false).Count(&stats.UnreadNotifications).Error; err != nil {
		return nil, err
	}
	return stats, nil
}
