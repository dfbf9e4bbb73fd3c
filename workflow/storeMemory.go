package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bitbucket.org/dressforpleasure/stylereview_backend/models"
	"bitbucket.org/dressforpleasure/stylereview_backend/utils"
	"github.com/shopspring/decimal"
)

// memoryStore keeps everything in process. It backs tests and embedded
// single-node deployments; semantics (FIFO notification cap, outbox claim,
// first-event stats) match the MySQL store.
type memoryStore struct {
	mu            sync.Mutex
	reviews       map[string]*models.ReviewRecord
	events        []*models.ReviewEvent
	notifications []*models.Notification
	batches       map[string]*models.BatchJob
	outbox        []*models.CatalogPublishRecord

	nextEventId  int
	nextNotifId  int
	nextOutboxId int

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewMemoryStore() Store {
	return &memoryStore{
		reviews: map[string]*models.ReviewRecord{},
		batches: map[string]*models.BatchJob{},
		locks:   map[string]*sync.Mutex{},
	}
}

// Transaction runs fn directly. Atomicity for check-then-act sections comes
// from WithReviewLock; a half-applied fn only happens on programming errors,
// which tests surface immediately.
func (s *memoryStore) Transaction(ctx context.Context, fn func(Store) error) error {
	return fn(s)
}

func (s *memoryStore) WithReviewLock(ctx context.Context, reviewId string, fn func(ctx context.Context) error) error {
	s.lockMu.Lock()
	lock := s.locks[reviewId]
	if lock == nil {
		lock = &sync.Mutex{}
		s.locks[reviewId] = lock
	}
	s.lockMu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(ctx)
}

func (s *memoryStore) CreateReview(ctx context.Context, review *models.ReviewRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reviews[review.ID]; exists {
		return fmt.Errorf("duplicate review id %s", review.ID)
	}
	now := time.Now().UTC()
	review.CreatedAt = now
	review.UpdatedAt = now
	cp := *review
	s.reviews[review.ID] = &cp
	return nil
}

func (s *memoryStore) GetReview(ctx context.Context, id string) (*models.ReviewRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	review, ok := s.reviews[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	cp := *review
	return &cp, nil
}

func (s *memoryStore) UpdateReview(ctx context.Context, id string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	review, ok := s.reviews[id]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	for key, value := range fields {
		applyReviewField(review, key, value)
	}
	review.UpdatedAt = time.Now().UTC()
	return nil
}

func applyReviewField(r *models.ReviewRecord, key string, value interface{}) {
	switch key {
	case "state":
		r.State = value.(models.ReviewState)
	case "quality_score":
		r.QualityScore = value.(decimal.Decimal)
	case "output_data":
		r.OutputData = value.(string)
	case "asset_object":
		r.AssetObject = value.(string)
	case "batch_id":
		v := value.(string)
		r.BatchId = &v
	case "decided_by":
		v := value.(string)
		r.DecidedBy = &v
	case "decided_at":
		v := value.(time.Time)
		r.DecidedAt = &v
	case "decision_note":
		v := value.(string)
		r.DecisionNote = &v
	case "rating":
		v := value.(int)
		r.Rating = &v
	case "revision_count":
		r.RevisionCount = value.(int)
	case "publication_status":
		if value == nil {
			r.PublicationStatus = nil
			return
		}
		v := value.(models.PublicationStatus)
		r.PublicationStatus = &v
	case "publication_id":
		v := value.(string)
		r.PublicationId = &v
	case "published_at":
		v := value.(time.Time)
		r.PublishedAt = &v
	case "publish_error":
		if value == nil {
			r.PublishError = nil
			return
		}
		v := value.(string)
		r.PublishError = &v
	}
}

func (s *memoryStore) ListReviews(ctx context.Context, filter models.ReviewFilter) ([]*models.ReviewRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.ReviewRecord
	for _, r := range s.reviews {
		if filter.State != "" && r.State != filter.State {
			continue
		}
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		if filter.SubmitterId != "" && r.SubmitterId != filter.SubmitterId {
			continue
		}
		if filter.BatchId != "" && (r.BatchId == nil || *r.BatchId != filter.BatchId) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) AppendEvent(ctx context.Context, event *models.ReviewEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventId++
	event.ID = s.nextEventId
	event.CreatedAt = time.Now().UTC()
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

func (s *memoryStore) ListEvents(ctx context.Context, reviewId string) ([]*models.ReviewEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ReviewEvent
	for _, e := range s.events {
		if e.ReviewId == reviewId {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryStore) AddNotification(ctx context.Context, n *models.Notification, cap int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.IsRead == nil {
		n.IsRead = utils.NewFalse()
	}
	s.nextNotifId++
	n.ID = s.nextNotifId
	n.CreatedAt = time.Now().UTC()
	cp := *n
	s.notifications = append(s.notifications, &cp)
	if cap > 0 && len(s.notifications) > cap {
		s.notifications = s.notifications[len(s.notifications)-cap:]
	}
	return nil
}

func (s *memoryStore) ListNotifications(ctx context.Context, limit int) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*models.Notification
	for i := len(s.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.notifications[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memoryStore) MarkNotificationRead(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		if n.ID == id {
			n.IsRead = utils.NewTrue()
			return nil
		}
	}
	return utils.ErrorRecordNotFound
}

func (s *memoryStore) CreateBatch(ctx context.Context, batch *models.BatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch.CreatedAt = time.Now().UTC()
	cp := *batch
	s.batches[batch.ID] = &cp
	return nil
}

func (s *memoryStore) FinalizeBatch(ctx context.Context, batch *models.BatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.batches[batch.ID]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	existing.Status = batch.Status
	existing.Succeeded = batch.Succeeded
	existing.Failed = batch.Failed
	existing.AutoApproved = batch.AutoApproved
	existing.AutoRejected = batch.AutoRejected
	existing.PendingReview = batch.PendingReview
	existing.CompletedAt = batch.CompletedAt
	existing.Members = append([]models.BatchMember(nil), batch.Members...)
	return nil
}

func (s *memoryStore) GetBatch(ctx context.Context, id string) (*models.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	cp := *batch
	cp.Members = append([]models.BatchMember(nil), batch.Members...)
	return &cp, nil
}

func (s *memoryStore) EnqueuePublish(ctx context.Context, review *models.ReviewRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOutboxId++
	rec := &models.CatalogPublishRecord{
		ID:            s.nextOutboxId,
		ReviewId:      review.ID,
		ReviewKind:    string(review.Kind),
		SubmitterId:   review.SubmitterId,
		AssetObject:   review.AssetObject,
		Action:        models.CatalogActionReviewApproved,
		Payload:       []byte(review.OutputData),
		DecidedAt:     time.Now().UTC(),
		PublishStatus: models.OutboxPublishStatusPending,
		CorrelationId: models.CorrelationIdFromContextOrNew(ctx),
		CreatedAt:     time.Now().UTC(),
	}
	s.outbox = append(s.outbox, rec)
	return nil
}

func (s *memoryStore) ClaimPublishBatch(ctx context.Context, claim PublishClaim) ([]*models.CatalogPublishRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	staleBefore := now.Add(-claim.LockTimeout)

	var claimed []*models.CatalogPublishRecord
	for _, rec := range s.outbox {
		if len(claimed) >= claim.BatchSize {
			break
		}
		eligible := false
		switch rec.PublishStatus {
		case models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed:
			eligible = rec.NextAttemptAt == nil || !rec.NextAttemptAt.After(now)
		case models.OutboxPublishStatusProcessing:
			eligible = rec.LockedAt != nil && !rec.LockedAt.After(staleBefore)
		}
		if !eligible {
			continue
		}

		if claim.MaxAttempts > 0 && rec.PublishAttempts >= claim.MaxAttempts {
			msg := fmt.Sprintf("max publish attempts exceeded (%d)", claim.MaxAttempts)
			rec.PublishStatus = models.OutboxPublishStatusDead
			rec.LastPublishError = &msg
			rec.NextAttemptAt = nil
			rec.LockedAt = nil
			rec.LockedBy = nil
		} else {
			rec.PublishStatus = models.OutboxPublishStatusProcessing
			lockedAt := now
			rec.LockedAt = &lockedAt
			rec.LockedBy = &claim.DispatcherId
			rec.PublishAttempts++
			rec.LastPublishError = nil
			rec.NextAttemptAt = nil
		}
		cp := *rec
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (s *memoryStore) MarkPublishSent(ctx context.Context, recordId int, pubsubMsgId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.outbox {
		if rec.ID == recordId {
			now := time.Now().UTC()
			id := pubsubMsgId
			rec.PublishStatus = models.OutboxPublishStatusSent
			rec.PublishedAt = &now
			rec.PubSubMessageId = &id
			rec.LockedAt = nil
			rec.LockedBy = nil
			rec.NextAttemptAt = nil
			return nil
		}
	}
	return utils.ErrorRecordNotFound
}

func (s *memoryStore) MarkPublishFailed(ctx context.Context, recordId int, errMsg string, nextAttemptAt *time.Time, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.outbox {
		if rec.ID == recordId {
			if dead {
				rec.PublishStatus = models.OutboxPublishStatusDead
			} else {
				rec.PublishStatus = models.OutboxPublishStatusFailed
			}
			rec.LastPublishError = &errMsg
			rec.NextAttemptAt = nextAttemptAt
			rec.LockedAt = nil
			rec.LockedBy = nil
			return nil
		}
	}
	return utils.ErrorRecordNotFound
}

func (s *memoryStore) ReplayDeadPublishes(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.outbox {
		if rec.PublishStatus == models.OutboxPublishStatusDead {
			rec.PublishStatus = models.OutboxPublishStatusPending
			rec.PublishAttempts = 0
			rec.NextAttemptAt = nil
			rec.LockedAt = nil
			rec.LockedBy = nil
			rec.LastPublishError = nil
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) Stats(ctx context.Context) (*ReviewStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &ReviewStats{ByState: map[models.ReviewState]int64{}}
	sum := decimal.Zero
	for _, r := range s.reviews {
		stats.ByState[r.State]++
		stats.Total++
		sum = sum.Add(r.QualityScore)
	}
	if stats.Total > 0 {
		stats.AverageQualityScore = sum.Div(decimal.NewFromInt(stats.Total)).Round(2)
	}

	firstByReview := map[string]*models.ReviewEvent{}
	for _, e := range s.events {
		if cur, ok := firstByReview[e.ReviewId]; !ok || e.ID < cur.ID {
			firstByReview[e.ReviewId] = e
		}
	}
	var autoApproved int64
	for _, e := range firstByReview {
		if e.Action == models.ReviewActionAutoApproved {
			autoApproved++
		}
	}
	if stats.Total > 0 {
		stats.AutoApprovalRate = decimal.NewFromInt(autoApproved).
			Div(decimal.NewFromInt(stats.Total)).Round(4)
	}

	stats.Batches = int64(len(s.batches))
	for _, n := range s.notifications {
		if n.IsRead == nil || !*n.IsRead {
			stats.UnreadNotifications++
		}
	}
	return stats, nil
}
