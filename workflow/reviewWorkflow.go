package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/dressforpleasure/stylereview_backend/config"
	"bitbucket.org/dressforpleasure/stylereview_backend/models"
	"bitbucket.org/dressforpleasure/stylereview_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Engine runs the review workflow: submission through the quality gate,
// human dispositions, batches, and the audit/notification side effects.
type Engine struct {
	store      Store
	logger     *logrus.Logger
	thresholds QualityThresholds
	notifyCap  int
}

func NewEngine(store Store, logger *logrus.Logger) *Engine {
	return &Engine{
		store:      store,
		logger:     logger,
		thresholds: DefaultThresholds(),
		notifyCap:  config.NotificationQueueCap(),
	}
}

// NewEngineWithThresholds is used by tests and embedded deployments that need
// a non-env scoring policy.
func NewEngineWithThresholds(store Store, logger *logrus.Logger, th QualityThresholds, notifyCap int) *Engine {
	return &Engine{store: store, logger: logger, thresholds: th, notifyCap: notifyCap}
}

func (e *Engine) Store() Store {
	return e.store
}

type gateDetail struct {
	QualityScore    decimal.Decimal `json:"quality_score"`
	AutoApproveAt   decimal.Decimal `json:"auto_approve_at"`
	AutoRejectBelow decimal.Decimal `json:"auto_reject_below"`
	Reason          string          `json:"reason"`
}

// CreateReview submits one generated asset. The quality gate runs exactly
// once here; its outcome is the review's initial state and first audit event.
func (e *Engine) CreateReview(ctx context.Context, input *models.NewReview) (*models.ReviewRecord, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	score := decimal.NewFromFloat(input.QualityScore).Round(2)
	decision := decideQuality(score, input.Settings, e.thresholds)

	autoApproval := utils.NewFalse()
	if input.Settings.AutoApprovalEnabled {
		autoApproval = utils.NewTrue()
	}
	manualOnly := utils.NewFalse()
	if input.Settings.RequiresManualReview {
		manualOnly = utils.NewTrue()
	}

	review := &models.ReviewRecord{
		ID:                   uuid.NewString(),
		Kind:                 models.ReviewKind(input.Kind),
		SubmitterId:          input.SubmitterId,
		SubjectData:          input.SubjectData,
		OutputData:           input.OutputData,
		AssetObject:          input.AssetObject,
		QualityScore:         score,
		State:                decision.State,
		AutoApprovalEnabled:  autoApproval,
		RequiresManualReview: manualOnly,
		Priority:             input.Settings.PriorityOrDefault(),
	}
	if decision.State.IsTerminal() {
		now := time.Now().UTC()
		auto := "auto"
		review.DecidedBy = &auto
		review.DecidedAt = &now
		review.DecisionNote = &decision.Reason
	}

	detail, err := utils.MarshalToJSON(gateDetail{
		QualityScore:    score,
		AutoApproveAt:   e.thresholds.AutoApproveAt,
		AutoRejectBelow: e.thresholds.AutoRejectBelow,
		Reason:          decision.Reason,
	})
	if err != nil {
		return nil, err
	}

	err = e.store.Transaction(ctx, func(tx Store) error {
		if err := tx.CreateReview(ctx, review); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, &models.ReviewEvent{
			ReviewId:  review.ID,
			Action:    decision.Action,
			ActorId:   "quality_gate",
			ActorName: "quality_gate",
			Detail:    detail,
		}); err != nil {
			return err
		}
		if decision.State == models.ReviewStateApproved {
			return tx.EnqueuePublish(ctx, review)
		}
		return nil
	})
	if err != nil {
		config.LogError(e.logger, "workflow", "CreateReview", "persist", input, err)
		return nil, err
	}

	e.invalidateStatsCache()
	return review, nil
}

func (e *Engine) GetReview(ctx context.Context, id string) (*models.ReviewRecord, error) {
	return e.store.GetReview(ctx, id)
}

func (e *Engine) ListReviews(ctx context.Context, filter models.ReviewFilter) ([]*models.ReviewRecord, error) {
	return e.store.ListReviews(ctx, filter)
}

func (e *Engine) ListEvents(ctx context.Context, reviewId string) ([]*models.ReviewEvent, error) {
	if _, err := e.store.GetReview(ctx, reviewId); err != nil {
		return nil, err
	}
	return e.store.ListEvents(ctx, reviewId)
}

func (e *Engine) ListNotifications(ctx context.Context, limit int) ([]*models.Notification, error) {
	return e.store.ListNotifications(ctx, limit)
}

func (e *Engine) MarkNotificationRead(ctx context.Context, id int) error {
	return e.store.MarkNotificationRead(ctx, id)
}

type ApproveInput struct {
	ReviewerId string `json:"reviewer_id"`
	Note       string `json:"note"`
	Rating     *int   `json:"rating" validate:"omitempty,gte=1,lte=5"`
}

// Approve moves a pending review to approved and enqueues catalog
// publication. Publication is asynchronous; its failure never reverts the
// approval.
func (e *Engine) Approve(ctx context.Context, id string, input *ApproveInput) (*models.ReviewRecord, error) {
	if input == nil {
		input = &ApproveInput{}
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	actorId, actorName := e.actor(ctx, input.ReviewerId)

	var review *models.ReviewRecord
	err := e.store.WithReviewLock(ctx, id, func(ctx context.Context) error {
		return e.store.Transaction(ctx, func(tx Store) error {
			current, err := tx.GetReview(ctx, id)
			if err != nil {
				return err
			}
			if !current.State.IsOpen() {
				return &utils.InvalidStateError{ReviewId: id, CurrentState: string(current.State), Action: "approve"}
			}

			now := time.Now().UTC()
			fields := map[string]interface{}{
				"state":      models.ReviewStateApproved,
				"decided_by": actorName,
				"decided_at": now,
			}
			if input.Note != "" {
				fields["decision_note"] = input.Note
			}
			if input.Rating != nil {
				fields["rating"] = *input.Rating
			}
			if err := tx.UpdateReview(ctx, id, fields); err != nil {
				return err
			}

			detail, _ := utils.MarshalToJSON(map[string]interface{}{"note": input.Note, "rating": input.Rating})
			if err := tx.AppendEvent(ctx, &models.ReviewEvent{
				ReviewId: id, Action: models.ReviewActionApproved,
				ActorId: actorId, ActorName: actorName, Detail: detail,
			}); err != nil {
				return err
			}
			if err := tx.AddNotification(ctx, &models.Notification{
				Type:        models.NotificationTypeReviewApproved,
				RecipientId: current.SubmitterId,
				ReviewId:    &current.ID,
				Message:     fmt.Sprintf("Your %s was approved", current.Kind),
			}, e.notifyCap); err != nil {
				return err
			}

			current.State = models.ReviewStateApproved
			current.DecidedBy = &actorName
			current.DecidedAt = &now
			if err := tx.EnqueuePublish(ctx, current); err != nil {
				return err
			}
			review = current
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.invalidateStatsCache()
	return review, nil
}

type RejectInput struct {
	ReviewerId string `json:"reviewer_id"`
	Reason     string `json:"reason" validate:"required"`
}

// Reject moves a pending review to rejected. A reason is mandatory.
func (e *Engine) Reject(ctx context.Context, id string, input *RejectInput) (*models.ReviewRecord, error) {
	if input == nil || input.Reason == "" {
		return nil, utils.NewValidationError("reason", "rejection reason is required")
	}
	actorId, actorName := e.actor(ctx, input.ReviewerId)

	var review *models.ReviewRecord
	err := e.store.WithReviewLock(ctx, id, func(ctx context.Context) error {
		return e.store.Transaction(ctx, func(tx Store) error {
			current, err := tx.GetReview(ctx, id)
			if err != nil {
				return err
			}
			if !current.State.IsOpen() {
				return &utils.InvalidStateError{ReviewId: id, CurrentState: string(current.State), Action: "reject"}
			}

			now := time.Now().UTC()
			if err := tx.UpdateReview(ctx, id, map[string]interface{}{
				"state":         models.ReviewStateRejected,
				"decided_by":    actorName,
				"decided_at":    now,
				"decision_note": input.Reason,
			}); err != nil {
				return err
			}

			detail, _ := utils.MarshalToJSON(map[string]string{"reason": input.Reason})
			if err := tx.AppendEvent(ctx, &models.ReviewEvent{
				ReviewId: id, Action: models.ReviewActionRejected,
				ActorId: actorId, ActorName: actorName, Detail: detail,
			}); err != nil {
				return err
			}
			if err := tx.AddNotification(ctx, &models.Notification{
				Type:        models.NotificationTypeReviewRejected,
				RecipientId: current.SubmitterId,
				ReviewId:    &current.ID,
				Message:     fmt.Sprintf("Your %s was rejected: %s", current.Kind, input.Reason),
			}, e.notifyCap); err != nil {
				return err
			}

			current.State = models.ReviewStateRejected
			review = current
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.invalidateStatsCache()
	return review, nil
}

type RevisionInput struct {
	ReviewerId   string `json:"reviewer_id"`
	Instructions string `json:"instructions" validate:"required"`
}

// RequestRevision sends a pending review back to its submitter with
// instructions. The review stays open for resubmission.
func (e *Engine) RequestRevision(ctx context.Context, id string, input *RevisionInput) (*models.ReviewRecord, error) {
	if input == nil || input.Instructions == "" {
		return nil, utils.NewValidationError("instructions", "revision instructions are required")
	}
	actorId, actorName := e.actor(ctx, input.ReviewerId)

	var review *models.ReviewRecord
	err := e.store.WithReviewLock(ctx, id, func(ctx context.Context) error {
		return e.store.Transaction(ctx, func(tx Store) error {
			current, err := tx.GetReview(ctx, id)
			if err != nil {
				return err
			}
			if !current.State.IsOpen() {
				return &utils.InvalidStateError{ReviewId: id, CurrentState: string(current.State), Action: "request revision"}
			}

			if err := tx.UpdateReview(ctx, id, map[string]interface{}{
				"state":          models.ReviewStateRevisionRequested,
				"decision_note":  input.Instructions,
				"revision_count": current.RevisionCount + 1,
			}); err != nil {
				return err
			}

			detail, _ := utils.MarshalToJSON(map[string]string{"instructions": input.Instructions})
			if err := tx.AppendEvent(ctx, &models.ReviewEvent{
				ReviewId: id, Action: models.ReviewActionRevisionRequested,
				ActorId: actorId, ActorName: actorName, Detail: detail,
			}); err != nil {
				return err
			}
			if err := tx.AddNotification(ctx, &models.Notification{
				Type:        models.NotificationTypeRevisionRequested,
				RecipientId: current.SubmitterId,
				ReviewId:    &current.ID,
				Message:     fmt.Sprintf("Revision requested on your %s: %s", current.Kind, input.Instructions),
			}, e.notifyCap); err != nil {
				return err
			}

			current.State = models.ReviewStateRevisionRequested
			current.RevisionCount++
			review = current
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.invalidateStatsCache()
	return review, nil
}

type ResubmitInput struct {
	OutputData   string  `json:"output_data"`
	AssetObject  string  `json:"asset_object"`
	QualityScore float64 `json:"quality_score"`
}

// Resubmit creates a fresh submission replacing a revision-requested review.
// The quality score of a record is set once at creation, so the new output
// goes through the gate as a new record; the original keeps its state and
// score, and its trail notes the replacement.
func (e *Engine) Resubmit(ctx context.Context, id string, input *ResubmitInput) (*models.ReviewRecord, error) {
	if input == nil {
		return nil, utils.NewValidationError("", "resubmission payload is required")
	}

	var review *models.ReviewRecord
	err := e.store.WithReviewLock(ctx, id, func(ctx context.Context) error {
		current, err := e.store.GetReview(ctx, id)
		if err != nil {
			return err
		}
		if current.State != models.ReviewStateRevisionRequested {
			return &utils.InvalidStateError{ReviewId: id, CurrentState: string(current.State), Action: "resubmit"}
		}

		assetObject := input.AssetObject
		if assetObject == "" {
			assetObject = current.AssetObject
		}
		replacement, err := e.CreateReview(ctx, &models.NewReview{
			Kind:         string(current.Kind),
			SubmitterId:  current.SubmitterId,
			SubjectData:  current.SubjectData,
			OutputData:   input.OutputData,
			AssetObject:  assetObject,
			QualityScore: input.QualityScore,
			Settings: models.ReviewSettings{
				AutoApprovalEnabled:  current.AutoApprovalEnabled != nil && *current.AutoApprovalEnabled,
				RequiresManualReview: current.RequiresManualReview != nil && *current.RequiresManualReview,
				Priority:             string(current.Priority),
			},
		})
		if err != nil {
			return err
		}

		detail, _ := utils.MarshalToJSON(map[string]string{"replacement_id": replacement.ID})
		if err := e.store.AppendEvent(ctx, &models.ReviewEvent{
			ReviewId: id, Action: models.ReviewActionResubmitted,
			ActorId: current.SubmitterId, ActorName: current.SubmitterId, Detail: detail,
		}); err != nil {
			return err
		}
		review = replacement
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.invalidateStatsCache()
	return review, nil
}

type OverrideInput struct {
	NewState string `json:"new_state" validate:"required,oneof=approved rejected"`
	Reason   string `json:"reason" validate:"required"`
}

// OverrideDecision lets an admin flip a terminal decision. The override is
// recorded in the audit trail; approving an override enqueues publication.
func (e *Engine) OverrideDecision(ctx context.Context, id string, input *OverrideInput) (*models.ReviewRecord, error) {
	if input == nil {
		return nil, utils.NewValidationError("", "override payload is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if isAdmin, ok := utils.GetIsAdminFromContext(ctx); !ok || !isAdmin {
		return nil, utils.NewValidationError("", "decision override requires an admin actor")
	}
	actorId, actorName := e.actor(ctx, "")
	newState := models.ReviewState(input.NewState)

	var review *models.ReviewRecord
	err := e.store.WithReviewLock(ctx, id, func(ctx context.Context) error {
		return e.store.Transaction(ctx, func(tx Store) error {
			current, err := tx.GetReview(ctx, id)
			if err != nil {
				return err
			}
			if !current.State.IsTerminal() || current.State == newState {
				return &utils.InvalidStateError{ReviewId: id, CurrentState: string(current.State), Action: "override to " + input.NewState}
			}

			now := time.Now().UTC()
			if err := tx.UpdateReview(ctx, id, map[string]interface{}{
				"state":         newState,
				"decided_by":    actorName,
				"decided_at":    now,
				"decision_note": input.Reason,
			}); err != nil {
				return err
			}

			detail, _ := utils.MarshalToJSON(map[string]string{
				"from": string(current.State), "to": input.NewState, "reason": input.Reason,
			})
			if err := tx.AppendEvent(ctx, &models.ReviewEvent{
				ReviewId: id, Action: models.ReviewActionDecisionOverridden,
				ActorId: actorId, ActorName: actorName, Detail: detail,
			}); err != nil {
				return err
			}

			current.State = newState
			if newState == models.ReviewStateApproved {
				if err := tx.EnqueuePublish(ctx, current); err != nil {
					return err
				}
			}
			review = current
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.invalidateStatsCache()
	return review, nil
}

// Archive retires a decided review. Archived reviews reject every further
// disposition.
func (e *Engine) Archive(ctx context.Context, id string) (*models.ReviewRecord, error) {
	actorId, actorName := e.actor(ctx, "")

	var review *models.ReviewRecord
	err := e.store.WithReviewLock(ctx, id, func(ctx context.Context) error {
		return e.store.Transaction(ctx, func(tx Store) error {
			current, err := tx.GetReview(ctx, id)
			if err != nil {
				return err
			}
			if !current.State.IsTerminal() {
				return &utils.InvalidStateError{ReviewId: id, CurrentState: string(current.State), Action: "archive"}
			}
			if err := tx.UpdateReview(ctx, id, map[string]interface{}{
				"state": models.ReviewStateArchived,
			}); err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, &models.ReviewEvent{
				ReviewId: id, Action: models.ReviewActionArchived,
				ActorId: actorId, ActorName: actorName,
			}); err != nil {
				return err
			}
			current.State = models.ReviewStateArchived
			review = current
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.invalidateStatsCache()
	return review, nil
}

// actor resolves who is acting: the session user from context, or the
// explicit reviewer id, or "system".
func (e *Engine) actor(ctx context.Context, explicit string) (string, string) {
	if name, ok := utils.GetUserNameFromContext(ctx); ok && name != "" {
		id := name
		if username, ok := utils.GetUsernameFromContext(ctx); ok && username != "" {
			id = username
		}
		return id, name
	}
	if explicit != "" {
		return explicit, explicit
	}
	return "system", "system"
}
