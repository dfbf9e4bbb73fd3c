package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/dressforpleasure/stylereview_backend/config"
	"bitbucket.org/dressforpleasure/stylereview_backend/models"
	"bitbucket.org/dressforpleasure/stylereview_backend/utils"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const batchConcurrency = 4

type BatchItem struct {
	Kind         string  `json:"kind"`
	SubjectData  string  `json:"subject_data"`
	OutputData   string  `json:"output_data"`
	AssetObject  string  `json:"asset_object"`
	QualityScore float64 `json:"quality_score"`
}

type NewBatch struct {
	SubmitterId string                `json:"submitter_id" validate:"required"`
	Items       []BatchItem           `json:"items"`
	Settings    models.ReviewSettings `json:"settings"`
}

// SubmitBatch runs every item through the full submission path with one
// shared settings snapshot. A failing item records its error and index but
// never stops the other items. The aggregate counters are frozen when the
// batch completes.
func (e *Engine) SubmitBatch(ctx context.Context, input *NewBatch) (*models.BatchJob, error) {
	if input == nil || len(input.Items) == 0 {
		return nil, utils.NewValidationError("items", "batch must contain at least one item")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	snapshot, err := utils.MarshalToJSON(input.Settings)
	if err != nil {
		return nil, err
	}

	batch := &models.BatchJob{
		ID:               uuid.NewString(),
		SubmitterId:      input.SubmitterId,
		Status:           models.BatchStatusProcessing,
		Total:            len(input.Items),
		SettingsSnapshot: snapshot,
	}
	if err := e.store.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}

	// nil entries mark items that failed creation; they leave no member row.
	results := make([]*models.BatchMember, len(input.Items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, item := range input.Items {
		i, item := i, item
		g.Go(func() error {
			review, err := e.CreateReview(gctx, &models.NewReview{
				Kind:         item.Kind,
				SubmitterId:  input.SubmitterId,
				SubjectData:  item.SubjectData,
				OutputData:   item.OutputData,
				AssetObject:  item.AssetObject,
				QualityScore: item.QualityScore,
				Settings:     input.Settings,
			})
			if err != nil {
				// item errors are tolerated and logged; only infrastructure errors abort
				config.LogError(e.logger, "workflow", "SubmitBatch",
					fmt.Sprintf("item %d failed", i), item, err)
				return nil
			}
			if err := e.store.UpdateReview(gctx, review.ID, map[string]interface{}{
				"batch_id": batch.ID,
			}); err != nil {
				return err
			}
			results[i] = &models.BatchMember{
				BatchId:   batch.ID,
				ItemIndex: i,
				ReviewId:  &review.ID,
				Outcome:   string(review.State),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	members := make([]models.BatchMember, 0, len(results))
	for _, m := range results {
		if m == nil {
			batch.Failed++
			continue
		}
		batch.Succeeded++
		switch m.Outcome {
		case string(models.ReviewStateApproved):
			batch.AutoApproved++
		case string(models.ReviewStateRejected):
			batch.AutoRejected++
		default:
			batch.PendingReview++
		}
		members = append(members, *m)
	}
	now := time.Now().UTC()
	batch.Status = models.BatchStatusCompleted
	batch.CompletedAt = &now
	batch.Members = members

	if err := e.store.FinalizeBatch(ctx, batch); err != nil {
		return nil, err
	}

	if err := e.store.AddNotification(ctx, &models.Notification{
		Type:        models.NotificationTypeBatchCompleted,
		RecipientId: input.SubmitterId,
		BatchId:     &batch.ID,
		Message: fmt.Sprintf("Batch complete: %d submitted, %d auto-approved, %d auto-rejected, %d pending, %d failed",
			batch.Total, batch.AutoApproved, batch.AutoRejected, batch.PendingReview, batch.Failed),
	}, e.notifyCap); err != nil {
		config.LogError(e.logger, "workflow", "SubmitBatch", "notification", batch.ID, err)
	}

	e.invalidateStatsCache()
	return batch, nil
}

func (e *Engine) GetBatch(ctx context.Context, id string) (*models.BatchJob, error) {
	return e.store.GetBatch(ctx, id)
}
