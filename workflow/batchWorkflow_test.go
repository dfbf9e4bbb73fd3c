package workflow

import (
	"context"
	"testing"

	"bitbucket.org/dressforpleasure/stylereview_backend/models"
	"bitbucket.org/dressforpleasure/stylereview_backend/utils"
)

func TestSubmitBatch_Empty(t *testing.T) {
	e := newTestEngine()
	_, err := e.SubmitBatch(context.Background(), &NewBatch{SubmitterId: "u"})
	if !utils.IsValidationError(err) {
		t.Fatalf("expected ValidationError for empty batch, got %v", err)
	}
}

func TestSubmitBatch_PartialFailure(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	items := []BatchItem{
		{Kind: string(models.ReviewKindStyleTransfer), QualityScore: 95},
		{Kind: string(models.ReviewKindStyleTransfer), QualityScore: 70},
		{Kind: string(models.ReviewKindStyleTransfer), QualityScore: 150}, // invalid score
		{Kind: string(models.ReviewKindStyleTransfer), QualityScore: 20},
		{Kind: string(models.ReviewKindStyleTransfer), QualityScore: 92},
	}
	batch, err := e.SubmitBatch(ctx, &NewBatch{
		SubmitterId: "user-1",
		Items:       items,
		Settings:    models.ReviewSettings{AutoApprovalEnabled: true},
	})
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}

	if batch.Total != 5 || batch.Succeeded != 4 || batch.Failed != 1 {
		t.Fatalf("totals = %d/%d/%d, want 5/4/1", batch.Total, batch.Succeeded, batch.Failed)
	}
	if batch.AutoApproved != 2 || batch.AutoRejected != 1 || batch.PendingReview != 1 {
		t.Fatalf("outcomes = %d approved / %d rejected / %d pending",
			batch.AutoApproved, batch.AutoRejected, batch.PendingReview)
	}
	if batch.Status != models.BatchStatusCompleted || batch.CompletedAt == nil {
		t.Fatalf("batch should be completed, got %s", batch.Status)
	}

	stored, err := e.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	// Members cover only the items that became reviews; the invalid item is
	// counted and logged, not persisted.
	if len(stored.Members) != 4 {
		t.Fatalf("expected 4 members, got %d", len(stored.Members))
	}
	for _, m := range stored.Members {
		if m.ItemIndex == 2 {
			t.Fatalf("failed item must not leave a member row, got %+v", m)
		}
		if m.ReviewId == nil {
			t.Fatalf("member %d missing review id", m.ItemIndex)
		}
	}

	// The four valid items exist as reviews tagged with the batch id.
	reviews, err := e.ListReviews(ctx, models.ReviewFilter{BatchId: batch.ID, Limit: 10})
	if err != nil {
		t.Fatalf("ListReviews: %v", err)
	}
	if len(reviews) != 4 {
		t.Fatalf("expected 4 reviews in batch, got %d", len(reviews))
	}
}

func TestSubmitBatch_AggregatesAreFrozen(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	batch, err := e.SubmitBatch(ctx, &NewBatch{
		SubmitterId: "user-1",
		Items: []BatchItem{
			{Kind: string(models.ReviewKindCampaignAsset), QualityScore: 70},
			{Kind: string(models.ReviewKindCampaignAsset), QualityScore: 75},
		},
		Settings: models.ReviewSettings{AutoApprovalEnabled: true},
	})
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if batch.PendingReview != 2 {
		t.Fatalf("expected 2 pending, got %d", batch.PendingReview)
	}

	// Approve one member after the batch completed.
	reviews, _ := e.ListReviews(ctx, models.ReviewFilter{BatchId: batch.ID, Limit: 10})
	if _, err := e.Approve(ctx, reviews[0].ID, &ApproveInput{ReviewerId: "rev-1"}); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	// The frozen snapshot does not follow the review.
	stored, err := e.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if stored.PendingReview != 2 || stored.AutoApproved != 0 {
		t.Fatalf("aggregates moved after completion: %+v", stored)
	}
}

func TestSubmitBatch_SharedSettingsSnapshot(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	batch, err := e.SubmitBatch(ctx, &NewBatch{
		SubmitterId: "user-1",
		Items: []BatchItem{
			{Kind: string(models.ReviewKindProductPhoto), QualityScore: 99},
		},
		Settings: models.ReviewSettings{AutoApprovalEnabled: true, RequiresManualReview: true},
	})
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	// Manual-review flag from the shared snapshot wins over the high score.
	if batch.PendingReview != 1 || batch.AutoApproved != 0 {
		t.Fatalf("shared settings not applied: %+v", batch)
	}
}
