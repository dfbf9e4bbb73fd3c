package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"bitbucket.org/dressforpleasure/stylereview_backend/models"
	"bitbucket.org/dressforpleasure/stylereview_backend/utils"
	"github.com/sirupsen/logrus"
)

// NOTE: These tests run against the in-memory store so they are DB-free.
// The MySQL store shares the transition logic through the Store interface;
// integration coverage against MySQL belongs in an environment that can run it.

func newTestEngine() *Engine {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewEngineWithThresholds(NewMemoryStore(), logger, testThresholds(), 100)
}

func submitPending(t *testing.T, e *Engine, score float64) *models.ReviewRecord {
	t.Helper()
	review, err := e.CreateReview(context.Background(), &models.NewReview{
		Kind:         string(models.ReviewKindStyleTransfer),
		SubmitterId:  "user-1",
		QualityScore: score,
		Settings:     models.ReviewSettings{AutoApprovalEnabled: false},
	})
	if err != nil {
		t.Fatalf("CreateReview: %v", err)
	}
	if review.State != models.ReviewStatePending {
		t.Fatalf("setup expected pending review, got %s", review.State)
	}
	return review
}

func TestCreateReview_FirstEventRecordsGateOutcome(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	review, err := e.CreateReview(ctx, &models.NewReview{
		Kind:         string(models.ReviewKindProductPhoto),
		SubmitterId:  "user-1",
		QualityScore: 95,
		Settings:     models.ReviewSettings{AutoApprovalEnabled: true},
	})
	if err != nil {
		t.Fatalf("CreateReview: %v", err)
	}
	if review.State != models.ReviewStateApproved {
		t.Fatalf("state = %s, want approved", review.State)
	}

	events, err := e.ListEvents(ctx, review.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 event after submission, got %d", len(events))
	}
	if events[0].Action != models.ReviewActionAutoApproved {
		t.Fatalf("first event = %s, want auto_approved", events[0].Action)
	}
}

func TestCreateReview_RejectsBadScores(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	for _, score := range []float64{-1, 150} {
		_, err := e.CreateReview(ctx, &models.NewReview{
			Kind:         string(models.ReviewKindOther),
			SubmitterId:  "user-1",
			QualityScore: score,
		})
		if !utils.IsValidationError(err) {
			t.Fatalf("score %v: expected ValidationError, got %v", score, err)
		}
	}

	_, err := e.CreateReview(ctx, &models.NewReview{
		Kind:        "hologram",
		SubmitterId: "user-1",
	})
	if !utils.IsValidationError(err) {
		t.Fatalf("unknown kind: expected ValidationError, got %v", err)
	}
}

func TestApprove_EnqueuesPublicationAndNotifies(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	review := submitPending(t, e, 70)

	approved, err := e.Approve(ctx, review.ID, &ApproveInput{ReviewerId: "rev-1", Note: "looks great"})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.State != models.ReviewStateApproved {
		t.Fatalf("state = %s, want approved", approved.State)
	}

	claimed, err := e.Store().ClaimPublishBatch(ctx, PublishClaim{DispatcherId: "t", BatchSize: 10, MaxAttempts: 5})
	if err != nil {
		t.Fatalf("ClaimPublishBatch: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ReviewId != review.ID {
		t.Fatalf("expected 1 outbox row for %s, got %+v", review.ID, claimed)
	}

	ns, err := e.ListNotifications(ctx, 10)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(ns) != 1 || ns[0].Type != models.NotificationTypeReviewApproved {
		t.Fatalf("expected one review_approved notification, got %+v", ns)
	}
}

func TestReject_RequiresReason(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	review := submitPending(t, e, 70)

	_, err := e.Reject(ctx, review.ID, &RejectInput{ReviewerId: "rev-1"})
	if !utils.IsValidationError(err) {
		t.Fatalf("expected ValidationError for missing reason, got %v", err)
	}

	// The failed attempt must leave no trace.
	events, _ := e.ListEvents(ctx, review.ID)
	if len(events) != 1 {
		t.Fatalf("failed reject should not append events, got %d", len(events))
	}
	got, _ := e.GetReview(ctx, review.ID)
	if got.State != models.ReviewStatePending {
		t.Fatalf("failed reject should not change state, got %s", got.State)
	}
}

func TestDisposition_UnknownReview(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.Approve(ctx, "no-such-id", nil)
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}
	_, err = e.GetReview(ctx, "no-such-id")
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}
}

func TestDoubleDisposition_SecondFails(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	review := submitPending(t, e, 70)

	if _, err := e.Approve(ctx, review.ID, nil); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	_, err := e.Reject(ctx, review.ID, &RejectInput{Reason: "changed my mind"})
	if !utils.IsInvalidStateError(err) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
	_, err = e.Approve(ctx, review.ID, nil)
	if !utils.IsInvalidStateError(err) {
		t.Fatalf("expected InvalidStateError on re-approve, got %v", err)
	}
}

func TestConcurrentApproval_ExactlyOneWins(t *testing.T) {
	for run := 0; run < 50; run++ {
		e := newTestEngine()
		ctx := context.Background()
		review := submitPending(t, e, 70)

		const racers = 10
		var wg sync.WaitGroup
		var mu sync.Mutex
		successes, stateErrs := 0, 0

		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := e.Approve(ctx, review.ID, &ApproveInput{ReviewerId: fmt.Sprintf("rev-%d", i)})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case utils.IsInvalidStateError(err):
					stateErrs++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		if successes != 1 || stateErrs != racers-1 {
			t.Fatalf("run=%d expected 1 winner and %d losers, got %d/%d", run, racers-1, successes, stateErrs)
		}

		events, _ := e.ListEvents(ctx, review.ID)
		approvedEvents := 0
		for _, ev := range events {
			if ev.Action == models.ReviewActionApproved {
				approvedEvents++
			}
		}
		if approvedEvents != 1 {
			t.Fatalf("run=%d expected exactly 1 approved event, got %d", run, approvedEvents)
		}
	}
}

func TestRevisionRoundTrip(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	review := submitPending(t, e, 70)

	revised, err := e.RequestRevision(ctx, review.ID, &RevisionInput{ReviewerId: "rev-1", Instructions: "fix the sleeves"})
	if err != nil {
		t.Fatalf("RequestRevision: %v", err)
	}
	if revised.State != models.ReviewStateRevisionRequested || revised.RevisionCount != 1 {
		t.Fatalf("got state=%s revisions=%d", revised.State, revised.RevisionCount)
	}

	// Resubmission creates a replacement record through the gate; auto
	// approval was off in the snapshot, so even a high score only lands
	// pending. The original keeps its state and score.
	resubmitted, err := e.Resubmit(ctx, review.ID, &ResubmitInput{OutputData: `{"v":2}`, QualityScore: 95})
	if err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	if resubmitted.ID == review.ID {
		t.Fatalf("resubmission must create a new record")
	}
	if resubmitted.State != models.ReviewStatePending {
		t.Fatalf("state after resubmit = %s, want pending", resubmitted.State)
	}
	original, _ := e.GetReview(ctx, review.ID)
	if original.State != models.ReviewStateRevisionRequested {
		t.Fatalf("original state moved to %s", original.State)
	}
	if !original.QualityScore.Equal(review.QualityScore) {
		t.Fatalf("original score moved from %s to %s", review.QualityScore, original.QualityScore)
	}

	events, _ := e.ListEvents(ctx, review.ID)
	wantActions := []string{
		models.ReviewActionPendingReview,
		models.ReviewActionRevisionRequested,
		models.ReviewActionResubmitted,
	}
	if len(events) != len(wantActions) {
		t.Fatalf("expected %d events, got %d", len(wantActions), len(events))
	}
	for i, want := range wantActions {
		if events[i].Action != want {
			t.Fatalf("event[%d] = %s, want %s", i, events[i].Action, want)
		}
		if i > 0 && events[i].ID <= events[i-1].ID {
			t.Fatalf("event ids must be monotonic: %d then %d", events[i-1].ID, events[i].ID)
		}
	}

	// The replacement starts its own trail with the gate outcome.
	replacementEvents, _ := e.ListEvents(ctx, resubmitted.ID)
	if len(replacementEvents) != 1 || replacementEvents[0].Action != models.ReviewActionPendingReview {
		t.Fatalf("replacement trail = %+v, want single gate event", replacementEvents)
	}
}

func TestDisposition_AllowedFromRevisionRequested(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	// A reviewer who sent a record back can still approve it directly.
	review := submitPending(t, e, 70)
	if _, err := e.RequestRevision(ctx, review.ID, &RevisionInput{ReviewerId: "rev-1", Instructions: "tighten crop"}); err != nil {
		t.Fatalf("RequestRevision: %v", err)
	}
	approved, err := e.Approve(ctx, review.ID, &ApproveInput{ReviewerId: "rev-1"})
	if err != nil {
		t.Fatalf("Approve after revision request: %v", err)
	}
	if approved.State != models.ReviewStateApproved {
		t.Fatalf("state = %s, want approved", approved.State)
	}

	// Rejecting works from revision_requested too.
	other := submitPending(t, e, 70)
	if _, err := e.RequestRevision(ctx, other.ID, &RevisionInput{ReviewerId: "rev-1", Instructions: "redo background"}); err != nil {
		t.Fatalf("RequestRevision: %v", err)
	}
	rejected, err := e.Reject(ctx, other.ID, &RejectInput{ReviewerId: "rev-1", Reason: "not salvageable"})
	if err != nil {
		t.Fatalf("Reject after revision request: %v", err)
	}
	if rejected.State != models.ReviewStateRejected {
		t.Fatalf("state = %s, want rejected", rejected.State)
	}
}

func TestOverrideAndArchive(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	review := submitPending(t, e, 70)

	if _, err := e.Reject(ctx, review.ID, &RejectInput{ReviewerId: "rev-1", Reason: "off brand"}); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	// Override requires an admin actor in context.
	_, err := e.OverrideDecision(ctx, review.ID, &OverrideInput{NewState: "approved", Reason: "brand team appeal"})
	if !utils.IsValidationError(err) {
		t.Fatalf("expected ValidationError without admin context, got %v", err)
	}

	adminCtx := utils.SetIsAdminInContext(ctx, true)
	adminCtx = utils.SetUserNameInContext(adminCtx, "Head of Brand")
	overridden, err := e.OverrideDecision(adminCtx, review.ID, &OverrideInput{NewState: "approved", Reason: "brand team appeal"})
	if err != nil {
		t.Fatalf("OverrideDecision: %v", err)
	}
	if overridden.State != models.ReviewStateApproved {
		t.Fatalf("state = %s, want approved", overridden.State)
	}

	// Approval via override also queues publication.
	claimed, _ := e.Store().ClaimPublishBatch(ctx, PublishClaim{DispatcherId: "t", BatchSize: 10, MaxAttempts: 5})
	if len(claimed) != 1 {
		t.Fatalf("expected 1 outbox row after override, got %d", len(claimed))
	}

	archived, err := e.Archive(adminCtx, review.ID)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if archived.State != models.ReviewStateArchived {
		t.Fatalf("state = %s, want archived", archived.State)
	}

	// Archived reviews reject every disposition.
	if _, err := e.Approve(adminCtx, review.ID, nil); !utils.IsInvalidStateError(err) {
		t.Fatalf("expected InvalidStateError on archived review, got %v", err)
	}
}

func TestNotificationQueue_CapEvictsOldest(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		review := submitPending(t, e, 70)
		if _, err := e.Approve(ctx, review.ID, &ApproveInput{ReviewerId: "rev-1"}); err != nil {
			t.Fatalf("approve %d: %v", i, err)
		}
	}

	ns, err := e.ListNotifications(ctx, 500)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(ns) != 100 {
		t.Fatalf("expected queue capped at 100, got %d", len(ns))
	}
	// Newest first; the 50 oldest must be gone.
	for _, n := range ns {
		if n.ID <= 50 {
			t.Fatalf("notification %d should have been evicted", n.ID)
		}
	}
}

func TestStats_AutoApprovalRateFromFirstEvent(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	// Two auto-approved, one auto-rejected, one pending then manually approved.
	for i := 0; i < 2; i++ {
		if _, err := e.CreateReview(ctx, &models.NewReview{
			Kind: string(models.ReviewKindStyleTransfer), SubmitterId: "u",
			QualityScore: 95, Settings: models.ReviewSettings{AutoApprovalEnabled: true},
		}); err != nil {
			t.Fatalf("CreateReview: %v", err)
		}
	}
	if _, err := e.CreateReview(ctx, &models.NewReview{
		Kind: string(models.ReviewKindStyleTransfer), SubmitterId: "u",
		QualityScore: 10, Settings: models.ReviewSettings{AutoApprovalEnabled: true},
	}); err != nil {
		t.Fatalf("CreateReview: %v", err)
	}
	pending := submitPending(t, e, 70)
	if _, err := e.Approve(ctx, pending.ID, &ApproveInput{ReviewerId: "rev-1"}); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	stats, err := e.Store().Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 4 {
		t.Fatalf("total = %d, want 4", stats.Total)
	}
	// Manual approval after the fact must not count as auto-approval.
	if got := stats.AutoApprovalRate.String(); got != "0.5" {
		t.Fatalf("auto approval rate = %s, want 0.5", got)
	}
	if stats.ByState[models.ReviewStateApproved] != 3 {
		t.Fatalf("approved = %d, want 3", stats.ByState[models.ReviewStateApproved])
	}
}
