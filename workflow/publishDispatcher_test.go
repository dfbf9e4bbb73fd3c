package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"bitbucket.org/dressforpleasure/stylereview_backend/config"
	"bitbucket.org/dressforpleasure/stylereview_backend/models"
	"github.com/sirupsen/logrus"
)

type fakePublisher struct {
	mu       sync.Mutex
	failures int // fail this many calls before succeeding
	calls    int
}

func (p *fakePublisher) Publish(ctx context.Context, msg config.CatalogEventMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return "", errors.New("pubsub unavailable")
	}
	return fmt.Sprintf("msg-%d", p.calls), nil
}

func newTestDispatcher(e *Engine, pub Publisher) *PublishDispatcher {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	d := NewPublishDispatcher(e.Store(), pub, logger)
	d.InitialBackoff = 0
	d.LockTimeout = time.Minute
	return d
}

func approvedReview(t *testing.T, e *Engine) *models.ReviewRecord {
	t.Helper()
	review := submitPending(t, e, 70)
	approved, err := e.Approve(context.Background(), review.ID, &ApproveInput{ReviewerId: "rev-1"})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	return approved
}

func TestDispatcher_SuccessRecordsPublication(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	review := approvedReview(t, e)

	d := newTestDispatcher(e, &fakePublisher{})
	d.DispatchOnce(ctx)

	got, err := e.GetReview(ctx, review.ID)
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}
	if got.PublicationStatus == nil || *got.PublicationStatus != models.PublicationStatusPublished {
		t.Fatalf("publication status = %v, want published", got.PublicationStatus)
	}
	if got.PublicationId == nil || got.PublishedAt == nil {
		t.Fatalf("publication id/timestamp missing: %+v", got)
	}
	if got.State != models.ReviewStateApproved {
		t.Fatalf("publication must not change state, got %s", got.State)
	}

	// The outbox row is terminal; nothing left to claim.
	claimed, _ := e.Store().ClaimPublishBatch(ctx, PublishClaim{DispatcherId: "t", BatchSize: 10, MaxAttempts: 5})
	if len(claimed) != 0 {
		t.Fatalf("expected empty outbox after success, got %d", len(claimed))
	}
}

func TestDispatcher_RetriesThenSucceeds(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	review := approvedReview(t, e)

	pub := &fakePublisher{failures: 2}
	d := newTestDispatcher(e, pub)

	for i := 0; i < 3; i++ {
		d.DispatchOnce(ctx)
	}

	got, _ := e.GetReview(ctx, review.ID)
	if got.PublicationStatus == nil || *got.PublicationStatus != models.PublicationStatusPublished {
		t.Fatalf("expected publication after retries, got %+v", got.PublicationStatus)
	}
	if pub.calls != 3 {
		t.Fatalf("expected 3 publish calls, got %d", pub.calls)
	}
}

func TestDispatcher_DeadAfterMaxAttempts_ApprovalStands(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	review := approvedReview(t, e)

	pub := &fakePublisher{failures: 1 << 30} // never succeeds
	d := newTestDispatcher(e, pub)
	d.MaxAttempts = 3

	// MaxAttempts failing passes, then one more to flip the row to DEAD.
	for i := 0; i <= d.MaxAttempts; i++ {
		d.DispatchOnce(ctx)
	}

	got, _ := e.GetReview(ctx, review.ID)
	if got.State != models.ReviewStateApproved {
		t.Fatalf("publish failure must never revert approval, got %s", got.State)
	}
	if got.PublicationStatus == nil || *got.PublicationStatus != models.PublicationStatusFailed {
		t.Fatalf("publication status = %v, want failed", got.PublicationStatus)
	}
	if got.PublishError == nil {
		t.Fatalf("publish error should be recorded")
	}

	events, _ := e.ListEvents(ctx, review.ID)
	last := events[len(events)-1]
	if last.Action != models.ReviewActionPublishFailed {
		t.Fatalf("last event = %s, want publish_failed", last.Action)
	}

	// Ops replay resets the row for another round.
	n, err := e.Store().ReplayDeadPublishes(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ReplayDeadPublishes = %d, %v", n, err)
	}
}

func TestDispatcher_BackoffGrowth(t *testing.T) {
	d := &PublishDispatcher{InitialBackoff: 5 * time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{10, 10 * time.Minute},
	}
	for _, tc := range cases {
		if got := d.backoffFor(tc.attempt); got != tc.want {
			t.Fatalf("backoff(attempt=%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}
