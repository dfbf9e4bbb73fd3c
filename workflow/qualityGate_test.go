package workflow

import (
	"testing"

	"bitbucket.org/dressforpleasure/stylereview_backend/models"
	"github.com/shopspring/decimal"
)

func testThresholds() QualityThresholds {
	return QualityThresholds{
		AutoApproveAt:   decimal.NewFromInt(90),
		AutoRejectBelow: decimal.NewFromInt(40),
	}
}

func TestQualityGate_Precedence(t *testing.T) {
	th := testThresholds()

	cases := []struct {
		name       string
		score      float64
		settings   models.ReviewSettings
		wantState  models.ReviewState
		wantAction string
	}{
		{
			name:       "manual review flag beats a perfect score",
			score:      100,
			settings:   models.ReviewSettings{AutoApprovalEnabled: true, RequiresManualReview: true},
			wantState:  models.ReviewStatePending,
			wantAction: models.ReviewActionPendingManualReview,
		},
		{
			name:       "manual review flag beats an auto-reject score",
			score:      10,
			settings:   models.ReviewSettings{AutoApprovalEnabled: true, RequiresManualReview: true},
			wantState:  models.ReviewStatePending,
			wantAction: models.ReviewActionPendingManualReview,
		},
		{
			name:       "low score auto-rejects even with auto approval on",
			score:      39,
			settings:   models.ReviewSettings{AutoApprovalEnabled: true},
			wantState:  models.ReviewStateRejected,
			wantAction: models.ReviewActionAutoRejected,
		},
		{
			name:       "high score auto-approves when enabled",
			score:      95,
			settings:   models.ReviewSettings{AutoApprovalEnabled: true},
			wantState:  models.ReviewStateApproved,
			wantAction: models.ReviewActionAutoApproved,
		},
		{
			name:       "high score stays pending when auto approval is off",
			score:      95,
			settings:   models.ReviewSettings{AutoApprovalEnabled: false},
			wantState:  models.ReviewStatePending,
			wantAction: models.ReviewActionPendingReview,
		},
		{
			name:       "mid score waits for a human",
			score:      70,
			settings:   models.ReviewSettings{AutoApprovalEnabled: true},
			wantState:  models.ReviewStatePending,
			wantAction: models.ReviewActionPendingReview,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := decideQuality(decimal.NewFromFloat(tc.score), tc.settings, th)
			if got.State != tc.wantState {
				t.Fatalf("state = %s, want %s", got.State, tc.wantState)
			}
			if got.Action != tc.wantAction {
				t.Fatalf("action = %s, want %s", got.Action, tc.wantAction)
			}
		})
	}
}

func TestQualityGate_Boundaries(t *testing.T) {
	th := testThresholds()
	enabled := models.ReviewSettings{AutoApprovalEnabled: true}

	// Approval threshold is inclusive.
	if got := decideQuality(decimal.NewFromInt(90), enabled, th); got.State != models.ReviewStateApproved {
		t.Fatalf("score 90 should auto-approve, got %s", got.State)
	}
	if got := decideQuality(decimal.NewFromFloat(89.99), enabled, th); got.State != models.ReviewStatePending {
		t.Fatalf("score 89.99 should stay pending, got %s", got.State)
	}

	// Rejection threshold is exclusive.
	if got := decideQuality(decimal.NewFromInt(40), enabled, th); got.State != models.ReviewStatePending {
		t.Fatalf("score 40 should stay pending, got %s", got.State)
	}
	if got := decideQuality(decimal.NewFromFloat(39.99), enabled, th); got.State != models.ReviewStateRejected {
		t.Fatalf("score 39.99 should auto-reject, got %s", got.State)
	}
}

func TestQualityGate_ApproveCheckedBeforeReject(t *testing.T) {
	// Env-driven thresholds can overlap; the approve rule wins inside the
	// overlap because it is evaluated first.
	th := QualityThresholds{
		AutoApproveAt:   decimal.NewFromInt(50),
		AutoRejectBelow: decimal.NewFromInt(60),
	}

	got := decideQuality(decimal.NewFromInt(55), models.ReviewSettings{AutoApprovalEnabled: true}, th)
	if got.State != models.ReviewStateApproved || got.Action != models.ReviewActionAutoApproved {
		t.Fatalf("overlap score should approve, got %s (%s)", got.State, got.Action)
	}

	// With auto approval off the same score falls through to the reject rule.
	got = decideQuality(decimal.NewFromInt(55), models.ReviewSettings{AutoApprovalEnabled: false}, th)
	if got.State != models.ReviewStateRejected {
		t.Fatalf("overlap score without auto approval should reject, got %s", got.State)
	}
}

func TestQualityGate_GlobalKillSwitch(t *testing.T) {
	th := testThresholds()
	th.AutoApprovalDisabled = true

	got := decideQuality(decimal.NewFromInt(99), models.ReviewSettings{AutoApprovalEnabled: true}, th)
	if got.State != models.ReviewStatePending {
		t.Fatalf("global kill switch should force pending, got %s", got.State)
	}
	// Auto-reject still applies; the switch only disables approvals.
	got = decideQuality(decimal.NewFromInt(10), models.ReviewSettings{AutoApprovalEnabled: true}, th)
	if got.State != models.ReviewStateRejected {
		t.Fatalf("auto-reject should survive the kill switch, got %s", got.State)
	}
}
