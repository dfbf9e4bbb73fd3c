package workflow

import (
	"bitbucket.org/dressforpleasure/stylereview_backend/config"
	"bitbucket.org/dressforpleasure/stylereview_backend/models"
	"github.com/shopspring/decimal"
)

// QualityThresholds is the scoring policy applied at submission time.
// AutoApproveAt is inclusive; AutoRejectBelow is exclusive.
type QualityThresholds struct {
	AutoApproveAt        decimal.Decimal
	AutoRejectBelow      decimal.Decimal
	AutoApprovalDisabled bool
}

func DefaultThresholds() QualityThresholds {
	return QualityThresholds{
		AutoApproveAt:        decimal.NewFromFloat(config.ReviewAutoApproveAt()),
		AutoRejectBelow:      decimal.NewFromFloat(config.ReviewAutoRejectBelow()),
		AutoApprovalDisabled: config.AutoApprovalDisabledGlobally(),
	}
}

// GateDecision is the quality gate outcome recorded as the review's first
// audit event.
type GateDecision struct {
	State  models.ReviewState
	Action string
	Reason string
}

// decideQuality applies the scoring policy to one submission.
//
// Precedence is strict and ordered:
//  1. requires_manual_review forces pending, even for a perfect score
//  2. score at or above AutoApproveAt auto-approves, if the settings allow it
//  3. score below AutoRejectBelow auto-rejects
//  4. everything else waits for a human
//
// The approve check runs before the reject check. Both thresholds come from
// env, so they can overlap; a score inside the overlap approves.
func decideQuality(score decimal.Decimal, settings models.ReviewSettings, th QualityThresholds) GateDecision {
	if settings.RequiresManualReview {
		return GateDecision{
			State:  models.ReviewStatePending,
			Action: models.ReviewActionPendingManualReview,
			Reason: "flagged for manual review",
		}
	}
	if score.GreaterThanOrEqual(th.AutoApproveAt) && settings.AutoApprovalEnabled && !th.AutoApprovalDisabled {
		return GateDecision{
			State:  models.ReviewStateApproved,
			Action: models.ReviewActionAutoApproved,
			Reason: "quality score met approval threshold",
		}
	}
	if score.LessThan(th.AutoRejectBelow) {
		return GateDecision{
			State:  models.ReviewStateRejected,
			Action: models.ReviewActionAutoRejected,
			Reason: "quality score below rejection threshold",
		}
	}
	return GateDecision{
		State:  models.ReviewStatePending,
		Action: models.ReviewActionPendingReview,
		Reason: "awaiting manual review",
	}
}
