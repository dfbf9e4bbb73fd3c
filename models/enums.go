package models

import "errors"

type ReviewState string

const (
	ReviewStatePending           ReviewState = "pending"
	ReviewStateApproved          ReviewState = "approved"
	ReviewStateRejected          ReviewState = "rejected"
	ReviewStateRevisionRequested ReviewState = "revision_requested"
	ReviewStateArchived          ReviewState = "archived"
)

func ParseReviewState(s string) (ReviewState, error) {
	switch ReviewState(s) {
	case ReviewStatePending, ReviewStateApproved, ReviewStateRejected,
		ReviewStateRevisionRequested, ReviewStateArchived:
		return ReviewState(s), nil
	}
	return "", errors.New("invalid review state")
}

// IsTerminal reports whether the review has received a final decision.
// Terminal reviews can only be archived or overridden by an admin.
func (s ReviewState) IsTerminal() bool {
	return s == ReviewStateApproved || s == ReviewStateRejected
}

// IsOpen reports whether a reviewer can still act on the review. A review
// sent back for revision remains open: the reviewer may approve or reject it
// directly without waiting for the resubmission.
func (s ReviewState) IsOpen() bool {
	return s == ReviewStatePending || s == ReviewStateRevisionRequested
}

type ReviewKind string

const (
	ReviewKindStyleTransfer ReviewKind = "style_transfer"
	ReviewKindProductPhoto  ReviewKind = "product_photo"
	ReviewKindCampaignAsset ReviewKind = "campaign_asset"
	ReviewKindOther         ReviewKind = "other"
)

func ParseReviewKind(s string) (ReviewKind, error) {
	switch ReviewKind(s) {
	case ReviewKindStyleTransfer, ReviewKindProductPhoto, ReviewKindCampaignAsset, ReviewKindOther:
		return ReviewKind(s), nil
	}
	return "", errors.New("invalid review kind")
}

type ReviewPriority string

const (
	ReviewPriorityLow    ReviewPriority = "low"
	ReviewPriorityNormal ReviewPriority = "normal"
	ReviewPriorityHigh   ReviewPriority = "high"
)

// Review event actions. The first event of every review records the quality
// gate outcome; later events record human dispositions.
const (
	ReviewActionAutoApproved        = "auto_approved"
	ReviewActionAutoRejected        = "auto_rejected"
	ReviewActionPendingManualReview = "pending_manual_review"
	ReviewActionPendingReview       = "pending_review"
	ReviewActionApproved            = "approved"
	ReviewActionRejected            = "rejected"
	ReviewActionRevisionRequested   = "revision_requested"
	ReviewActionResubmitted         = "resubmitted"
	ReviewActionDecisionOverridden  = "decision_overridden"
	ReviewActionArchived            = "archived"
	ReviewActionPublished           = "published"
	ReviewActionPublishFailed       = "publish_failed"
)

type PublicationStatus string

const (
	PublicationStatusPublished PublicationStatus = "published"
	PublicationStatusFailed    PublicationStatus = "failed"
)

type NotificationType string

const (
	NotificationTypeReviewApproved    NotificationType = "review_approved"
	NotificationTypeReviewRejected    NotificationType = "review_rejected"
	NotificationTypeRevisionRequested NotificationType = "revision_requested"
	NotificationTypeBatchCompleted    NotificationType = "batch_completed"
)

type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
)

type UserRole string

const (
	UserRoleAdmin    UserRole = "A"
	UserRoleReviewer UserRole = "R"
)

func (r UserRole) Name() string {
	if r == UserRoleAdmin {
		return "Admin"
	}
	return "Reviewer"
}
