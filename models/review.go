package models

import (
	"math"
	"time"

	"bitbucket.org/dressforpleasure/stylereview_backend/utils"
	"github.com/shopspring/decimal"
)

// ReviewRecord is one generated asset moving through the review workflow.
// SubjectData/OutputData are opaque JSON snapshots owned by the generation
// pipeline; the engine never looks inside them.
type ReviewRecord struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Kind        ReviewKind `gorm:"size:30;not null;index" json:"kind"`
	SubmitterId string     `gorm:"size:64;not null;index" json:"submitter_id"`
	SubjectData string     `gorm:"type:text" json:"subject_data"`
	OutputData  string     `gorm:"type:text" json:"output_data"`

	// AssetObject is the staging-bucket object name of the rendered asset.
	AssetObject string `gorm:"size:255" json:"asset_object"`

	QualityScore decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"quality_score"`
	State        ReviewState     `gorm:"size:30;not null;index" json:"state"`

	// Settings snapshot taken at submission. Later settings changes never
	// retroactively affect a submitted review.
	AutoApprovalEnabled  *bool          `gorm:"not null" json:"auto_approval_enabled"`
	RequiresManualReview *bool          `gorm:"not null" json:"requires_manual_review"`
	Priority             ReviewPriority `gorm:"size:10;not null;default:normal" json:"priority"`

	BatchId *string `gorm:"size:36;index" json:"batch_id"`

	DecidedBy    *string    `gorm:"size:100" json:"decided_by"`
	DecidedAt    *time.Time `json:"decided_at"`
	DecisionNote *string    `gorm:"type:text" json:"decision_note"`
	Rating       *int       `json:"rating"`

	RevisionCount int `gorm:"not null;default:0" json:"revision_count"`

	PublicationStatus *PublicationStatus `gorm:"size:20" json:"publication_status"`
	PublicationId     *string            `gorm:"size:64" json:"publication_id"`
	PublishedAt       *time.Time         `json:"published_at"`
	PublishError      *string            `gorm:"type:text" json:"publish_error"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index" json:"updated_at"`
}

// ReviewSettings is the caller-supplied policy snapshot for a submission.
type ReviewSettings struct {
	AutoApprovalEnabled  bool   `json:"auto_approval_enabled"`
	RequiresManualReview bool   `json:"requires_manual_review"`
	Priority             string `json:"priority" validate:"omitempty,oneof=low normal high"`
}

type NewReview struct {
	Kind         string         `json:"kind" validate:"required"`
	SubmitterId  string         `json:"submitter_id" validate:"required"`
	SubjectData  string         `json:"subject_data"`
	OutputData   string         `json:"output_data"`
	AssetObject  string         `json:"asset_object"`
	QualityScore float64        `json:"quality_score"`
	Settings     ReviewSettings `json:"settings"`
}

func (input *NewReview) Validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if _, err := ParseReviewKind(input.Kind); err != nil {
		return utils.NewValidationError("kind", err.Error())
	}
	if math.IsNaN(input.QualityScore) || math.IsInf(input.QualityScore, 0) {
		return utils.NewValidationError("quality_score", "must be a finite number")
	}
	if input.QualityScore < 0 || input.QualityScore > 100 {
		return utils.NewValidationError("quality_score", "must be between 0 and 100")
	}
	return nil
}

// PriorityOrDefault returns the snapshot priority, defaulting to normal.
func (s ReviewSettings) PriorityOrDefault() ReviewPriority {
	switch ReviewPriority(s.Priority) {
	case ReviewPriorityLow, ReviewPriorityNormal, ReviewPriorityHigh:
		return ReviewPriority(s.Priority)
	}
	return ReviewPriorityNormal
}

// ReviewFilter narrows ListReviews. Zero values mean "any".
type ReviewFilter struct {
	State       ReviewState
	Kind        ReviewKind
	SubmitterId string
	BatchId     string
	Limit       int
}
