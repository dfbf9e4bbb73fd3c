package reports

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/dressforpleasure/stylereview_backend/config"
)

type ReviewerActivityResponse struct {
	ReviewerId         string  `json:"ReviewerId"`
	ReviewerName       *string `json:"ReviewerName,omitempty"`
	Approved           int     `json:"Approved"`
	Rejected           int     `json:"Rejected"`
	RevisionsRequested int     `json:"RevisionsRequested"`
	Overrides          int     `json:"Overrides"`
	Total              int     `json:"Total"`
}

// GetReviewerActivityReport counts dispositions per reviewer from the audit
// trail. Automated decisions carry the quality_gate actor and are excluded.
func GetReviewerActivityReport(ctx context.Context, fromDate time.Time, toDate time.Time) ([]*ReviewerActivityResponse, error) {
	started := time.Now()
	defer logSlowReport(ctx, "reviewer_activity", started, nil)

	cacheKey := fmt.Sprintf("Report:ReviewerActivity:%s:%s",
		fromDate.Format("2006-01-02"), toDate.Format("2006-01-02"))
	if reportCacheEnabled() {
		var cached []*ReviewerActivityResponse
		if ok, err := cacheGet(cacheKey, &cached); err == nil && ok {
			return cached, nil
		}
	}

	sql := `
SELECT
    re.actor_id AS reviewer_id,
    users.name AS reviewer_name,
    SUM(CASE WHEN re.action = 'approved' THEN 1 ELSE 0 END) AS approved,
    SUM(CASE WHEN re.action = 'rejected' THEN 1 ELSE 0 END) AS rejected,
    SUM(CASE WHEN re.action = 'revision_requested' THEN 1 ELSE 0 END) AS revisions_requested,
    SUM(CASE WHEN re.action = 'decision_overridden' THEN 1 ELSE 0 END) AS overrides,
    COUNT(re.id) AS total
FROM
    review_events re
        LEFT JOIN
    users ON users.username = re.actor_id
WHERE
    re.actor_id NOT IN ('quality_gate', 'system')
        AND re.action IN ('approved', 'rejected', 'revision_requested', 'decision_overridden')
        AND re.created_at BETWEEN @fromDate AND @toDate
GROUP BY re.actor_id
ORDER BY total DESC;
`

	var records []*ReviewerActivityResponse
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"fromDate": fromDate,
		"toDate":   toDate,
	}).Scan(&records).Error; err != nil {
		return nil, err
	}

	if reportCacheEnabled() {
		_ = cacheSet(cacheKey, records, reportCacheTTL())
	}
	return records, nil
}

func (r ReviewerActivityResponse) GetCellValues() []interface{} {
	name := ""
	if r.ReviewerName != nil {
		name = *r.ReviewerName
	}
	return []interface{}{r.ReviewerId, name, r.Approved, r.Rejected, r.RevisionsRequested, r.Overrides, r.Total}
}
