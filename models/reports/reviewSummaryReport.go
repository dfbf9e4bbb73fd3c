package reports

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/dressforpleasure/stylereview_backend/config"
	"github.com/shopspring/decimal"
)

type ReviewSummaryResponse struct {
	Day             string          `json:"Day"`
	Kind            string          `json:"Kind"`
	Submitted       int             `json:"Submitted"`
	AutoApproved    int             `json:"AutoApproved"`
	AutoRejected    int             `json:"AutoRejected"`
	ManualApproved  int             `json:"ManualApproved"`
	ManualRejected  int             `json:"ManualRejected"`
	RevisionsAsked  int             `json:"RevisionsAsked"`
	AvgQualityScore decimal.Decimal `json:"AvgQualityScore"`
}

// GetReviewSummaryReport aggregates review throughput per day and kind.
// Auto vs manual is read from the audit trail, not from the current state,
// so a manually overridden review still counts under its original outcome.
func GetReviewSummaryReport(ctx context.Context, fromDate time.Time, toDate time.Time) ([]*ReviewSummaryResponse, error) {
	started := time.Now()
	defer logSlowReport(ctx, "review_summary", started, nil)

	cacheKey := fmt.Sprintf("Report:ReviewSummary:%s:%s",
		fromDate.Format("2006-01-02"), toDate.Format("2006-01-02"))
	if reportCacheEnabled() {
		var cached []*ReviewSummaryResponse
		if ok, err := cacheGet(cacheKey, &cached); err == nil && ok {
			return cached, nil
		}
	}

	sql := `
SELECT
    DATE(rr.created_at) AS day,
    rr.kind,
    COUNT(rr.id) AS submitted,
    SUM(CASE WHEN fe.action = 'auto_approved' THEN 1 ELSE 0 END) AS auto_approved,
    SUM(CASE WHEN fe.action = 'auto_rejected' THEN 1 ELSE 0 END) AS auto_rejected,
    SUM(CASE WHEN rr.state = 'approved' AND fe.action NOT IN ('auto_approved', 'auto_rejected') THEN 1 ELSE 0 END) AS manual_approved,
    SUM(CASE WHEN rr.state = 'rejected' AND fe.action NOT IN ('auto_approved', 'auto_rejected') THEN 1 ELSE 0 END) AS manual_rejected,
    SUM(rr.revision_count) AS revisions_asked,
    AVG(rr.quality_score) AS avg_quality_score
FROM
    review_records rr
        JOIN
    review_events fe ON fe.id = (SELECT MIN(e.id) FROM review_events e WHERE e.review_id = rr.id)
WHERE
    rr.created_at BETWEEN @fromDate AND @toDate
GROUP BY DATE(rr.created_at), rr.kind
ORDER BY day, rr.kind;
`

	var records []*ReviewSummaryResponse
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

func (r ReviewSummaryResponse) GetCellValues() []interface{} {
	return []interface{}{
		r.Day, r.Kind, r.Submitted, r.AutoApproved, r.AutoRejected,
		r.ManualApproved, r.ManualRejected, r.RevisionsAsked, r.AvgQualityScore.StringFixed(2),
	}
}
