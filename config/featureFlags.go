package config

import (
	"os"
	"strconv"
	"strings"
)

// AutoApprovalDisabledGlobally turns off score-based auto approval for every
// submission regardless of the per-review settings snapshot.
//
// Set via env:
// - REVIEW_AUTO_APPROVAL_DISABLED=true
func AutoApprovalDisabledGlobally() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("REVIEW_AUTO_APPROVAL_DISABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// ReviewAutoApproveAt is the inclusive quality score at or above which a
// submission is auto approved (when the review's settings allow it).
//
// Set via env:
// - REVIEW_AUTO_APPROVE_AT=90
func ReviewAutoApproveAt() float64 {
	return floatFromEnv("REVIEW_AUTO_APPROVE_AT", 90)
}

// ReviewAutoRejectBelow is the exclusive quality score below which a
// submission is auto rejected.
//
// Set via env:
// - REVIEW_AUTO_REJECT_BELOW=40
func ReviewAutoRejectBelow() float64 {
	return floatFromEnv("REVIEW_AUTO_REJECT_BELOW", 40)
}

// NotificationQueueCap bounds the in-app notification queue. Oldest entries
// are evicted first once the cap is reached.
//
// Set via env:
// - REVIEW_NOTIFICATION_CAP=100
func NotificationQueueCap() int {
	return intFromEnv("REVIEW_NOTIFICATION_CAP", 100)
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
