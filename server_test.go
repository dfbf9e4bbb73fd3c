package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/dressforpleasure/stylereview_backend/models"
	"bitbucket.org/dressforpleasure/stylereview_backend/utils"
	"bitbucket.org/dressforpleasure/stylereview_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func setupHandlerTestEngine(t *testing.T) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	engine = workflow.NewEngineWithThresholds(workflow.NewMemoryStore(), logger, workflow.QualityThresholds{
		AutoApproveAt:   decimal.NewFromInt(90),
		AutoRejectBelow: decimal.NewFromInt(40),
	}, 100)
}

func sessionRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	ctx := utils.SetUsernameInContext(req.Context(), "rev-1")
	ctx = utils.SetUserNameInContext(ctx, "Reviewer One")
	return req.WithContext(ctx)
}

func TestListReviewsHandler_StateAndKindFilters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	setupHandlerTestEngine(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	submit := func(kind string, score float64) {
		t.Helper()
		if _, err := engine.CreateReview(ctx, &models.NewReview{
			Kind:         kind,
			SubmitterId:  "user-1",
			QualityScore: score,
			Settings:     models.ReviewSettings{AutoApprovalEnabled: true},
		}); err != nil {
			t.Fatalf("CreateReview: %v", err)
		}
	}
	submit(string(models.ReviewKindStyleTransfer), 95) // approved
	submit(string(models.ReviewKindStyleTransfer), 70) // pending
	submit(string(models.ReviewKindProductPhoto), 70)  // pending, other kind

	router := gin.New()
	router.GET("/reviews", listReviewsHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, sessionRequest(http.MethodGet, "/reviews?state=pending&kind=style_transfer"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var reviews []models.ReviewRecord
	if err := json.Unmarshal(w.Body.Bytes(), &reviews); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(reviews) != 1 {
		t.Fatalf("expected 1 filtered review, got %d", len(reviews))
	}
	if reviews[0].State != models.ReviewStatePending || reviews[0].Kind != models.ReviewKindStyleTransfer {
		t.Fatalf("filter leaked: %s / %s", reviews[0].State, reviews[0].Kind)
	}
}
