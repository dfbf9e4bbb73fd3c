package workflow

import (
	"errors"
	"fmt"
	"testing"

	"bitbucket.org/dressforpleasure/stylereview_backend/utils"
	"gorm.io/gorm"
)

func TestNotFoundOr(t *testing.T) {
	if got := notFoundOr(gorm.ErrRecordNotFound); !errors.Is(got, utils.ErrorRecordNotFound) {
		t.Fatalf("gorm miss should map to record not found, got %v", got)
	}
	wrapped := fmt.Errorf("lookup: %w", gorm.ErrRecordNotFound)
	if got := notFoundOr(wrapped); !errors.Is(got, utils.ErrorRecordNotFound) {
		t.Fatalf("wrapped gorm miss should map to record not found, got %v", got)
	}

	// Connectivity and query errors must pass through, not masquerade as a miss.
	connErr := errors.New("dial tcp 10.0.0.5:3306: connect: connection refused")
	if got := notFoundOr(connErr); got != connErr {
		t.Fatalf("connectivity error should pass through, got %v", got)
	}
}
