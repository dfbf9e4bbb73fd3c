// publish-replay resets DEAD catalog publish rows so the dispatcher picks
// them up again. Run it after fixing the underlying Pub/Sub or GCS issue.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/publish-replay
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/dressforpleasure/stylereview_backend/config"
	"bitbucket.org/dressforpleasure/stylereview_backend/workflow"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	store := workflow.NewGormStore(db)
	n, err := store.ReplayDeadPublishes(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to replay dead publishes: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Reset %d dead publish rows to PENDING for retry\n", n)
}
