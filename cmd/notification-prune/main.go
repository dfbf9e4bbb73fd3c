// notification-prune deletes read notifications older than a retention
// window. The in-band queue cap already bounds total size; this keeps the
// table from accumulating years of read entries.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/notification-prune
//
// NOTIFICATION_RETENTION_DAYS controls the window (default 90).
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"bitbucket.org/dressforpleasure/stylereview_backend/config"
	"bitbucket.org/dressforpleasure/stylereview_backend/models"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	days := 90
	if v := os.Getenv("NOTIFICATION_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	res := db.WithContext(ctx).
		Where("is_read = ? AND created_at < ?", true, cutoff).
		Delete(&models.Notification{})
	if res.Error != nil {
		fmt.Fprintf(os.Stderr, "failed to prune notifications: %v\n", res.Error)
		os.Exit(1)
	}
	fmt.Printf("Pruned %d read notifications older than %s\n", res.RowsAffected, cutoff.Format("2006-01-02"))
}
