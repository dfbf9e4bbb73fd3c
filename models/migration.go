package models

import (
	"log"

	"bitbucket.org/dressforpleasure/stylereview_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&ReviewRecord{}, &ReviewEvent{},
		&BatchJob{}, &BatchMember{},
		&Notification{},
		&CatalogPublishRecord{},
		&IdempotencyKey{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
