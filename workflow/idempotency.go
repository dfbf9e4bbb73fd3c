package workflow

import (
	"errors"
	"time"

	"bitbucket.org/dressforpleasure/stylereview_backend/models"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// BeginIdempotency inserts STARTED. If SUCCEEDED exists, returns the stored
// result ref with skip=true, meaning "return the previous answer safely".
func BeginIdempotency(tx *gorm.DB, handlerName, requestId string) (skip bool, resultRef string, err error) {
	key := models.IdempotencyKey{
		HandlerName: handlerName,
		RequestId:   requestId,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := tx.Create(&key).Error; err == nil {
		return false, "", nil
	} else if !isDuplicateKeyErr(err) {
		return false, "", err
	}

	var existing models.IdempotencyKey
	if err := tx.Where("handler_name = ? AND request_id = ?", handlerName, requestId).
		First(&existing).Error; err != nil {
		return false, "", err
	}

	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		ref := ""
		if existing.ResultRef != nil {
			ref = *existing.ResultRef
		}
		return true, ref, nil
	case models.IdempotencyStatusStarted:
		// If another instance is currently processing, tell the client to retry.
		// If it's stale, let this request retry by reusing the same row.
		if time.Since(existing.UpdatedAt) < 5*time.Minute {
			return false, "", ErrIdempotencyInProgress
		}
		return false, "", resetIdempotencyRow(tx, existing.ID)
	default:
		return false, "", resetIdempotencyRow(tx, existing.ID)
	}
}

func resetIdempotencyRow(tx *gorm.DB, id int) error {
	return tx.Model(&models.IdempotencyKey{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error
}

func MarkIdempotencySucceeded(tx *gorm.DB, handlerName, requestId, resultRef string) error {
	return tx.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND request_id = ?", handlerName, requestId).
		Updates(map[string]interface{}{
			"status":     models.IdempotencyStatusSucceeded,
			"result_ref": resultRef,
			"last_error": nil,
		}).Error
}

func MarkIdempotencyFailed(tx *gorm.DB, handlerName, requestId string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return tx.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND request_id = ?", handlerName, requestId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}
