package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateNotification stores a notification row
func (tx *Tx) CreateNotification(n *models.Notification) *RepositoryError {
	if n.ID == "" {
		n.ID = NewID("NTF")
	}
	if err := tx.db.Create(n).Error; err != nil {
		repoErr := dbError(err, "Failed to create notification")
		if repoErr.Code == PgErrUniqueViolation && n.Type == models.NotificationClosureRequest {
			return ConflictError("REQUEST_ALREADY_PENDING", "A closure request is already pending for this channel")
		}
		return repoErr
	}
	return nil
}

// PendingClosureRequest returns the unapproved closure request of a channel, or nil
func (tx *Tx) PendingClosureRequest(channelID string) (*models.Notification, *RepositoryError) {
	var n models.Notification
	err := tx.db.Where("type = ? AND channel_id = ? AND closure_approved = ? AND dismissed = ?",
		models.NotificationClosureRequest, channelID, false, false).
		First(&n).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, dbError(err, "Failed to look up closure request")
	}
	return &n, nil
}

// NotificationByID loads a notification, optionally holding a row lock
func (tx *Tx) NotificationByID(id string, lock bool) (*models.Notification, *RepositoryError) {
	q := tx.db
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var n models.Notification
	if err := q.Where("notification_id = ?", id).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundError("REQUEST_NOT_FOUND", "Request does not exist", fmt.Sprintf("Notification %s does not exist", id))
		}
		return nil, dbError(err, "Failed to load notification")
	}
	return &n, nil
}

// ApproveClosureRequest marks a pending closure request approved and read
func (tx *Tx) ApproveClosureRequest(id string, now time.Time) *RepositoryError {
	result := tx.db.Model(&models.Notification{}).
		Where("notification_id = ? AND closure_approved = ? AND dismissed = ?", id, false, false).
		Updates(map[string]any{
			"closure_approved":    true,
			"closure_approved_at": now,
			"is_read":             true,
		})
	if result.Error != nil {
		return dbError(result.Error, "Failed to approve closure request")
	}
	if result.RowsAffected != 1 {
		return ConflictError("ALREADY_APPROVED", "Closure request was already handled")
	}
	return nil
}

// DismissClosureRequest cancels one pending closure request
func (tx *Tx) DismissClosureRequest(id string) *RepositoryError {
	result := tx.db.Model(&models.Notification{}).
		Where("notification_id = ? AND closure_approved = ? AND dismissed = ?", id, false, false).
		Update("dismissed", true)
	if result.Error != nil {
		return dbError(result.Error, "Failed to dismiss closure request")
	}
	if result.RowsAffected != 1 {
		return ConflictError("REQUEST_NOT_PENDING", "Closure request is no longer pending")
	}
	return nil
}

// ResolveClosureRequests stamps every closure request of a closed channel
// with the closing transaction and dismisses the unapproved ones
func (tx *Tx) ResolveClosureRequests(channelID, txHash string) *RepositoryError {
	err := tx.db.Model(&models.Notification{}).
		Where("type = ? AND channel_id = ? AND closure_approved = ?", models.NotificationClosureRequest, channelID, true).
		Where("closure_tx_hash IS NULL").
		Update("closure_tx_hash", txHash).Error
	if err != nil {
		return dbError(err, "Failed to stamp closure requests")
	}
	err = tx.db.Model(&models.Notification{}).
		Where("type = ? AND channel_id = ? AND closure_approved = ? AND dismissed = ?",
			models.NotificationClosureRequest, channelID, false, false).
		Update("dismissed", true).Error
	if err != nil {
		return dbError(err, "Failed to dismiss pending closure requests")
	}
	return nil
}

// NotificationsFor lists notifications addressed to a wallet, newest first
func (tx *Tx) NotificationsFor(wallet string, unreadOnly bool, limit int) ([]models.Notification, *RepositoryError) {
	q := tx.db.Where("recipient_wallet = ?", wallet)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	var out []models.Notification
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, dbError(err, "Failed to list notifications")
	}
	return out, nil
}
