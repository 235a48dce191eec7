package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActiveSession returns the open session of the worker on the channel, or nil
func (tx *Tx) ActiveSession(employeeID, channelID string) (*models.WorkSession, *RepositoryError) {
	var session models.WorkSession
	err := tx.db.Where("employee_id = ? AND channel_id = ? AND session_status = ?",
		employeeID, channelID, models.SessionActive).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, dbError(err, "Failed to look up active session")
	}
	return &session, nil
}

// HoursWorkedSince sums the recorded hours of sessions on the channel that
// started at or after since
func (tx *Tx) HoursWorkedSince(channelID string, since time.Time) (decimal.Decimal, *RepositoryError) {
	var sessions []models.WorkSession
	err := tx.db.Select("hours_worked").
		Where("channel_id = ? AND clock_in >= ? AND session_status <> ?", channelID, since, models.SessionActive).
		Find(&sessions).Error
	if err != nil {
		return decimal.Zero, dbError(err, "Failed to sum worked hours")
	}
	total := decimal.Zero
	for _, s := range sessions {
		total = total.Add(s.HoursWorked)
	}
	return total, nil
}

// CreateSession inserts a new active work session
func (tx *Tx) CreateSession(session *models.WorkSession) *RepositoryError {
	if session.ID == "" {
		session.ID = NewID("WS")
	}
	session.SessionStatus = models.SessionActive
	if err := tx.db.Create(session).Error; err != nil {
		repoErr := dbError(err, "Failed to create work session")
		if repoErr.Code == PgErrUniqueViolation {
			return ConflictError("ALREADY_CLOCKED_IN", "An active session already exists for this channel")
		}
		return repoErr
	}
	return nil
}

// SessionByID loads a work session, optionally holding a row lock
func (tx *Tx) SessionByID(id string, lock bool) (*models.WorkSession, *RepositoryError) {
	q := tx.db
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var session models.WorkSession
	if err := q.Where("session_id = ?", id).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundError("SESSION_NOT_FOUND", "Work session does not exist", fmt.Sprintf("Session %s does not exist", id))
		}
		return nil, dbError(err, "Failed to load work session")
	}
	return &session, nil
}

// FinishSession closes an active session. It fails if the session was closed
// by a concurrent request.
func (tx *Tx) FinishSession(id, status string, clockOut time.Time, hours, amount decimal.Decimal) *RepositoryError {
	result := tx.db.Model(&models.WorkSession{}).
		Where("session_id = ? AND session_status = ?", id, models.SessionActive).
		Updates(map[string]any{
			"session_status": status,
			"clock_out":      clockOut,
			"hours_worked":   hours,
			"total_amount":   amount,
		})
	if result.Error != nil {
		return dbError(result.Error, "Failed to complete work session")
	}
	if result.RowsAffected != 1 {
		return ConflictError("SESSION_NOT_ACTIVE", "Work session is not active")
	}
	return nil
}

// Accrue adds worked hours and earned amount to a channel that is still active
func (tx *Tx) Accrue(channelID string, hours, amount decimal.Decimal) *RepositoryError {
	var channel models.Channel
	err := tx.db.Select("id", "accumulated_balance", "hours_accumulated", "status").
		Where("id = ?", channelID).First(&channel).Error
	if err != nil {
		return dbError(err, "Failed to load channel balance")
	}
	if channel.Status != models.ChannelActive {
		return ConflictError("CHANNEL_INACTIVE", "Wages only accrue on an active channel").
			With("status", channel.Status)
	}
	result := tx.db.Model(&models.Channel{}).
		Where("id = ?", channelID).
		Updates(map[string]any{
			"accumulated_balance": channel.AccumulatedBalance.Add(amount),
			"hours_accumulated":   channel.HoursAccumulated.Add(hours),
		})
	if result.Error != nil {
		return dbError(result.Error, "Failed to update channel balance")
	}
	return nil
}
