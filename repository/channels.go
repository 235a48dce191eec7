package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChannelByID loads a channel by its surrogate id. With lock set the row is
// held with SELECT ... FOR UPDATE until the transaction ends.
func (tx *Tx) ChannelByID(id string, lock bool) (*models.Channel, *RepositoryError) {
	return tx.findChannel("id = ?", id, lock)
}

// ChannelByLedgerID loads a channel by its 64-hex ledger channel id
func (tx *Tx) ChannelByLedgerID(channelID string, lock bool) (*models.Channel, *RepositoryError) {
	return tx.findChannel("channel_id = ?", strings.ToUpper(channelID), lock)
}

func (tx *Tx) findChannel(query string, arg string, lock bool) (*models.Channel, *RepositoryError) {
	q := tx.db
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var channel models.Channel
	err := q.Where(query, arg).First(&channel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundError("CHANNEL_NOT_FOUND", "Channel does not exist", fmt.Sprintf("Channel %s does not exist", arg))
		}
		return nil, dbError(err, "Failed to load channel")
	}
	if repoErr := tx.loadParties(&channel); repoErr != nil {
		return nil, repoErr
	}
	return &channel, nil
}

// loadParties fills Organization and Employee without extending the row lock
func (tx *Tx) loadParties(channel *models.Channel) *RepositoryError {
	var org models.Organization
	if err := tx.db.Where("organization_id = ?", channel.OrganizationID).First(&org).Error; err != nil {
		return dbError(err, "Failed to load channel organization")
	}
	var employee models.Employee
	if err := tx.db.Where("employee_id = ?", channel.EmployeeID).First(&employee).Error; err != nil {
		return dbError(err, "Failed to load channel worker")
	}
	channel.Organization = &org
	channel.Employee = &employee
	return nil
}

// CreateChannel persists a new channel record
func (tx *Tx) CreateChannel(channel *models.Channel) *RepositoryError {
	if channel.ChannelID != nil {
		upper := strings.ToUpper(*channel.ChannelID)
		channel.ChannelID = &upper
	}
	if channel.ID == "" {
		channel.ID = NewID("CH")
	}
	if channel.Status == "" {
		channel.Status = models.ChannelActive
	}
	if err := tx.db.Create(channel).Error; err != nil {
		return dbError(err, "Failed to create channel")
	}
	return nil
}

// ClaimClosingLock moves a channel from active to closing in one conditional
// update. It returns false when another request already holds the channel.
func (tx *Tx) ClaimClosingLock(id string, now time.Time) (bool, *RepositoryError) {
	result := tx.db.Model(&models.Channel{}).
		Where("id = ? AND status = ?", id, models.ChannelActive).
		Updates(map[string]any{
			"status":              models.ChannelClosing,
			"validation_attempts": gorm.Expr("validation_attempts + 1"),
			"last_validation_at":  now,
		})
	if result.Error != nil {
		return false, dbError(result.Error, "Failed to lock channel for closure")
	}
	return result.RowsAffected == 1, nil
}

// MarkScheduledClosure records a source closure that is waiting on the settle
// delay. The accrued balance is left untouched.
func (tx *Tx) MarkScheduledClosure(id string, expiration time.Time, txHash string, onChainBalance decimal.Decimal, now time.Time) *RepositoryError {
	result := tx.db.Model(&models.Channel{}).
		Where("id = ? AND status <> ?", id, models.ChannelClosed).
		Updates(map[string]any{
			"status":           models.ChannelClosing,
			"expiration_time":  expiration,
			"closure_tx_hash":  txHash,
			"on_chain_balance": onChainBalance,
			"last_ledger_sync": now,
		})
	if result.Error != nil {
		return dbError(result.Error, "Failed to record scheduled closure")
	}
	if result.RowsAffected == 0 {
		return ConflictError("ALREADY_CLOSED", "Channel is already closed")
	}
	return nil
}

// MarkClosed finalizes a channel whose balance was paid out on the ledger.
// Closed channels always carry a zero accrued balance.
func (tx *Tx) MarkClosed(id string, txHash *string, now time.Time) *RepositoryError {
	updates := map[string]any{
		"status":              models.ChannelClosed,
		"accumulated_balance": decimal.Zero,
		"closed_at":           now,
		"last_ledger_sync":    now,
		"expiration_time":     nil,
	}
	if txHash != nil {
		updates["closure_tx_hash"] = *txHash
	}
	result := tx.db.Model(&models.Channel{}).
		Where("id = ? AND status <> ?", id, models.ChannelClosed).
		Updates(updates)
	if result.Error != nil {
		return dbError(result.Error, "Failed to close channel")
	}
	if result.RowsAffected == 0 {
		return ConflictError("ALREADY_CLOSED", "Channel is already closed")
	}
	return nil
}

// RollbackToActive releases the closing lock after a failed verification.
// It never touches balances and never reopens a closed channel.
func (tx *Tx) RollbackToActive(id string) (bool, *RepositoryError) {
	result := tx.db.Model(&models.Channel{}).
		Where("id = ? AND status <> ?", id, models.ChannelClosed).
		Updates(map[string]any{
			"status":          models.ChannelActive,
			"expiration_time": nil,
		})
	if result.Error != nil {
		return false, dbError(result.Error, "Failed to roll channel back to active")
	}
	return result.RowsAffected == 1, nil
}

// ZeroStaleBalance clears the accrued balance of a channel that is already closed
func (tx *Tx) ZeroStaleBalance(id string, now time.Time) *RepositoryError {
	result := tx.db.Model(&models.Channel{}).
		Where("id = ? AND status = ?", id, models.ChannelClosed).
		Updates(map[string]any{
			"accumulated_balance": decimal.Zero,
			"last_ledger_sync":    now,
		})
	if result.Error != nil {
		return dbError(result.Error, "Failed to correct stale balance")
	}
	if result.RowsAffected == 0 {
		return ConflictError("CHANNEL_NOT_CLOSED", "Channel is not closed")
	}
	return nil
}

// LedgerState is the ledger-derived part of a channel record
type LedgerState struct {
	ChannelID          string
	EscrowFundedAmount decimal.Decimal
	OnChainBalance     decimal.Decimal
	SettleDelaySeconds int64
	Expiration         *time.Time
}

// ApplyLedgerState copies ledger truth onto a non-closed channel. The ledger
// channel id is only written while the local one is still empty.
func (tx *Tx) ApplyLedgerState(id string, state LedgerState, now time.Time) *RepositoryError {
	status := models.ChannelActive
	if state.Expiration != nil {
		status = models.ChannelClosing
	}
	result := tx.db.Model(&models.Channel{}).
		Where("id = ? AND status <> ?", id, models.ChannelClosed).
		Updates(map[string]any{
			"escrow_funded_amount": state.EscrowFundedAmount,
			"on_chain_balance":     state.OnChainBalance,
			"settle_delay_seconds": state.SettleDelaySeconds,
			"status":               status,
			"expiration_time":      state.Expiration,
			"last_ledger_sync":     now,
		})
	if result.Error != nil {
		return dbError(result.Error, "Failed to apply ledger state")
	}
	if result.RowsAffected == 0 {
		return ConflictError("ALREADY_CLOSED", "Closed channels are not updated from the ledger")
	}
	if state.ChannelID == "" {
		return nil
	}
	return tx.AttachLedgerID(id, state.ChannelID)
}

// AttachLedgerID sets the ledger channel id once. A different id on a record
// that already has one is rejected.
func (tx *Tx) AttachLedgerID(id, channelID string) *RepositoryError {
	channelID = strings.ToUpper(channelID)
	result := tx.db.Model(&models.Channel{}).
		Where("id = ? AND channel_id IS NULL", id).
		Update("channel_id", channelID)
	if result.Error != nil {
		return dbError(result.Error, "Failed to attach ledger channel id")
	}
	if result.RowsAffected == 1 {
		return nil
	}
	var current models.Channel
	if err := tx.db.Select("id", "channel_id").Where("id = ?", id).First(&current).Error; err != nil {
		return dbError(err, "Failed to load channel")
	}
	if current.LedgerID() != channelID {
		return ConflictError("CHANNEL_ID_IMMUTABLE", "Channel already has a different ledger channel id").
			With("channel_id", current.LedgerID())
	}
	return nil
}

// PendingChannelFor finds a channel between the two parties that was never
// confirmed on the ledger
func (tx *Tx) PendingChannelFor(organizationID, employeeID string) (*models.Channel, *RepositoryError) {
	var channel models.Channel
	err := tx.db.Where("organization_id = ? AND employee_id = ? AND channel_id IS NULL AND status <> ?",
		organizationID, employeeID, models.ChannelClosed).
		Order("created_at ASC").
		First(&channel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, dbError(err, "Failed to look up pending channel")
	}
	return &channel, nil
}

// ChannelsByOrganization lists every channel funded by the organization
func (tx *Tx) ChannelsByOrganization(organizationID string) ([]models.Channel, *RepositoryError) {
	var channels []models.Channel
	err := tx.db.Where("organization_id = ?", organizationID).Order("created_at ASC").Find(&channels).Error
	if err != nil {
		return nil, dbError(err, "Failed to list channels")
	}
	return channels, nil
}

// StaleClosedChannels lists closed channels that still carry an accrued balance
func (tx *Tx) StaleClosedChannels(limit int) ([]models.Channel, *RepositoryError) {
	var channels []models.Channel
	err := tx.db.Where("status = ? AND accumulated_balance > 0 AND channel_id IS NOT NULL", models.ChannelClosed).
		Order("closed_at ASC").
		Limit(limit).
		Find(&channels).Error
	if err != nil {
		return nil, dbError(err, "Failed to list stale closed channels")
	}
	return channels, nil
}

// StuckClosures lists closing channels whose last validation is older than before
func (tx *Tx) StuckClosures(before time.Time, limit int) ([]models.Channel, *RepositoryError) {
	var channels []models.Channel
	err := tx.db.Where("status = ? AND channel_id IS NOT NULL AND (last_validation_at IS NULL OR last_validation_at < ?)",
		models.ChannelClosing, before).
		Order("last_validation_at ASC").
		Limit(limit).
		Find(&channels).Error
	if err != nil {
		return nil, dbError(err, "Failed to list stuck closures")
	}
	return channels, nil
}
