package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Channel statuses
const (
	ChannelActive  = "active"
	ChannelClosing = "closing"
	ChannelClosed  = "closed"
)

// Channel is the local record of one organization -> worker payment channel.
// Amounts are in XAH, not drops.
type Channel struct {
	ID             string        `gorm:"column:id;primaryKey;type:varchar(50)"`
	ChannelID      *string       `gorm:"column:channel_id;type:varchar(64);uniqueIndex"` // Null until confirmed on the ledger
	OrganizationID string        `gorm:"column:organization_id;type:varchar(50);not null;index"`
	Organization   *Organization `gorm:"foreignKey:OrganizationID"`
	EmployeeID     string        `gorm:"column:employee_id;type:varchar(50);not null;index"`
	Employee       *Employee     `gorm:"foreignKey:EmployeeID"`
	JobName        string        `gorm:"column:job_name;type:varchar(200);not null"`

	HourlyRate         decimal.Decimal `gorm:"column:hourly_rate;type:numeric(20,6);not null;default:0"`
	MaxDailyHours      decimal.Decimal `gorm:"column:max_daily_hours;type:numeric(10,4);not null;default:8"`
	EscrowFundedAmount decimal.Decimal `gorm:"column:escrow_funded_amount;type:numeric(20,6);not null;default:0"`
	AccumulatedBalance decimal.Decimal `gorm:"column:accumulated_balance;type:numeric(20,6);not null;default:0"`
	OnChainBalance     decimal.Decimal `gorm:"column:on_chain_balance;type:numeric(20,6);not null;default:0"`
	HoursAccumulated   decimal.Decimal `gorm:"column:hours_accumulated;type:numeric(20,6);not null;default:0"`

	Status             string     `gorm:"column:status;type:varchar(20);not null;default:'active';index"`
	SettleDelaySeconds int64      `gorm:"column:settle_delay_seconds;not null;default:0"`
	ExpirationTime     *time.Time `gorm:"column:expiration_time"`
	CreationTxHash     *string    `gorm:"column:creation_tx_hash;type:varchar(64)"`
	ClosureTxHash      *string    `gorm:"column:closure_tx_hash;type:varchar(64)"`
	ClosedAt           *time.Time `gorm:"column:closed_at"`
	LastLedgerSync     *time.Time `gorm:"column:last_ledger_sync"`
	ValidationAttempts int        `gorm:"column:validation_attempts;not null;default:0"`
	LastValidationAt   *time.Time `gorm:"column:last_validation_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`

	// Relationships
	Sessions []WorkSession `gorm:"foreignKey:ChannelID"`
}

// LedgerID returns the ledger channel id or an empty string if not confirmed yet
func (c *Channel) LedgerID() string {
	if c.ChannelID == nil {
		return ""
	}
	return *c.ChannelID
}

// RemainingEscrow is the part of the escrow not yet owed to the worker
func (c *Channel) RemainingEscrow() decimal.Decimal {
	return c.EscrowFundedAmount.Sub(c.AccumulatedBalance)
}
