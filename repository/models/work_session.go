package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Work session statuses
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionTimeout   = "timeout"
)

// WorkSession is one clock-in/clock-out cycle of a worker against a channel
type WorkSession struct {
	ID            string          `gorm:"column:session_id;primaryKey;type:varchar(50)"`
	EmployeeID    string          `gorm:"column:employee_id;type:varchar(50);not null;index;uniqueIndex:idx_one_active_session,where:session_status = 'active'"`
	Employee      *Employee       `gorm:"foreignKey:EmployeeID"`
	ChannelID     string          `gorm:"column:channel_id;type:varchar(50);not null;index;uniqueIndex:idx_one_active_session,where:session_status = 'active'"`
	ClockIn       time.Time       `gorm:"column:clock_in;not null;index"`
	ClockOut      *time.Time      `gorm:"column:clock_out"`
	HourlyRate    decimal.Decimal `gorm:"column:hourly_rate;type:numeric(20,6);not null"` // Snapshot at clock-in
	HoursWorked   decimal.Decimal `gorm:"column:hours_worked;type:numeric(20,6);not null;default:0"`
	TotalAmount   decimal.Decimal `gorm:"column:total_amount;type:numeric(20,6);not null;default:0"`
	SessionStatus string          `gorm:"column:session_status;type:varchar(20);not null;default:'active'"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
