package models

import "time"

// Notification types
const (
	NotificationClosureRequest   = "closure_request"
	NotificationClosureApproved  = "closure_request_approved"
	NotificationClosureFailed    = "channel_closure_failed"
	NotificationBalanceCorrected = "stale_balance_corrected"
)

// Notification is a message between the two channel parties.
// Closure requests are notifications of type closure_request.
type Notification struct {
	ID              string `gorm:"column:notification_id;primaryKey;type:varchar(50)"`
	Type            string `gorm:"column:type;type:varchar(40);not null;index;uniqueIndex:idx_one_pending_closure_request,where:type = 'closure_request' AND closure_approved = false AND dismissed = false"`
	ChannelID       string `gorm:"column:channel_id;type:varchar(64);index;uniqueIndex:idx_one_pending_closure_request,where:type = 'closure_request' AND closure_approved = false AND dismissed = false"`
	SenderWallet    string `gorm:"column:sender_wallet;type:varchar(35)"`
	RecipientWallet string `gorm:"column:recipient_wallet;type:varchar(35);not null;index"`
	Message         string `gorm:"column:message;type:text"`
	Data            string `gorm:"column:data;type:text"` // JSON payload
	IsRead          bool   `gorm:"column:is_read;default:false"`
	Dismissed       bool   `gorm:"column:dismissed;default:false"`

	ClosureApproved   bool       `gorm:"column:closure_approved;default:false"`
	ClosureApprovedAt *time.Time `gorm:"column:closure_approved_at"`
	ClosureTxHash     *string    `gorm:"column:closure_tx_hash;type:varchar(64)"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
