package models

import "time"

// Organization represents the funding party (channel source)
type Organization struct {
	ID            string    `gorm:"column:organization_id;primaryKey;type:varchar(50)"`
	Name          string    `gorm:"column:name;type:varchar(100);not null"`
	WalletAddress string    `gorm:"column:wallet_address;type:varchar(35);not null;uniqueIndex"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`

	// Relationships
	Employees []Employee `gorm:"foreignKey:OrganizationID"`
	Channels  []Channel  `gorm:"foreignKey:OrganizationID"`
}
