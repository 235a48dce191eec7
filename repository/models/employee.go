package models

import "time"

// Employee represents a worker paid through a channel (channel destination)
type Employee struct {
	ID             string        `gorm:"column:employee_id;primaryKey;type:varchar(50)"`
	OrganizationID string        `gorm:"column:organization_id;type:varchar(50);not null;uniqueIndex:idx_employee_org_wallet"`
	Organization   *Organization `gorm:"foreignKey:OrganizationID"`
	Name           string        `gorm:"column:name;type:varchar(100);not null"`
	WalletAddress  string        `gorm:"column:wallet_address;type:varchar(35);not null;uniqueIndex:idx_employee_org_wallet;index"`
	CreatedAt      time.Time     `gorm:"column:created_at;autoCreateTime"`
}
