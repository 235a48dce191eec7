package repository

import (
	"errors"
	"fmt"

	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	"gorm.io/gorm"
)

// OrganizationByWallet loads the organization owning the wallet
func (tx *Tx) OrganizationByWallet(wallet string) (*models.Organization, *RepositoryError) {
	var org models.Organization
	if err := tx.db.Where("wallet_address = ?", wallet).First(&org).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundError("ORGANIZATION_NOT_FOUND", "Organization does not exist",
				fmt.Sprintf("No organization with wallet %s", wallet))
		}
		return nil, dbError(err, "Failed to load organization")
	}
	return &org, nil
}

// EmployeesByWallet maps wallet address to worker for one organization
func (tx *Tx) EmployeesByWallet(organizationID string) (map[string]models.Employee, *RepositoryError) {
	var employees []models.Employee
	if err := tx.db.Where("organization_id = ?", organizationID).Find(&employees).Error; err != nil {
		return nil, dbError(err, "Failed to list workers")
	}
	byWallet := make(map[string]models.Employee, len(employees))
	for _, e := range employees {
		byWallet[e.WalletAddress] = e
	}
	return byWallet, nil
}

// EmployeeByWallet loads a worker of the organization by wallet
func (tx *Tx) EmployeeByWallet(organizationID, wallet string) (*models.Employee, *RepositoryError) {
	var employee models.Employee
	err := tx.db.Where("organization_id = ? AND wallet_address = ?", organizationID, wallet).First(&employee).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundError("WORKER_NOT_FOUND", "Worker does not exist",
				fmt.Sprintf("No worker with wallet %s in organization %s", wallet, organizationID))
		}
		return nil, dbError(err, "Failed to load worker")
	}
	return &employee, nil
}

func (tx *Tx) CreateOrganization(name, wallet string) (*models.Organization, *RepositoryError) {
	org := models.Organization{ID: NewID("ORG"), Name: name, WalletAddress: wallet}
	if err := tx.db.Create(&org).Error; err != nil {
		return nil, dbError(err, "Failed to create organization")
	}
	return &org, nil
}

func (tx *Tx) CreateEmployee(organizationID, name, wallet string) (*models.Employee, *RepositoryError) {
	employee := models.Employee{ID: NewID("EMP"), OrganizationID: organizationID, Name: name, WalletAddress: wallet}
	if err := tx.db.Create(&employee).Error; err != nil {
		return nil, dbError(err, "Failed to create worker")
	}
	return &employee, nil
}
