package database

import (
	"time"

	"gorm.io/gorm"

	"immoledger/server/internal/models"
)

// InsertSale writes a sale and its full schedule. Callers run it inside a
// transaction so that a failed installment insert also discards the sale.
func InsertSale(tx *gorm.DB, sale *models.Sale, installments []models.Installment) error {
	if err := tx.Omit("Installments").Create(sale).Error; err != nil {
		return err
	}
	if len(installments) == 0 {
		return nil
	}
	return tx.CreateInBatches(installments, 100).Error
}

func GetSale(tx *gorm.DB, id string) (*models.Sale, error) {
	var sale models.Sale
	if err := tx.Where("id = ?", id).First(&sale).Error; err != nil {
		return nil, notFound(err)
	}
	return &sale, nil
}

// GetSaleWithInstallments loads a sale with its schedule ordered by number.
func GetSaleWithInstallments(tx *gorm.DB, id string) (*models.Sale, error) {
	var sale models.Sale
	err := tx.Preload("Installments", func(db *gorm.DB) *gorm.DB {
		return db.Order("number ASC")
	}).Where("id = ?", id).First(&sale).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &sale, nil
}

func GetInstallment(tx *gorm.DB, id string) (*models.Installment, error) {
	var inst models.Installment
	if err := tx.Where("id = ?", id).First(&inst).Error; err != nil {
		return nil, notFound(err)
	}
	return &inst, nil
}

// MarkInstallmentPaid flips a pending installment to paid. It reports false
// when the row was not pending, which makes a replay a no-op.
func MarkInstallmentPaid(tx *gorm.DB, id string, amount int64, paidAt time.Time, method string) (bool, error) {
	res := tx.Model(&models.Installment{}).
		Where("id = ? AND status = ?", id, models.InstallmentStatusPending).
		Updates(map[string]interface{}{
			"status":         models.InstallmentStatusPaid,
			"paid_amount":    amount,
			"paid_at":        paidAt,
			"payment_method": method,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountPaidInstallments counts paid rows of a sale.
func CountPaidInstallments(tx *gorm.DB, saleID string) (int, error) {
	var n int64
	err := tx.Model(&models.Installment{}).
		Where("sale_id = ? AND status = ?", saleID, models.InstallmentStatusPaid).
		Count(&n).Error
	return int(n), err
}

// UpdateSaleProgress stores the recomputed paid count and status.
func UpdateSaleProgress(tx *gorm.DB, saleID string, paid int, status models.SaleStatus) error {
	return tx.Model(&models.Sale{}).
		Where("id = ?", saleID).
		Updates(map[string]interface{}{
			"paid_installments": paid,
			"status":            status,
		}).Error
}

// SetSaleStatus moves a sale to status when it is currently in one of from.
func SetSaleStatus(tx *gorm.DB, saleID string, to models.SaleStatus, from ...models.SaleStatus) (bool, error) {
	res := tx.Model(&models.Sale{}).
		Where("id = ? AND status IN ?", saleID, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListOpenInstallments returns pending installments of an agency's
// in-progress sales, earliest due first.
func ListOpenInstallments(tx *gorm.DB, agencyID string) ([]models.Installment, error) {
	var list []models.Installment
	err := tx.Joins("JOIN sales ON sales.id = installments.sale_id").
		Where("sales.agency_id = ? AND sales.status = ? AND installments.status = ?",
			agencyID, models.SaleStatusInProgress, models.InstallmentStatusPending).
		Order("installments.due_date ASC").
		Find(&list).Error
	return list, err
}
