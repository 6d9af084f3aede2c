package database

import (
	"fmt"

	"immoledger/server/internal/models"
)

func (d *Database) RunMigrations() error {
	if err := d.db.AutoMigrate(
		&models.Plan{},
		&models.Sale{},
		&models.Installment{},
		&models.Subscription{},
		&models.Transaction{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// The expiry sweeper only ever scans pending rows.
	if err := d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_transactions_pending_created
		ON transactions(created_at) WHERE status = 'pending';
	`).Error; err != nil {
		return fmt.Errorf("failed to create pending index: %w", err)
	}

	if err := d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_installments_open
		ON installments(sale_id, due_date) WHERE status = 'pending';
	`).Error; err != nil {
		return fmt.Errorf("failed to create open installments index: %w", err)
	}

	return nil
}
