package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"immoledger/server/internal/models"
)

func CreateTransaction(tx *gorm.DB, t *models.Transaction) error {
	return tx.Create(t).Error
}

func GetTransaction(tx *gorm.DB, id string) (*models.Transaction, error) {
	var t models.Transaction
	if err := tx.Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func GetTransactionByProviderRef(tx *gorm.DB, provider, ref string) (*models.Transaction, error) {
	var t models.Transaction
	q := tx.Where("provider_ref = ?", ref)
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	if err := q.First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// TransitionTransaction moves a pending transaction to a terminal status.
// The status guard plus version bump is the single optimistic check that
// serializes webhooks, status polls and the expiry sweeper: only one of
// them observes true.
func TransitionTransaction(tx *gorm.DB, id string, to models.TransactionStatus, message string, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":        to,
		"error_message": message,
		"version":       gorm.Expr("version + 1"),
	}
	if to == models.TransactionCompleted {
		updates["completed_at"] = at
	}
	res := tx.Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, models.TransactionPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MergeTransactionMetadata adds keys to a transaction's metadata. When
// statuses are given the row is only written while it is in one of them,
// and false is returned otherwise. Call it inside a transaction: the map is
// read and written back whole.
func MergeTransactionMetadata(tx *gorm.DB, id string, extra map[string]interface{}, statuses ...models.TransactionStatus) (bool, error) {
	t, err := GetTransaction(tx, id)
	if err != nil {
		return false, err
	}
	meta := datatypes.JSONMap{}
	for k, v := range t.Metadata {
		meta[k] = v
	}
	for k, v := range extra {
		meta[k] = v
	}

	q := tx.Model(&models.Transaction{}).Where("id = ?", id)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	res := q.Update("metadata", meta)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListStalePending returns pending transactions created before cutoff.
func ListStalePending(tx *gorm.DB, cutoff time.Time, limit int) ([]models.Transaction, error) {
	var list []models.Transaction
	err := tx.Where("status = ? AND created_at < ?", models.TransactionPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// LinkTransactionSubscription records the subscription a completed payment
// activated.
func LinkTransactionSubscription(tx *gorm.DB, id, subscriptionID string) error {
	return tx.Model(&models.Transaction{}).
		Where("id = ?", id).
		Update("subscription_id", subscriptionID).Error
}

// ListTransactions returns an agency's transactions, newest first.
func ListTransactions(tx *gorm.DB, agencyID string, limit int) ([]models.Transaction, error) {
	var list []models.Transaction
	err := tx.Where("agency_id = ?", agencyID).
		Order("created_at DESC").
		Limit(limit).
		Find(&list).Error
	return list, err
}
