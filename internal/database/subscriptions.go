package database

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"immoledger/server/internal/models"
)

func GetSubscriptionByAgency(tx *gorm.DB, agencyID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := tx.Where("agency_id = ?", agencyID).First(&sub).Error; err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

// UpsertSubscription writes the agency's single subscription row. The
// unique agency_id index turns a second insert into an update, so two
// concurrent activations can never leave two rows behind.
func UpsertSubscription(tx *gorm.DB, sub *models.Subscription) (*models.Subscription, error) {
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "agency_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan_id", "billing_cycle", "status", "starts_at", "ends_at", "updated_at",
		}),
	}).Create(sub).Error
	if err != nil {
		return nil, err
	}
	// On conflict the stored row keeps its original id.
	return GetSubscriptionByAgency(tx, sub.AgencyID)
}

// SwapPlan changes plan and cycle in place, leaving the period untouched.
func SwapPlan(tx *gorm.DB, agencyID, planID string, cycle models.BillingCycle) error {
	res := tx.Model(&models.Subscription{}).
		Where("agency_id = ?", agencyID).
		Updates(map[string]interface{}{
			"plan_id":       planID,
			"billing_cycle": cycle,
			"status":        models.SubscriptionActive,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ExpireSubscriptions marks active rows whose period ended before now.
func ExpireSubscriptions(tx *gorm.DB, now time.Time) (int64, error) {
	res := tx.Model(&models.Subscription{}).
		Where("status IN ? AND ends_at IS NOT NULL AND ends_at < ?",
			[]models.SubscriptionStatus{models.SubscriptionActive, models.SubscriptionTrial}, now).
		Update("status", models.SubscriptionExpired)
	return res.RowsAffected, res.Error
}
