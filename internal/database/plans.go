package database

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"immoledger/server/internal/models"
)

// SeedPlans inserts catalog plans that are not stored yet. Stored plans are
// never rewritten: a price change ships as a new plan id or version.
func (d *Database) SeedPlans(plans []models.Plan) (int64, error) {
	if len(plans) == 0 {
		return 0, nil
	}
	res := d.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&plans)
	return res.RowsAffected, res.Error
}

func GetPlan(tx *gorm.DB, id string) (*models.Plan, error) {
	var plan models.Plan
	if err := tx.Where("id = ?", id).First(&plan).Error; err != nil {
		return nil, notFound(err)
	}
	return &plan, nil
}

// ListPlans returns active plans cheapest first.
func (d *Database) ListPlans() ([]models.Plan, error) {
	var plans []models.Plan
	err := d.db.Where("active = ?", true).Order("price_monthly ASC, id ASC").Find(&plans).Error
	return plans, err
}
