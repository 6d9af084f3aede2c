package models

import "time"

type BillingCycle string

const (
	CycleMonthly  BillingCycle = "monthly"
	CycleYearly   BillingCycle = "yearly"
	CycleLifetime BillingCycle = "lifetime"
)

// Valid reports whether c is a known billing cycle.
func (c BillingCycle) Valid() bool {
	switch c {
	case CycleMonthly, CycleYearly, CycleLifetime:
		return true
	}
	return false
}

// Days is the proration period length of the cycle. Lifetime has none.
func (c BillingCycle) Days() int {
	switch c {
	case CycleMonthly:
		return 30
	case CycleYearly:
		return 365
	default:
		return 0
	}
}

// PeriodEnd returns the end of a period started at start, nil for lifetime.
func (c BillingCycle) PeriodEnd(start time.Time) *time.Time {
	var end time.Time
	switch c {
	case CycleMonthly:
		end = start.AddDate(0, 1, 0)
	case CycleYearly:
		end = start.AddDate(1, 0, 0)
	default:
		return nil
	}
	return &end
}

type SubscriptionStatus string

const (
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// Plan is immutable reference data. A price change ships as a new Version.
type Plan struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id" yaml:"id"`
	Version       int       `gorm:"not null;default:1" json:"version" yaml:"version"`
	Name          string    `gorm:"not null" json:"name" yaml:"name"`
	Currency      string    `gorm:"size:3;not null" json:"currency" yaml:"currency"`
	PriceMonthly  int64     `gorm:"not null;default:0" json:"price_monthly" yaml:"price_monthly"`
	PriceYearly   int64     `gorm:"not null;default:0" json:"price_yearly" yaml:"price_yearly"`
	PriceLifetime int64     `gorm:"not null;default:0" json:"price_lifetime" yaml:"price_lifetime"`
	MaxProperties int       `json:"max_properties" yaml:"max_properties"`
	MaxTenants    int       `json:"max_tenants" yaml:"max_tenants"`
	MaxUsers      int       `json:"max_users" yaml:"max_users"`
	Active        bool      `gorm:"not null;default:true" json:"active" yaml:"active"`
	CreatedAt     time.Time `json:"created_at" yaml:"-"`
}

// PriceFor returns the plan price for a billing cycle.
func (p Plan) PriceFor(cycle BillingCycle) int64 {
	switch cycle {
	case CycleMonthly:
		return p.PriceMonthly
	case CycleYearly:
		return p.PriceYearly
	case CycleLifetime:
		return p.PriceLifetime
	}
	return 0
}

// Subscription is the single subscription row of an agency.
type Subscription struct {
	ID           string             `gorm:"primaryKey;size:36" json:"id"`
	AgencyID     string             `gorm:"uniqueIndex;not null" json:"agency_id"`
	PlanID       string             `gorm:"index;not null" json:"plan_id"`
	BillingCycle BillingCycle       `gorm:"not null" json:"billing_cycle"`
	Status       SubscriptionStatus `gorm:"not null" json:"status"`
	StartsAt     time.Time          `gorm:"not null" json:"starts_at"`
	EndsAt       *time.Time         `json:"ends_at,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// IsCurrent reports whether the subscription grants access at now.
func (s Subscription) IsCurrent(now time.Time) bool {
	if s.Status != SubscriptionActive && s.Status != SubscriptionTrial {
		return false
	}
	return s.EndsAt == nil || s.EndsAt.After(now)
}
