package models

import "time"

// Drift detection output (nightly/admin-triggered). One row per mismatch
// between a stored aggregate and what the underlying rows say it should be.
type ReconciliationReport struct {
	ID             int       `gorm:"primary_key" json:"id"`
	OrganizationId string    `gorm:"index;not null" json:"organization_id"`
	ShopId         int       `gorm:"index;not null" json:"shop_id"`
	CheckType      string    `gorm:"size:50;index;not null" json:"check_type"`  // e.g. STOCK_LEDGER, CUSTOMER_STATS
	EntityType     string    `gorm:"size:50;index;not null" json:"entity_type"` // e.g. Product, Customer
	EntityId       int       `gorm:"index;not null" json:"entity_id"`
	Expected       string    `gorm:"size:100" json:"expected"`
	Actual         string    `gorm:"size:100" json:"actual"`
	Details        string    `gorm:"type:text" json:"details"` // human-readable mismatch detail
	Repaired       bool      `gorm:"default:false" json:"repaired"`
	CorrelationId  string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
