package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gempos/jewels_backend/config"
	"github.com/gempos/jewels_backend/utils"
)

// DailySummary is the per-shop per-day rollup of sales activity. Rows
// are upserted inside the same transaction as the operation they count,
// so the summary never disagrees with the sales table. Cancellations
// and returns are counted on the day they happen, not back-dated onto
// the day of the original sale.
type DailySummary struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrganizationId string          `gorm:"uniqueIndex:idx_daily_summary_shop_date;size:36;not null" json:"organization_id"`
	ShopId         int             `gorm:"uniqueIndex:idx_daily_summary_shop_date;not null" json:"shop_id"`
	SummaryDate    time.Time       `gorm:"uniqueIndex:idx_daily_summary_shop_date;type:date;not null" json:"summary_date"`
	SalesCount     int             `gorm:"default:0" json:"sales_count"`
	SalesTotal     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sales_total"`
	PaymentsTotal  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"payments_total"`
	ReturnsCount   int             `gorm:"default:0" json:"returns_count"`
	ReturnsTotal   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"returns_total"`
	CancelledCount int             `gorm:"default:0" json:"cancelled_count"`
	CancelledTotal decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cancelled_total"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func summaryDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func firstOrCreateDailySummary(tx *gorm.DB, organizationId string, shopId int, day time.Time) (*DailySummary, error) {
	summary := DailySummary{
		OrganizationId: organizationId,
		ShopId:         shopId,
		SummaryDate:    summaryDay(day),
	}
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("organization_id = ? AND shop_id = ? AND summary_date = ?",
			organizationId, shopId, summaryDay(day)).
		FirstOrCreate(&summary)
	if result.Error != nil {
		return nil, result.Error
	}
	return &summary, nil
}

func AddSaleToDailySummary(tx *gorm.DB, organizationId string, shopId int, day time.Time, amount decimal.Decimal) error {
	summary, err := firstOrCreateDailySummary(tx, organizationId, shopId, day)
	if err != nil {
		return err
	}
	return tx.Exec("UPDATE daily_summaries SET sales_count = sales_count + 1, sales_total = sales_total + ? WHERE id = ?",
		amount, summary.ID).Error
}

func AddPaymentToDailySummary(tx *gorm.DB, organizationId string, shopId int, day time.Time, amount decimal.Decimal) error {
	summary, err := firstOrCreateDailySummary(tx, organizationId, shopId, day)
	if err != nil {
		return err
	}
	return tx.Exec("UPDATE daily_summaries SET payments_total = payments_total + ? WHERE id = ?",
		amount, summary.ID).Error
}

func AddReturnToDailySummary(tx *gorm.DB, organizationId string, shopId int, day time.Time, amount decimal.Decimal) error {
	summary, err := firstOrCreateDailySummary(tx, organizationId, shopId, day)
	if err != nil {
		return err
	}
	return tx.Exec("UPDATE daily_summaries SET returns_count = returns_count + 1, returns_total = returns_total + ? WHERE id = ?",
		amount, summary.ID).Error
}

func AddCancelToDailySummary(tx *gorm.DB, organizationId string, shopId int, day time.Time, amount decimal.Decimal) error {
	summary, err := firstOrCreateDailySummary(tx, organizationId, shopId, day)
	if err != nil {
		return err
	}
	return tx.Exec("UPDATE daily_summaries SET cancelled_count = cancelled_count + 1, cancelled_total = cancelled_total + ? WHERE id = ?",
		amount, summary.ID).Error
}

// AdjustSaleInDailySummary moves sales_total by the signed difference when an
// existing sale is re-priced. The count is untouched: the sale was already
// counted on creation.
func AdjustSaleInDailySummary(tx *gorm.DB, organizationId string, shopId int, day time.Time, amountDelta decimal.Decimal) error {
	if amountDelta.IsZero() {
		return nil
	}
	summary, err := firstOrCreateDailySummary(tx, organizationId, shopId, day)
	if err != nil {
		return err
	}
	return tx.Exec("UPDATE daily_summaries SET sales_total = sales_total + ? WHERE id = ?",
		amountDelta, summary.ID).Error
}

// RemoveSaleFromDailySummary rewinds the creation-day counters when a draft
// sale is deleted, as if it had never been recorded.
func RemoveSaleFromDailySummary(tx *gorm.DB, organizationId string, shopId int, day time.Time, amount decimal.Decimal) error {
	summary, err := firstOrCreateDailySummary(tx, organizationId, shopId, day)
	if err != nil {
		return err
	}
	return tx.Exec("UPDATE daily_summaries SET sales_count = sales_count - 1, sales_total = sales_total - ? WHERE id = ?",
		amount, summary.ID).Error
}

func GetDailySummaries(ctx context.Context, shopId int, fromDate time.Time, toDate time.Time) ([]*DailySummary, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	if toDate.Before(fromDate) {
		return nil, utils.NewValidationError("to date must not precede from date")
	}

	db := config.GetDB()
	var results []*DailySummary
	err := db.WithContext(ctx).
		Where("organization_id = ? AND shop_id = ?", organizationId, shopId).
		Where("summary_date BETWEEN ? AND ?", summaryDay(fromDate), summaryDay(toDate)).
		Order("summary_date").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
