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

type SalePayment struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrganizationId string          `gorm:"index;not null" json:"organization_id"`
	ShopId         int             `gorm:"index;not null" json:"shop_id"`
	SaleId         int             `gorm:"index;not null" json:"sale_id"`
	PaymentModeId  int             `gorm:"not null" json:"payment_mode_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	ReferenceNo    string          `gorm:"size:100" json:"reference_no"`
	Notes          string          `gorm:"size:255" json:"notes"`
	PaymentDate    time.Time       `gorm:"not null" json:"payment_date"`
	ReceivedBy     int             `json:"received_by"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewSalePayment struct {
	PaymentModeId int             `json:"payment_mode_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	ReferenceNo   string          `json:"reference_no" validate:"omitempty,max=100"`
	Notes         string          `json:"notes" validate:"omitempty,max=255"`
	PaymentDate   *time.Time      `json:"payment_date"`
}

// DerivePaymentStatus is the single source of truth for payment state:
// status and due are always derived together from the payable total and
// the amount received, never adjusted independently.
func DerivePaymentStatus(totalAmount decimal.Decimal, paidAmount decimal.Decimal) (PaymentStatus, decimal.Decimal) {
	due := totalAmount.Sub(paidAmount)
	if due.LessThan(decimal.Zero) {
		due = decimal.Zero
	}
	switch {
	case totalAmount.LessThanOrEqual(decimal.Zero):
		// fully offset by old gold; nothing to collect
		return PaymentStatusPaid, decimal.Zero
	case paidAmount.LessThanOrEqual(decimal.Zero):
		return PaymentStatusUnpaid, due
	case paidAmount.LessThan(totalAmount):
		return PaymentStatusPartial, due
	default:
		return PaymentStatusPaid, decimal.Zero
	}
}

// refreshPaymentState re-derives DueAmount and PaymentStatus from the
// current NetPayable and PaidAmount. Anything that changes the payable
// amount (discount, old gold, update) must call this rather than
// adjusting DueAmount in place.
func (sale *Sale) refreshPaymentState() {
	status, due := DerivePaymentStatus(sale.NetPayable, sale.PaidAmount)
	sale.PaymentStatus = status
	sale.DueAmount = due
}

func (input *NewSalePayment) validate(ctx context.Context, organizationId string, shopId int) (*PaymentMode, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, utils.NewValidationError("payment amount must be greater than zero")
	}

	mode, err := utils.FetchModel[PaymentMode](ctx, organizationId, input.PaymentModeId)
	if err != nil {
		return nil, err
	}
	if mode.ShopId != shopId {
		return nil, utils.NewValidationError("payment mode belongs to another shop")
	}
	if mode.IsActive == nil || !*mode.IsActive {
		return nil, utils.NewValidationError("payment mode is inactive")
	}
	if mode.RequiresRef != nil && *mode.RequiresRef && input.ReferenceNo == "" {
		return nil, utils.NewValidationErrorf("payment mode %s requires a reference number", mode.Name)
	}
	return mode, nil
}

// appendSalePayment writes one payment row against a locked sale and
// updates the sale's payment fields in memory. The caller owns the
// transaction and persists the sale columns afterwards.
func appendSalePayment(tx *gorm.DB, ctx context.Context, sale *Sale, input *NewSalePayment, receivedBy int) (*SalePayment, error) {
	if _, err := input.validate(ctx, sale.OrganizationId, sale.ShopId); err != nil {
		return nil, err
	}

	if input.Amount.GreaterThan(sale.DueAmount) && config.OverpaymentPolicy() == config.OverpaymentPolicyReject {
		return nil, utils.NewValidationErrorf("payment %s exceeds due amount %s",
			input.Amount.String(), sale.DueAmount.String())
	}

	paymentDate := time.Now()
	if input.PaymentDate != nil {
		paymentDate = *input.PaymentDate
	}

	payment := SalePayment{
		OrganizationId: sale.OrganizationId,
		ShopId:         sale.ShopId,
		SaleId:         sale.ID,
		PaymentModeId:  input.PaymentModeId,
		Amount:         input.Amount,
		ReferenceNo:    input.ReferenceNo,
		Notes:          input.Notes,
		PaymentDate:    paymentDate,
		ReceivedBy:     receivedBy,
	}
	if err := tx.WithContext(ctx).Create(&payment).Error; err != nil {
		return nil, utils.MapDBError(err, "SalePayment", 0)
	}

	sale.PaidAmount = sale.PaidAmount.Add(input.Amount)
	sale.refreshPaymentState()

	return &payment, nil
}

// AddSalePayment appends a payment to an existing sale. Allowed in any
// non-terminal state past draft, and on a completed sale that still has
// an open due. The payment row, the sale's derived payment state, the
// customer's balance, and the daily rollup all commit together.
func AddSalePayment(ctx context.Context, saleId int, input *NewSalePayment) (*Sale, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	db := config.GetDB()
	tx := db.Begin()

	var sale Sale
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("organization_id = ?", organizationId).
		First(&sale, saleId).Error
	if err != nil {
		tx.Rollback()
		return nil, utils.MapDBError(err, "Sale", saleId)
	}

	if sale.IsDeleted != nil && *sale.IsDeleted {
		tx.Rollback()
		return nil, utils.NewNotFoundError("Sale", saleId)
	}

	switch sale.CurrentStatus {
	case SaleStatusDraft:
		tx.Rollback()
		return nil, utils.NewValidationError("draft sale cannot take payments; confirm it first")
	case SaleStatusCancelled, SaleStatusReturned:
		tx.Rollback()
		return nil, utils.NewValidationError("sale is " + string(sale.CurrentStatus) + "; no further payments are accepted")
	case SaleStatusCompleted:
		if sale.DueAmount.LessThanOrEqual(decimal.Zero) {
			tx.Rollback()
			return nil, utils.NewValidationError("sale is fully settled; no further payments are accepted")
		}
	}

	payment, err := appendSalePayment(tx, ctx, &sale, input, actorIdFromContext(ctx))
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	err = tx.WithContext(ctx).Model(&sale).Updates(map[string]interface{}{
		"PaidAmount":    sale.PaidAmount,
		"DueAmount":     sale.DueAmount,
		"PaymentStatus": sale.PaymentStatus,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := ApplyPaymentToCustomerStats(tx, ctx, organizationId, sale.CustomerId, payment.Amount); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := AddPaymentToDailySummary(tx, organizationId, sale.ShopId, payment.PaymentDate, payment.Amount); err != nil {
		tx.Rollback()
		return nil, err
	}

	err = RecordAuditEvent(ctx, tx, organizationId, sale.ShopId, time.Now(), sale.ID, ReferenceTypeSale, payment, nil, AuditActionPayment)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	InvalidateShopCacheAfterCommit(ctx, sale.ShopId)

	return utils.FetchModel[Sale](ctx, organizationId, sale.ID, "Items", "Payments")
}

func GetSalePayments(ctx context.Context, saleId int) ([]*SalePayment, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	if err := utils.ValidateResourceId[Sale](ctx, organizationId, saleId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var results []*SalePayment
	err := db.WithContext(ctx).
		Where("organization_id = ? AND sale_id = ?", organizationId, saleId).
		Order("payment_date, id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
