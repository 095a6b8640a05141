package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gempos/jewels_backend/config"
	"github.com/gempos/jewels_backend/utils"
)

// Supplier mirrors Customer for the purchase side. The payable columns
// are written only through the accumulator functions, inside the
// purchase transaction.
type Supplier struct {
	ID             int    `gorm:"primary_key" json:"id"`
	OrganizationId string `gorm:"index;not null" json:"organization_id"`
	ShopId         int    `gorm:"index;not null" json:"shop_id"`
	Name           string `gorm:"size:100;not null" json:"name"`
	ContactName    string `gorm:"size:100" json:"contact_name"`
	Email          string `gorm:"size:100" json:"email"`
	Phone          string `gorm:"size:20;index" json:"phone"`
	Address        string `gorm:"size:255" json:"address"`
	GstNumber      string `gorm:"size:20" json:"gst_number"`
	Notes          string `gorm:"type:text" json:"notes"`

	TotalPurchases    int             `gorm:"default:0" json:"total_purchases"`
	TotalPurchased    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_purchased"`
	TotalPaid         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_paid"`
	BalancePayable    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance_payable"`
	LastPurchaseDate  *time.Time      `json:"last_purchase_date"`
	FirstPurchaseDate *time.Time      `json:"first_purchase_date"`

	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s Supplier) GetOrganizationId() string {
	return s.OrganizationId
}

type NewSupplier struct {
	Name        string `json:"name" binding:"required" validate:"required,max=100"`
	ContactName string `json:"contact_name" validate:"omitempty,max=100"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone" validate:"omitempty,max=20"`
	Address     string `json:"address" validate:"omitempty,max=255"`
	GstNumber   string `json:"gst_number" validate:"omitempty,max=20"`
	Notes       string `json:"notes"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewSupplier) validate(ctx context.Context, organizationId string, id int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if id > 0 {
		if err := utils.ValidateResourceId[Supplier](ctx, organizationId, id); err != nil {
			return err
		}
	}
	if err := utils.ValidateUnique[Supplier](ctx, organizationId, "name", input.Name, id); err != nil {
		return err
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, ""); err != nil {
			return utils.NewValidationError("invalid phone number")
		}
	}
	return nil
}

func CreateSupplier(ctx context.Context, shopId int, input *NewSupplier) (*Supplier, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	if err := utils.ValidateResourceId[Shop](ctx, organizationId, shopId); err != nil {
		return nil, err
	}
	if err := input.validate(ctx, organizationId, 0); err != nil {
		return nil, err
	}

	supplier := Supplier{
		OrganizationId: organizationId,
		ShopId:         shopId,
		Name:           strings.TrimSpace(input.Name),
		ContactName:    input.ContactName,
		Email:          input.Email,
		Phone:          input.Phone,
		Address:        input.Address,
		GstNumber:      input.GstNumber,
		Notes:          input.Notes,
		IsActive:       utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&supplier).Error; err != nil {
		return nil, utils.MapDBError(err, "Supplier", 0)
	}

	return &supplier, nil
}

func UpdateSupplier(ctx context.Context, id int, input *NewSupplier) (*Supplier, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	if err := input.validate(ctx, organizationId, id); err != nil {
		return nil, err
	}

	supplier, err := utils.FetchModel[Supplier](ctx, organizationId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(&supplier).Updates(map[string]interface{}{
		"Name":        strings.TrimSpace(input.Name),
		"ContactName": input.ContactName,
		"Email":       input.Email,
		"Phone":       input.Phone,
		"Address":     input.Address,
		"GstNumber":   input.GstNumber,
		"Notes":       input.Notes,
	}).Error
	if err != nil {
		return nil, utils.MapDBError(err, "Supplier", id)
	}

	if err := RemoveRedisBoth(*supplier); err != nil {
		return nil, err
	}

	return supplier, nil
}

func DeleteSupplier(ctx context.Context, id int) (*Supplier, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	supplier, err := utils.FetchModel[Supplier](ctx, organizationId, id)
	if err != nil {
		return nil, err
	}

	count, err := utils.ResourceCountWhere[Purchase](ctx, organizationId, "supplier_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, utils.NewConflictError("purchases recorded for this supplier; deactivate it instead")
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(&supplier).Error; err != nil {
		return nil, utils.MapDBError(err, "Supplier", id)
	}

	if err := RemoveRedisBoth(*supplier); err != nil {
		return nil, err
	}

	return supplier, nil
}

func ToggleActiveSupplier(ctx context.Context, id int, isActive bool) (*Supplier, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	return ToggleActiveModel[Supplier](ctx, organizationId, id, isActive)
}

func GetSupplier(ctx context.Context, id int) (*Supplier, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	return utils.FetchModel[Supplier](ctx, organizationId, id)
}

func GetSuppliers(ctx context.Context, shopId int, name *string) ([]*Supplier, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("organization_id = ?", organizationId)
	if shopId > 0 {
		dbCtx = dbCtx.Where("shop_id = ?", shopId)
	}
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}

	var results []*Supplier
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}

	return results, nil
}

/* accumulator */

func lockSupplierForStats(tx *gorm.DB, ctx context.Context, organizationId string, supplierId int) (*Supplier, error) {
	var supplier Supplier
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("organization_id = ?", organizationId).
		First(&supplier, supplierId).Error
	if err != nil {
		return nil, utils.MapDBError(err, "Supplier", supplierId)
	}
	return &supplier, nil
}

// ApplyPurchaseToSupplierStats records a received purchase against the
// supplier. The unpaid remainder lands on BalancePayable.
func ApplyPurchaseToSupplierStats(tx *gorm.DB, ctx context.Context, organizationId string, supplierId int, totalAmount decimal.Decimal, dueAmount decimal.Decimal, purchaseTime time.Time) error {
	supplier, err := lockSupplierForStats(tx, ctx, organizationId, supplierId)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"TotalPurchases":   supplier.TotalPurchases + 1,
		"TotalPurchased":   supplier.TotalPurchased.Add(totalAmount),
		"LastPurchaseDate": purchaseTime,
	}
	if supplier.FirstPurchaseDate == nil {
		updates["FirstPurchaseDate"] = purchaseTime
	}
	if dueAmount.GreaterThan(decimal.Zero) {
		updates["BalancePayable"] = supplier.BalancePayable.Add(dueAmount)
	}

	if err := tx.WithContext(ctx).Model(&supplier).Updates(updates).Error; err != nil {
		return utils.MapDBError(err, "Supplier", supplierId)
	}
	return nil
}

// ReversePurchaseFromSupplierStats undoes a received purchase when it is
// cancelled. outstandingDue is the still-unpaid remainder at reversal.
func ReversePurchaseFromSupplierStats(tx *gorm.DB, ctx context.Context, organizationId string, supplierId int, totalAmount decimal.Decimal, outstandingDue decimal.Decimal) error {
	supplier, err := lockSupplierForStats(tx, ctx, organizationId, supplierId)
	if err != nil {
		return err
	}

	totalPurchases := supplier.TotalPurchases - 1
	if totalPurchases < 0 {
		totalPurchases = 0
	}
	totalPurchased := supplier.TotalPurchased.Sub(totalAmount)
	if totalPurchased.LessThan(decimal.Zero) {
		totalPurchased = decimal.Zero
	}

	updates := map[string]interface{}{
		"TotalPurchases": totalPurchases,
		"TotalPurchased": totalPurchased,
	}
	if outstandingDue.GreaterThan(decimal.Zero) {
		payable := supplier.BalancePayable.Sub(outstandingDue)
		if payable.LessThan(decimal.Zero) {
			payable = decimal.Zero
		}
		updates["BalancePayable"] = payable
	}

	if err := tx.WithContext(ctx).Model(&supplier).Updates(updates).Error; err != nil {
		return utils.MapDBError(err, "Supplier", supplierId)
	}
	return nil
}

// ApplyPaymentToSupplierStats records money paid out against the
// supplier's open payable.
func ApplyPaymentToSupplierStats(tx *gorm.DB, ctx context.Context, organizationId string, supplierId int, amount decimal.Decimal) error {
	supplier, err := lockSupplierForStats(tx, ctx, organizationId, supplierId)
	if err != nil {
		return err
	}

	payable := supplier.BalancePayable.Sub(amount)
	if payable.LessThan(decimal.Zero) {
		payable = decimal.Zero
	}

	err = tx.WithContext(ctx).Model(&supplier).Updates(map[string]interface{}{
		"TotalPaid":      supplier.TotalPaid.Add(amount),
		"BalancePayable": payable,
	}).Error
	if err != nil {
		return utils.MapDBError(err, "Supplier", supplierId)
	}
	return nil
}
