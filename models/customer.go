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

// Customer carries running lifetime statistics alongside the contact
// record. The statistic columns (TotalOrders through TotalDue) are
// written only by the accumulator functions below, inside the same
// transaction as the sale that moved them.
type Customer struct {
	ID             int    `gorm:"primary_key" json:"id"`
	OrganizationId string `gorm:"index;not null" json:"organization_id"`
	ShopId         int    `gorm:"index;not null" json:"shop_id"`
	Name           string `gorm:"size:100;not null" json:"name"`
	Email          string `gorm:"size:100" json:"email"`
	Phone          string `gorm:"size:20;index" json:"phone"`
	Address        string `gorm:"size:255" json:"address"`
	GstNumber      string `gorm:"size:20" json:"gst_number"`
	Notes          string `gorm:"type:text" json:"notes"`

	TotalOrders       int             `gorm:"default:0" json:"total_orders"`
	CompletedOrders   int             `gorm:"default:0" json:"completed_orders"`
	TotalSpent        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_spent"`
	AverageOrderValue decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"average_order_value"`
	TotalDue          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_due"`
	CurrentBalance    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_balance"`
	FirstOrderDate    *time.Time      `json:"first_order_date"`
	LastOrderDate     *time.Time      `json:"last_order_date"`

	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c Customer) GetOrganizationId() string {
	return c.OrganizationId
}

type NewCustomer struct {
	Name      string `json:"name" binding:"required" validate:"required,max=100"`
	Email     string `json:"email" validate:"omitempty,email"`
	Phone     string `json:"phone" validate:"omitempty,max=20"`
	Address   string `json:"address" validate:"omitempty,max=255"`
	GstNumber string `json:"gst_number" validate:"omitempty,max=20"`
	Notes     string `json:"notes"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewCustomer) validate(ctx context.Context, organizationId string, id int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if id > 0 {
		if err := utils.ValidateResourceId[Customer](ctx, organizationId, id); err != nil {
			return err
		}
	}
	// customers may share a name; phone and email identify them
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, ""); err != nil {
			return utils.NewValidationError("invalid phone number")
		}
		if err := utils.ValidateUnique[Customer](ctx, organizationId, "phone", input.Phone, id); err != nil {
			return err
		}
	}
	if input.Email != "" {
		if err := utils.ValidateUnique[Customer](ctx, organizationId, "email", input.Email, id); err != nil {
			return err
		}
	}
	return nil
}

func CreateCustomer(ctx context.Context, shopId int, input *NewCustomer) (*Customer, error) {
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

	customer := Customer{
		OrganizationId: organizationId,
		ShopId:         shopId,
		Name:           strings.TrimSpace(input.Name),
		Email:          input.Email,
		Phone:          input.Phone,
		Address:        input.Address,
		GstNumber:      input.GstNumber,
		Notes:          input.Notes,
		IsActive:       utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&customer).Error; err != nil {
		return nil, utils.MapDBError(err, "Customer", 0)
	}

	return &customer, nil
}

func UpdateCustomer(ctx context.Context, id int, input *NewCustomer) (*Customer, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	if err := input.validate(ctx, organizationId, id); err != nil {
		return nil, err
	}

	customer, err := utils.FetchModel[Customer](ctx, organizationId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(&customer).Updates(map[string]interface{}{
		"Name":      strings.TrimSpace(input.Name),
		"Email":     input.Email,
		"Phone":     input.Phone,
		"Address":   input.Address,
		"GstNumber": input.GstNumber,
		"Notes":     input.Notes,
	}).Error
	if err != nil {
		return nil, utils.MapDBError(err, "Customer", id)
	}

	if err := RemoveRedisBoth(*customer); err != nil {
		return nil, err
	}

	return customer, nil
}

func DeleteCustomer(ctx context.Context, id int) (*Customer, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	customer, err := utils.FetchModel[Customer](ctx, organizationId, id)
	if err != nil {
		return nil, err
	}

	count, err := utils.ResourceCountWhere[Sale](ctx, organizationId, "customer_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, utils.NewConflictError("sales recorded for this customer; deactivate it instead")
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(&customer).Error; err != nil {
		return nil, utils.MapDBError(err, "Customer", id)
	}

	if err := RemoveRedisBoth(*customer); err != nil {
		return nil, err
	}

	return customer, nil
}

func ToggleActiveCustomer(ctx context.Context, id int, isActive bool) (*Customer, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	return ToggleActiveModel[Customer](ctx, organizationId, id, isActive)
}

func GetCustomer(ctx context.Context, id int) (*Customer, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	return utils.FetchModel[Customer](ctx, organizationId, id)
}

func GetCustomers(ctx context.Context, shopId int, name *string, phone *string) ([]*Customer, error) {
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
	if phone != nil && len(*phone) > 0 {
		dbCtx = dbCtx.Where("phone LIKE ?", "%"+*phone+"%")
	}

	var results []*Customer
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}

	return results, nil
}

/* accumulator */

// lockCustomerForStats fetches the customer row under a row lock so
// concurrent sales against the same customer serialize their statistic
// updates. The caller owns the transaction.
func lockCustomerForStats(tx *gorm.DB, ctx context.Context, organizationId string, customerId int) (*Customer, error) {
	var customer Customer
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("organization_id = ?", organizationId).
		First(&customer, customerId).Error
	if err != nil {
		return nil, utils.MapDBError(err, "Customer", customerId)
	}
	return &customer, nil
}

func averageOrderValue(totalSpent decimal.Decimal, completedOrders int) decimal.Decimal {
	if completedOrders <= 0 {
		return decimal.Zero
	}
	return totalSpent.DivRound(decimal.NewFromInt(int64(completedOrders)), 4)
}

// ApplySaleToCustomerStats records a new sale in the customer's running
// statistics. An outstanding due raises TotalDue and pushes
// CurrentBalance negative until payments come in.
func ApplySaleToCustomerStats(tx *gorm.DB, ctx context.Context, organizationId string, customerId int, grandTotal decimal.Decimal, dueAmount decimal.Decimal, saleTime time.Time) error {
	customer, err := lockCustomerForStats(tx, ctx, organizationId, customerId)
	if err != nil {
		return err
	}

	totalSpent := customer.TotalSpent.Add(grandTotal)
	completedOrders := customer.CompletedOrders + 1

	updates := map[string]interface{}{
		"TotalOrders":       customer.TotalOrders + 1,
		"CompletedOrders":   completedOrders,
		"TotalSpent":        totalSpent,
		"AverageOrderValue": averageOrderValue(totalSpent, completedOrders),
		"LastOrderDate":     saleTime,
	}
	if customer.FirstOrderDate == nil {
		updates["FirstOrderDate"] = saleTime
	}
	if dueAmount.GreaterThan(decimal.Zero) {
		updates["TotalDue"] = customer.TotalDue.Add(dueAmount)
		updates["CurrentBalance"] = customer.CurrentBalance.Sub(dueAmount)
	}

	if err := tx.WithContext(ctx).Model(&customer).Updates(updates).Error; err != nil {
		return utils.MapDBError(err, "Customer", customerId)
	}
	return nil
}

// ReverseSaleFromCustomerStats undoes the creation-time effects when a
// sale is cancelled or deleted. outstandingDue is the still-unpaid
// remainder at reversal time; amounts already paid stay on
// CurrentBalance as credit the shop owes back.
func ReverseSaleFromCustomerStats(tx *gorm.DB, ctx context.Context, organizationId string, customerId int, grandTotal decimal.Decimal, outstandingDue decimal.Decimal) error {
	customer, err := lockCustomerForStats(tx, ctx, organizationId, customerId)
	if err != nil {
		return err
	}

	totalOrders := customer.TotalOrders - 1
	if totalOrders < 0 {
		totalOrders = 0
	}
	completedOrders := customer.CompletedOrders - 1
	if completedOrders < 0 {
		completedOrders = 0
	}
	totalSpent := customer.TotalSpent.Sub(grandTotal)
	if totalSpent.LessThan(decimal.Zero) {
		totalSpent = decimal.Zero
	}

	updates := map[string]interface{}{
		"TotalOrders":       totalOrders,
		"CompletedOrders":   completedOrders,
		"TotalSpent":        totalSpent,
		"AverageOrderValue": averageOrderValue(totalSpent, completedOrders),
	}
	if outstandingDue.GreaterThan(decimal.Zero) {
		totalDue := customer.TotalDue.Sub(outstandingDue)
		if totalDue.LessThan(decimal.Zero) {
			totalDue = decimal.Zero
		}
		updates["TotalDue"] = totalDue
		updates["CurrentBalance"] = customer.CurrentBalance.Add(outstandingDue)
	}

	if err := tx.WithContext(ctx).Model(&customer).Updates(updates).Error; err != nil {
		return utils.MapDBError(err, "Customer", customerId)
	}
	return nil
}

// ApplyPaymentToCustomerStats moves a received payment from TotalDue to
// CurrentBalance. Under the credit overpayment policy the amount may
// exceed the due; the excess stays on CurrentBalance as store credit.
func ApplyPaymentToCustomerStats(tx *gorm.DB, ctx context.Context, organizationId string, customerId int, amount decimal.Decimal) error {
	customer, err := lockCustomerForStats(tx, ctx, organizationId, customerId)
	if err != nil {
		return err
	}

	totalDue := customer.TotalDue.Sub(amount)
	if totalDue.LessThan(decimal.Zero) {
		totalDue = decimal.Zero
	}

	err = tx.WithContext(ctx).Model(&customer).Updates(map[string]interface{}{
		"TotalDue":       totalDue,
		"CurrentBalance": customer.CurrentBalance.Add(amount),
	}).Error
	if err != nil {
		return utils.MapDBError(err, "Customer", customerId)
	}
	return nil
}

// ApplyReturnToCustomerStats records a full return. The refund comes off
// lifetime spend and onto the balance; whatever was still due on the
// sale is forgiven since nothing further will be collected.
func ApplyReturnToCustomerStats(tx *gorm.DB, ctx context.Context, organizationId string, customerId int, refundAmount decimal.Decimal, outstandingDue decimal.Decimal) error {
	customer, err := lockCustomerForStats(tx, ctx, organizationId, customerId)
	if err != nil {
		return err
	}

	totalSpent := customer.TotalSpent.Sub(refundAmount)
	if totalSpent.LessThan(decimal.Zero) {
		totalSpent = decimal.Zero
	}

	balance := customer.CurrentBalance.Add(refundAmount)
	updates := map[string]interface{}{
		"TotalSpent":        totalSpent,
		"AverageOrderValue": averageOrderValue(totalSpent, customer.CompletedOrders),
		"CurrentBalance":    balance,
	}
	if outstandingDue.GreaterThan(decimal.Zero) {
		totalDue := customer.TotalDue.Sub(outstandingDue)
		if totalDue.LessThan(decimal.Zero) {
			totalDue = decimal.Zero
		}
		updates["TotalDue"] = totalDue
		updates["CurrentBalance"] = balance.Add(outstandingDue)
	}

	if err := tx.WithContext(ctx).Model(&customer).Updates(updates).Error; err != nil {
		return utils.MapDBError(err, "Customer", customerId)
	}
	return nil
}

// AdjustCustomerForSaleAmounts shifts the accumulators when an existing sale
// is re-priced (discount or old gold edits, draft updates). Order counts and
// dates stay untouched, only the money moves: lifetime spend follows the grand
// total, and the due delta moves between TotalDue and CurrentBalance.
func AdjustCustomerForSaleAmounts(tx *gorm.DB, ctx context.Context, organizationId string, customerId int, grandTotalDelta decimal.Decimal, dueDelta decimal.Decimal) error {
	if grandTotalDelta.IsZero() && dueDelta.IsZero() {
		return nil
	}
	customer, err := lockCustomerForStats(tx, ctx, organizationId, customerId)
	if err != nil {
		return err
	}

	totalSpent := customer.TotalSpent.Add(grandTotalDelta)
	if totalSpent.LessThan(decimal.Zero) {
		totalSpent = decimal.Zero
	}
	totalDue := customer.TotalDue.Add(dueDelta)
	if totalDue.LessThan(decimal.Zero) {
		totalDue = decimal.Zero
	}

	err = tx.WithContext(ctx).Model(&customer).Updates(map[string]interface{}{
		"TotalSpent":        totalSpent,
		"AverageOrderValue": averageOrderValue(totalSpent, customer.CompletedOrders),
		"TotalDue":          totalDue,
		"CurrentBalance":    customer.CurrentBalance.Sub(dueDelta),
	}).Error
	if err != nil {
		return utils.MapDBError(err, "Customer", customerId)
	}
	return nil
}
