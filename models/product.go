package models

import (
	"context"
	"errors"
	"time"

	"github.com/gempos/jewels_backend/config"
	"github.com/gempos/jewels_backend/utils"
	"github.com/shopspring/decimal"
)

// Product is a stock-bearing catalog item. Quantity is a counter backed by
// the inventory ledger: every change to it goes through ApplyStockDelta and
// leaves a ledger row, nothing writes it directly.
type Product struct {
	ID             int               `gorm:"primary_key" json:"id"`
	OrganizationId string            `gorm:"index;not null" json:"organization_id" binding:"required"`
	ShopId         int               `gorm:"index;not null" json:"shop_id"`
	CategoryId     int               `gorm:"index;not null;default:0" json:"category_id"`
	Name           string            `gorm:"size:100;not null" json:"name" binding:"required"`
	Description    string            `gorm:"type:text" json:"description"`
	Sku            string            `gorm:"size:100;not null" json:"sku" binding:"required"`
	HuidNumber     string            `gorm:"index;size:100" json:"huid_number"`
	MetalType      MetalType         `gorm:"type:enum('Gold','Silver','Platinum','Diamond','Other');default:Gold" json:"metal_type"`
	Purity         string            `gorm:"size:20" json:"purity"`
	GrossWeight    decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"gross_weight"`
	StoneWeight    decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"stone_weight"`
	StonePrice     decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"stone_price"`
	MakingCharges  decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"making_charges"`
	RatePerGram    decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"rate_per_gram"`
	GstPct         decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"gst_pct"`
	Quantity       decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	SaleStatus     ProductSaleStatus `gorm:"type:enum('Available','Reserved','Sold');default:Available" json:"sale_status"`
	IsStockTracked *bool             `gorm:"not null;default:true" json:"is_stock_tracked"`
	IsActive       *bool             `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	CategoryId     int             `json:"category_id"`
	Name           string          `json:"name" binding:"required" validate:"required,max=100"`
	Description    string          `json:"description"`
	Sku            string          `json:"sku" binding:"required" validate:"required,max=100"`
	HuidNumber     string          `json:"huid_number" validate:"max=100"`
	MetalType      MetalType       `json:"metal_type"`
	Purity         string          `json:"purity" validate:"max=20"`
	GrossWeight    decimal.Decimal `json:"gross_weight"`
	StoneWeight    decimal.Decimal `json:"stone_weight"`
	StonePrice     decimal.Decimal `json:"stone_price"`
	MakingCharges  decimal.Decimal `json:"making_charges"`
	RatePerGram    decimal.Decimal `json:"rate_per_gram"`
	GstPct         decimal.Decimal `json:"gst_pct"`
	IsStockTracked *bool           `json:"is_stock_tracked"`
	OpeningQty     decimal.Decimal `json:"opening_qty"`
	OpeningCost    decimal.Decimal `json:"opening_cost"`
}

func (p Product) GetOrganizationId() string {
	return p.OrganizationId
}

// validate input for both create & update. (id = 0 for create)

func (input *NewProduct) validate(ctx context.Context, organizationId string, id int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	// sku
	if err := utils.ValidateUnique[Product](ctx, organizationId, "sku", input.Sku, id); err != nil {
		return err
	}
	// category
	if input.CategoryId > 0 {
		if err := utils.ValidateResourceId[ProductCategory](ctx, organizationId, input.CategoryId); err != nil {
			return err
		}
	}
	if input.GrossWeight.IsNegative() || input.StoneWeight.IsNegative() {
		return utils.NewValidationError("weights cannot be negative")
	}
	if input.StoneWeight.GreaterThan(input.GrossWeight) {
		return utils.NewValidationError("stone weight cannot exceed gross weight")
	}
	if input.OpeningQty.IsNegative() {
		return utils.NewValidationError("opening quantity cannot be negative")
	}
	return nil
}

func CreateProduct(ctx context.Context, shopId int, input *NewProduct) (*Product, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	// validate product
	if err := input.validate(ctx, organizationId, 0); err != nil {
		return nil, err
	}

	metalType := input.MetalType
	if metalType == "" {
		metalType = MetalTypeGold
	}
	isStockTracked := input.IsStockTracked
	if isStockTracked == nil {
		isStockTracked = utils.NewTrue()
	}

	// store product
	product := Product{
		OrganizationId: organizationId,
		ShopId:         shopId,
		CategoryId:     input.CategoryId,
		Name:           input.Name,
		Description:    input.Description,
		Sku:            input.Sku,
		HuidNumber:     input.HuidNumber,
		MetalType:      metalType,
		Purity:         input.Purity,
		GrossWeight:    input.GrossWeight,
		StoneWeight:    input.StoneWeight,
		StonePrice:     input.StonePrice,
		MakingCharges:  input.MakingCharges,
		RatePerGram:    input.RatePerGram,
		GstPct:         input.GstPct,
		SaleStatus:     ProductSaleStatusAvailable,
		IsStockTracked: isStockTracked,
		IsActive:       utils.NewTrue(),
	}

	db := config.GetDB()
	tx := db.Begin()

	err := tx.WithContext(ctx).Create(&product).Error
	if err != nil {
		tx.Rollback()
		return nil, utils.MapDBError(err, "Product", input.Sku)
	}

	// opening stock goes through the ledger like every other quantity change
	if *isStockTracked && input.OpeningQty.IsPositive() {
		entry, err := ApplyStockDelta(tx.WithContext(ctx), StockDelta{
			OrganizationId: organizationId,
			ShopId:         shopId,
			ProductId:      product.ID,
			Quantity:       input.OpeningQty,
			Direction:      StockDirectionAdd,
			EntryType:      InventoryEntryTypeOpening,
			Reason:         "opening stock",
			UnitCost:       input.OpeningCost,
		})
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		product.Quantity = entry.NewQuantity
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	InvalidateShopCacheAfterCommit(ctx, shopId)
	return &product, nil
}

func UpdateProduct(ctx context.Context, id int, input *NewProduct) (*Product, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	if err := input.validate(ctx, organizationId, id); err != nil {
		return nil, err
	}

	product, err := utils.FetchModel[Product](ctx, organizationId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	// catalog fields only. Quantity and SaleStatus belong to the ledger.
	err = db.WithContext(ctx).Model(&product).Updates(map[string]interface{}{
		"CategoryId":    input.CategoryId,
		"Name":          input.Name,
		"Description":   input.Description,
		"Sku":           input.Sku,
		"HuidNumber":    input.HuidNumber,
		"MetalType":     input.MetalType,
		"Purity":        input.Purity,
		"GrossWeight":   input.GrossWeight,
		"StoneWeight":   input.StoneWeight,
		"StonePrice":    input.StonePrice,
		"MakingCharges": input.MakingCharges,
		"RatePerGram":   input.RatePerGram,
		"GstPct":        input.GstPct,
	}).Error
	if err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(*product); err != nil {
		return nil, err
	}
	return product, nil
}

func DeleteProduct(ctx context.Context, id int) (*Product, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	result, err := utils.FetchModel[Product](ctx, organizationId, id)
	if err != nil {
		return nil, err
	}

	if !result.Quantity.IsZero() {
		return nil, utils.NewValidationError("product still has stock on hand; adjust it to zero first")
	}

	db := config.GetDB()
	// ledger history must survive, so a referenced product can only be deactivated
	var ledgerRows int64
	if err := db.WithContext(ctx).Model(&InventoryEntry{}).
		Where("product_id = ?", id).Count(&ledgerRows).Error; err != nil {
		return nil, err
	}
	if ledgerRows > 0 {
		return nil, utils.NewValidationError("product has inventory history; deactivate it instead")
	}

	err = db.WithContext(ctx).Delete(&result).Error
	if err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(*result); err != nil {
		return nil, err
	}
	return result, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	return GetResource[Product](ctx, id)
}

type ProductFilter struct {
	Name       *string
	CategoryId *int
	MetalType  *MetalType
	SaleStatus *ProductSaleStatus
	IsActive   *bool
}

func GetProducts(ctx context.Context, shopId int, filter *ProductFilter) ([]*Product, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("organization_id = ? AND shop_id = ?", organizationId, shopId)
	if filter != nil {
		if filter.Name != nil && len(*filter.Name) > 0 {
			dbCtx = dbCtx.Where("name LIKE ?", "%"+*filter.Name+"%")
		}
		if filter.CategoryId != nil {
			dbCtx = dbCtx.Where("category_id = ?", *filter.CategoryId)
		}
		if filter.MetalType != nil {
			dbCtx = dbCtx.Where("metal_type = ?", *filter.MetalType)
		}
		if filter.SaleStatus != nil {
			dbCtx = dbCtx.Where("sale_status = ?", *filter.SaleStatus)
		}
		if filter.IsActive != nil {
			dbCtx = dbCtx.Where("is_active = ?", *filter.IsActive)
		}
	}

	var results []*Product
	err := dbCtx.Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func ToggleActiveProduct(ctx context.Context, id int, isActive bool) (*Product, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	return ToggleActiveModel[Product](ctx, organizationId, id, isActive)
}
