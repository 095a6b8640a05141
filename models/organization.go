package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gempos/jewels_backend/config"
	"github.com/gempos/jewels_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Organization struct {
	ID            uuid.UUID `gorm:"primary_key" json:"id"`
	Name          string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	ContactName   string    `gorm:"size:100" json:"contact_name"`
	Email         string    `gorm:"size:255" json:"email"`
	Phone         string    `gorm:"size:20" json:"phone"`
	Address       string    `gorm:"type:text" json:"address"`
	GstNumber     string    `gorm:"size:20" json:"gst_number"`
	Timezone      string    `gorm:"size:50" json:"timezone"`
	PrimaryShopId int       `gorm:"not null" json:"primary_shop_id"`
	IsActive      *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewOrganization struct {
	Name        string `json:"name" binding:"required" validate:"required,max=100"`
	ContactName string `json:"contact_name"`
	Email       string `json:"email" binding:"required" validate:"required,email"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	GstNumber   string `json:"gst_number"`
	Timezone    string `json:"timezone"`
	ShopName    string `json:"shop_name"`
}

type Shop struct {
	ID             int       `gorm:"primary_key" json:"id"`
	OrganizationId string    `gorm:"index;not null" json:"organization_id"`
	Name           string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Address        string    `gorm:"type:text" json:"address"`
	Phone          string    `gorm:"size:20" json:"phone"`
	IsActive       *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewShop struct {
	Name    string `json:"name" binding:"required" validate:"required,max=100"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// ShopSettings drives invoice numbering and the pricing policy knobs read by
// the sale calculator: GST default, discount ceiling, old gold appraisal
// deduction, refund on exchange.
type ShopSettings struct {
	ID                    int             `gorm:"primary_key" json:"id"`
	OrganizationId        string          `gorm:"index;not null" json:"organization_id"`
	ShopId                int             `gorm:"uniqueIndex;not null" json:"shop_id"`
	SaleInvoicePrefix     string          `gorm:"size:20;default:'INV-'" json:"sale_invoice_prefix"`
	PurchaseInvoicePrefix string          `gorm:"size:20;default:'PUR-'" json:"purchase_invoice_prefix"`
	DefaultGstPct         decimal.Decimal `gorm:"type:decimal(20,4);default:3" json:"default_gst_pct"`
	DiscountCeilingPct    decimal.Decimal `gorm:"type:decimal(20,4);default:100" json:"discount_ceiling_pct"`
	OldGoldDeductionPct   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"old_gold_deduction_pct"`
	AllowRefundOnExchange *bool           `gorm:"not null;default:false" json:"allow_refund_on_exchange"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewShopSettings struct {
	SaleInvoicePrefix     string          `json:"sale_invoice_prefix" validate:"max=20"`
	PurchaseInvoicePrefix string          `json:"purchase_invoice_prefix" validate:"max=20"`
	DefaultGstPct         decimal.Decimal `json:"default_gst_pct"`
	DiscountCeilingPct    decimal.Decimal `json:"discount_ceiling_pct"`
	OldGoldDeductionPct   decimal.Decimal `json:"old_gold_deduction_pct"`
	AllowRefundOnExchange *bool           `json:"allow_refund_on_exchange"`
}

func (organization *Organization) StoreRedis() error {
	return config.SetRedisObject("Organization:"+organization.ID.String(), organization, 0)
}

func (organization *Organization) RemoveRedis() error {
	return config.RemoveRedisKey("Organization:" + organization.ID.String())
}

func (s Shop) GetOrganizationId() string {
	return s.OrganizationId
}

func (s ShopSettings) GetOrganizationId() string {
	return s.OrganizationId
}

func (input *NewOrganization) validate(ctx context.Context, id string) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	// name
	if err := utils.ValidateUnique[Organization](ctx, "", "name", input.Name, id); err != nil {
		return err
	}
	// email
	if err := utils.ValidateUnique[Organization](ctx, "", "email", input.Email, id); err != nil {
		return err
	}
	// phone
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, ""); err != nil {
			return utils.NewValidationError("invalid phone number")
		}
		if err := utils.ValidateUnique[Organization](ctx, "", "phone", input.Phone, id); err != nil {
			return err
		}
	}
	return nil
}

// CreateOrganization provisions a tenant.
// - create the primary shop and its settings
// - create default payment modes
// - create the 'Owner' user
func CreateOrganization(ctx context.Context, input *NewOrganization) (*Organization, error) {

	if err := input.validate(ctx, ""); err != nil {
		return nil, err
	}
	db := config.GetDB()

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()

	OID := uuid.New()
	timezone := "Asia/Kolkata"
	if input.Timezone != "" {
		timezone = input.Timezone
	}
	organization := Organization{
		ID:          OID,
		Name:        input.Name,
		ContactName: input.ContactName,
		Email:       input.Email,
		Phone:       input.Phone,
		Address:     input.Address,
		GstNumber:   input.GstNumber,
		Timezone:    timezone,
		IsActive:    utils.NewTrue(),
	}
	if err := tx.WithContext(ctx).Create(&organization).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	organizationId := organization.ID.String()
	ctx = utils.SetOrganizationIdInContext(ctx, organizationId)

	shopName := input.ShopName
	if shopName == "" {
		shopName = "Main Shop"
	}
	shop := Shop{
		OrganizationId: organizationId,
		Name:           shopName,
		Address:        input.Address,
		Phone:          input.Phone,
		IsActive:       utils.NewTrue(),
	}
	if err := tx.WithContext(ctx).Create(&shop).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	settings := ShopSettings{
		OrganizationId:        organizationId,
		ShopId:                shop.ID,
		SaleInvoicePrefix:     "INV-",
		PurchaseInvoicePrefix: "PUR-",
		DefaultGstPct:         decimal.NewFromInt(3),
		DiscountCeilingPct:    decimal.NewFromInt(100),
		OldGoldDeductionPct:   decimal.Zero,
		AllowRefundOnExchange: utils.NewFalse(),
	}
	if err := tx.WithContext(ctx).Create(&settings).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := CreateDefaultPaymentModes(tx, ctx, organizationId, shop.ID); err != nil {
		tx.Rollback()
		return nil, err
	}

	if _, err := CreateDefaultOwner(tx, ctx, organizationId, organization.Email, organization.Name); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.WithContext(ctx).Model(&organization).
		UpdateColumn("PrimaryShopId", shop.ID).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	organization.PrimaryShopId = shop.ID

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return &organization, nil
}

func GetOrganizationById(ctx context.Context, id string) (*Organization, error) {

	var result Organization

	exists, err := config.GetRedisObject("Organization:"+id, &result)
	if err != nil {
		return nil, err
	}

	if !exists {
		db := config.GetDB()
		// db query
		err := db.WithContext(ctx).Where("id = ?", id).First(&result).Error
		if err != nil {
			return nil, utils.MapDBError(err, "Organization", id)
		}
		// caching
		if err := result.StoreRedis(); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

func GetOrganization(ctx context.Context) (*Organization, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	return GetOrganizationById(ctx, organizationId)
}

func CreateShop(ctx context.Context, input *NewShop) (*Shop, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[Shop](ctx, organizationId, "name", input.Name, 0); err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()

	shop := Shop{
		OrganizationId: organizationId,
		Name:           input.Name,
		Address:        input.Address,
		Phone:          input.Phone,
		IsActive:       utils.NewTrue(),
	}
	if err := tx.WithContext(ctx).Create(&shop).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	settings := ShopSettings{
		OrganizationId:        organizationId,
		ShopId:                shop.ID,
		SaleInvoicePrefix:     "INV-",
		PurchaseInvoicePrefix: "PUR-",
		DefaultGstPct:         decimal.NewFromInt(3),
		DiscountCeilingPct:    decimal.NewFromInt(100),
		OldGoldDeductionPct:   decimal.Zero,
		AllowRefundOnExchange: utils.NewFalse(),
	}
	if err := tx.WithContext(ctx).Create(&settings).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := CreateDefaultPaymentModes(tx, ctx, organizationId, shop.ID); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

func GetShop(ctx context.Context, id int) (*Shop, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	return utils.FetchModel[Shop](ctx, organizationId, id)
}

func GetShops(ctx context.Context) ([]*Shop, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	return utils.FetchAllModels[Shop](ctx, organizationId)
}

// GetShopSettings reads the pricing policy for a shop, redis or db.
func GetShopSettings(ctx context.Context, shopId int) (*ShopSettings, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	var result ShopSettings
	redisKey := fmt.Sprintf("ShopSettings:shop:%d", shopId)
	exists, err := config.GetRedisObject(redisKey, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		db := config.GetDB()
		err := db.WithContext(ctx).
			Where("organization_id = ? AND shop_id = ?", organizationId, shopId).
			First(&result).Error
		if err != nil {
			return nil, utils.MapDBError(err, "ShopSettings", shopId)
		}
		if err := config.SetRedisObject(redisKey, &result, utils.GetCacheLifespan()); err != nil {
			return nil, err
		}
	} else if result.OrganizationId != organizationId {
		return nil, errors.New("cannot access resource owned by other organization")
	}
	return &result, nil
}

func UpdateShopSettings(ctx context.Context, shopId int, input *NewShopSettings) (*ShopSettings, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.DiscountCeilingPct.IsNegative() || input.DiscountCeilingPct.GreaterThan(decimal.NewFromInt(100)) {
		return nil, utils.NewValidationError("discount ceiling must be between 0 and 100")
	}
	if input.OldGoldDeductionPct.IsNegative() || input.OldGoldDeductionPct.GreaterThan(decimal.NewFromInt(100)) {
		return nil, utils.NewValidationError("old gold deduction must be between 0 and 100")
	}
	if input.DefaultGstPct.IsNegative() {
		return nil, utils.NewValidationError("gst percentage cannot be negative")
	}

	db := config.GetDB()
	var settings ShopSettings
	err := db.WithContext(ctx).
		Where("organization_id = ? AND shop_id = ?", organizationId, shopId).
		First(&settings).Error
	if err != nil {
		return nil, utils.MapDBError(err, "ShopSettings", shopId)
	}

	err = db.WithContext(ctx).Model(&settings).Updates(map[string]interface{}{
		"SaleInvoicePrefix":     input.SaleInvoicePrefix,
		"PurchaseInvoicePrefix": input.PurchaseInvoicePrefix,
		"DefaultGstPct":         input.DefaultGstPct,
		"DiscountCeilingPct":    input.DiscountCeilingPct,
		"OldGoldDeductionPct":   input.OldGoldDeductionPct,
		"AllowRefundOnExchange": input.AllowRefundOnExchange,
	}).Error
	if err != nil {
		return nil, err
	}

	// settings and the derived invoice prefix map are both cached
	if err := config.RemoveRedisKey(fmt.Sprintf("ShopSettings:shop:%d", shopId)); err != nil {
		return nil, err
	}
	if err := config.RemoveRedisKey("invPrefixMap:" + fmt.Sprint(shopId)); err != nil {
		return nil, err
	}

	return &settings, nil
}
