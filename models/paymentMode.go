package models

import (
	"context"
	"errors"
	"time"

	"github.com/gempos/jewels_backend/config"
	"github.com/gempos/jewels_backend/utils"
	"gorm.io/gorm"
)

type PaymentMode struct {
	ID             int       `gorm:"primary_key" json:"id"`
	OrganizationId string    `gorm:"index;not null" json:"organization_id"`
	ShopId         int       `gorm:"index;not null" json:"shop_id"`
	Name           string    `gorm:"size:100;not null" json:"name" binding:"required"`
	RequiresRef    *bool     `gorm:"not null;default:false" json:"requires_ref"`
	IsActive       *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPaymentMode struct {
	Name        string `json:"name" binding:"required" validate:"required,max=100"`
	RequiresRef *bool  `json:"requires_ref"`
}

func (p PaymentMode) GetOrganizationId() string {
	return p.OrganizationId
}

// cheque and bank transfer payments must carry a reference number
var defaultPaymentModes = []struct {
	Name        string
	RequiresRef bool
}{
	{"Cash", false},
	{"Card", false},
	{"UPI", false},
	{"Bank Transfer", true},
	{"Cheque", true},
}

func CreateDefaultPaymentModes(tx *gorm.DB, ctx context.Context, organizationId string, shopId int) error {

	modes := make([]PaymentMode, 0, len(defaultPaymentModes))
	for _, m := range defaultPaymentModes {
		requiresRef := m.RequiresRef
		modes = append(modes, PaymentMode{
			OrganizationId: organizationId,
			ShopId:         shopId,
			Name:           m.Name,
			RequiresRef:    &requiresRef,
			IsActive:       utils.NewTrue(),
		})
	}
	if err := tx.WithContext(ctx).Create(&modes).Error; err != nil {
		tx.Rollback()
		return err
	}
	return nil
}

// validate input for both create & update. (id = 0 for create)

func (input *NewPaymentMode) validate(ctx context.Context, organizationId string, id int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	// name
	if err := utils.ValidateUnique[PaymentMode](ctx, organizationId, "name", input.Name, id); err != nil {
		return err
	}
	return nil
}

func CreatePaymentMode(ctx context.Context, shopId int, input *NewPaymentMode) (*PaymentMode, error) {

	db := config.GetDB()
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	if err := input.validate(ctx, organizationId, 0); err != nil {
		return nil, err
	}

	requiresRef := input.RequiresRef
	if requiresRef == nil {
		requiresRef = utils.NewFalse()
	}
	paymentMode := PaymentMode{
		OrganizationId: organizationId,
		ShopId:         shopId,
		Name:           input.Name,
		RequiresRef:    requiresRef,
		IsActive:       utils.NewTrue(),
	}

	err := db.WithContext(ctx).Create(&paymentMode).Error
	if err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisList[PaymentMode](shopId); err != nil {
		return nil, err
	}
	return &paymentMode, nil
}

func UpdatePaymentMode(ctx context.Context, id int, input *NewPaymentMode) (*PaymentMode, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	if err := input.validate(ctx, organizationId, id); err != nil {
		return nil, err
	}

	paymentMode, err := utils.FetchModel[PaymentMode](ctx, organizationId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	// db action
	err = db.WithContext(ctx).Model(&paymentMode).Updates(map[string]interface{}{
		"Name":        input.Name,
		"RequiresRef": input.RequiresRef,
	}).Error
	if err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisList[PaymentMode](paymentMode.ShopId); err != nil {
		return nil, err
	}
	return paymentMode, nil
}

func DeletePaymentMode(ctx context.Context, id int) (*PaymentMode, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	result, err := utils.FetchModel[PaymentMode](ctx, organizationId, id)
	if err != nil {
		return nil, err
	}

	// block deleting a mode with recorded payments, history must stay legible
	var used int64
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&SalePayment{}).
		Where("payment_mode_id = ?", id).Count(&used).Error; err != nil {
		return nil, err
	}
	if used > 0 {
		return nil, utils.NewValidationError("payment mode has recorded payments; deactivate it instead")
	}

	err = db.WithContext(ctx).Delete(&result).Error
	if err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisList[PaymentMode](result.ShopId); err != nil {
		return nil, err
	}
	return result, nil
}

func GetPaymentMode(ctx context.Context, id int) (*PaymentMode, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	return utils.FetchModel[PaymentMode](ctx, organizationId, id)
}

func GetPaymentModes(ctx context.Context, shopId int) ([]*PaymentMode, error) {
	return ListShopResource[PaymentMode](ctx, shopId, "name")
}

func ToggleActivePaymentMode(ctx context.Context, id int, isActive bool) (*PaymentMode, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	return ToggleActiveModel[PaymentMode](ctx, organizationId, id, isActive)
}
