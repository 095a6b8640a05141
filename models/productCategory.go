package models

import (
	"context"
	"errors"
	"time"

	"github.com/gempos/jewels_backend/config"
	"github.com/gempos/jewels_backend/utils"
)

type ProductCategory struct {
	ID               int       `gorm:"primary_key" json:"id"`
	OrganizationId   string    `gorm:"index;not null" json:"organization_id"`
	ShopId           int       `gorm:"index;not null" json:"shop_id"`
	Name             string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	ParentCategoryId int       `gorm:"index;not null;default:0" json:"parent_category_id"`
	IsActive         *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProductCategory struct {
	Name             string `json:"name" binding:"required" validate:"required,max=100"`
	ParentCategoryId int    `json:"parent_category_id"`
}

func (pc ProductCategory) GetOrganizationId() string {
	return pc.OrganizationId
}

// get ids of associated products
func (pc ProductCategory) ProductIds(ctx context.Context) (ids []int, err error) {
	db := config.GetDB()
	err = db.WithContext(ctx).Model(&Product{}).
		Where("category_id = ?", pc.ID).
		Select("id").Scan(&ids).Error
	return
}

// validate input for both create & update. (id = 0 for create)

func (input *NewProductCategory) validate(ctx context.Context, organizationId string, id int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if id > 0 {
		if id == input.ParentCategoryId {
			return utils.NewValidationError("self-parent not allowed")
		}
	}
	// name
	if err := utils.ValidateUnique[ProductCategory](ctx, organizationId, "name", input.Name, id); err != nil {
		return err
	}
	// parent exists
	if input.ParentCategoryId > 0 {
		if err := utils.ValidateResourceId[ProductCategory](ctx, organizationId, input.ParentCategoryId); err != nil {
			return err
		}
	}
	return nil
}

func CreateProductCategory(ctx context.Context, shopId int, input *NewProductCategory) (*ProductCategory, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	if err := input.validate(ctx, organizationId, 0); err != nil {
		return nil, err
	}

	category := ProductCategory{
		OrganizationId:   organizationId,
		ShopId:           shopId,
		Name:             input.Name,
		ParentCategoryId: input.ParentCategoryId,
		IsActive:         utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&category).Error; err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisList[ProductCategory](shopId); err != nil {
		return nil, err
	}
	return &category, nil
}

func UpdateProductCategory(ctx context.Context, id int, input *NewProductCategory) (*ProductCategory, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	if err := input.validate(ctx, organizationId, id); err != nil {
		return nil, err
	}

	category, err := utils.FetchModel[ProductCategory](ctx, organizationId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(&category).Updates(map[string]interface{}{
		"Name":             input.Name,
		"ParentCategoryId": input.ParentCategoryId,
	}).Error
	if err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(*category); err != nil {
		return nil, err
	}
	return category, nil
}

func DeleteProductCategory(ctx context.Context, id int) (*ProductCategory, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	result, err := utils.FetchModel[ProductCategory](ctx, organizationId, id)
	if err != nil {
		return nil, err
	}

	productIds, err := result.ProductIds(ctx)
	if err != nil {
		return nil, err
	}
	if len(productIds) > 0 {
		return nil, utils.NewValidationError("category has products; reassign them first")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Delete(&result).Error
	if err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(*result); err != nil {
		return nil, err
	}
	return result, nil
}

func GetProductCategory(ctx context.Context, id int) (*ProductCategory, error) {
	return GetResource[ProductCategory](ctx, id)
}

func GetProductCategories(ctx context.Context, shopId int) ([]*ProductCategory, error) {
	return ListShopResource[ProductCategory](ctx, shopId, "name")
}
