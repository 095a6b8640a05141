package models

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"

	"github.com/gempos/jewels_backend/config"
	"github.com/gempos/jewels_backend/utils"
	"gorm.io/gorm"
)

type User struct {
	ID             int       `gorm:"primary_key" json:"id"`
	OrganizationId string    `gorm:"index" json:"organization_id"`
	Username       string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name           string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email          *string   `gorm:"size:100;unique" json:"email"`
	Phone          string    `gorm:"size:20" json:"phone"`
	Password       string    `gorm:"size:255;not null" json:"password"`
	IsActive       *bool     `gorm:"not null" json:"is_active"`
	Role           UserRole  `gorm:"type:enum('A', 'O', 'S');default:S" json:"role"`
	Shops          string    `json:"shops"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	OrganizationId string   `json:"organization_id"`
	Username       string   `json:"username" binding:"required" validate:"required,max=100"`
	Name           string   `json:"name" binding:"required" validate:"required,max=100"`
	Email          string   `json:"email" validate:"omitempty,email"`
	Phone          string   `json:"phone"`
	Password       string   `json:"password" binding:"required" validate:"required,min=8"`
	IsActive       *bool    `json:"is_active" binding:"required"`
	Role           UserRole `json:"role" binding:"required"`
	Shops          string   `json:"shops"`
}

/*
caches:
	User:$username
*/

func (user User) RemoveInstanceRedis() error {
	if err := config.RemoveRedisKey("User:" + user.Username); err != nil {
		return err
	}
	return nil
}

func (user User) RemoveAllRedis() error {
	return nil
}

func (result *User) PrepareGive() {
	result.Password = ""
}

func CreateDefaultOwner(tx *gorm.DB, ctx context.Context, organizationId string, email string, name string) (*User, error) {

	hashedPassword, err := utils.HashPassword("default123")
	if err != nil {
		return &User{}, err
	}

	owner := User{
		OrganizationId: organizationId,
		Username:       email,
		Name:           name,
		Email:          &email,
		Password:       string(hashedPassword),
		IsActive:       utils.NewTrue(),
		Role:           UserRoleOwner,
	}
	if err := tx.WithContext(ctx).Create(&owner).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	return &owner, nil
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {

	db := config.GetDB()
	var count int64

	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return nil, utils.NewValidationError("invalid email address")
	}

	err := db.WithContext(ctx).Model(&User{}).Where("username = ?", input.Username).Or("email = ?", input.Email).Count(&count).Error
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, utils.NewConflictError("duplicate username or email")
	}

	hashedPassword, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	input.Email = strings.ToLower(input.Email)

	user := User{
		Username:       html.EscapeString(strings.TrimSpace(input.Username)),
		OrganizationId: input.OrganizationId,
		Name:           input.Name,
		Email:          utils.NilIfEmpty(input.Email),
		Phone:          input.Phone,
		Password:       string(hashedPassword),
		IsActive:       input.IsActive,
		Role:           input.Role,
		Shops:          input.Shops,
	}

	err = db.WithContext(ctx).Create(&user).Error
	if err != nil {
		return nil, utils.MapDBError(err, "User", input.Username)
	}
	user.Password = ""
	return &user, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {

	db := config.GetDB()
	var result User

	err := db.WithContext(ctx).First(&result, id).Error
	if err != nil {
		return nil, utils.MapDBError(err, "User", id)
	}

	result.PrepareGive()

	return &result, nil
}

// GetUserByUsername reads the user, redis or db. Used on every request to
// resolve the actor before a lifecycle call.
func GetUserByUsername(ctx context.Context, username string) (*User, error) {

	user := User{}
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return nil, err
	}
	if !exists {
		db := config.GetDB()
		err = db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Take(&user).Error
		if err != nil {
			return nil, utils.MapDBError(err, "User", username)
		}
		if err := config.SetRedisObject("User:"+username, &user, 0); err != nil {
			return nil, err
		}
	}
	user.PrepareGive()
	return &user, nil
}

func UpdateUser(ctx context.Context, id int, input *NewUser) (*User, error) {

	db := config.GetDB()

	var user User
	if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, utils.MapDBError(err, "User", id)
	}

	var count int64
	if err := db.WithContext(ctx).Model(&User{}).
		Where("username = ? OR email = ?", input.Username, input.Email).
		Not("id = ?", id).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, utils.NewConflictError("duplicate email or username")
	}

	oldUsername := user.Username
	err := db.WithContext(ctx).Model(&user).Updates(User{
		Name:     input.Name,
		Email:    utils.NilIfEmpty(strings.ToLower(input.Email)),
		Username: input.Username,
		Phone:    input.Phone,
		IsActive: input.IsActive,
		Shops:    input.Shops,
	}).Error
	if err != nil {
		return nil, err
	}

	if err := config.RemoveRedisKey("User:" + oldUsername); err != nil {
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}

func ChangePassword(ctx context.Context, id int, oldPassword string, newPassword string) (bool, error) {

	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
		return false, utils.MapDBError(err, "User", id)
	}

	if err := utils.ComparePassword(user.Password, oldPassword); err != nil {
		return false, utils.NewValidationError("incorrect current password")
	}
	if len(newPassword) < 8 {
		return false, utils.NewValidationError("password must be at least 8 characters")
	}

	hashedPassword, err := utils.HashPassword(newPassword)
	if err != nil {
		return false, err
	}
	err = db.WithContext(ctx).Model(&user).UpdateColumn("Password", string(hashedPassword)).Error
	if err != nil {
		return false, err
	}
	if err := config.RemoveRedisKey("User:" + user.Username); err != nil {
		return false, err
	}
	return true, nil
}

// GetUsers lists the organization's users without password hashes.
func GetUsers(ctx context.Context) ([]*User, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	db := config.GetDB()
	var results []*User
	err := db.WithContext(ctx).
		Where("organization_id = ?", organizationId).
		Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	for _, u := range results {
		u.PrepareGive()
	}
	return results, nil
}
