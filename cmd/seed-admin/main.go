// seed-admin provisions a demo organization (primary shop, settings, default
// payment modes, owner user) and creates or updates the back-office admin user.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/gempos/jewels_backend/config"
	"github.com/gempos/jewels_backend/models"
	"github.com/gempos/jewels_backend/utils"
	"gorm.io/gorm"
)

const (
	defaultAdminUsername = "jewelsAdmin"
	defaultAdminPassword = "J3wels@dmin"
	adminName            = "Jewels Admin"
)

func main() {
	orgName := flag.String("org-name", "Demo Jewellers", "Organization to look up or create")
	orgEmail := flag.String("org-email", "owner@demojewellers.test", "Owner email for a newly created organization")
	shopName := flag.String("shop-name", "Main Shop", "Primary shop name for a newly created organization")
	adminUsername := flag.String("admin-username", defaultAdminUsername, "Admin username")
	adminPassword := flag.String("admin-password", defaultAdminPassword, "Admin password")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	// Seeding runs outside any request, so mark the context admin and skip
	// tenant scoping until an organization exists to scope to.
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Seed")
	ctx = utils.SetUsernameInContext(ctx, *adminUsername)
	ctx = utils.SetIsAdminInContext(ctx, true)
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	var organization models.Organization
	err := db.WithContext(ctx).Where("name = ?", *orgName).First(&organization).Error
	if err == gorm.ErrRecordNotFound {
		created, createErr := models.CreateOrganization(ctx, &models.NewOrganization{
			Name:     *orgName,
			Email:    *orgEmail,
			ShopName: *shopName,
		})
		if createErr != nil {
			fmt.Fprintf(os.Stderr, "failed to create organization: %v\n", createErr)
			os.Exit(1)
		}
		organization = *created
		fmt.Printf("Created organization: name=%q id=%s primary_shop_id=%d (owner username=%q)\n",
			organization.Name, organization.ID, organization.PrimaryShopId, *orgEmail)
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "failed to lookup organization: %v\n", err)
		os.Exit(1)
	}

	organizationId := organization.ID.String()
	ctx = utils.SetOrganizationIdInContext(ctx, organizationId)

	hashed, err := utils.HashPassword(*adminPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("username = ?", *adminUsername).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		// Create new admin user
		u := models.User{
			OrganizationId: organizationId,
			Username:       *adminUsername,
			Name:           adminName,
			Password:       hashedStr,
			IsActive:       utils.NewTrue(),
			Role:           models.UserRoleAdmin,
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q (role=Admin)\n", *adminUsername)
		return
	}

	// Update existing user: ensure password and admin role
	if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", *adminUsername).Updates(map[string]any{
		"password":        hashedStr,
		"name":            adminName,
		"is_active":       utils.NewTrue(),
		"organization_id": organizationId,
		"role":            models.UserRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	_ = existing.RemoveInstanceRedis()
	fmt.Printf("Updated admin user: username=%q (role=Admin)\n", *adminUsername)
}
