package models

import (
	"log"

	"github.com/gempos/jewels_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Organization{}, &Shop{}, &ShopSettings{}, &User{},
		&ProductCategory{}, &Product{},
		&Customer{}, &Supplier{}, &PaymentMode{},
		&Sale{}, &SaleItem{}, &OldGoldItem{}, &SalePayment{},
		&Purchase{}, &PurchaseItem{}, &PurchasePayment{},
		&InventoryEntry{}, &DailySummary{},
		&Document{},
		&AuditEventRecord{},
		&ReconciliationReport{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
