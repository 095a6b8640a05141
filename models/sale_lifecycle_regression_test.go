package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/gempos/jewels_backend/config"
	"github.com/gempos/jewels_backend/models"
	"github.com/gempos/jewels_backend/utils"
	"github.com/gempos/jewels_backend/workflow"
)

func TestSaleLifecycleKeepsLedgerAndCustomerConsistent(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "jewels_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetUsernameInContext(ctx, "test@local")

	organization, err := models.CreateOrganization(ctx, &models.NewOrganization{
		Name:  "Test Jewellers",
		Email: "owner@test.local",
	})
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	organizationId := organization.ID.String()
	ctx = utils.SetOrganizationIdInContext(ctx, organizationId)
	shopId := organization.PrimaryShopId

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	customer, err := models.CreateCustomer(ctx, shopId, &models.NewCustomer{Name: "Asha"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}

	// 10g gold ring at 5000/g plus 500 making, 3% GST: line total 52015.
	product, err := models.CreateProduct(ctx, shopId, &models.NewProduct{
		Name:          "Gold Ring",
		Sku:           "RING-001",
		GrossWeight:   decimal.NewFromInt(10),
		RatePerGram:   decimal.NewFromInt(5000),
		MakingCharges: decimal.NewFromInt(500),
		GstPct:        decimal.NewFromInt(3),
		OpeningQty:    decimal.NewFromInt(10),
		OpeningCost:   decimal.NewFromInt(45000),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if !product.Quantity.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("opening quantity = %s, want 10", product.Quantity)
	}

	var cash models.PaymentMode
	if err := db.WithContext(ctx).Where("shop_id = ? AND name = ?", shopId, "Cash").First(&cash).Error; err != nil {
		t.Fatalf("fetch cash payment mode: %v", err)
	}

	// 1) Sell one ring. Stock leaves the shelf at creation and the money
	// figures come straight from the calculator.
	productId := product.ID
	sale, err := models.CreateSale(ctx, shopId, &models.NewSale{
		CustomerId: customer.ID,
		Items: []*models.NewSaleItem{
			{ProductId: &productId, Quantity: decimal.NewFromInt(1)},
		},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if sale.InvoiceNumber != "INV-1" {
		t.Fatalf("invoice number = %q, want INV-1", sale.InvoiceNumber)
	}
	if sale.CurrentStatus != models.SaleStatusConfirmed {
		t.Fatalf("status = %s, want Confirmed", sale.CurrentStatus)
	}
	if !sale.Subtotal.Equal(decimal.NewFromInt(50500)) {
		t.Fatalf("subtotal = %s, want 50500", sale.Subtotal)
	}
	if !sale.TotalGst.Equal(decimal.NewFromInt(1515)) {
		t.Fatalf("total gst = %s, want 1515", sale.TotalGst)
	}
	if !sale.GrandTotal.Equal(decimal.NewFromInt(52015)) {
		t.Fatalf("grand total = %s, want 52015", sale.GrandTotal)
	}
	if sale.PaymentStatus != models.PaymentStatusUnpaid {
		t.Fatalf("payment status = %s, want Unpaid", sale.PaymentStatus)
	}
	if !sale.DueAmount.Equal(decimal.NewFromInt(52015)) {
		t.Fatalf("due = %s, want 52015", sale.DueAmount)
	}

	var onShelf models.Product
	if err := db.WithContext(ctx).First(&onShelf, product.ID).Error; err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if !onShelf.Quantity.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("product quantity after sale = %s, want 9", onShelf.Quantity)
	}
	ledgerSum, err := models.SumLedgerDeltas(ctx, product.ID)
	if err != nil {
		t.Fatalf("SumLedgerDeltas: %v", err)
	}
	if !ledgerSum.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("ledger sum after sale = %s, want 9", ledgerSum)
	}
	saleEntries, err := models.GetLedgerEntriesForReference(
		db.WithContext(ctx), models.ReferenceTypeSale, sale.ID, models.InventoryEntryTypeSale)
	if err != nil {
		t.Fatalf("GetLedgerEntriesForReference: %v", err)
	}
	if len(saleEntries) != 1 {
		t.Fatalf("sale ledger rows = %d, want 1", len(saleEntries))
	}
	if !saleEntries[0].Quantity.Equal(decimal.NewFromInt(-1)) {
		t.Fatalf("sale ledger delta = %s, want -1", saleEntries[0].Quantity)
	}

	var buyer models.Customer
	if err := db.WithContext(ctx).First(&buyer, customer.ID).Error; err != nil {
		t.Fatalf("reload customer: %v", err)
	}
	if buyer.TotalOrders != 1 {
		t.Fatalf("total orders = %d, want 1", buyer.TotalOrders)
	}
	if !buyer.TotalSpent.Equal(decimal.NewFromInt(52015)) {
		t.Fatalf("total spent = %s, want 52015", buyer.TotalSpent)
	}
	if !buyer.TotalDue.Equal(decimal.NewFromInt(52015)) {
		t.Fatalf("total due = %s, want 52015", buyer.TotalDue)
	}
	if !buyer.AverageOrderValue.Equal(decimal.NewFromInt(52015)) {
		t.Fatalf("average order value = %s, want 52015", buyer.AverageOrderValue)
	}

	// 2) Settle the invoice in full.
	sale, err = models.AddSalePayment(ctx, sale.ID, &models.NewSalePayment{
		PaymentModeId: cash.ID,
		Amount:        decimal.NewFromInt(52015),
	})
	if err != nil {
		t.Fatalf("AddSalePayment: %v", err)
	}
	if sale.PaymentStatus != models.PaymentStatusPaid {
		t.Fatalf("payment status = %s, want Paid", sale.PaymentStatus)
	}
	if !sale.PaidAmount.Equal(decimal.NewFromInt(52015)) {
		t.Fatalf("paid = %s, want 52015", sale.PaidAmount)
	}
	if !sale.DueAmount.IsZero() {
		t.Fatalf("due after payment = %s, want 0", sale.DueAmount)
	}
	if err := db.WithContext(ctx).First(&buyer, customer.ID).Error; err != nil {
		t.Fatalf("reload customer: %v", err)
	}
	if !buyer.TotalDue.IsZero() {
		t.Fatalf("customer due after payment = %s, want 0", buyer.TotalDue)
	}

	// 3) Cancel. Stock comes back through reversal rows and the customer
	// counters unwind; the ledger keeps both sides of the story.
	sale, err = models.CancelSale(ctx, sale.ID, "customer changed their mind")
	if err != nil {
		t.Fatalf("CancelSale: %v", err)
	}
	if sale.CurrentStatus != models.SaleStatusCancelled {
		t.Fatalf("status = %s, want Cancelled", sale.CurrentStatus)
	}
	if !sale.DueAmount.IsZero() {
		t.Fatalf("due after cancel = %s, want 0", sale.DueAmount)
	}

	if err := db.WithContext(ctx).First(&onShelf, product.ID).Error; err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if !onShelf.Quantity.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("product quantity after cancel = %s, want 10", onShelf.Quantity)
	}
	ledgerSum, err = models.SumLedgerDeltas(ctx, product.ID)
	if err != nil {
		t.Fatalf("SumLedgerDeltas: %v", err)
	}
	if !ledgerSum.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("ledger sum after cancel = %s, want 10", ledgerSum)
	}

	var entries []models.InventoryEntry
	err = db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", models.ReferenceTypeSale, sale.ID).
		Order("id").Find(&entries).Error
	if err != nil {
		t.Fatalf("load sale ledger rows: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("sale ledger rows after cancel = %d, want 2 (entry + reversal)", len(entries))
	}
	if entries[0].EntryType != models.InventoryEntryTypeSale || entries[0].ReversedByEntryId == nil {
		t.Fatalf("original sale row not marked reversed: %+v", entries[0])
	}
	if entries[1].EntryType != models.InventoryEntryTypeAdjustment || !entries[1].IsReversal {
		t.Fatalf("reversal row wrong shape: %+v", entries[1])
	}
	net := decimal.Zero
	for _, entry := range entries {
		net = net.Add(entry.Quantity)
	}
	if !net.IsZero() {
		t.Fatalf("sale ledger rows net = %s, want 0", net)
	}

	if err := db.WithContext(ctx).First(&buyer, customer.ID).Error; err != nil {
		t.Fatalf("reload customer: %v", err)
	}
	if buyer.TotalOrders != 0 {
		t.Fatalf("total orders after cancel = %d, want 0", buyer.TotalOrders)
	}
	if !buyer.TotalSpent.IsZero() {
		t.Fatalf("total spent after cancel = %s, want 0", buyer.TotalSpent)
	}
	if !buyer.TotalDue.IsZero() {
		t.Fatalf("total due after cancel = %s, want 0", buyer.TotalDue)
	}

	// 4) Every mutation left an outbox row for the dispatcher.
	var events []models.AuditEventRecord
	err = db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", models.ReferenceTypeSale, sale.ID).
		Order("id").Find(&events).Error
	if err != nil {
		t.Fatalf("load outbox rows: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("outbox rows = %d, want 3", len(events))
	}
	wantActions := []models.AuditAction{models.AuditActionCreate, models.AuditActionPayment, models.AuditActionCancel}
	for i, event := range events {
		if event.Action != wantActions[i] {
			t.Fatalf("outbox row %d action = %s, want %s", i, event.Action, wantActions[i])
		}
		if event.PublishStatus != models.OutboxPublishStatusPending {
			t.Fatalf("outbox row %d publish status = %s, want PENDING", i, event.PublishStatus)
		}
	}

	// 5) The books are consistent, so the checker reports nothing.
	logger := logrus.New()
	reconciler := workflow.NewReconciler(db, logger)
	summary, err := reconciler.ReconcileOrganization(ctx, organizationId)
	if err != nil {
		t.Fatalf("ReconcileOrganization: %v", err)
	}
	if summary.ProductDrift != 0 || summary.CustomerDrift != 0 {
		t.Fatalf("clean books flagged drift: %+v", summary)
	}

	// 6) Skew the counter behind the ledger's back; the checker reports it.
	if err := db.Exec("UPDATE products SET quantity = quantity + 5 WHERE id = ?", product.ID).Error; err != nil {
		t.Fatalf("corrupt product counter: %v", err)
	}
	summary, err = reconciler.ReconcileOrganization(ctx, organizationId)
	if err != nil {
		t.Fatalf("ReconcileOrganization: %v", err)
	}
	if summary.ProductDrift != 1 {
		t.Fatalf("product drift = %d, want 1", summary.ProductDrift)
	}
	var driftReports []models.ReconciliationReport
	err = db.Where("organization_id = ? AND check_type = ?", organizationId, "STOCK_LEDGER").
		Find(&driftReports).Error
	if err != nil {
		t.Fatalf("load reconciliation reports: %v", err)
	}
	if len(driftReports) == 0 {
		t.Fatalf("no reconciliation report row written for the drift")
	}

	// 7) A repair run writes the ledger's answer back onto the counter.
	reconciler.Repair = true
	summary, err = reconciler.ReconcileOrganization(ctx, organizationId)
	if err != nil {
		t.Fatalf("ReconcileOrganization(repair): %v", err)
	}
	if summary.Repaired == 0 {
		t.Fatalf("repair run repaired nothing: %+v", summary)
	}
	if err := db.WithContext(ctx).First(&onShelf, product.ID).Error; err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if !onShelf.Quantity.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("product quantity after repair = %s, want 10", onShelf.Quantity)
	}
}

func TestConcurrentSalesCannotOversellLastUnit(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "jewels_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetUsernameInContext(ctx, "test@local")

	organization, err := models.CreateOrganization(ctx, &models.NewOrganization{
		Name:  "Race Jewellers",
		Email: "race@test.local",
	})
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	organizationId := organization.ID.String()
	ctx = utils.SetOrganizationIdInContext(ctx, organizationId)
	shopId := organization.PrimaryShopId

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	customer, err := models.CreateCustomer(ctx, shopId, &models.NewCustomer{Name: "Ravi"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	product, err := models.CreateProduct(ctx, shopId, &models.NewProduct{
		Name:        "Gold Band",
		Sku:         "BAND-001",
		GrossWeight: decimal.NewFromInt(5),
		RatePerGram: decimal.NewFromInt(5000),
		GstPct:      decimal.NewFromInt(3),
		OpeningQty:  decimal.NewFromInt(1),
		OpeningCost: decimal.NewFromInt(24000),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	// Two clerks sell the last band at the same moment. The row lock inside
	// the stock apply makes exactly one of them win.
	productId := product.ID
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = models.CreateSale(ctx, shopId, &models.NewSale{
				CustomerId: customer.ID,
				Items: []*models.NewSaleItem{
					{ProductId: &productId, Quantity: decimal.NewFromInt(1)},
				},
			})
		}(i)
	}
	wg.Wait()

	var sold, rejected int
	for _, saleErr := range errs {
		switch {
		case saleErr == nil:
			sold++
		case utils.IsInsufficientStock(saleErr):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", saleErr)
		}
	}
	if sold != 1 || rejected != 1 {
		t.Fatalf("sold=%d rejected=%d, want exactly one of each", sold, rejected)
	}

	var band models.Product
	if err := db.WithContext(ctx).First(&band, product.ID).Error; err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if !band.Quantity.IsZero() {
		t.Fatalf("quantity = %s, want 0", band.Quantity)
	}
	if band.SaleStatus != models.ProductSaleStatusSold {
		t.Fatalf("sale status = %s, want Sold", band.SaleStatus)
	}

	ledgerSum, err := models.SumLedgerDeltas(ctx, product.ID)
	if err != nil {
		t.Fatalf("SumLedgerDeltas: %v", err)
	}
	if !ledgerSum.IsZero() {
		t.Fatalf("ledger sum = %s, want 0", ledgerSum)
	}
	var saleRows int64
	err = db.WithContext(ctx).Model(&models.InventoryEntry{}).
		Where("product_id = ? AND entry_type = ?", product.ID, models.InventoryEntryTypeSale).
		Count(&saleRows).Error
	if err != nil {
		t.Fatalf("count sale ledger rows: %v", err)
	}
	if saleRows != 1 {
		t.Fatalf("sale ledger rows = %d, want 1 (the loser must leave no trace)", saleRows)
	}

	var buyer models.Customer
	if err := db.WithContext(ctx).First(&buyer, customer.ID).Error; err != nil {
		t.Fatalf("reload customer: %v", err)
	}
	if buyer.TotalOrders != 1 {
		t.Fatalf("total orders = %d, want 1", buyer.TotalOrders)
	}

	logger := logrus.New()
	reconciler := workflow.NewReconciler(db, logger)
	summary, err := reconciler.ReconcileOrganization(ctx, organizationId)
	if err != nil {
		t.Fatalf("ReconcileOrganization: %v", err)
	}
	if summary.ProductDrift != 0 || summary.CustomerDrift != 0 {
		t.Fatalf("books drifted after the race: %+v", summary)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("jewels-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("jewels-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=jewels_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
