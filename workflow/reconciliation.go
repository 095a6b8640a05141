package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gempos/jewels_backend/config"
	"github.com/gempos/jewels_backend/models"
	"github.com/gempos/jewels_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Reconciler rebuilds the materialized aggregates from their sources of
// record and writes a ReconciliationReport row for every value that does
// not match: product quantity counters against the inventory ledger, and
// customer statistics against the surviving sale history. With Repair set
// it also rewrites the drifted value inside a locked transaction.
//
// Run takes a distributed single-runner lock per cycle, so any number of
// instances can carry the job but only one executes at a time.
type Reconciler struct {
	DB     *gorm.DB
	Logger *logrus.Logger

	Interval time.Duration
	LockTTL  time.Duration
	Repair   bool
}

func NewReconciler(db *gorm.DB, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		DB:       db,
		Logger:   logger,
		Interval: time.Hour,
		LockTTL:  10 * time.Minute,
	}
}

// ReconcileSummary counts what one organization pass looked at and found.
type ReconcileSummary struct {
	OrganizationId   string
	CorrelationId    string
	ProductsChecked  int
	ProductDrift     int
	CustomersChecked int
	CustomerDrift    int
	Repaired         int
}

func (r *Reconciler) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.runCycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.Interval):
		}
	}
}

func (r *Reconciler) runCycle(ctx context.Context) {
	lock, err := utils.ObtainWorkerLock(ctx, "all-organizations", "reconciliation", r.LockTTL)
	if err != nil {
		if r.Logger != nil {
			r.Logger.WithFields(logrus.Fields{
				"job":    "reconciliation",
				"reason": err.Error(),
			}).Info("reconciliation cycle skipped")
		}
		return
	}
	defer func() { _ = lock.Release(context.Background()) }()

	if err := r.RunOnce(ctx); err != nil {
		config.LogError(r.Logger, "workflow", "runCycle", "Reconciliation run failed", nil, err)
	}
}

// RunOnce walks every active organization. A failure in one organization is
// logged and does not stop the rest of the pass.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "reconciliation.runOnce")
	defer span.End()

	if r.DB == nil {
		return fmt.Errorf("reconciler has no database handle")
	}

	var organizationIds []string
	err := r.DB.WithContext(ctx).Model(&models.Organization{}).
		Where("is_active = ?", true).
		Order("created_at ASC").
		Pluck("id", &organizationIds).Error
	if err != nil {
		return err
	}

	for _, organizationId := range organizationIds {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := r.ReconcileOrganization(ctx, organizationId); err != nil {
			config.LogError(r.Logger, "workflow", "RunOnce", "Reconciliation failed for organization", organizationId, err)
		}
	}
	return nil
}

// ReconcileOrganization runs both checks for one organization and returns
// what they found. Callers outside the Run loop (admin triggers, the verify
// tool) can use it directly.
func (r *Reconciler) ReconcileOrganization(ctx context.Context, organizationId string) (*ReconcileSummary, error) {
	ctx, span := tracer.Start(ctx, "reconciliation.organization")
	defer span.End()

	if organizationId == "" {
		return nil, fmt.Errorf("organization id is required")
	}

	correlationId, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || correlationId == "" {
		correlationId = uuid.NewString()
	}
	summary := &ReconcileSummary{
		OrganizationId: organizationId,
		CorrelationId:  correlationId,
	}

	if err := r.checkStockLedger(ctx, organizationId, summary); err != nil {
		return summary, err
	}
	if err := r.checkCustomerStats(ctx, organizationId, summary); err != nil {
		return summary, err
	}

	if r.Logger != nil {
		r.Logger.WithFields(logrus.Fields{
			"organization_id":   organizationId,
			"correlation_id":    correlationId,
			"products_checked":  summary.ProductsChecked,
			"product_drift":     summary.ProductDrift,
			"customers_checked": summary.CustomersChecked,
			"customer_drift":    summary.CustomerDrift,
			"repaired":          summary.Repaired,
		}).Info("reconciliation completed")
	}
	return summary, nil
}

type stockDriftRow struct {
	ProductId  int
	ShopId     int
	CounterQty string
	LedgerQty  string
}

// checkStockLedger compares every tracked product counter against the signed
// sum of its ledger rows. Stock conservation says the two are always equal,
// opening rows included.
func (r *Reconciler) checkStockLedger(ctx context.Context, organizationId string, summary *ReconcileSummary) error {
	now := time.Now().UTC()

	var checked int64
	_ = r.DB.WithContext(ctx).Model(&models.Product{}).
		Where("organization_id = ? AND is_stock_tracked = ?", organizationId, true).
		Count(&checked).Error
	summary.ProductsChecked = int(checked)

	var drifted []stockDriftRow
	err := r.DB.WithContext(ctx).Raw(`
		SELECT
			p.id AS product_id,
			p.shop_id AS shop_id,
			CAST(p.quantity AS CHAR) AS counter_qty,
			CAST(COALESCE(SUM(ie.quantity), 0) AS CHAR) AS ledger_qty
		FROM products p
		LEFT JOIN inventory_entries ie
		  ON ie.product_id = p.id
		 AND ie.organization_id = p.organization_id
		WHERE p.organization_id = ? AND p.is_stock_tracked = 1
		GROUP BY p.id
		HAVING ROUND(p.quantity, 4) <> ROUND(COALESCE(SUM(ie.quantity), 0), 4)
	`, organizationId).Scan(&drifted).Error
	if err != nil {
		return err
	}

	for _, row := range drifted {
		summary.ProductDrift++
		report := &models.ReconciliationReport{
			OrganizationId: organizationId,
			ShopId:         row.ShopId,
			CheckType:      "STOCK_LEDGER",
			EntityType:     "Product",
			EntityId:       row.ProductId,
			Expected:       row.CounterQty,
			Actual:         row.LedgerQty,
			Details:        fmt.Sprintf("quantity=%s != sum(inventory_entries.quantity)=%s", row.CounterQty, row.LedgerQty),
			CorrelationId:  summary.CorrelationId,
			CreatedAt:      now,
		}
		if r.Repair {
			if err := r.repairProductQuantity(ctx, organizationId, row.ProductId); err != nil {
				config.LogError(r.Logger, "workflow", "checkStockLedger", "Stock repair failed", row.ProductId, err)
			} else {
				report.Repaired = true
				summary.Repaired++
			}
		}
		if err := r.DB.WithContext(ctx).Create(report).Error; err != nil {
			return err
		}
	}
	return nil
}

// repairProductQuantity rewrites the counter from the ledger. The product
// row stays locked while the sum is taken, so a sale committing in between
// cannot be overwritten with a stale total.
func (r *Reconciler) repairProductQuantity(ctx context.Context, organizationId string, productId int) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product models.Product
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND organization_id = ?", productId, organizationId).
			First(&product).Error
		if err != nil {
			return err
		}

		var total decimal.NullDecimal
		err = tx.Model(&models.InventoryEntry{}).
			Where("organization_id = ? AND product_id = ?", organizationId, productId).
			Select("SUM(quantity)").Scan(&total).Error
		if err != nil {
			return err
		}
		ledgerQty := decimal.Zero
		if total.Valid {
			ledgerQty = total.Decimal
		}

		if product.Quantity.Equal(ledgerQty) {
			return nil
		}
		return tx.Model(&product).Update("Quantity", ledgerQty).Error
	})
}

// CustomerStatsSnapshot is what the sale history proves a customer's
// accumulators should read. CompletedOrders tracks TotalOrders exactly, so
// one count covers both columns.
type CustomerStatsSnapshot struct {
	TotalOrders       int
	TotalSpent        decimal.Decimal
	AverageOrderValue decimal.Decimal
	TotalDue          decimal.Decimal
}

// RecomputeCustomerStats derives the accumulator values from scratch.
// Cancelled sales contribute nothing, returned sales keep their order slot
// but give back the refunded amount, and whatever is still due on each
// surviving sale adds up to the customer's open due.
func RecomputeCustomerStats(sales []models.Sale) CustomerStatsSnapshot {
	snapshot := CustomerStatsSnapshot{
		TotalSpent:        decimal.Zero,
		AverageOrderValue: decimal.Zero,
		TotalDue:          decimal.Zero,
	}
	for _, sale := range sales {
		if sale.CurrentStatus == models.SaleStatusCancelled {
			continue
		}
		snapshot.TotalOrders++
		snapshot.TotalSpent = snapshot.TotalSpent.Add(sale.GrandTotal)
		snapshot.TotalDue = snapshot.TotalDue.Add(sale.DueAmount)
		if sale.CurrentStatus == models.SaleStatusReturned {
			snapshot.TotalSpent = snapshot.TotalSpent.Sub(sale.RefundAmount)
		}
	}
	if snapshot.TotalSpent.IsNegative() {
		snapshot.TotalSpent = decimal.Zero
	}
	if snapshot.TotalOrders > 0 {
		snapshot.AverageOrderValue = snapshot.TotalSpent.DivRound(decimal.NewFromInt(int64(snapshot.TotalOrders)), 4)
	}
	return snapshot
}

type customerCandidateRow struct {
	CustomerId int
	ShopId     int
}

// checkCustomerStats recomputes each customer's statistics from their
// non-deleted sales and reports any column that disagrees. A cancel run
// under the legacy no-reversal flag shows up here, which is the point:
// the accumulators are incremental, the sale history is the record.
func (r *Reconciler) checkCustomerStats(ctx context.Context, organizationId string, summary *ReconcileSummary) error {
	now := time.Now().UTC()

	var candidates []customerCandidateRow
	err := r.DB.WithContext(ctx).Raw(`
		SELECT c.id AS customer_id, c.shop_id AS shop_id
		FROM customers c
		WHERE c.organization_id = ?
		  AND (c.total_orders <> 0 OR c.total_spent <> 0 OR c.total_due <> 0
		       OR EXISTS (SELECT 1 FROM sales s WHERE s.customer_id = c.id AND s.is_deleted = 0))
		ORDER BY c.id ASC
	`, organizationId).Scan(&candidates).Error
	if err != nil {
		return err
	}
	summary.CustomersChecked = len(candidates)

	for _, candidate := range candidates {
		var customer models.Customer
		err := r.DB.WithContext(ctx).
			Where("id = ? AND organization_id = ?", candidate.CustomerId, organizationId).
			First(&customer).Error
		if err != nil {
			return err
		}

		var sales []models.Sale
		err = r.DB.WithContext(ctx).
			Select("id", "current_status", "grand_total", "due_amount", "refund_amount").
			Where("organization_id = ? AND customer_id = ? AND is_deleted = ?", organizationId, candidate.CustomerId, false).
			Find(&sales).Error
		if err != nil {
			return err
		}
		snapshot := RecomputeCustomerStats(sales)

		var driftedColumns []string
		if customer.TotalOrders != snapshot.TotalOrders {
			driftedColumns = append(driftedColumns, "total_orders")
		}
		if customer.CompletedOrders != snapshot.TotalOrders {
			driftedColumns = append(driftedColumns, "completed_orders")
		}
		if !customer.TotalSpent.Equal(snapshot.TotalSpent) {
			driftedColumns = append(driftedColumns, "total_spent")
		}
		if !customer.TotalDue.Equal(snapshot.TotalDue) {
			driftedColumns = append(driftedColumns, "total_due")
		}
		if !customer.AverageOrderValue.Equal(snapshot.AverageOrderValue) {
			driftedColumns = append(driftedColumns, "average_order_value")
		}
		if len(driftedColumns) == 0 {
			continue
		}

		summary.CustomerDrift++
		report := &models.ReconciliationReport{
			OrganizationId: organizationId,
			ShopId:         customer.ShopId,
			CheckType:      "CUSTOMER_STATS",
			EntityType:     "Customer",
			EntityId:       customer.ID,
			Expected: fmt.Sprintf("orders=%d spent=%s due=%s",
				customer.TotalOrders, customer.TotalSpent, customer.TotalDue),
			Actual: fmt.Sprintf("orders=%d spent=%s due=%s",
				snapshot.TotalOrders, snapshot.TotalSpent, snapshot.TotalDue),
			Details:       fmt.Sprintf("%s do not match the sale history", strings.Join(driftedColumns, ", ")),
			CorrelationId: summary.CorrelationId,
			CreatedAt:     now,
		}
		if r.Repair {
			if err := r.repairCustomerStats(ctx, organizationId, candidate.CustomerId); err != nil {
				config.LogError(r.Logger, "workflow", "checkCustomerStats", "Customer repair failed", candidate.CustomerId, err)
			} else {
				report.Repaired = true
				summary.Repaired++
			}
		}
		if err := r.DB.WithContext(ctx).Create(report).Error; err != nil {
			return err
		}
	}
	return nil
}

// repairCustomerStats rewrites the accumulators from the sale history. The
// customer row stays locked and the sales are re-read inside the same
// transaction, so a sale landing mid-repair is either fully in or fully out.
func (r *Reconciler) repairCustomerStats(ctx context.Context, organizationId string, customerId int) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var customer models.Customer
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND organization_id = ?", customerId, organizationId).
			First(&customer).Error
		if err != nil {
			return err
		}

		var sales []models.Sale
		err = tx.
			Select("id", "current_status", "grand_total", "due_amount", "refund_amount").
			Where("organization_id = ? AND customer_id = ? AND is_deleted = ?", organizationId, customerId, false).
			Find(&sales).Error
		if err != nil {
			return err
		}
		snapshot := RecomputeCustomerStats(sales)

		return tx.Model(&customer).Updates(map[string]interface{}{
			"TotalOrders":       snapshot.TotalOrders,
			"CompletedOrders":   snapshot.TotalOrders,
			"TotalSpent":        snapshot.TotalSpent,
			"AverageOrderValue": snapshot.AverageOrderValue,
			"TotalDue":          snapshot.TotalDue,
		}).Error
	})
}
