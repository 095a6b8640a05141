package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gempos/jewels_backend/config"
	"github.com/gempos/jewels_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Purchase records stock bought in from a supplier. Same engine shape as a
// sale run in reverse: receiving writes incoming ledger entries, cancelling
// reverses them, payments move the supplier payable instead of the customer
// balance. The lifecycle is flat: Draft, Received, Cancelled.
type Purchase struct {
	ID                int            `gorm:"primary_key" json:"id"`
	OrganizationId    string         `gorm:"index;not null" json:"organization_id"`
	ShopId            int            `gorm:"uniqueIndex:idx_purchase_shop_invoice,priority:1;not null" json:"shop_id"`
	InvoiceNumber     string         `gorm:"uniqueIndex:idx_purchase_shop_invoice,priority:2;size:100;not null" json:"invoice_number"`
	SequenceNo        int64          `gorm:"not null;default:0" json:"sequence_no"`
	SupplierId        int            `gorm:"index;not null" json:"supplier_id"`
	SupplierInvoiceNo string         `gorm:"size:100" json:"supplier_invoice_no"`
	PurchaseDate      time.Time      `gorm:"index;not null" json:"purchase_date"`
	CurrentStatus     PurchaseStatus `gorm:"type:enum('Draft','Received','Cancelled');default:'Draft'" json:"current_status"`

	Items     []PurchaseItem    `gorm:"foreignKey:PurchaseId" json:"items"`
	Payments  []PurchasePayment `gorm:"foreignKey:PurchaseId" json:"payments"`
	Documents []*Document       `gorm:"polymorphic:Reference" json:"documents"`

	Subtotal      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	TotalGst      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_gst"`
	GrandTotal    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"grand_total"`
	PaidAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"paid_amount"`
	DueAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"due_amount"`
	PaymentStatus PaymentStatus   `gorm:"type:enum('Unpaid','Partial','Paid');default:'Unpaid'" json:"payment_status"`

	Notes        string     `gorm:"type:text" json:"notes"`
	CreatedBy    int        `gorm:"index;default:0" json:"created_by"`
	ReceivedAt   *time.Time `json:"received_at"`
	CancelReason string     `gorm:"size:255" json:"cancel_reason"`
	CancelledAt  *time.Time `json:"cancelled_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PurchaseItem is one line of incoming stock. UnitCost and GstAmount are
// per-unit; LineTotal covers the full quantity. Catalog fields are snapshots.
type PurchaseItem struct {
	ID             int             `gorm:"primary_key" json:"id"`
	PurchaseId     int             `gorm:"index;not null" json:"purchase_id"`
	ProductId      int             `gorm:"index;not null" json:"product_id"`
	Name           string          `gorm:"size:100;not null" json:"name"`
	MetalType      MetalType       `gorm:"type:enum('Gold','Silver','Platinum','Diamond','Other');default:Gold" json:"metal_type"`
	Purity         string          `gorm:"size:20" json:"purity"`
	GrossWeight    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"gross_weight"`
	Quantity       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitCost       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	GstPct         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"gst_pct"`
	GstAmount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"gst_amount"`
	LineTotal      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"line_total"`
	IsStockTracked *bool           `gorm:"not null;default:false" json:"is_stock_tracked"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchasePayment struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrganizationId string          `gorm:"index;not null" json:"organization_id"`
	ShopId         int             `gorm:"index;not null" json:"shop_id"`
	PurchaseId     int             `gorm:"index;not null" json:"purchase_id"`
	PaymentModeId  int             `gorm:"not null" json:"payment_mode_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	ReferenceNo    string          `gorm:"size:100" json:"reference_no"`
	Notes          string          `gorm:"size:255" json:"notes"`
	PaymentDate    time.Time       `gorm:"not null" json:"payment_date"`
	PaidBy         int             `json:"paid_by"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (purchase Purchase) GetOrganizationId() string {
	return purchase.OrganizationId
}

type NewPurchase struct {
	SupplierId        int                   `json:"supplier_id" binding:"required" validate:"required"`
	SupplierInvoiceNo string                `json:"supplier_invoice_no" validate:"max=100"`
	PurchaseDate      *time.Time            `json:"purchase_date"`
	Status            *PurchaseStatus       `json:"status"`
	Items             []*NewPurchaseItem    `json:"items" binding:"required" validate:"required,dive,required"`
	Payments          []*NewPurchasePayment `json:"payments" validate:"dive,required"`
	Documents         []*NewDocument        `json:"documents"`
	Notes             string                `json:"notes"`
}

type NewPurchaseItem struct {
	ProductId int              `json:"product_id" binding:"required" validate:"required"`
	Quantity  decimal.Decimal  `json:"quantity" binding:"required"`
	UnitCost  decimal.Decimal  `json:"unit_cost"`
	GstPct    *decimal.Decimal `json:"gst_pct"`
}

type NewPurchasePayment struct {
	PaymentModeId int             `json:"payment_mode_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	ReferenceNo   string          `json:"reference_no" validate:"omitempty,max=100"`
	Notes         string          `json:"notes" validate:"omitempty,max=255"`
	PaymentDate   *time.Time      `json:"payment_date"`
}

type PurchaseFilter struct {
	Status        *PurchaseStatus `json:"status"`
	PaymentStatus *PaymentStatus  `json:"payment_status"`
	SupplierId    *int            `json:"supplier_id"`
	FromDate      *time.Time      `json:"from_date"`
	ToDate        *time.Time      `json:"to_date"`
	InvoiceNumber *string         `json:"invoice_number"`
}

func (input *NewPurchase) validate(ctx context.Context, organizationId string, requestedStatus PurchaseStatus) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}

	switch requestedStatus {
	case PurchaseStatusDraft, PurchaseStatusReceived:
	default:
		return utils.NewValidationError("a purchase can only be created as Draft or Received")
	}
	if requestedStatus == PurchaseStatusDraft && len(input.Payments) > 0 {
		return utils.NewValidationError("draft purchase cannot take payments")
	}

	supplier, err := utils.FetchModel[Supplier](ctx, organizationId, input.SupplierId)
	if err != nil {
		return err
	}
	if supplier.IsActive != nil && !*supplier.IsActive {
		return utils.NewValidationErrorf("supplier %s is inactive", supplier.Name)
	}
	return nil
}

func (purchase *Purchase) refreshPaymentState() {
	status, due := DerivePaymentStatus(purchase.GrandTotal, purchase.PaidAmount)
	purchase.PaymentStatus = status
	purchase.DueAmount = due
}

func fetchPurchaseForUpdate(tx *gorm.DB, ctx context.Context, organizationId string, purchaseId int) (*Purchase, error) {
	var purchase Purchase
	err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND organization_id = ?", purchaseId, organizationId).
		First(&purchase).Error
	if err != nil {
		return nil, utils.MapDBError(err, "Purchase", purchaseId)
	}
	return &purchase, nil
}

// resolvePurchaseItems snapshots the catalog row into each line and computes
// the per-unit GST and line total. Every line must reference a product;
// goods that never existed in the catalog cannot enter stock.
func resolvePurchaseItems(ctx context.Context, organizationId string, inputs []*NewPurchaseItem, policy PricingPolicy) ([]PurchaseItem, error) {
	items := make([]PurchaseItem, 0, len(inputs))

	for _, input := range inputs {
		if input.Quantity.LessThanOrEqual(decimal.Zero) {
			return nil, utils.NewValidationError("purchase quantity must be greater than zero")
		}
		if input.UnitCost.LessThan(decimal.Zero) {
			return nil, utils.NewValidationError("unit cost cannot be negative")
		}

		product, err := utils.FetchModel[Product](ctx, organizationId, input.ProductId)
		if err != nil {
			return nil, err
		}
		if product.IsActive != nil && !*product.IsActive {
			return nil, utils.NewValidationErrorf("product %s is inactive", product.Name)
		}

		gstPct := policy.DefaultGstPct
		if product.GstPct.GreaterThan(decimal.Zero) {
			gstPct = product.GstPct
		}
		if input.GstPct != nil {
			gstPct = *input.GstPct
		}

		item := PurchaseItem{
			ProductId:      product.ID,
			Name:           product.Name,
			MetalType:      product.MetalType,
			Purity:         product.Purity,
			GrossWeight:    product.GrossWeight,
			Quantity:       input.Quantity,
			UnitCost:       input.UnitCost,
			GstPct:         gstPct,
			IsStockTracked: utils.NewFalse(),
		}
		if product.IsStockTracked == nil || *product.IsStockTracked {
			item.IsStockTracked = utils.NewTrue()
		}
		item.GstAmount = item.UnitCost.Mul(gstPct).DivRound(decimal.NewFromInt(100), 4)
		item.LineTotal = item.UnitCost.Add(item.GstAmount).Mul(item.Quantity)

		items = append(items, item)
	}
	return items, nil
}

func (purchase *Purchase) computeTotals() {
	subtotal := decimal.Zero
	totalGst := decimal.Zero
	for _, item := range purchase.Items {
		subtotal = subtotal.Add(item.UnitCost.Mul(item.Quantity))
		totalGst = totalGst.Add(item.GstAmount.Mul(item.Quantity))
	}
	purchase.Subtotal = subtotal
	purchase.TotalGst = totalGst
	purchase.GrandTotal = subtotal.Add(totalGst)
}

// applyPurchaseStock writes one incoming PURCHASE ledger entry per
// stock-tracked line. Runs when the purchase is received, never for drafts.
func applyPurchaseStock(tx *gorm.DB, ctx context.Context, purchase *Purchase) error {
	refType := ReferenceTypePurchase
	for i := range purchase.Items {
		item := &purchase.Items[i]
		if item.IsStockTracked == nil || !*item.IsStockTracked {
			continue
		}
		_, err := ApplyStockDelta(tx.WithContext(ctx), StockDelta{
			OrganizationId: purchase.OrganizationId,
			ShopId:         purchase.ShopId,
			ProductId:      item.ProductId,
			Quantity:       item.Quantity,
			Direction:      StockDirectionAdd,
			EntryType:      InventoryEntryTypePurchase,
			EntryDate:      purchase.PurchaseDate,
			Reason:         "purchase " + purchase.InvoiceNumber,
			UnitCost:       item.UnitCost,
			ReferenceType:  &refType,
			ReferenceId:    purchase.ID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// restorePurchaseStock reverses the un-reversed PURCHASE rows. Taking the
// goods back out re-checks availability, so cancelling a received purchase
// whose pieces were already sold fails with an insufficient stock error
// instead of driving the counter negative.
func restorePurchaseStock(tx *gorm.DB, purchase *Purchase, reason string) error {
	entries, err := GetLedgerEntriesForReference(tx, ReferenceTypePurchase, purchase.ID, InventoryEntryTypePurchase)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if _, err := ReverseStockEntry(tx, entry, InventoryEntryTypeAdjustment, entry.Quantity.Abs(), reason); err != nil {
			return err
		}
	}
	return nil
}

func receivePurchaseInTx(tx *gorm.DB, ctx context.Context, purchase *Purchase, receivedAt time.Time) error {
	if err := applyPurchaseStock(tx, ctx, purchase); err != nil {
		return err
	}
	err := tx.WithContext(ctx).Model(purchase).Updates(map[string]interface{}{
		"CurrentStatus": PurchaseStatusReceived,
		"ReceivedAt":    &receivedAt,
	}).Error
	if err != nil {
		return err
	}
	purchase.CurrentStatus = PurchaseStatusReceived
	purchase.ReceivedAt = &receivedAt
	return nil
}

// appendPurchasePayment writes one payment row against a locked purchase
// and updates its payment fields in memory. Mirrors the sale side: the
// caller owns the transaction and persists the purchase columns afterwards.
func appendPurchasePayment(tx *gorm.DB, ctx context.Context, purchase *Purchase, input *NewPurchasePayment, paidBy int) (*PurchasePayment, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, utils.NewValidationError("payment amount must be greater than zero")
	}

	mode, err := utils.FetchModel[PaymentMode](ctx, purchase.OrganizationId, input.PaymentModeId)
	if err != nil {
		return nil, err
	}
	if mode.ShopId != purchase.ShopId {
		return nil, utils.NewValidationError("payment mode belongs to another shop")
	}
	if mode.IsActive == nil || !*mode.IsActive {
		return nil, utils.NewValidationError("payment mode is inactive")
	}
	if mode.RequiresRef != nil && *mode.RequiresRef && input.ReferenceNo == "" {
		return nil, utils.NewValidationErrorf("payment mode %s requires a reference number", mode.Name)
	}

	if input.Amount.GreaterThan(purchase.DueAmount) && config.OverpaymentPolicy() == config.OverpaymentPolicyReject {
		return nil, utils.NewValidationErrorf("payment %s exceeds due amount %s",
			input.Amount.String(), purchase.DueAmount.String())
	}

	paymentDate := time.Now()
	if input.PaymentDate != nil {
		paymentDate = *input.PaymentDate
	}

	payment := PurchasePayment{
		OrganizationId: purchase.OrganizationId,
		ShopId:         purchase.ShopId,
		PurchaseId:     purchase.ID,
		PaymentModeId:  input.PaymentModeId,
		Amount:         input.Amount,
		ReferenceNo:    input.ReferenceNo,
		Notes:          input.Notes,
		PaymentDate:    paymentDate,
		PaidBy:         paidBy,
	}
	if err := tx.WithContext(ctx).Create(&payment).Error; err != nil {
		return nil, utils.MapDBError(err, "PurchasePayment", 0)
	}

	purchase.PaidAmount = purchase.PaidAmount.Add(input.Amount)
	purchase.refreshPaymentState()

	return &payment, nil
}

func CreatePurchase(ctx context.Context, shopId int, input *NewPurchase) (*Purchase, error) {
	db := config.GetDB()

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)

	// Received is the default: a purchase is usually entered with the goods
	// already on the counter. Created as Draft and received inside the same
	// transaction, one status path for everything.
	requestedStatus := PurchaseStatusReceived
	if input.Status != nil {
		requestedStatus = *input.Status
	}

	if err := input.validate(ctx, organizationId, requestedStatus); err != nil {
		return nil, err
	}

	settings, err := GetShopSettings(ctx, shopId)
	if err != nil {
		return nil, err
	}

	purchaseDate := time.Now()
	if input.PurchaseDate != nil {
		purchaseDate = *input.PurchaseDate
	}

	items, err := resolvePurchaseItems(ctx, organizationId, input.Items, settings.PricingPolicy())
	if err != nil {
		return nil, err
	}
	documents, err := mapNewDocuments(input.Documents, "purchases", 0)
	if err != nil {
		return nil, err
	}

	purchase := Purchase{
		OrganizationId:    organizationId,
		ShopId:            shopId,
		SupplierId:        input.SupplierId,
		SupplierInvoiceNo: input.SupplierInvoiceNo,
		PurchaseDate:      purchaseDate,
		CurrentStatus:     PurchaseStatusDraft,
		Items:             items,
		Documents:         documents,
		Notes:             input.Notes,
		CreatedBy:         userId,
	}
	purchase.computeTotals()
	purchase.refreshPaymentState()

	tx := db.Begin()

	seqNo, err := utils.GetSequence[Purchase](ctx, shopId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	prefix, err := getInvoicePrefix(ctx, shopId, "Purchase")
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	purchase.SequenceNo = seqNo
	purchase.InvoiceNumber = prefix + fmt.Sprint(seqNo)

	if err := tx.WithContext(ctx).Create(&purchase).Error; err != nil {
		tx.Rollback()
		return nil, utils.MapDBError(err, "Purchase", 0)
	}

	if requestedStatus == PurchaseStatusReceived {
		if err := receivePurchaseInTx(tx, ctx, &purchase, purchaseDate); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	for _, payment := range input.Payments {
		if _, err := appendPurchasePayment(tx, ctx, &purchase, payment, userId); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if len(input.Payments) > 0 {
		err = tx.WithContext(ctx).Model(&purchase).Updates(map[string]interface{}{
			"PaidAmount":    purchase.PaidAmount,
			"DueAmount":     purchase.DueAmount,
			"PaymentStatus": purchase.PaymentStatus,
		}).Error
		if err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	// Initial payments are already netted out of DueAmount here, so the
	// payable lands post-payment and TotalPaid moves once per payment row.
	if err := ApplyPurchaseToSupplierStats(tx, ctx, organizationId, purchase.SupplierId, purchase.GrandTotal, purchase.DueAmount, purchaseDate); err != nil {
		tx.Rollback()
		return nil, err
	}
	for _, payment := range input.Payments {
		if err := ApplyPaymentToSupplierStats(tx, ctx, organizationId, purchase.SupplierId, payment.Amount); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := RecordAuditEvent(ctx, tx, organizationId, shopId, purchaseDate, purchase.ID, ReferenceTypePurchase, purchase, nil, AuditActionCreate); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	InvalidateShopCacheAfterCommit(ctx, shopId)

	return GetPurchase(ctx, purchase.ID)
}

// ReceivePurchase books the goods of a draft purchase into stock.
func ReceivePurchase(ctx context.Context, purchaseId int) (*Purchase, error) {
	db := config.GetDB()

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	tx := db.Begin()

	purchase, err := fetchPurchaseForUpdate(tx, ctx, organizationId, purchaseId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if purchase.CurrentStatus != PurchaseStatusDraft {
		tx.Rollback()
		return nil, utils.NewValidationErrorf("cannot receive a %s purchase", string(purchase.CurrentStatus))
	}

	if err := tx.Where("purchase_id = ?", purchase.ID).Order("id").Find(&purchase.Items).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := receivePurchaseInTx(tx, ctx, purchase, time.Now()); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := RecordAuditEvent(ctx, tx, organizationId, purchase.ShopId, time.Now(), purchase.ID, ReferenceTypePurchase, purchase, nil, AuditActionStatusChange); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	InvalidateShopCacheAfterCommit(ctx, purchase.ShopId)

	return GetPurchase(ctx, purchase.ID)
}

// CancelPurchase voids a draft or received purchase. Received stock is taken
// back out through reversal entries; pieces already sold on make the
// reversal fail with an insufficient stock error, which is the correct
// outcome, the goods cannot be returned to the supplier anymore.
func CancelPurchase(ctx context.Context, purchaseId int, reason string) (*Purchase, error) {
	db := config.GetDB()

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	if len(reason) > 255 {
		return nil, utils.NewValidationError("cancel reason cannot exceed 255 characters")
	}

	tx := db.Begin()

	purchase, err := fetchPurchaseForUpdate(tx, ctx, organizationId, purchaseId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if purchase.CurrentStatus == PurchaseStatusCancelled {
		tx.Rollback()
		return nil, utils.NewValidationError("purchase is already cancelled")
	}

	existing := *purchase

	if err := restorePurchaseStock(tx, purchase, "purchase "+purchase.InvoiceNumber+" cancelled"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := ReversePurchaseFromSupplierStats(tx, ctx, organizationId, purchase.SupplierId, purchase.GrandTotal, purchase.DueAmount); err != nil {
		tx.Rollback()
		return nil, err
	}

	cancelledAt := time.Now()
	err = tx.WithContext(ctx).Model(purchase).Updates(map[string]interface{}{
		"CurrentStatus": PurchaseStatusCancelled,
		"CancelledAt":   &cancelledAt,
		"CancelReason":  reason,
		"DueAmount":     decimal.Zero,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	purchase.CurrentStatus = PurchaseStatusCancelled
	purchase.CancelledAt = &cancelledAt
	purchase.CancelReason = reason
	purchase.DueAmount = decimal.Zero

	if err := RecordAuditEvent(ctx, tx, organizationId, purchase.ShopId, cancelledAt, purchase.ID, ReferenceTypePurchase, purchase, &existing, AuditActionCancel); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	InvalidateShopCacheAfterCommit(ctx, purchase.ShopId)

	return GetPurchase(ctx, purchase.ID)
}

// AddPurchasePayment appends a payment toward the supplier payable.
func AddPurchasePayment(ctx context.Context, purchaseId int, input *NewPurchasePayment) (*Purchase, error) {
	db := config.GetDB()

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)

	tx := db.Begin()

	purchase, err := fetchPurchaseForUpdate(tx, ctx, organizationId, purchaseId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	switch {
	case purchase.CurrentStatus == PurchaseStatusDraft:
		tx.Rollback()
		return nil, utils.NewValidationError("draft purchase cannot take payments; receive it first")
	case purchase.CurrentStatus == PurchaseStatusCancelled:
		tx.Rollback()
		return nil, utils.NewValidationError("purchase is cancelled; no further payments are accepted")
	case purchase.DueAmount.LessThanOrEqual(decimal.Zero):
		tx.Rollback()
		return nil, utils.NewValidationError("purchase is fully settled; no further payments are accepted")
	}

	payment, err := appendPurchasePayment(tx, ctx, purchase, input, userId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	err = tx.WithContext(ctx).Model(purchase).Updates(map[string]interface{}{
		"PaidAmount":    purchase.PaidAmount,
		"DueAmount":     purchase.DueAmount,
		"PaymentStatus": purchase.PaymentStatus,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := ApplyPaymentToSupplierStats(tx, ctx, organizationId, purchase.SupplierId, payment.Amount); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := RecordAuditEvent(ctx, tx, organizationId, purchase.ShopId, payment.PaymentDate, purchase.ID, ReferenceTypePurchase, purchase, nil, AuditActionPayment); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	InvalidateShopCacheAfterCommit(ctx, purchase.ShopId)

	return GetPurchase(ctx, purchase.ID)
}

func GetPurchase(ctx context.Context, id int) (*Purchase, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	return utils.FetchModel[Purchase](ctx, organizationId, id, "Items", "Payments", "Documents")
}

func GetPurchases(ctx context.Context, shopId int, filter *PurchaseFilter) ([]*Purchase, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).
		Where("organization_id = ? AND shop_id = ?", organizationId, shopId)

	if filter != nil {
		if filter.Status != nil {
			dbCtx = dbCtx.Where("current_status = ?", *filter.Status)
		}
		if filter.PaymentStatus != nil {
			dbCtx = dbCtx.Where("payment_status = ?", *filter.PaymentStatus)
		}
		if filter.SupplierId != nil {
			dbCtx = dbCtx.Where("supplier_id = ?", *filter.SupplierId)
		}
		if filter.FromDate != nil {
			dbCtx = dbCtx.Where("purchase_date >= ?", *filter.FromDate)
		}
		if filter.ToDate != nil {
			dbCtx = dbCtx.Where("purchase_date <= ?", *filter.ToDate)
		}
		if filter.InvoiceNumber != nil && *filter.InvoiceNumber != "" {
			dbCtx = dbCtx.Where("invoice_number LIKE ?", "%"+*filter.InvoiceNumber+"%")
		}
	}

	var purchases []*Purchase
	err := dbCtx.Preload("Items").
		Order("purchase_date DESC, id DESC").
		Find(&purchases).Error
	if err != nil {
		return nil, err
	}
	return purchases, nil
}
