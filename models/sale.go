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

// Sale is the invoice of record. Money columns are snapshots of the
// calculator output and stay reproducible from the item rows; stock effects
// live in the inventory ledger, keyed back here by reference.
type Sale struct {
	ID             int        `gorm:"primary_key" json:"id"`
	OrganizationId string     `gorm:"index;not null" json:"organization_id"`
	ShopId         int        `gorm:"uniqueIndex:idx_sale_shop_invoice,priority:1;not null" json:"shop_id"`
	InvoiceNumber  string     `gorm:"uniqueIndex:idx_sale_shop_invoice,priority:2;size:100;not null" json:"invoice_number"`
	SequenceNo     int64      `gorm:"not null;default:0" json:"sequence_no"`
	CustomerId     int        `gorm:"index;not null" json:"customer_id"`
	SaleDate       time.Time  `gorm:"index;not null" json:"sale_date"`
	CurrentStatus  SaleStatus `gorm:"type:enum('Draft','Pending','Confirmed','Delivered','Completed','Cancelled','Returned');default:'Draft'" json:"current_status"`

	Items        []SaleItem    `gorm:"foreignKey:SaleId" json:"items"`
	OldGoldItems []OldGoldItem `gorm:"foreignKey:SaleId" json:"old_gold_items"`
	Payments     []SalePayment `gorm:"foreignKey:SaleId" json:"payments"`
	Documents    []*Document   `gorm:"polymorphic:Reference" json:"documents"`

	Subtotal      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	DiscountType  *DiscountType   `gorm:"type:enum('P','F');default:null" json:"discount_type"`
	DiscountValue decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_value"`
	TotalDiscount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_discount"`
	TotalGst      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_gst"`
	OldGoldValue  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"old_gold_value"`
	GrandTotal    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"grand_total"`
	RoundOff      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"round_off"`
	NetPayable    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"net_payable"`
	RefundDue     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"refund_due"`
	PaidAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"paid_amount"`
	DueAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"due_amount"`
	RefundAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"refund_amount"`
	PaymentStatus PaymentStatus   `gorm:"type:enum('Unpaid','Partial','Paid');default:'Unpaid'" json:"payment_status"`

	Notes         string     `gorm:"type:text" json:"notes"`
	SoldBy        int        `gorm:"index;default:0" json:"sold_by"`
	IsDeleted     *bool      `gorm:"not null;default:false;index" json:"is_deleted"`
	CancelReason  string     `gorm:"size:255" json:"cancel_reason"`
	ReturnReason  string     `gorm:"size:255" json:"return_reason"`
	DeliveredTo   string     `gorm:"size:100" json:"delivered_to"`
	DeliveryNotes string     `gorm:"size:255" json:"delivery_notes"`
	DeliveredAt   *time.Time `json:"delivered_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	CancelledAt   *time.Time `json:"cancelled_at"`
	ReturnedAt    *time.Time `json:"returned_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SaleItem is one invoice line. NetWeight through GstAmount are per-unit
// figures straight from the calculator; ItemTotal is the line total after
// quantity. Catalog fields are snapshots taken at sale time, so later
// product edits never change a past invoice.
type SaleItem struct {
	ID             int             `gorm:"primary_key" json:"id"`
	SaleId         int             `gorm:"index;not null" json:"sale_id"`
	ProductId      *int            `gorm:"index;default:null" json:"product_id"`
	Name           string          `gorm:"size:100;not null" json:"name"`
	HuidNumber     string          `gorm:"size:100" json:"huid_number"`
	MetalType      MetalType       `gorm:"type:enum('Gold','Silver','Platinum','Diamond','Other');default:Gold" json:"metal_type"`
	Purity         string          `gorm:"size:20" json:"purity"`
	Quantity       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	GrossWeight    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"gross_weight"`
	StoneWeight    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stone_weight"`
	NetWeight      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"net_weight"`
	RatePerGram    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"rate_per_gram"`
	MetalValue     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"metal_value"`
	StoneValue     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stone_value"`
	MakingCharges  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"making_charges"`
	OtherCharges   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"other_charges"`
	DiscountType   *DiscountType   `gorm:"type:enum('P','F');default:null" json:"discount_type"`
	DiscountValue  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_value"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_amount"`
	TaxableAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"taxable_amount"`
	GstPct         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"gst_pct"`
	GstAmount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"gst_amount"`
	ItemTotal      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"item_total"`
	IsStockTracked *bool           `gorm:"not null;default:false" json:"is_stock_tracked"`
	ReturnedQty    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"returned_qty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// OldGoldItem is a piece of customer metal taken in exchange. Its value
// offsets the net payable of the sale it hangs on.
type OldGoldItem struct {
	ID           int             `gorm:"primary_key" json:"id"`
	SaleId       int             `gorm:"index;not null" json:"sale_id"`
	Description  string          `gorm:"size:255;not null" json:"description"`
	MetalType    MetalType       `gorm:"type:enum('Gold','Silver','Platinum','Diamond','Other');default:Gold" json:"metal_type"`
	Purity       string          `gorm:"size:20" json:"purity"`
	GrossWeight  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"gross_weight"`
	StoneWeight  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stone_weight"`
	NetWeight    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"net_weight"`
	RatePerGram  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"rate_per_gram"`
	DeductionPct decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"deduction_pct"`
	Value        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"value"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (sale Sale) GetOrganizationId() string {
	return sale.OrganizationId
}

type NewSale struct {
	CustomerId    int               `json:"customer_id" binding:"required" validate:"required"`
	SaleDate      *time.Time        `json:"sale_date"`
	Status        *SaleStatus       `json:"status"`
	Items         []*NewSaleItem    `json:"items" binding:"required" validate:"required,dive,required"`
	OldGoldItems  []*NewOldGoldItem `json:"old_gold_items" validate:"dive,required"`
	DiscountType  *DiscountType     `json:"discount_type"`
	DiscountValue decimal.Decimal   `json:"discount_value"`
	Payments      []*NewSalePayment `json:"payments" validate:"dive,required"`
	Documents     []*NewDocument    `json:"documents"`
	Notes         string            `json:"notes"`
}

type NewSaleItem struct {
	ProductId     *int             `json:"product_id"`
	Name          string           `json:"name" validate:"max=100"`
	HuidNumber    string           `json:"huid_number" validate:"max=100"`
	MetalType     *MetalType       `json:"metal_type"`
	Purity        string           `json:"purity" validate:"max=20"`
	Quantity      decimal.Decimal  `json:"quantity" binding:"required"`
	GrossWeight   decimal.Decimal  `json:"gross_weight"`
	StoneWeight   decimal.Decimal  `json:"stone_weight"`
	RatePerGram   decimal.Decimal  `json:"rate_per_gram"`
	StoneValue    decimal.Decimal  `json:"stone_value"`
	MakingCharges decimal.Decimal  `json:"making_charges"`
	OtherCharges  decimal.Decimal  `json:"other_charges"`
	DiscountType  *DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal  `json:"discount_value"`
	GstPct        *decimal.Decimal `json:"gst_pct"`
}

type NewOldGoldItem struct {
	Description  string           `json:"description" binding:"required" validate:"required,max=255"`
	MetalType    *MetalType       `json:"metal_type"`
	Purity       string           `json:"purity" validate:"max=20"`
	GrossWeight  decimal.Decimal  `json:"gross_weight" binding:"required"`
	StoneWeight  decimal.Decimal  `json:"stone_weight"`
	RatePerGram  decimal.Decimal  `json:"rate_per_gram" binding:"required"`
	DeductionPct *decimal.Decimal `json:"deduction_pct"`
}

type SaleDelivery struct {
	DeliveredTo   string     `json:"delivered_to" validate:"max=100"`
	DeliveryNotes string     `json:"delivery_notes" validate:"max=255"`
	DeliveredAt   *time.Time `json:"delivered_at"`
}

type SaleReturnLine struct {
	SaleItemId int             `json:"sale_item_id" binding:"required" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity" binding:"required"`
}

// NewSaleReturn describes a return. An empty item list means the whole sale
// comes back; otherwise only the listed lines do, up to their sold quantity.
type NewSaleReturn struct {
	Items  []*SaleReturnLine `json:"items" validate:"dive,required"`
	Reason string            `json:"reason" validate:"max=255"`
}

type SaleDiscountInput struct {
	DiscountType  *DiscountType   `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
}

type SaleFilter struct {
	Status        *SaleStatus    `json:"status"`
	PaymentStatus *PaymentStatus `json:"payment_status"`
	CustomerId    *int           `json:"customer_id"`
	FromDate      *time.Time     `json:"from_date"`
	ToDate        *time.Time     `json:"to_date"`
	InvoiceNumber *string        `json:"invoice_number"`
}

func (input *NewSale) validate(ctx context.Context, organizationId string, requestedStatus SaleStatus) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}

	switch requestedStatus {
	case SaleStatusDraft, SaleStatusPending, SaleStatusConfirmed:
	default:
		return utils.NewValidationError("a sale can only be created as Draft, Pending or Confirmed")
	}
	if requestedStatus == SaleStatusDraft && len(input.Payments) > 0 {
		return utils.NewValidationError("draft sale cannot take payments")
	}

	customer, err := utils.FetchModel[Customer](ctx, organizationId, input.CustomerId)
	if err != nil {
		return err
	}
	if customer.IsActive != nil && !*customer.IsActive {
		return utils.NewValidationErrorf("customer %s is inactive", customer.Name)
	}
	return nil
}

// saleStatusFlow lists the forward edges of the sale lifecycle. Cancel,
// delete and return are divergences with side effects and are handled by
// their own operations, never through this table.
var saleStatusFlow = map[SaleStatus][]SaleStatus{
	SaleStatusDraft:     {SaleStatusPending, SaleStatusConfirmed, SaleStatusDelivered},
	SaleStatusPending:   {SaleStatusConfirmed, SaleStatusDelivered},
	SaleStatusConfirmed: {SaleStatusDelivered, SaleStatusCompleted},
	SaleStatusDelivered: {SaleStatusCompleted},
}

func validateSaleTransition(from SaleStatus, to SaleStatus) error {
	for _, allowed := range saleStatusFlow[from] {
		if allowed == to {
			return nil
		}
	}
	return utils.NewValidationErrorf("cannot move a %s sale to %s", string(from), string(to))
}

func transitionSaleStatus(tx *gorm.DB, ctx context.Context, sale *Sale, to SaleStatus, extra map[string]interface{}) error {
	if err := validateSaleTransition(sale.CurrentStatus, to); err != nil {
		return err
	}
	updates := map[string]interface{}{"CurrentStatus": to}
	for column, value := range extra {
		updates[column] = value
	}
	if err := tx.WithContext(ctx).Model(sale).Updates(updates).Error; err != nil {
		return err
	}
	sale.CurrentStatus = to
	return nil
}

// fetchSaleForUpdate row-locks the sale for the rest of the transaction so
// concurrent mutations on the same invoice serialize instead of racing.
func fetchSaleForUpdate(tx *gorm.DB, ctx context.Context, organizationId string, saleId int) (*Sale, error) {
	var sale Sale
	err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND organization_id = ?", saleId, organizationId).
		First(&sale).Error
	if err != nil {
		return nil, utils.MapDBError(err, "Sale", saleId)
	}
	if sale.IsDeleted != nil && *sale.IsDeleted {
		return nil, utils.NewNotFoundError("Sale", saleId)
	}
	return &sale, nil
}

// resolveSaleItems turns line inputs into item rows plus calculator inputs.
// Product-backed lines inherit weights, rate, charges and GST from the
// catalog unless the input overrides them; custom lines must carry a name.
func resolveSaleItems(ctx context.Context, organizationId string, inputs []*NewSaleItem, policy PricingPolicy) ([]SaleItem, []ItemPricingInput, error) {
	items := make([]SaleItem, 0, len(inputs))
	pricingInputs := make([]ItemPricingInput, 0, len(inputs))

	for _, input := range inputs {
		item := SaleItem{
			Name:           input.Name,
			HuidNumber:     input.HuidNumber,
			MetalType:      MetalTypeGold,
			Purity:         input.Purity,
			Quantity:       input.Quantity,
			GrossWeight:    input.GrossWeight,
			StoneWeight:    input.StoneWeight,
			RatePerGram:    input.RatePerGram,
			StoneValue:     input.StoneValue,
			MakingCharges:  input.MakingCharges,
			OtherCharges:   input.OtherCharges,
			DiscountType:   input.DiscountType,
			DiscountValue:  input.DiscountValue,
			IsStockTracked: utils.NewFalse(),
		}
		if input.MetalType != nil {
			item.MetalType = *input.MetalType
		}

		gstPct := policy.DefaultGstPct
		if input.ProductId != nil && *input.ProductId > 0 {
			product, err := utils.FetchModel[Product](ctx, organizationId, *input.ProductId)
			if err != nil {
				return nil, nil, err
			}
			if product.IsActive != nil && !*product.IsActive {
				return nil, nil, utils.NewValidationErrorf("product %s is inactive", product.Name)
			}
			productId := product.ID
			item.ProductId = &productId
			if item.Name == "" {
				item.Name = product.Name
			}
			if item.HuidNumber == "" {
				item.HuidNumber = product.HuidNumber
			}
			if input.MetalType == nil {
				item.MetalType = product.MetalType
			}
			if item.Purity == "" {
				item.Purity = product.Purity
			}
			if item.GrossWeight.IsZero() {
				item.GrossWeight = product.GrossWeight
			}
			if item.StoneWeight.IsZero() {
				item.StoneWeight = product.StoneWeight
			}
			if item.RatePerGram.IsZero() {
				item.RatePerGram = product.RatePerGram
			}
			if item.StoneValue.IsZero() {
				item.StoneValue = product.StonePrice
			}
			if item.MakingCharges.IsZero() {
				item.MakingCharges = product.MakingCharges
			}
			if product.GstPct.GreaterThan(decimal.Zero) {
				gstPct = product.GstPct
			}
			if product.IsStockTracked == nil || *product.IsStockTracked {
				item.IsStockTracked = utils.NewTrue()
			}
		} else if item.Name == "" {
			return nil, nil, utils.NewValidationError("item name is required when no product is referenced")
		}
		if input.GstPct != nil {
			gstPct = *input.GstPct
		}
		item.GstPct = gstPct

		pricingInputs = append(pricingInputs, ItemPricingInput{
			Quantity:      item.Quantity,
			GrossWeight:   item.GrossWeight,
			StoneWeight:   item.StoneWeight,
			RatePerGram:   item.RatePerGram,
			StoneValue:    item.StoneValue,
			MakingCharges: item.MakingCharges,
			OtherCharges:  item.OtherCharges,
			DiscountType:  item.DiscountType,
			DiscountValue: item.DiscountValue,
			GstPct:        item.GstPct,
		})
		items = append(items, item)
	}
	return items, pricingInputs, nil
}

func resolveOldGoldItems(inputs []*NewOldGoldItem, policy PricingPolicy) ([]OldGoldItem, []OldGoldPricingInput, error) {
	items := make([]OldGoldItem, 0, len(inputs))
	pricingInputs := make([]OldGoldPricingInput, 0, len(inputs))

	for _, input := range inputs {
		deductionPct := policy.OldGoldDeductionPct
		if input.DeductionPct != nil {
			deductionPct = *input.DeductionPct
		}
		metalType := MetalTypeGold
		if input.MetalType != nil {
			metalType = *input.MetalType
		}
		pricing := OldGoldPricingInput{
			GrossWeight:  input.GrossWeight,
			StoneWeight:  input.StoneWeight,
			RatePerGram:  input.RatePerGram,
			DeductionPct: deductionPct,
		}
		value, err := CalculateOldGoldValue([]OldGoldPricingInput{pricing})
		if err != nil {
			return nil, nil, err
		}

		items = append(items, OldGoldItem{
			Description:  input.Description,
			MetalType:    metalType,
			Purity:       input.Purity,
			GrossWeight:  input.GrossWeight,
			StoneWeight:  input.StoneWeight,
			NetWeight:    input.GrossWeight.Sub(input.StoneWeight),
			RatePerGram:  input.RatePerGram,
			DeductionPct: deductionPct,
			Value:        value,
		})
		pricingInputs = append(pricingInputs, pricing)
	}
	return items, pricingInputs, nil
}

func applyItemFinancials(items []SaleItem, financials []ItemFinancials) {
	for i := range items {
		items[i].NetWeight = financials[i].NetWeight
		items[i].MetalValue = financials[i].MetalValue
		items[i].DiscountAmount = financials[i].DiscountAmount
		items[i].TaxableAmount = financials[i].TaxableAmount
		items[i].GstAmount = financials[i].GstAmount
		items[i].ItemTotal = financials[i].ItemTotal
	}
}

func (sale *Sale) applyFinancials(financials *SaleFinancials) {
	sale.Subtotal = financials.Subtotal
	sale.TotalDiscount = financials.TotalDiscount
	sale.TotalGst = financials.TotalGst
	sale.OldGoldValue = financials.OldGoldValue
	sale.GrandTotal = financials.GrandTotal
	sale.RoundOff = financials.RoundOff
	sale.NetPayable = financials.NetPayable
	sale.RefundDue = financials.RefundDue
}

// applySaleStock writes one outgoing SALE ledger entry per stock-tracked
// line. Each entry locks and re-checks the product row, so when two sales
// race for the last unit exactly one of them gets it.
func applySaleStock(tx *gorm.DB, ctx context.Context, sale *Sale) error {
	refType := ReferenceTypeSale
	for i := range sale.Items {
		item := &sale.Items[i]
		if item.ProductId == nil || *item.ProductId == 0 {
			continue
		}
		if item.IsStockTracked == nil || !*item.IsStockTracked {
			continue
		}
		_, err := ApplyStockDelta(tx.WithContext(ctx), StockDelta{
			OrganizationId: sale.OrganizationId,
			ShopId:         sale.ShopId,
			ProductId:      *item.ProductId,
			Quantity:       item.Quantity,
			Direction:      StockDirectionSubtract,
			EntryType:      InventoryEntryTypeSale,
			EntryDate:      sale.SaleDate,
			Reason:         "sale " + sale.InvoiceNumber,
			UnitCost:       item.TaxableAmount.Add(item.GstAmount),
			ReferenceType:  &refType,
			ReferenceId:    sale.ID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// restoreSaleStock reverses the un-reversed SALE ledger rows this sale holds.
// qtyByProduct limits the restoration for partial returns; nil restores
// everything. A sale that never moved stock simply has no rows to walk.
func restoreSaleStock(tx *gorm.DB, sale *Sale, entryType InventoryEntryType, reason string, qtyByProduct map[int]decimal.Decimal) error {
	entries, err := GetLedgerEntriesForReference(tx, ReferenceTypeSale, sale.ID, InventoryEntryTypeSale)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		qty := entry.Quantity.Abs()
		if qtyByProduct != nil {
			remaining, ok := qtyByProduct[entry.ProductId]
			if !ok || remaining.LessThanOrEqual(decimal.Zero) {
				continue
			}
			if remaining.LessThan(qty) {
				qty = remaining
			}
			qtyByProduct[entry.ProductId] = remaining.Sub(qty)
		}
		if _, err := ReverseStockEntry(tx, entry, entryType, qty, reason); err != nil {
			return err
		}
	}
	if qtyByProduct != nil {
		for productId, remaining := range qtyByProduct {
			if remaining.GreaterThan(decimal.Zero) {
				return utils.NewValidationErrorf("cannot restore %s units of product %d; the sale never took that many",
					remaining.String(), productId)
			}
		}
	}
	return nil
}

func CreateSale(ctx context.Context, shopId int, input *NewSale) (*Sale, error) {
	db := config.GetDB()

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)

	// Callers may ask for Confirmed (the default) on create; the sale is
	// still created as Draft and transitioned inside the same transaction,
	// so every status change runs through one path.
	requestedStatus := SaleStatusConfirmed
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
	policy := settings.PricingPolicy()

	saleDate := time.Now()
	if input.SaleDate != nil {
		saleDate = *input.SaleDate
	}

	saleItems, pricingInputs, err := resolveSaleItems(ctx, organizationId, input.Items, policy)
	if err != nil {
		return nil, err
	}
	oldGoldItems, oldGoldInputs, err := resolveOldGoldItems(input.OldGoldItems, policy)
	if err != nil {
		return nil, err
	}

	financials, err := CalculateSaleFinancials(pricingInputs, input.DiscountType, input.DiscountValue, oldGoldInputs, policy)
	if err != nil {
		return nil, err
	}
	applyItemFinancials(saleItems, financials.Items)

	documents, err := mapNewDocuments(input.Documents, "sales", 0)
	if err != nil {
		return nil, err
	}

	sale := Sale{
		OrganizationId: organizationId,
		ShopId:         shopId,
		CustomerId:     input.CustomerId,
		SaleDate:       saleDate,
		CurrentStatus:  SaleStatusDraft,
		Items:          saleItems,
		OldGoldItems:   oldGoldItems,
		Documents:      documents,
		DiscountType:   input.DiscountType,
		DiscountValue:  input.DiscountValue,
		Notes:          input.Notes,
		SoldBy:         userId,
	}
	sale.applyFinancials(financials)
	sale.refreshPaymentState()

	tx := db.Begin()

	seqNo, err := utils.GetSequence[Sale](ctx, shopId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	prefix, err := getInvoicePrefix(ctx, shopId, "Sale")
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	sale.SequenceNo = seqNo
	sale.InvoiceNumber = prefix + fmt.Sprint(seqNo)

	if err := tx.WithContext(ctx).Create(&sale).Error; err != nil {
		tx.Rollback()
		return nil, utils.MapDBError(err, "Sale", 0)
	}

	// Stock leaves the shelf the moment the sale exists, draft included.
	// Cancel, delete and return put it back by reversing these rows.
	if err := applySaleStock(tx, ctx, &sale); err != nil {
		tx.Rollback()
		return nil, err
	}

	for _, payment := range input.Payments {
		if _, err := appendSalePayment(tx, ctx, &sale, payment, userId); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := AddPaymentToDailySummary(tx, organizationId, shopId, summaryDay(saleDate), payment.Amount); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if len(input.Payments) > 0 {
		err = tx.WithContext(ctx).Model(&sale).Updates(map[string]interface{}{
			"PaidAmount":    sale.PaidAmount,
			"DueAmount":     sale.DueAmount,
			"PaymentStatus": sale.PaymentStatus,
		}).Error
		if err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if requestedStatus != SaleStatusDraft {
		if err := transitionSaleStatus(tx, ctx, &sale, requestedStatus, nil); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	// DueAmount already nets out the initial payments here, so the
	// accumulator sees the post-payment due and those payments are not
	// applied to it a second time.
	if err := ApplySaleToCustomerStats(tx, ctx, organizationId, sale.CustomerId, sale.GrandTotal, sale.DueAmount, saleDate); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := AddSaleToDailySummary(tx, organizationId, shopId, summaryDay(saleDate), sale.GrandTotal); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := RecordAuditEvent(ctx, tx, organizationId, shopId, saleDate, sale.ID, ReferenceTypeSale, sale, nil, AuditActionCreate); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	InvalidateShopCacheAfterCommit(ctx, shopId)

	return GetSale(ctx, sale.ID)
}

// UpdateSale replaces the items and financials of a draft or pending sale
// and reprices it from scratch. Status moves, payments and the customer all
// have their own operations and are rejected here.
func UpdateSale(ctx context.Context, saleId int, input *NewSale) (*Sale, error) {
	db := config.GetDB()

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	if len(input.Payments) > 0 {
		return nil, utils.NewValidationError("payments cannot be edited through sale update")
	}
	if input.Status != nil {
		return nil, utils.NewValidationError("status cannot be changed through sale update")
	}
	if err := input.validate(ctx, organizationId, SaleStatusDraft); err != nil {
		return nil, err
	}

	tx := db.Begin()

	sale, err := fetchSaleForUpdate(tx, ctx, organizationId, saleId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if !sale.CurrentStatus.IsEditable() {
		tx.Rollback()
		return nil, utils.NewValidationError("only draft or pending sales can be edited")
	}
	if input.CustomerId != sale.CustomerId {
		tx.Rollback()
		return nil, utils.NewValidationError("customer cannot be changed; cancel the sale and recreate it")
	}

	settings, err := GetShopSettings(ctx, sale.ShopId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	policy := settings.PricingPolicy()

	saleItems, pricingInputs, err := resolveSaleItems(ctx, organizationId, input.Items, policy)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	oldGoldItems, oldGoldInputs, err := resolveOldGoldItems(input.OldGoldItems, policy)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	financials, err := CalculateSaleFinancials(pricingInputs, input.DiscountType, input.DiscountValue, oldGoldInputs, policy)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	applyItemFinancials(saleItems, financials.Items)

	existing := *sale
	oldGrand := sale.GrandTotal
	oldDue := sale.DueAmount

	// Put the old items' stock back first, then let the fresh lines take
	// what they need. Shrinking a line never fails; growing one re-checks
	// availability against the restored level.
	if err := restoreSaleStock(tx, sale, InventoryEntryTypeAdjustment, "sale "+sale.InvoiceNumber+" edited", nil); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Where("sale_id = ?", sale.ID).Delete(&SaleItem{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Where("sale_id = ?", sale.ID).Delete(&OldGoldItem{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	for i := range saleItems {
		saleItems[i].SaleId = sale.ID
	}
	for i := range oldGoldItems {
		oldGoldItems[i].SaleId = sale.ID
	}
	if len(saleItems) > 0 {
		if err := tx.WithContext(ctx).Create(&saleItems).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if len(oldGoldItems) > 0 {
		if err := tx.WithContext(ctx).Create(&oldGoldItems).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	sale.Items = saleItems
	sale.OldGoldItems = oldGoldItems

	if _, err := upsertDocuments(ctx, tx, input.Documents, "sales", sale.ID); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := applySaleStock(tx, ctx, sale); err != nil {
		tx.Rollback()
		return nil, err
	}

	sale.DiscountType = input.DiscountType
	sale.DiscountValue = input.DiscountValue
	sale.Notes = input.Notes
	sale.applyFinancials(financials)
	sale.refreshPaymentState()

	saleDate := sale.SaleDate
	if input.SaleDate != nil {
		saleDate = *input.SaleDate
		sale.SaleDate = saleDate
	}

	err = tx.WithContext(ctx).Model(sale).Updates(map[string]interface{}{
		"SaleDate":      sale.SaleDate,
		"DiscountType":  sale.DiscountType,
		"DiscountValue": sale.DiscountValue,
		"Subtotal":      sale.Subtotal,
		"TotalDiscount": sale.TotalDiscount,
		"TotalGst":      sale.TotalGst,
		"OldGoldValue":  sale.OldGoldValue,
		"GrandTotal":    sale.GrandTotal,
		"RoundOff":      sale.RoundOff,
		"NetPayable":    sale.NetPayable,
		"RefundDue":     sale.RefundDue,
		"DueAmount":     sale.DueAmount,
		"PaymentStatus": sale.PaymentStatus,
		"Notes":         sale.Notes,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := AdjustCustomerForSaleAmounts(tx, ctx, organizationId, sale.CustomerId,
		sale.GrandTotal.Sub(oldGrand), sale.DueAmount.Sub(oldDue)); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := AdjustSaleInDailySummary(tx, organizationId, sale.ShopId, summaryDay(existing.SaleDate),
		sale.GrandTotal.Sub(oldGrand)); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := RecordAuditEvent(ctx, tx, organizationId, sale.ShopId, time.Now(), sale.ID, ReferenceTypeSale, sale, &existing, AuditActionUpdate); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	InvalidateShopCacheAfterCommit(ctx, sale.ShopId)

	return GetSale(ctx, sale.ID)
}

// ConfirmSale moves a draft or pending sale forward to Confirmed. Stock was
// already taken at creation, so this is a pure status advance.
func ConfirmSale(ctx context.Context, saleId int) (*Sale, error) {
	return advanceSale(ctx, saleId, SaleStatusConfirmed, nil)
}

// DeliverSale hands the goods over and records the delivery metadata.
func DeliverSale(ctx context.Context, saleId int, input *SaleDelivery) (*Sale, error) {
	deliveredAt := time.Now()
	extra := map[string]interface{}{"DeliveredAt": &deliveredAt}
	if input != nil {
		if err := utils.ValidateStruct(input); err != nil {
			return nil, err
		}
		if input.DeliveredAt != nil {
			extra["DeliveredAt"] = input.DeliveredAt
		}
		extra["DeliveredTo"] = input.DeliveredTo
		extra["DeliveryNotes"] = input.DeliveryNotes
	}
	return advanceSale(ctx, saleId, SaleStatusDelivered, extra)
}

// CompleteSale closes out a confirmed or delivered sale.
func CompleteSale(ctx context.Context, saleId int) (*Sale, error) {
	completedAt := time.Now()
	return advanceSale(ctx, saleId, SaleStatusCompleted, map[string]interface{}{"CompletedAt": &completedAt})
}

func advanceSale(ctx context.Context, saleId int, to SaleStatus, extra map[string]interface{}) (*Sale, error) {
	db := config.GetDB()

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	tx := db.Begin()

	sale, err := fetchSaleForUpdate(tx, ctx, organizationId, saleId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := transitionSaleStatus(tx, ctx, sale, to, extra); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := RecordAuditEvent(ctx, tx, organizationId, sale.ShopId, time.Now(), sale.ID, ReferenceTypeSale, sale, nil, AuditActionStatusChange); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	InvalidateShopCacheAfterCommit(ctx, sale.ShopId)

	return GetSale(ctx, sale.ID)
}

// CancelSale voids a sale from any non-terminal state. All of its stock goes
// back through reversal ledger rows, the outstanding due is written off, and
// the customer accumulators are wound back when the shop runs with reversal
// enabled.
func CancelSale(ctx context.Context, saleId int, reason string) (*Sale, error) {
	db := config.GetDB()

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	if len(reason) > 255 {
		return nil, utils.NewValidationError("cancel reason cannot exceed 255 characters")
	}

	tx := db.Begin()

	sale, err := fetchSaleForUpdate(tx, ctx, organizationId, saleId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if sale.CurrentStatus.IsTerminal() {
		tx.Rollback()
		return nil, utils.NewValidationErrorf("a %s sale cannot be cancelled", string(sale.CurrentStatus))
	}

	existing := *sale

	if err := restoreSaleStock(tx, sale, InventoryEntryTypeAdjustment, "sale "+sale.InvoiceNumber+" cancelled", nil); err != nil {
		tx.Rollback()
		return nil, err
	}
	if config.ReverseCustomerStatsOnCancel() {
		if err := ReverseSaleFromCustomerStats(tx, ctx, organizationId, sale.CustomerId, sale.GrandTotal, sale.DueAmount); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := AddCancelToDailySummary(tx, organizationId, sale.ShopId, summaryDay(time.Now()), sale.GrandTotal); err != nil {
		tx.Rollback()
		return nil, err
	}

	cancelledAt := time.Now()
	err = tx.WithContext(ctx).Model(sale).Updates(map[string]interface{}{
		"CurrentStatus": SaleStatusCancelled,
		"CancelledAt":   &cancelledAt,
		"CancelReason":  reason,
		"DueAmount":     decimal.Zero,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	sale.CurrentStatus = SaleStatusCancelled
	sale.CancelledAt = &cancelledAt
	sale.CancelReason = reason
	sale.DueAmount = decimal.Zero

	if err := RecordAuditEvent(ctx, tx, organizationId, sale.ShopId, cancelledAt, sale.ID, ReferenceTypeSale, sale, &existing, AuditActionCancel); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	InvalidateShopCacheAfterCommit(ctx, sale.ShopId)

	return GetSale(ctx, sale.ID)
}

// DeleteSale soft-deletes a draft. The draft's stock and accumulator
// effects are rewound as if the sale had never been recorded; anything past
// draft must be cancelled instead so an audit trail remains visible.
func DeleteSale(ctx context.Context, saleId int) (*Sale, error) {
	db := config.GetDB()

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	tx := db.Begin()

	sale, err := fetchSaleForUpdate(tx, ctx, organizationId, saleId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if sale.CurrentStatus != SaleStatusDraft {
		tx.Rollback()
		return nil, utils.NewValidationError("only draft sales can be deleted; cancel it instead")
	}

	existing := *sale

	if err := restoreSaleStock(tx, sale, InventoryEntryTypeAdjustment, "sale "+sale.InvoiceNumber+" deleted", nil); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := ReverseSaleFromCustomerStats(tx, ctx, organizationId, sale.CustomerId, sale.GrandTotal, sale.DueAmount); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := RemoveSaleFromDailySummary(tx, organizationId, sale.ShopId, summaryDay(sale.SaleDate), sale.GrandTotal); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.WithContext(ctx).Model(sale).Update("IsDeleted", utils.NewTrue()).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	sale.IsDeleted = utils.NewTrue()

	if err := RecordAuditEvent(ctx, tx, organizationId, sale.ShopId, time.Now(), sale.ID, ReferenceTypeSale, sale, &existing, AuditActionDelete); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	InvalidateShopCacheAfterCommit(ctx, sale.ShopId)

	return sale, nil
}

// ReturnSale takes goods back, fully or line by line, and terminates the
// sale. A sale can be returned once; whatever due remained is written off
// and the refund owed to the customer lands on their balance.
func ReturnSale(ctx context.Context, saleId int, input *NewSaleReturn) (*Sale, error) {
	db := config.GetDB()

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	if input == nil {
		input = &NewSaleReturn{}
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	tx := db.Begin()

	sale, err := fetchSaleForUpdate(tx, ctx, organizationId, saleId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	switch sale.CurrentStatus {
	case SaleStatusCancelled:
		tx.Rollback()
		return nil, utils.NewValidationError("a cancelled sale cannot be returned")
	case SaleStatusReturned:
		tx.Rollback()
		return nil, utils.NewValidationError("sale has already been returned")
	case SaleStatusDraft:
		tx.Rollback()
		return nil, utils.NewValidationError("a draft sale has nothing to return; delete it instead")
	}

	var items []SaleItem
	if err := tx.Where("sale_id = ?", sale.ID).Order("id").Find(&items).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	existing := *sale

	// Work out what comes back per line: everything for a full return,
	// otherwise the requested quantities capped at what was sold.
	type returnedLine struct {
		item *SaleItem
		qty  decimal.Decimal
	}
	var lines []returnedLine
	if len(input.Items) == 0 {
		for i := range items {
			lines = append(lines, returnedLine{item: &items[i], qty: items[i].Quantity})
		}
	} else {
		byId := make(map[int]*SaleItem, len(items))
		for i := range items {
			byId[items[i].ID] = &items[i]
		}
		for _, line := range input.Items {
			item, ok := byId[line.SaleItemId]
			if !ok {
				tx.Rollback()
				return nil, utils.NewNotFoundError("SaleItem", line.SaleItemId)
			}
			if line.Quantity.LessThanOrEqual(decimal.Zero) {
				tx.Rollback()
				return nil, utils.NewValidationError("return quantity must be greater than zero")
			}
			if line.Quantity.GreaterThan(item.Quantity) {
				tx.Rollback()
				return nil, utils.NewValidationErrorf("cannot return %s of %s; only %s were sold",
					line.Quantity.String(), item.Name, item.Quantity.String())
			}
			lines = append(lines, returnedLine{item: item, qty: line.Quantity})
		}
	}
	if len(lines) == 0 {
		tx.Rollback()
		return nil, utils.NewValidationError("sale has no items to return")
	}

	returnedValue := decimal.Zero
	qtyByProduct := make(map[int]decimal.Decimal)
	for _, line := range lines {
		returnedValue = returnedValue.Add(line.item.ItemTotal.Mul(line.qty).DivRound(line.item.Quantity, 4))
		if line.item.ProductId != nil && line.item.IsStockTracked != nil && *line.item.IsStockTracked {
			qtyByProduct[*line.item.ProductId] = qtyByProduct[*line.item.ProductId].Add(line.qty)
		}
	}

	restoreReason := "sale " + sale.InvoiceNumber + " return"
	if len(input.Items) == 0 {
		if err := restoreSaleStock(tx, sale, InventoryEntryTypeReturn, restoreReason, nil); err != nil {
			tx.Rollback()
			return nil, err
		}
	} else {
		if err := restoreSaleStock(tx, sale, InventoryEntryTypeReturn, restoreReason, qtyByProduct); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	for _, line := range lines {
		if err := tx.Model(line.item).Update("ReturnedQty", line.qty).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	// The customer gets back what they actually paid, up to the value of
	// the returned goods. The rest of the returned value just erases due.
	refundAmount := returnedValue
	if refundAmount.GreaterThan(sale.PaidAmount) {
		refundAmount = sale.PaidAmount
	}

	if err := ApplyReturnToCustomerStats(tx, ctx, organizationId, sale.CustomerId, refundAmount, sale.DueAmount); err != nil {
		tx.Rollback()
		return nil, err
	}
	returnedAt := time.Now()
	if err := AddReturnToDailySummary(tx, organizationId, sale.ShopId, summaryDay(returnedAt), returnedValue); err != nil {
		tx.Rollback()
		return nil, err
	}

	err = tx.WithContext(ctx).Model(sale).Updates(map[string]interface{}{
		"CurrentStatus": SaleStatusReturned,
		"ReturnedAt":    &returnedAt,
		"ReturnReason":  input.Reason,
		"RefundAmount":  refundAmount,
		"DueAmount":     decimal.Zero,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	sale.CurrentStatus = SaleStatusReturned
	sale.ReturnedAt = &returnedAt
	sale.ReturnReason = input.Reason
	sale.RefundAmount = refundAmount
	sale.DueAmount = decimal.Zero

	if err := RecordAuditEvent(ctx, tx, organizationId, sale.ShopId, returnedAt, sale.ID, ReferenceTypeSale, sale, &existing, AuditActionReturn); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	InvalidateShopCacheAfterCommit(ctx, sale.ShopId)

	return GetSale(ctx, sale.ID)
}

// AddOldGoldToSale appraises another piece of exchanged metal against the
// sale and reprices it. Allowed until the goods go out the door.
func AddOldGoldToSale(ctx context.Context, saleId int, input *NewOldGoldItem) (*Sale, error) {
	db := config.GetDB()

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	tx := db.Begin()

	sale, err := fetchSaleForUpdate(tx, ctx, organizationId, saleId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := validateSaleMoneyEditable(sale); err != nil {
		tx.Rollback()
		return nil, err
	}

	settings, err := GetShopSettings(ctx, sale.ShopId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	policy := settings.PricingPolicy()

	rows, _, err := resolveOldGoldItems([]*NewOldGoldItem{input}, policy)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	row := rows[0]
	row.SaleId = sale.ID
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	existing := *sale
	if err := repriceSaleInTx(tx, ctx, sale, policy); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := RecordAuditEvent(ctx, tx, organizationId, sale.ShopId, time.Now(), sale.ID, ReferenceTypeSale, sale, &existing, AuditActionUpdate); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	InvalidateShopCacheAfterCommit(ctx, sale.ShopId)

	return GetSale(ctx, sale.ID)
}

// RemoveOldGoldFromSale takes an exchanged piece off the sale and restores
// the net payable it was offsetting.
func RemoveOldGoldFromSale(ctx context.Context, saleId int, oldGoldItemId int) (*Sale, error) {
	db := config.GetDB()

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	tx := db.Begin()

	sale, err := fetchSaleForUpdate(tx, ctx, organizationId, saleId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := validateSaleMoneyEditable(sale); err != nil {
		tx.Rollback()
		return nil, err
	}

	var row OldGoldItem
	if err := tx.Where("id = ? AND sale_id = ?", oldGoldItemId, sale.ID).First(&row).Error; err != nil {
		tx.Rollback()
		return nil, utils.MapDBError(err, "OldGoldItem", oldGoldItemId)
	}
	if err := tx.Delete(&row).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	settings, err := GetShopSettings(ctx, sale.ShopId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	existing := *sale
	if err := repriceSaleInTx(tx, ctx, sale, settings.PricingPolicy()); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := RecordAuditEvent(ctx, tx, organizationId, sale.ShopId, time.Now(), sale.ID, ReferenceTypeSale, sale, &existing, AuditActionUpdate); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	InvalidateShopCacheAfterCommit(ctx, sale.ShopId)

	return GetSale(ctx, sale.ID)
}

// ApplySaleDiscount sets or clears the invoice-level discount and reprices
// the sale. Clearing is a zero value with no type.
func ApplySaleDiscount(ctx context.Context, saleId int, input *SaleDiscountInput) (*Sale, error) {
	db := config.GetDB()

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}
	if input == nil {
		input = &SaleDiscountInput{}
	}

	tx := db.Begin()

	sale, err := fetchSaleForUpdate(tx, ctx, organizationId, saleId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := validateSaleMoneyEditable(sale); err != nil {
		tx.Rollback()
		return nil, err
	}

	settings, err := GetShopSettings(ctx, sale.ShopId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	existing := *sale
	sale.DiscountType = input.DiscountType
	sale.DiscountValue = input.DiscountValue
	err = tx.WithContext(ctx).Model(sale).Updates(map[string]interface{}{
		"DiscountType":  input.DiscountType,
		"DiscountValue": input.DiscountValue,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := repriceSaleInTx(tx, ctx, sale, settings.PricingPolicy()); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := RecordAuditEvent(ctx, tx, organizationId, sale.ShopId, time.Now(), sale.ID, ReferenceTypeSale, sale, &existing, AuditActionUpdate); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	InvalidateShopCacheAfterCommit(ctx, sale.ShopId)

	return GetSale(ctx, sale.ID)
}

// Discount and old gold edits change what the customer owes, so they stop
// once the sale is delivered or terminal.
func validateSaleMoneyEditable(sale *Sale) error {
	switch sale.CurrentStatus {
	case SaleStatusDraft, SaleStatusPending, SaleStatusConfirmed:
		return nil
	}
	return utils.NewValidationErrorf("a %s sale can no longer be re-priced", string(sale.CurrentStatus))
}

// repriceSaleInTx reprices the sale from its stored item and old gold rows,
// persists the new totals, re-derives the payment state and moves the
// customer accumulators by the difference. Stored totals stay reproducible
// from line data at all times.
func repriceSaleInTx(tx *gorm.DB, ctx context.Context, sale *Sale, policy PricingPolicy) error {
	var items []SaleItem
	if err := tx.Where("sale_id = ?", sale.ID).Order("id").Find(&items).Error; err != nil {
		return err
	}
	var oldGold []OldGoldItem
	if err := tx.Where("sale_id = ?", sale.ID).Order("id").Find(&oldGold).Error; err != nil {
		return err
	}

	pricingInputs := make([]ItemPricingInput, 0, len(items))
	for _, item := range items {
		pricingInputs = append(pricingInputs, ItemPricingInput{
			Quantity:      item.Quantity,
			GrossWeight:   item.GrossWeight,
			StoneWeight:   item.StoneWeight,
			RatePerGram:   item.RatePerGram,
			StoneValue:    item.StoneValue,
			MakingCharges: item.MakingCharges,
			OtherCharges:  item.OtherCharges,
			DiscountType:  item.DiscountType,
			DiscountValue: item.DiscountValue,
			GstPct:        item.GstPct,
		})
	}
	oldGoldInputs := make([]OldGoldPricingInput, 0, len(oldGold))
	for _, piece := range oldGold {
		oldGoldInputs = append(oldGoldInputs, OldGoldPricingInput{
			GrossWeight:  piece.GrossWeight,
			StoneWeight:  piece.StoneWeight,
			RatePerGram:  piece.RatePerGram,
			DeductionPct: piece.DeductionPct,
		})
	}

	financials, err := CalculateSaleFinancials(pricingInputs, sale.DiscountType, sale.DiscountValue, oldGoldInputs, policy)
	if err != nil {
		return err
	}

	for i := range items {
		fin := financials.Items[i]
		err := tx.Model(&items[i]).Updates(map[string]interface{}{
			"NetWeight":      fin.NetWeight,
			"MetalValue":     fin.MetalValue,
			"DiscountAmount": fin.DiscountAmount,
			"TaxableAmount":  fin.TaxableAmount,
			"GstAmount":      fin.GstAmount,
			"ItemTotal":      fin.ItemTotal,
		}).Error
		if err != nil {
			return err
		}
	}

	oldGrand := sale.GrandTotal
	oldDue := sale.DueAmount

	sale.applyFinancials(financials)
	sale.refreshPaymentState()

	err = tx.WithContext(ctx).Model(sale).Updates(map[string]interface{}{
		"Subtotal":      sale.Subtotal,
		"TotalDiscount": sale.TotalDiscount,
		"TotalGst":      sale.TotalGst,
		"OldGoldValue":  sale.OldGoldValue,
		"GrandTotal":    sale.GrandTotal,
		"RoundOff":      sale.RoundOff,
		"NetPayable":    sale.NetPayable,
		"RefundDue":     sale.RefundDue,
		"DueAmount":     sale.DueAmount,
		"PaymentStatus": sale.PaymentStatus,
	}).Error
	if err != nil {
		return err
	}

	grandDelta := sale.GrandTotal.Sub(oldGrand)
	dueDelta := sale.DueAmount.Sub(oldDue)
	if err := AdjustCustomerForSaleAmounts(tx, ctx, sale.OrganizationId, sale.CustomerId, grandDelta, dueDelta); err != nil {
		return err
	}
	return AdjustSaleInDailySummary(tx, sale.OrganizationId, sale.ShopId, summaryDay(sale.SaleDate), grandDelta)
}

func GetSale(ctx context.Context, id int) (*Sale, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	sale, err := utils.FetchModel[Sale](ctx, organizationId, id, "Items", "OldGoldItems", "Payments", "Documents")
	if err != nil {
		return nil, err
	}
	if sale.IsDeleted != nil && *sale.IsDeleted {
		return nil, utils.NewNotFoundError("Sale", id)
	}
	return sale, nil
}

func GetSales(ctx context.Context, shopId int, filter *SaleFilter) ([]*Sale, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, errors.New("organization id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).
		Where("organization_id = ? AND shop_id = ? AND is_deleted = ?", organizationId, shopId, false)

	if filter != nil {
		if filter.Status != nil {
			dbCtx = dbCtx.Where("current_status = ?", *filter.Status)
		}
		if filter.PaymentStatus != nil {
			dbCtx = dbCtx.Where("payment_status = ?", *filter.PaymentStatus)
		}
		if filter.CustomerId != nil {
			dbCtx = dbCtx.Where("customer_id = ?", *filter.CustomerId)
		}
		if filter.FromDate != nil {
			dbCtx = dbCtx.Where("sale_date >= ?", *filter.FromDate)
		}
		if filter.ToDate != nil {
			dbCtx = dbCtx.Where("sale_date <= ?", *filter.ToDate)
		}
		if filter.InvoiceNumber != nil && *filter.InvoiceNumber != "" {
			dbCtx = dbCtx.Where("invoice_number LIKE ?", "%"+*filter.InvoiceNumber+"%")
		}
	}

	var sales []*Sale
	err := dbCtx.Preload("Items").
		Order("sale_date DESC, id DESC").
		Find(&sales).Error
	if err != nil {
		return nil, err
	}
	return sales, nil
}
