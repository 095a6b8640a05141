package models

import (
	"context"
	"fmt"
	"time"

	"github.com/gempos/jewels_backend/config"
	"github.com/gempos/jewels_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryEntry is the append-only stock ledger. Rows are never edited or
// deleted; restorations write a linked reversal row. For every product the
// running sum of Quantity equals its current counter.
type InventoryEntry struct {
	ID               int                `gorm:"primary_key" json:"id"`
	OrganizationId   string             `gorm:"index;not null" json:"organization_id"`
	ShopId           int                `gorm:"index;not null" json:"shop_id"`
	ProductId        int                `gorm:"index;not null" json:"product_id"`
	EntryType        InventoryEntryType `gorm:"type:enum('SALE','RETURN','PURCHASE','ADJUSTMENT','OPENING')" json:"entry_type"`
	EntryDate        time.Time          `gorm:"not null" json:"entry_date"`
	Quantity         decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	PreviousQuantity decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"previous_quantity"`
	NewQuantity      decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"new_quantity"`
	UnitCost         decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	Reason           string             `gorm:"size:255;not null" json:"reason"`
	ReferenceType    *ReferenceType     `gorm:"type:enum('Sale','Purchase');default:null" json:"reference_type"`
	ReferenceId      int                `gorm:"index" json:"reference_id"`
	IsOutgoing       *bool              `gorm:"not null;default:false" json:"is_outgoing"`
	// ledger immutability & reversals (append-only)
	IsReversal        bool       `gorm:"not null;default:false;index" json:"is_reversal"`
	ReversesEntryId   *int       `gorm:"index" json:"reverses_entry_id"`
	ReversedByEntryId *int       `gorm:"index" json:"reversed_by_entry_id"`
	ReversalReason    *string    `gorm:"type:text" json:"reversal_reason"`
	ReversedAt        *time.Time `gorm:"index" json:"reversed_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeSave enforces internal invariants for the inventory ledger.
//
// We ensure:
// - IsOutgoing is never nil
// - For non-zero qty, IsOutgoing always matches qty sign (qty < 0 => outgoing).
// - NewQuantity is exactly PreviousQuantity + Quantity; a row that breaks the
//   arithmetic is refused rather than persisted.
func (e *InventoryEntry) BeforeSave(tx *gorm.DB) error {
	_ = tx // signature required by gorm; tx may be nil in tests
	if e == nil {
		return nil
	}
	if e.IsOutgoing == nil {
		b := false
		e.IsOutgoing = &b
	}
	if !e.NewQuantity.Equal(e.PreviousQuantity.Add(e.Quantity)) {
		return fmt.Errorf("inventory entry arithmetic mismatch: %s + %s != %s",
			e.PreviousQuantity.String(), e.Quantity.String(), e.NewQuantity.String())
	}
	if e.Quantity.IsZero() {
		return nil
	}
	b := e.Quantity.IsNegative()
	e.IsOutgoing = &b
	return nil
}

type StockDirection string

const (
	StockDirectionAdd      StockDirection = "add"
	StockDirectionSubtract StockDirection = "subtract"
)

// StockDelta describes one quantity change to apply through the ledger.
type StockDelta struct {
	OrganizationId string
	ShopId         int
	ProductId      int
	Quantity       decimal.Decimal // positive magnitude; Direction gives the sign
	Direction      StockDirection
	EntryType      InventoryEntryType
	EntryDate      time.Time
	Reason         string
	UnitCost       decimal.Decimal
	ReferenceType  *ReferenceType
	ReferenceId    int
	// reversal linkage, set when this delta undoes a prior entry
	ReversesEntryId *int
	ReversalReason  string
}

// ApplyStockDelta reads the product's current quantity, writes the new
// quantity, and appends one ledger row, all inside the caller's transaction.
// The product row is locked for the duration of the transaction so two
// concurrent sales cannot both consume the last unit: the stock check runs
// against the locked row, not a value read outside the transaction.
//
// The caller owns the transaction; on error it must roll back.
func ApplyStockDelta(tx *gorm.DB, delta StockDelta) (*InventoryEntry, error) {

	if delta.Quantity.IsNegative() {
		return nil, utils.NewValidationError("stock delta quantity cannot be negative")
	}
	if delta.Quantity.IsZero() {
		return nil, utils.NewValidationError("stock delta quantity cannot be zero")
	}

	var product Product
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND organization_id = ?", delta.ProductId, delta.OrganizationId).
		First(&product).Error
	if err != nil {
		return nil, utils.MapDBError(err, "Product", delta.ProductId)
	}
	if product.IsStockTracked != nil && !*product.IsStockTracked {
		return nil, utils.NewValidationError("product is not stock tracked")
	}

	prevQty := product.Quantity
	signed := delta.Quantity
	if delta.Direction == StockDirectionSubtract {
		if prevQty.LessThan(delta.Quantity) {
			return nil, utils.NewInsufficientStockError(product.ID, product.Name, prevQty, delta.Quantity)
		}
		signed = delta.Quantity.Neg()
	}

	newQty := prevQty.Add(signed)

	// zero stock flips the product to Sold; restoration flips it back.
	// A manual Reserved hold survives as long as stock remains positive.
	saleStatus := product.SaleStatus
	if newQty.IsZero() {
		saleStatus = ProductSaleStatusSold
	} else if saleStatus == ProductSaleStatusSold {
		saleStatus = ProductSaleStatusAvailable
	}
	err = tx.Model(&product).Updates(map[string]interface{}{
		"Quantity":   newQty,
		"SaleStatus": saleStatus,
	}).Error
	if err != nil {
		return nil, err
	}

	entryDate := delta.EntryDate
	if entryDate.IsZero() {
		entryDate = time.Now()
	}
	entry := InventoryEntry{
		OrganizationId:   delta.OrganizationId,
		ShopId:           delta.ShopId,
		ProductId:        delta.ProductId,
		EntryType:        delta.EntryType,
		EntryDate:        entryDate,
		Quantity:         signed,
		PreviousQuantity: prevQty,
		NewQuantity:      newQty,
		UnitCost:         delta.UnitCost,
		Reason:           delta.Reason,
		ReferenceType:    delta.ReferenceType,
		ReferenceId:      delta.ReferenceId,
		ReversesEntryId:  delta.ReversesEntryId,
	}
	if delta.ReversesEntryId != nil {
		entry.IsReversal = true
		if delta.ReversalReason != "" {
			reason := delta.ReversalReason
			entry.ReversalReason = &reason
		}
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}

	return &entry, nil
}

// ReverseStockEntry writes the inverse of a prior ledger entry and links the
// two rows. qty may be less than the original magnitude for partial returns;
// the original is marked reversed only once its full magnitude is undone.
func ReverseStockEntry(tx *gorm.DB, original *InventoryEntry, entryType InventoryEntryType, qty decimal.Decimal, reason string) (*InventoryEntry, error) {

	if original == nil {
		return nil, utils.NewValidationError("no ledger entry to reverse")
	}
	magnitude := original.Quantity.Abs()
	if qty.GreaterThan(magnitude) {
		return nil, utils.NewValidationError("cannot reverse more than the original quantity")
	}

	direction := StockDirectionAdd
	if original.Quantity.IsPositive() {
		direction = StockDirectionSubtract
	}

	entry, err := ApplyStockDelta(tx, StockDelta{
		OrganizationId:  original.OrganizationId,
		ShopId:          original.ShopId,
		ProductId:       original.ProductId,
		Quantity:        qty,
		Direction:       direction,
		EntryType:       entryType,
		Reason:          reason,
		UnitCost:        original.UnitCost,
		ReferenceType:   original.ReferenceType,
		ReferenceId:     original.ReferenceId,
		ReversesEntryId: &original.ID,
		ReversalReason:  reason,
	})
	if err != nil {
		return nil, err
	}

	if qty.Equal(magnitude) {
		now := time.Now()
		err = tx.Model(&InventoryEntry{}).Where("id = ?", original.ID).
			Updates(map[string]interface{}{
				"ReversedByEntryId": entry.ID,
				"ReversedAt":        now,
			}).Error
		if err != nil {
			return nil, err
		}
	}

	return entry, nil
}

// GetLedgerEntriesForReference returns the un-reversed ledger rows a document
// produced, oldest first. Cancel and return walk these to restore stock.
func GetLedgerEntriesForReference(tx *gorm.DB, refType ReferenceType, refId int, entryType InventoryEntryType) ([]*InventoryEntry, error) {
	var entries []*InventoryEntry
	err := tx.
		Where("reference_type = ? AND reference_id = ? AND entry_type = ? AND is_reversal = ? AND reversed_by_entry_id IS NULL",
			refType, refId, entryType, false).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// SumLedgerDeltas returns the signed sum of all ledger rows for a product.
// Stock conservation means this always equals the product's quantity counter
// (opening rows included).
func SumLedgerDeltas(ctx context.Context, productId int) (decimal.Decimal, error) {
	db := config.GetDB()
	var total decimal.NullDecimal
	err := db.WithContext(ctx).Model(&InventoryEntry{}).
		Where("product_id = ?", productId).
		Select("SUM(quantity)").Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// GetInventoryEntries lists ledger rows for a product, newest first.
func GetInventoryEntries(ctx context.Context, productId int, limit int) ([]*InventoryEntry, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, fmt.Errorf("organization id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).
		Where("organization_id = ? AND product_id = ?", organizationId, productId).
		Order("id DESC")
	if limit > 0 {
		dbCtx = dbCtx.Limit(limit)
	}
	var entries []*InventoryEntry
	if err := dbCtx.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
