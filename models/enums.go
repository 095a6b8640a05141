package models

import (
	"errors"
)

type SaleStatus string

const (
	SaleStatusDraft     SaleStatus = "Draft"
	SaleStatusPending   SaleStatus = "Pending"
	SaleStatusConfirmed SaleStatus = "Confirmed"
	SaleStatusDelivered SaleStatus = "Delivered"
	SaleStatusCompleted SaleStatus = "Completed"
	SaleStatusCancelled SaleStatus = "Cancelled"
	SaleStatusReturned  SaleStatus = "Returned"
)

func (s *SaleStatus) UnmarshalString(str string) error {
	saleStatus := map[string]SaleStatus{
		"Draft":     SaleStatusDraft,
		"Pending":   SaleStatusPending,
		"Confirmed": SaleStatusConfirmed,
		"Delivered": SaleStatusDelivered,
		"Completed": SaleStatusCompleted,
		"Cancelled": SaleStatusCancelled,
		"Returned":  SaleStatusReturned,
	}
	v, ok := saleStatus[str]
	if !ok {
		return errors.New("invalid sale status")
	}
	*s = v
	return nil
}

// Completed is terminal for item/financial edits but still accepts payments
// while due amount > 0.
func (s SaleStatus) IsTerminal() bool {
	switch s {
	case SaleStatusCompleted, SaleStatusCancelled, SaleStatusReturned:
		return true
	}
	return false
}

func (s SaleStatus) IsEditable() bool {
	return s == SaleStatusDraft || s == SaleStatusPending
}

type PaymentStatus string

const (
	PaymentStatusUnpaid  PaymentStatus = "Unpaid"
	PaymentStatusPartial PaymentStatus = "Partial"
	PaymentStatusPaid    PaymentStatus = "Paid"
)

type PurchaseStatus string

const (
	PurchaseStatusDraft     PurchaseStatus = "Draft"
	PurchaseStatusReceived  PurchaseStatus = "Received"
	PurchaseStatusCancelled PurchaseStatus = "Cancelled"
)

func (s *PurchaseStatus) UnmarshalString(str string) error {
	purchaseStatus := map[string]PurchaseStatus{
		"Draft":     PurchaseStatusDraft,
		"Received":  PurchaseStatusReceived,
		"Cancelled": PurchaseStatusCancelled,
	}
	v, ok := purchaseStatus[str]
	if !ok {
		return errors.New("invalid purchase status")
	}
	*s = v
	return nil
}

type ProductSaleStatus string

const (
	ProductSaleStatusAvailable ProductSaleStatus = "Available"
	ProductSaleStatusReserved  ProductSaleStatus = "Reserved"
	ProductSaleStatusSold      ProductSaleStatus = "Sold"
)

type InventoryEntryType string

const (
	InventoryEntryTypeSale       InventoryEntryType = "SALE"
	InventoryEntryTypeReturn     InventoryEntryType = "RETURN"
	InventoryEntryTypePurchase   InventoryEntryType = "PURCHASE"
	InventoryEntryTypeAdjustment InventoryEntryType = "ADJUSTMENT"
	InventoryEntryTypeOpening    InventoryEntryType = "OPENING"
)

// DiscountType: P = percentage of the taxable amount, F = flat amount.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "P"
	DiscountTypeFlat       DiscountType = "F"
)

func (t *DiscountType) UnmarshalString(str string) error {
	switch str {
	case "P":
		*t = DiscountTypePercentage
	case "F":
		*t = DiscountTypeFlat
	default:
		return errors.New("invalid discount type")
	}
	return nil
}

type ReferenceType string

const (
	ReferenceTypeSale     ReferenceType = "Sale"
	ReferenceTypePurchase ReferenceType = "Purchase"
)

type UserRole string

const (
	UserRoleAdmin UserRole = "A"
	UserRoleOwner UserRole = "O"
	UserRoleStaff UserRole = "S"
)

type MetalType string

const (
	MetalTypeGold     MetalType = "Gold"
	MetalTypeSilver   MetalType = "Silver"
	MetalTypePlatinum MetalType = "Platinum"
	MetalTypeDiamond  MetalType = "Diamond"
	MetalTypeOther    MetalType = "Other"
)

func (t *MetalType) UnmarshalString(str string) error {
	metalType := map[string]MetalType{
		"Gold":     MetalTypeGold,
		"Silver":   MetalTypeSilver,
		"Platinum": MetalTypePlatinum,
		"Diamond":  MetalTypeDiamond,
		"Other":    MetalTypeOther,
	}
	v, ok := metalType[str]
	if !ok {
		return errors.New("invalid metal type")
	}
	*t = v
	return nil
}
