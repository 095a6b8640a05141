package models

import (
	"github.com/shopspring/decimal"

	"github.com/gempos/jewels_backend/utils"
)

// PricingPolicy carries the shop settings that bound what a sale is
// allowed to charge. It is resolved once per request from ShopSettings
// so the calculator itself never touches the database.
type PricingPolicy struct {
	DefaultGstPct         decimal.Decimal
	DiscountCeilingPct    decimal.Decimal
	OldGoldDeductionPct   decimal.Decimal
	AllowRefundOnExchange bool
}

func (settings *ShopSettings) PricingPolicy() PricingPolicy {
	return PricingPolicy{
		DefaultGstPct:         settings.DefaultGstPct,
		DiscountCeilingPct:    settings.DiscountCeilingPct,
		OldGoldDeductionPct:   settings.OldGoldDeductionPct,
		AllowRefundOnExchange: settings.AllowRefundOnExchange != nil && *settings.AllowRefundOnExchange,
	}
}

// ItemPricingInput is one sale line as the calculator sees it. Weights
// and rate describe a single unit; Quantity scales the line total.
type ItemPricingInput struct {
	Quantity      decimal.Decimal
	GrossWeight   decimal.Decimal
	StoneWeight   decimal.Decimal
	RatePerGram   decimal.Decimal
	StoneValue    decimal.Decimal
	MakingCharges decimal.Decimal
	OtherCharges  decimal.Decimal
	DiscountType  *DiscountType
	DiscountValue decimal.Decimal
	GstPct        decimal.Decimal
}

// ItemFinancials is the resolved money breakdown of one sale line.
// NetWeight through GstAmount are per-unit figures, ItemTotal is the
// line total after quantity.
type ItemFinancials struct {
	NetWeight      decimal.Decimal
	MetalValue     decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxableAmount  decimal.Decimal
	GstAmount      decimal.Decimal
	ItemTotal      decimal.Decimal
}

// SaleFinancials is the invoice-level rollup. GrandTotal is rounded to
// the whole rupee and RoundOff records how far the rounding moved it.
type SaleFinancials struct {
	Subtotal      decimal.Decimal
	TotalDiscount decimal.Decimal
	TotalGst      decimal.Decimal
	OldGoldValue  decimal.Decimal
	GrandTotal    decimal.Decimal
	RoundOff      decimal.Decimal
	NetPayable    decimal.Decimal
	RefundDue     decimal.Decimal
	Items         []ItemFinancials
}

// OldGoldPricingInput is one exchanged old-gold piece. The customer's
// metal is weighed, stone weight deducted, and valued at the day's rate
// less the shop's deduction percentage.
type OldGoldPricingInput struct {
	GrossWeight  decimal.Decimal
	StoneWeight  decimal.Decimal
	RatePerGram  decimal.Decimal
	DeductionPct decimal.Decimal
}

func validateDiscount(discountType *DiscountType, discountValue decimal.Decimal, ceilingPct decimal.Decimal) error {
	if discountValue.LessThan(decimal.Zero) {
		return utils.NewValidationError("discount value cannot be negative")
	}
	if discountType != nil && *discountType == DiscountTypePercentage {
		if discountValue.GreaterThan(decimal.NewFromInt(100)) {
			return utils.NewValidationError("percentage discount cannot exceed 100")
		}
		if ceilingPct.GreaterThan(decimal.Zero) && discountValue.GreaterThan(ceilingPct) {
			return utils.NewValidationErrorf("discount %s%% exceeds the shop ceiling of %s%%", discountValue.String(), ceilingPct.String())
		}
	}
	return nil
}

func (input *ItemPricingInput) validate(policy PricingPolicy) error {
	if input.Quantity.LessThanOrEqual(decimal.Zero) {
		return utils.NewValidationError("item quantity must be greater than zero")
	}
	if input.GrossWeight.LessThan(decimal.Zero) || input.StoneWeight.LessThan(decimal.Zero) {
		return utils.NewValidationError("item weights cannot be negative")
	}
	if input.StoneWeight.GreaterThan(input.GrossWeight) {
		return utils.NewValidationError("stone weight cannot exceed gross weight")
	}
	if input.RatePerGram.LessThan(decimal.Zero) {
		return utils.NewValidationError("rate per gram cannot be negative")
	}
	if input.StoneValue.LessThan(decimal.Zero) || input.MakingCharges.LessThan(decimal.Zero) || input.OtherCharges.LessThan(decimal.Zero) {
		return utils.NewValidationError("item charges cannot be negative")
	}
	if input.GstPct.LessThan(decimal.Zero) {
		return utils.NewValidationError("gst percentage cannot be negative")
	}
	return validateDiscount(input.DiscountType, input.DiscountValue, policy.DiscountCeilingPct)
}

// CalculateItemFinancials prices one line. The chain is fixed: net
// weight from gross minus stone, metal value from net weight at the
// rate, the taxable base from metal plus stone plus charges, discount
// off the taxable base, GST on what remains.
func CalculateItemFinancials(input ItemPricingInput, policy PricingPolicy) (*ItemFinancials, error) {
	if err := input.validate(policy); err != nil {
		return nil, err
	}

	netWeight := input.GrossWeight.Sub(input.StoneWeight)
	metalValue := netWeight.Mul(input.RatePerGram)
	taxableBase := metalValue.Add(input.StoneValue).Add(input.MakingCharges).Add(input.OtherCharges)

	var discountAmount decimal.Decimal
	if input.DiscountType != nil {
		discountAmount = utils.CalculateDiscountAmount(taxableBase, input.DiscountValue, string(*input.DiscountType))
	}
	// A flat discount larger than the line is clamped; the taxable
	// amount never goes negative.
	if discountAmount.GreaterThan(taxableBase) {
		discountAmount = taxableBase
	}

	taxableAmount := taxableBase.Sub(discountAmount)
	gstPct := input.GstPct
	gstAmount := utils.CalculateGstAmount(taxableAmount, gstPct)
	itemTotal := taxableAmount.Add(gstAmount).Mul(input.Quantity)

	return &ItemFinancials{
		NetWeight:      netWeight,
		MetalValue:     metalValue,
		DiscountAmount: discountAmount,
		TaxableAmount:  taxableAmount,
		GstAmount:      gstAmount,
		ItemTotal:      itemTotal,
	}, nil
}

// CalculateOldGoldValue values a customer's exchanged metal. Each piece
// is net weight at its rate, reduced by the deduction percentage the
// shop applies for melting loss.
func CalculateOldGoldValue(items []OldGoldPricingInput) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, item := range items {
		if item.GrossWeight.LessThan(decimal.Zero) || item.StoneWeight.LessThan(decimal.Zero) {
			return decimal.Zero, utils.NewValidationError("old gold weights cannot be negative")
		}
		if item.StoneWeight.GreaterThan(item.GrossWeight) {
			return decimal.Zero, utils.NewValidationError("old gold stone weight cannot exceed gross weight")
		}
		if item.RatePerGram.LessThan(decimal.Zero) {
			return decimal.Zero, utils.NewValidationError("old gold rate per gram cannot be negative")
		}
		if item.DeductionPct.LessThan(decimal.Zero) || item.DeductionPct.GreaterThan(decimal.NewFromInt(100)) {
			return decimal.Zero, utils.NewValidationError("old gold deduction percentage must be between 0 and 100")
		}
		netWeight := item.GrossWeight.Sub(item.StoneWeight)
		grossValue := netWeight.Mul(item.RatePerGram)
		deduction := grossValue.Mul(item.DeductionPct).DivRound(decimal.NewFromInt(100), 4)
		total = total.Add(grossValue.Sub(deduction))
	}
	return total, nil
}

// CalculateSaleFinancials rolls a full invoice up from its raw line
// inputs. A sale-level discount is spread across the lines in
// proportion to their taxable value and GST is recomputed on the
// discounted figures, so re-running the calculator after any edit
// always lands on the same totals.
func CalculateSaleFinancials(
	items []ItemPricingInput,
	saleDiscountType *DiscountType,
	saleDiscountValue decimal.Decimal,
	oldGold []OldGoldPricingInput,
	policy PricingPolicy,
) (*SaleFinancials, error) {
	if len(items) == 0 {
		return nil, utils.NewValidationError("a sale requires at least one item")
	}
	if err := validateDiscount(saleDiscountType, saleDiscountValue, policy.DiscountCeilingPct); err != nil {
		return nil, err
	}

	financials := make([]ItemFinancials, 0, len(items))
	itemDiscountTotal := decimal.Zero
	lineTaxableTotal := decimal.Zero
	for _, input := range items {
		itemFin, err := CalculateItemFinancials(input, policy)
		if err != nil {
			return nil, err
		}
		financials = append(financials, *itemFin)
		itemDiscountTotal = itemDiscountTotal.Add(itemFin.DiscountAmount.Mul(input.Quantity))
		lineTaxableTotal = lineTaxableTotal.Add(itemFin.TaxableAmount.Mul(input.Quantity))
	}

	saleDiscountAmount := decimal.Zero
	if saleDiscountType != nil {
		saleDiscountAmount = utils.CalculateDiscountAmount(lineTaxableTotal, saleDiscountValue, string(*saleDiscountType))
		if saleDiscountAmount.GreaterThan(lineTaxableTotal) {
			saleDiscountAmount = lineTaxableTotal
		}
	}

	// Spread the invoice discount over the lines by taxable share and
	// reprice GST on the reduced amounts.
	if saleDiscountAmount.GreaterThan(decimal.Zero) && lineTaxableTotal.GreaterThan(decimal.Zero) {
		remaining := saleDiscountAmount
		for i := range financials {
			qty := items[i].Quantity
			lineTaxable := financials[i].TaxableAmount.Mul(qty)
			var share decimal.Decimal
			if i == len(financials)-1 {
				share = remaining
			} else {
				share = saleDiscountAmount.Mul(lineTaxable).DivRound(lineTaxableTotal, 4)
				remaining = remaining.Sub(share)
			}
			unitShare := share.DivRound(qty, 4)
			financials[i].DiscountAmount = financials[i].DiscountAmount.Add(unitShare)
			financials[i].TaxableAmount = financials[i].TaxableAmount.Sub(unitShare)
			financials[i].GstAmount = utils.CalculateGstAmount(financials[i].TaxableAmount, items[i].GstPct)
			financials[i].ItemTotal = financials[i].TaxableAmount.Add(financials[i].GstAmount).Mul(qty)
		}
	}

	subtotal := decimal.Zero
	totalGst := decimal.Zero
	for i := range financials {
		qty := items[i].Quantity
		subtotal = subtotal.Add(financials[i].TaxableAmount.Mul(qty))
		totalGst = totalGst.Add(financials[i].GstAmount.Mul(qty))
	}

	oldGoldValue, err := CalculateOldGoldValue(oldGold)
	if err != nil {
		return nil, err
	}

	exactTotal := subtotal.Add(totalGst)
	grandTotal := exactTotal.Round(0)
	roundOff := grandTotal.Sub(exactTotal)

	netPayable := grandTotal.Sub(oldGoldValue)
	refundDue := decimal.Zero
	if netPayable.LessThan(decimal.Zero) && !policy.AllowRefundOnExchange {
		refundDue = netPayable.Neg()
		netPayable = decimal.Zero
	}

	return &SaleFinancials{
		Subtotal:      subtotal,
		TotalDiscount: itemDiscountTotal.Add(saleDiscountAmount),
		TotalGst:      totalGst,
		OldGoldValue:  oldGoldValue,
		GrandTotal:    grandTotal,
		RoundOff:      roundOff,
		NetPayable:    netPayable,
		RefundDue:     refundDue,
		Items:         financials,
	}, nil
}
