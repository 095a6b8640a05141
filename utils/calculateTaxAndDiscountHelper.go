package utils

import (
	"github.com/shopspring/decimal"
)

var decimalOneHundred = decimal.NewFromInt(100)

// CalculateDiscountAmount resolves a discount against a base amount.
// discountType "P" treats discount as a percentage of base, anything
// else as a flat amount. Non-positive discounts resolve to zero.
func CalculateDiscountAmount(base decimal.Decimal, discount decimal.Decimal, discountType string) decimal.Decimal {
	if discount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	if discountType == "P" {
		return base.Mul(discount).DivRound(decimalOneHundred, 4)
	}
	return discount
}

// CalculateGstAmount returns the GST charged on top of a taxable amount.
// GST on jewelry invoices is always exclusive, quoted on top of the
// taxable value rather than carved out of it.
func CalculateGstAmount(taxable decimal.Decimal, gstPct decimal.Decimal) decimal.Decimal {
	if gstPct.LessThanOrEqual(decimal.Zero) || taxable.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return taxable.DivRound(decimalOneHundred, 4).Mul(gstPct)
}
