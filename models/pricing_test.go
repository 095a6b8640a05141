package models_test

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/gempos/jewels_backend/models"
	"github.com/gempos/jewels_backend/utils"
)

func testPolicy() models.PricingPolicy {
	return models.PricingPolicy{
		DefaultGstPct:      decimal.NewFromInt(3),
		DiscountCeilingPct: decimal.NewFromInt(100),
	}
}

// goldRingInput is the reference line used across these tests:
// 10g gold at 5000/g plus 500 making charges, 3% GST.
// Taxable 50500, GST 1515, line total 52015.
func goldRingInput() models.ItemPricingInput {
	return models.ItemPricingInput{
		Quantity:      decimal.NewFromInt(1),
		GrossWeight:   decimal.NewFromInt(10),
		RatePerGram:   decimal.NewFromInt(5000),
		MakingCharges: decimal.NewFromInt(500),
		GstPct:        decimal.NewFromInt(3),
	}
}

func TestCalculateItemFinancialsGoldRing(t *testing.T) {
	fin, err := models.CalculateItemFinancials(goldRingInput(), testPolicy())
	if err != nil {
		t.Fatalf("CalculateItemFinancials: %v", err)
	}
	if !fin.NetWeight.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("net weight = %s, want 10", fin.NetWeight)
	}
	if !fin.MetalValue.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("metal value = %s, want 50000", fin.MetalValue)
	}
	if !fin.DiscountAmount.IsZero() {
		t.Fatalf("discount = %s, want 0", fin.DiscountAmount)
	}
	if !fin.TaxableAmount.Equal(decimal.NewFromInt(50500)) {
		t.Fatalf("taxable = %s, want 50500", fin.TaxableAmount)
	}
	if !fin.GstAmount.Equal(decimal.NewFromInt(1515)) {
		t.Fatalf("gst = %s, want 1515", fin.GstAmount)
	}
	if !fin.ItemTotal.Equal(decimal.NewFromInt(52015)) {
		t.Fatalf("item total = %s, want 52015", fin.ItemTotal)
	}
}

func TestCalculateItemFinancialsQuantityScalesLineTotal(t *testing.T) {
	input := goldRingInput()
	input.Quantity = decimal.NewFromInt(2)

	fin, err := models.CalculateItemFinancials(input, testPolicy())
	if err != nil {
		t.Fatalf("CalculateItemFinancials: %v", err)
	}
	// taxable and gst stay per-unit, only the line total doubles
	if !fin.TaxableAmount.Equal(decimal.NewFromInt(50500)) {
		t.Fatalf("taxable = %s, want 50500", fin.TaxableAmount)
	}
	if !fin.GstAmount.Equal(decimal.NewFromInt(1515)) {
		t.Fatalf("gst = %s, want 1515", fin.GstAmount)
	}
	if !fin.ItemTotal.Equal(decimal.NewFromInt(104030)) {
		t.Fatalf("item total = %s, want 104030", fin.ItemTotal)
	}
}

func TestCalculateItemFinancialsClampsFlatDiscount(t *testing.T) {
	flat := models.DiscountTypeFlat
	input := models.ItemPricingInput{
		Quantity:      decimal.NewFromInt(1),
		MakingCharges: decimal.NewFromInt(500),
		DiscountType:  &flat,
		DiscountValue: decimal.NewFromInt(1000),
	}

	fin, err := models.CalculateItemFinancials(input, testPolicy())
	if err != nil {
		t.Fatalf("CalculateItemFinancials: %v", err)
	}
	// a flat discount larger than the line eats the whole line, never more
	if !fin.DiscountAmount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("discount = %s, want 500", fin.DiscountAmount)
	}
	if !fin.TaxableAmount.IsZero() {
		t.Fatalf("taxable = %s, want 0", fin.TaxableAmount)
	}
	if !fin.ItemTotal.IsZero() {
		t.Fatalf("item total = %s, want 0", fin.ItemTotal)
	}
}

func TestCalculateItemFinancialsRejectsBadInput(t *testing.T) {
	pct := models.DiscountTypePercentage
	cases := []struct {
		name   string
		mutate func(*models.ItemPricingInput)
	}{
		{"zero quantity", func(i *models.ItemPricingInput) { i.Quantity = decimal.Zero }},
		{"negative quantity", func(i *models.ItemPricingInput) { i.Quantity = decimal.NewFromInt(-1) }},
		{"stone above gross", func(i *models.ItemPricingInput) { i.StoneWeight = decimal.NewFromInt(11) }},
		{"negative rate", func(i *models.ItemPricingInput) { i.RatePerGram = decimal.NewFromInt(-1) }},
		{"negative making charges", func(i *models.ItemPricingInput) { i.MakingCharges = decimal.NewFromInt(-5) }},
		{"negative discount", func(i *models.ItemPricingInput) {
			i.DiscountType = &pct
			i.DiscountValue = decimal.NewFromInt(-10)
		}},
		{"percentage above 100", func(i *models.ItemPricingInput) {
			i.DiscountType = &pct
			i.DiscountValue = decimal.NewFromInt(101)
		}},
	}
	for _, c := range cases {
		input := goldRingInput()
		c.mutate(&input)
		_, err := models.CalculateItemFinancials(input, testPolicy())
		if !utils.IsValidation(err) {
			t.Fatalf("%s: got %v, want validation error", c.name, err)
		}
	}
}

func TestCalculateItemFinancialsEnforcesShopDiscountCeiling(t *testing.T) {
	policy := testPolicy()
	policy.DiscountCeilingPct = decimal.NewFromInt(20)

	pct := models.DiscountTypePercentage
	input := goldRingInput()
	input.DiscountType = &pct
	input.DiscountValue = decimal.NewFromInt(25)

	_, err := models.CalculateItemFinancials(input, policy)
	if !utils.IsValidation(err) {
		t.Fatalf("got %v, want validation error", err)
	}
	if !strings.Contains(err.Error(), "exceeds the shop ceiling") {
		t.Fatalf("error = %q, want the ceiling message", err)
	}

	// at the ceiling is still fine
	input.DiscountValue = decimal.NewFromInt(20)
	if _, err := models.CalculateItemFinancials(input, policy); err != nil {
		t.Fatalf("discount at ceiling: %v", err)
	}
}

func TestCalculateOldGoldValueAppliesDeduction(t *testing.T) {
	value, err := models.CalculateOldGoldValue([]models.OldGoldPricingInput{{
		GrossWeight:  decimal.NewFromInt(10),
		StoneWeight:  decimal.NewFromInt(1),
		RatePerGram:  decimal.NewFromInt(5000),
		DeductionPct: decimal.NewFromInt(10),
	}})
	if err != nil {
		t.Fatalf("CalculateOldGoldValue: %v", err)
	}
	// 9g net at 5000 = 45000, less the 10% melting deduction
	if !value.Equal(decimal.NewFromInt(40500)) {
		t.Fatalf("old gold value = %s, want 40500", value)
	}

	_, err = models.CalculateOldGoldValue([]models.OldGoldPricingInput{{
		GrossWeight:  decimal.NewFromInt(5),
		RatePerGram:  decimal.NewFromInt(5000),
		DeductionPct: decimal.NewFromInt(120),
	}})
	if !utils.IsValidation(err) {
		t.Fatalf("deduction above 100: got %v, want validation error", err)
	}
}

func TestCalculateSaleFinancialsSingleItem(t *testing.T) {
	fin, err := models.CalculateSaleFinancials(
		[]models.ItemPricingInput{goldRingInput()}, nil, decimal.Zero, nil, testPolicy())
	if err != nil {
		t.Fatalf("CalculateSaleFinancials: %v", err)
	}
	if !fin.Subtotal.Equal(decimal.NewFromInt(50500)) {
		t.Fatalf("subtotal = %s, want 50500", fin.Subtotal)
	}
	if !fin.TotalGst.Equal(decimal.NewFromInt(1515)) {
		t.Fatalf("total gst = %s, want 1515", fin.TotalGst)
	}
	if !fin.GrandTotal.Equal(decimal.NewFromInt(52015)) {
		t.Fatalf("grand total = %s, want 52015", fin.GrandTotal)
	}
	if !fin.RoundOff.IsZero() {
		t.Fatalf("round off = %s, want 0", fin.RoundOff)
	}
	if !fin.NetPayable.Equal(decimal.NewFromInt(52015)) {
		t.Fatalf("net payable = %s, want 52015", fin.NetPayable)
	}
	if !fin.RefundDue.IsZero() {
		t.Fatalf("refund due = %s, want 0", fin.RefundDue)
	}
}

func TestCalculateSaleFinancialsSaleLevelPercentageDiscount(t *testing.T) {
	pct := models.DiscountTypePercentage
	fin, err := models.CalculateSaleFinancials(
		[]models.ItemPricingInput{goldRingInput()}, &pct, decimal.NewFromInt(10), nil, testPolicy())
	if err != nil {
		t.Fatalf("CalculateSaleFinancials: %v", err)
	}
	// 10% off 50500, gst repriced on the discounted base
	if !fin.TotalDiscount.Equal(decimal.NewFromInt(5050)) {
		t.Fatalf("total discount = %s, want 5050", fin.TotalDiscount)
	}
	if !fin.Subtotal.Equal(decimal.NewFromInt(45450)) {
		t.Fatalf("subtotal = %s, want 45450", fin.Subtotal)
	}
	if !fin.TotalGst.Equal(decimal.RequireFromString("1363.5")) {
		t.Fatalf("total gst = %s, want 1363.5", fin.TotalGst)
	}
	// 46813.5 rounds to the whole rupee and the difference lands in RoundOff
	if !fin.GrandTotal.Equal(decimal.NewFromInt(46814)) {
		t.Fatalf("grand total = %s, want 46814", fin.GrandTotal)
	}
	if !fin.RoundOff.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("round off = %s, want 0.5", fin.RoundOff)
	}
	if !fin.NetPayable.Equal(decimal.NewFromInt(46814)) {
		t.Fatalf("net payable = %s, want 46814", fin.NetPayable)
	}
}

func TestCalculateSaleFinancialsSpreadsFlatDiscountAcrossLines(t *testing.T) {
	lineA := models.ItemPricingInput{
		Quantity:    decimal.NewFromInt(1),
		GrossWeight: decimal.NewFromInt(2),
		RatePerGram: decimal.NewFromInt(5000),
		GstPct:      decimal.NewFromInt(3),
	}
	lineB := models.ItemPricingInput{
		Quantity:    decimal.NewFromInt(1),
		GrossWeight: decimal.NewFromInt(6),
		RatePerGram: decimal.NewFromInt(5000),
	}
	flat := models.DiscountTypeFlat

	fin, err := models.CalculateSaleFinancials(
		[]models.ItemPricingInput{lineA, lineB}, &flat, decimal.NewFromInt(4000), nil, testPolicy())
	if err != nil {
		t.Fatalf("CalculateSaleFinancials: %v", err)
	}

	// 4000 split by taxable share: 1000 onto the 10000 line, 3000 onto the 30000 line
	if !fin.Items[0].DiscountAmount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("line A discount = %s, want 1000", fin.Items[0].DiscountAmount)
	}
	if !fin.Items[0].TaxableAmount.Equal(decimal.NewFromInt(9000)) {
		t.Fatalf("line A taxable = %s, want 9000", fin.Items[0].TaxableAmount)
	}
	if !fin.Items[0].GstAmount.Equal(decimal.NewFromInt(270)) {
		t.Fatalf("line A gst = %s, want 270", fin.Items[0].GstAmount)
	}
	if !fin.Items[0].ItemTotal.Equal(decimal.NewFromInt(9270)) {
		t.Fatalf("line A total = %s, want 9270", fin.Items[0].ItemTotal)
	}
	if !fin.Items[1].DiscountAmount.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("line B discount = %s, want 3000", fin.Items[1].DiscountAmount)
	}
	if !fin.Items[1].TaxableAmount.Equal(decimal.NewFromInt(27000)) {
		t.Fatalf("line B taxable = %s, want 27000", fin.Items[1].TaxableAmount)
	}
	if !fin.Items[1].ItemTotal.Equal(decimal.NewFromInt(27000)) {
		t.Fatalf("line B total = %s, want 27000", fin.Items[1].ItemTotal)
	}

	if !fin.Subtotal.Equal(decimal.NewFromInt(36000)) {
		t.Fatalf("subtotal = %s, want 36000", fin.Subtotal)
	}
	if !fin.TotalGst.Equal(decimal.NewFromInt(270)) {
		t.Fatalf("total gst = %s, want 270", fin.TotalGst)
	}
	if !fin.TotalDiscount.Equal(decimal.NewFromInt(4000)) {
		t.Fatalf("total discount = %s, want 4000", fin.TotalDiscount)
	}
	if !fin.GrandTotal.Equal(decimal.NewFromInt(36270)) {
		t.Fatalf("grand total = %s, want 36270", fin.GrandTotal)
	}
}

func TestCalculateSaleFinancialsOldGoldOffsetsNetPayable(t *testing.T) {
	oldGold := []models.OldGoldPricingInput{{
		GrossWeight: decimal.NewFromInt(5),
		RatePerGram: decimal.NewFromInt(4000),
	}}

	fin, err := models.CalculateSaleFinancials(
		[]models.ItemPricingInput{goldRingInput()}, nil, decimal.Zero, oldGold, testPolicy())
	if err != nil {
		t.Fatalf("CalculateSaleFinancials: %v", err)
	}
	if !fin.OldGoldValue.Equal(decimal.NewFromInt(20000)) {
		t.Fatalf("old gold value = %s, want 20000", fin.OldGoldValue)
	}
	// the exchange offsets what the customer pays, not the invoice total
	if !fin.GrandTotal.Equal(decimal.NewFromInt(52015)) {
		t.Fatalf("grand total = %s, want 52015", fin.GrandTotal)
	}
	if !fin.NetPayable.Equal(decimal.NewFromInt(32015)) {
		t.Fatalf("net payable = %s, want 32015", fin.NetPayable)
	}
}

func TestCalculateSaleFinancialsExchangeExcess(t *testing.T) {
	// 15g at 4000 = 60000 of old gold against a 52015 invoice
	oldGold := []models.OldGoldPricingInput{{
		GrossWeight: decimal.NewFromInt(15),
		RatePerGram: decimal.NewFromInt(4000),
	}}
	items := []models.ItemPricingInput{goldRingInput()}

	fin, err := models.CalculateSaleFinancials(items, nil, decimal.Zero, oldGold, testPolicy())
	if err != nil {
		t.Fatalf("CalculateSaleFinancials: %v", err)
	}
	// the shop does not pay out on exchange: the payable floors at zero and
	// the excess is held for a manual refund
	if !fin.NetPayable.IsZero() {
		t.Fatalf("net payable = %s, want 0", fin.NetPayable)
	}
	if !fin.RefundDue.Equal(decimal.NewFromInt(7985)) {
		t.Fatalf("refund due = %s, want 7985", fin.RefundDue)
	}

	policy := testPolicy()
	policy.AllowRefundOnExchange = true
	fin, err = models.CalculateSaleFinancials(items, nil, decimal.Zero, oldGold, policy)
	if err != nil {
		t.Fatalf("CalculateSaleFinancials: %v", err)
	}
	if !fin.NetPayable.Equal(decimal.NewFromInt(-7985)) {
		t.Fatalf("net payable = %s, want -7985", fin.NetPayable)
	}
	if !fin.RefundDue.IsZero() {
		t.Fatalf("refund due = %s, want 0", fin.RefundDue)
	}
}

func TestCalculateSaleFinancialsRequiresItems(t *testing.T) {
	_, err := models.CalculateSaleFinancials(nil, nil, decimal.Zero, nil, testPolicy())
	if !utils.IsValidation(err) {
		t.Fatalf("got %v, want validation error", err)
	}
}
