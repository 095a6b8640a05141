package config

import (
	"os"
	"strings"
)

// ReverseCustomerStatsOnCancel controls whether cancelling a sale also reverses
// the customer statistics applied at creation (orders, total spent, due/balance).
// The historical system restored stock on cancel but left customer statistics
// untouched, which lets lifetime figures drift from completed sales.
//
// Set via env:
// - CUSTOMER_STATS_REVERSAL_ON_CANCEL=false  to keep the legacy asymmetry
//
// Default: true (reversal on).
func ReverseCustomerStatsOnCancel() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("CUSTOMER_STATS_REVERSAL_ON_CANCEL")))
	if v == "" {
		return true
	}
	return !(v == "0" || v == "false" || v == "no" || v == "n")
}

const (
	OverpaymentPolicyReject = "reject"
	OverpaymentPolicyCredit = "credit"
)

// OverpaymentPolicy decides what happens when a payment exceeds the remaining due:
// - "reject": the payment fails validation naming the due amount
// - "credit": the excess is credited to the customer's balance, due clamps to zero
//
// Set via env:
// - OVERPAYMENT_POLICY=credit
//
// Default: reject. Negative due is never stored under either policy.
func OverpaymentPolicy() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("OVERPAYMENT_POLICY")))
	if v == OverpaymentPolicyCredit {
		return OverpaymentPolicyCredit
	}
	return OverpaymentPolicyReject
}
