package models_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/gempos/jewels_backend/models"
)

func TestDerivePaymentStatus(t *testing.T) {
	cases := []struct {
		total      string
		paid       string
		wantStatus models.PaymentStatus
		wantDue    string
	}{
		{"52015", "0", models.PaymentStatusUnpaid, "52015"},
		{"52015", "20000", models.PaymentStatusPartial, "32015"},
		{"52015", "52015", models.PaymentStatusPaid, "0"},
		// an overpayment never produces a negative due
		{"52015", "60000", models.PaymentStatusPaid, "0"},
		// fully offset by old gold: nothing to collect
		{"0", "0", models.PaymentStatusPaid, "0"},
		{"-100", "0", models.PaymentStatusPaid, "0"},
		{"100.5", "100.25", models.PaymentStatusPartial, "0.25"},
	}
	for _, c := range cases {
		status, due := models.DerivePaymentStatus(
			decimal.RequireFromString(c.total), decimal.RequireFromString(c.paid))
		if status != c.wantStatus {
			t.Fatalf("DerivePaymentStatus(%s, %s) status = %s, want %s", c.total, c.paid, status, c.wantStatus)
		}
		if !due.Equal(decimal.RequireFromString(c.wantDue)) {
			t.Fatalf("DerivePaymentStatus(%s, %s) due = %s, want %s", c.total, c.paid, due, c.wantDue)
		}
	}
}
