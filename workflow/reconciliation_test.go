package workflow

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/gempos/jewels_backend/models"
)

func TestRecomputeCustomerStatsEmptyHistory(t *testing.T) {
	snapshot := RecomputeCustomerStats(nil)
	if snapshot.TotalOrders != 0 {
		t.Fatalf("orders = %d, want 0", snapshot.TotalOrders)
	}
	if !snapshot.TotalSpent.IsZero() || !snapshot.TotalDue.IsZero() || !snapshot.AverageOrderValue.IsZero() {
		t.Fatalf("empty history should be all zero, got %+v", snapshot)
	}
}

func TestRecomputeCustomerStatsFromSaleHistory(t *testing.T) {
	sales := []models.Sale{
		{
			CurrentStatus: models.SaleStatusCompleted,
			GrandTotal:    decimal.NewFromInt(10000),
		},
		{
			CurrentStatus: models.SaleStatusConfirmed,
			GrandTotal:    decimal.NewFromInt(20000),
			DueAmount:     decimal.NewFromInt(5000),
		},
		// cancelled sales drop out of the statistics entirely
		{
			CurrentStatus: models.SaleStatusCancelled,
			GrandTotal:    decimal.NewFromInt(999999),
		},
		// a returned sale still counts as an order, less what was refunded
		{
			CurrentStatus: models.SaleStatusReturned,
			GrandTotal:    decimal.NewFromInt(8000),
			RefundAmount:  decimal.NewFromInt(6000),
		},
	}

	snapshot := RecomputeCustomerStats(sales)
	if snapshot.TotalOrders != 3 {
		t.Fatalf("orders = %d, want 3", snapshot.TotalOrders)
	}
	if !snapshot.TotalSpent.Equal(decimal.NewFromInt(32000)) {
		t.Fatalf("spent = %s, want 32000", snapshot.TotalSpent)
	}
	if !snapshot.TotalDue.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("due = %s, want 5000", snapshot.TotalDue)
	}
	if !snapshot.AverageOrderValue.Equal(decimal.RequireFromString("10666.6667")) {
		t.Fatalf("average order value = %s, want 10666.6667", snapshot.AverageOrderValue)
	}
}

func TestRecomputeCustomerStatsNeverGoesNegative(t *testing.T) {
	sales := []models.Sale{{
		CurrentStatus: models.SaleStatusReturned,
		GrandTotal:    decimal.NewFromInt(100),
		RefundAmount:  decimal.NewFromInt(200),
	}}

	snapshot := RecomputeCustomerStats(sales)
	if snapshot.TotalOrders != 1 {
		t.Fatalf("orders = %d, want 1", snapshot.TotalOrders)
	}
	if !snapshot.TotalSpent.IsZero() {
		t.Fatalf("spent = %s, want 0", snapshot.TotalSpent)
	}
	if !snapshot.AverageOrderValue.IsZero() {
		t.Fatalf("average order value = %s, want 0", snapshot.AverageOrderValue)
	}
}
