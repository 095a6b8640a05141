package models

import (
	"strings"
	"testing"
)

func TestValidateSaleTransitionForwardEdges(t *testing.T) {
	allowed := []struct{ from, to SaleStatus }{
		{SaleStatusDraft, SaleStatusPending},
		{SaleStatusDraft, SaleStatusConfirmed},
		{SaleStatusDraft, SaleStatusDelivered},
		{SaleStatusPending, SaleStatusConfirmed},
		{SaleStatusPending, SaleStatusDelivered},
		{SaleStatusConfirmed, SaleStatusDelivered},
		{SaleStatusConfirmed, SaleStatusCompleted},
		{SaleStatusDelivered, SaleStatusCompleted},
	}
	for _, c := range allowed {
		if err := validateSaleTransition(c.from, c.to); err != nil {
			t.Fatalf("%s -> %s should be allowed: %v", c.from, c.to, err)
		}
	}
}

func TestValidateSaleTransitionRejectsEverythingElse(t *testing.T) {
	rejected := []struct{ from, to SaleStatus }{
		// no skipping the lifecycle
		{SaleStatusDraft, SaleStatusCompleted},
		{SaleStatusPending, SaleStatusCompleted},
		// no moving backwards
		{SaleStatusConfirmed, SaleStatusDraft},
		{SaleStatusDelivered, SaleStatusConfirmed},
		{SaleStatusCompleted, SaleStatusDelivered},
		// terminal states have no outgoing edges
		{SaleStatusCancelled, SaleStatusConfirmed},
		{SaleStatusReturned, SaleStatusCompleted},
		{SaleStatusCompleted, SaleStatusConfirmed},
		// cancel and return never run through the flow table
		{SaleStatusConfirmed, SaleStatusCancelled},
		{SaleStatusDelivered, SaleStatusReturned},
	}
	for _, c := range rejected {
		err := validateSaleTransition(c.from, c.to)
		if err == nil {
			t.Fatalf("%s -> %s should be rejected", c.from, c.to)
		}
		if !strings.Contains(err.Error(), "cannot move") {
			t.Fatalf("%s -> %s: error = %q", c.from, c.to, err)
		}
	}
}

func TestSaleStatusTerminality(t *testing.T) {
	for _, s := range []SaleStatus{SaleStatusCompleted, SaleStatusCancelled, SaleStatusReturned} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
		if s.IsEditable() {
			t.Fatalf("%s should not be editable", s)
		}
	}
	for _, s := range []SaleStatus{SaleStatusDraft, SaleStatusPending, SaleStatusConfirmed, SaleStatusDelivered} {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	for _, s := range []SaleStatus{SaleStatusDraft, SaleStatusPending} {
		if !s.IsEditable() {
			t.Fatalf("%s should be editable", s)
		}
	}
}
