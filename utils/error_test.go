package utils_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/gempos/jewels_backend/utils"
)

func TestMapDBErrorNil(t *testing.T) {
	if err := utils.MapDBError(nil, "Sale", 7); err != nil {
		t.Fatalf("got %v, want nil", err)
	}
}

func TestMapDBErrorRecordNotFound(t *testing.T) {
	err := utils.MapDBError(gorm.ErrRecordNotFound, "Sale", 7)
	if !utils.IsNotFound(err) {
		t.Fatalf("got %v, want not-found error", err)
	}
	if err.Error() != "Sale 7 not found" {
		t.Fatalf("message = %q, want %q", err.Error(), "Sale 7 not found")
	}

	// a wrapped not-found still maps
	wrapped := fmt.Errorf("fetch sale: %w", gorm.ErrRecordNotFound)
	if !utils.IsNotFound(utils.MapDBError(wrapped, "Sale", 7)) {
		t.Fatalf("wrapped ErrRecordNotFound should still map to not-found")
	}

	// zero id drops the id from the message
	err = utils.MapDBError(gorm.ErrRecordNotFound, "Customer", 0)
	if err.Error() != "Customer not found" {
		t.Fatalf("message = %q, want %q", err.Error(), "Customer not found")
	}
}

func TestMapDBErrorDuplicateEntry(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'INV-1' for key 'idx_sale_shop_invoice'"}
	err := utils.MapDBError(dup, "Sale", 0)
	if !utils.IsConflict(err) {
		t.Fatalf("got %v, want conflict error", err)
	}
	if !strings.Contains(err.Error(), "duplicate Sale") {
		t.Fatalf("message = %q, want a duplicate Sale message", err.Error())
	}

	// any other mysql error passes through untouched
	var other error = &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}
	if got := utils.MapDBError(other, "Sale", 0); got != other {
		t.Fatalf("got %v, want the original error back", got)
	}
}

func TestMapDBErrorPassesUnknownThrough(t *testing.T) {
	boom := errors.New("connection reset")
	if got := utils.MapDBError(boom, "Sale", 1); got != boom {
		t.Fatalf("got %v, want the original error back", got)
	}
}

func TestErrorPredicatesSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("create sale: %w", utils.NewValidationError("item quantity must be greater than zero"))
	if !utils.IsValidation(err) {
		t.Fatalf("wrapped validation error not detected")
	}
	if utils.IsNotFound(err) || utils.IsConflict(err) || utils.IsInsufficientStock(err) {
		t.Fatalf("validation error matched a different predicate")
	}

	err = fmt.Errorf("apply stock: %w",
		utils.NewInsufficientStockError(3, "Gold Ring", decimal.NewFromInt(1), decimal.NewFromInt(2)))
	if !utils.IsInsufficientStock(err) {
		t.Fatalf("wrapped insufficient-stock error not detected")
	}
}

func TestInsufficientStockErrorMessage(t *testing.T) {
	err := utils.NewInsufficientStockError(3, "Gold Ring", decimal.NewFromInt(1), decimal.NewFromInt(2))
	want := "insufficient stock on hand for Gold Ring (available=1, requested=2)"
	if err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
}

func TestValidationErrorFieldsMessage(t *testing.T) {
	plain := utils.NewValidationError("bad request")
	if plain.Error() != "bad request" {
		t.Fatalf("message = %q, want %q", plain.Error(), "bad request")
	}

	withField := &utils.ValidationError{
		Message: "invalid input",
		Fields:  map[string]string{"name": "required"},
	}
	if withField.Error() != "invalid input (name:required)" {
		t.Fatalf("message = %q, want %q", withField.Error(), "invalid input (name:required)")
	}
}
