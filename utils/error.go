package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Every business failure surfaced to callers is one of the four types below.
// All are recoverable by the caller (API layers map them to 4xx).

// NotFoundError: the referenced sale/product/customer/shop does not exist
// (or is outside the caller's organization, which must look identical).
type NotFoundError struct {
	Entity string
	Id     any
}

func (e *NotFoundError) Error() string {
	if e.Id == nil || e.Id == 0 || e.Id == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %v not found", e.Entity, e.Id)
}

func NewNotFoundError(entity string, id any) error {
	return &NotFoundError{Entity: entity, Id: id}
}

// InsufficientStockError: a sale requested more units than the product has on hand.
// Carries the product and the available amount so callers can show an exact message.
type InsufficientStockError struct {
	ProductId   int
	ProductName string
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock on hand for %s (available=%s, requested=%s)",
		e.ProductName, e.Available.String(), e.Requested.String())
}

func NewInsufficientStockError(productId int, productName string, available, requested decimal.Decimal) error {
	return &InsufficientStockError{ProductId: productId, ProductName: productName, Available: available, Requested: requested}
}

// ValidationError: the request is well-formed but violates a business rule
// (editing a non-draft sale, double-cancelling, discount above the policy
// ceiling, percentage discount over 100, overpaying a sale, ...).
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for field, rule := range e.Fields {
		parts = append(parts, field+":"+rule)
	}
	return e.Message + " (" + strings.Join(parts, ", ") + ")"
}

func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}

func NewValidationErrorf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ConflictError: a concurrent writer won a uniqueness race, most commonly two
// transactions allocating the same invoice number for one shop. Callers retry
// the whole unit of work from scratch.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

func NewConflictError(message string) error {
	return &ConflictError{Message: message}
}

func IsNotFound(err error) bool {
	var t *NotFoundError
	return errors.As(err, &t)
}

func IsInsufficientStock(err error) bool {
	var t *InsufficientStockError
	return errors.As(err, &t)
}

func IsValidation(err error) bool {
	var t *ValidationError
	return errors.As(err, &t)
}

func IsConflict(err error) bool {
	var t *ConflictError
	return errors.As(err, &t)
}

const mysqlErrDuplicateEntry = 1062

// MapDBError translates storage errors into the business taxonomy at the model
// boundary. Unknown errors pass through untouched so the transaction aborts.
func MapDBError(err error, entity string, id any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Entity: entity, Id: id}
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
		return &ConflictError{Message: fmt.Sprintf("duplicate %s (%v)", entity, mysqlErr.Message)}
	}
	return err
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
