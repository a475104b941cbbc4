package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrCannotBuyOwnProduct = errors.New("cannot buy own product")
	ErrIllegalTransition   = errors.New("illegal status transition")
	ErrAlreadyTerminal     = errors.New("order already in terminal state")
	ErrNotFound            = errors.New("not found")
	ErrTransientNetwork    = errors.New("transient network error")
	ErrForbidden           = errors.New("actor not permitted")
	ErrEmptyCart           = errors.New("cart is empty")
	ErrCheckoutInProgress  = errors.New("checkout already in progress")
	ErrRestoreOverflow     = errors.New("restore would exceed maximum stock")

	ErrProductNotFound      = fmt.Errorf("product %w", ErrNotFound)
	ErrOrderNotFound        = fmt.Errorf("order %w", ErrNotFound)
	ErrProductOrderNotFound = fmt.Errorf("product order %w", ErrNotFound)
)

// InsufficientStockError names the product and what is left of it.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// TransitionError is returned when the state machine rejects a transition.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal status transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// ValidationError describes a malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IsInsufficientStock reports whether err is a stock shortage.
func IsInsufficientStock(err error) bool {
	return errors.Is(err, ErrInsufficientStock)
}

// Error codes carried in API error bodies.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeInvalidQuantity     = "INVALID_QUANTITY"
	CodeInsufficientStock   = "INSUFFICIENT_STOCK"
	CodeCannotBuyOwnProduct = "CANNOT_BUY_OWN_PRODUCT"
	CodeIllegalTransition   = "ILLEGAL_TRANSITION"
	CodeAlreadyTerminal     = "ALREADY_TERMINAL"
	CodeNotFound            = "NOT_FOUND"
	CodeForbidden           = "FORBIDDEN"
	CodeEmptyCart           = "EMPTY_CART"
	CodeCheckoutInProgress  = "CHECKOUT_IN_PROGRESS"
	CodeInternal            = "INTERNAL"
)

var codeErrors = map[string]error{
	CodeValidation:          ErrValidation,
	CodeInvalidQuantity:     ErrInvalidQuantity,
	CodeInsufficientStock:   ErrInsufficientStock,
	CodeCannotBuyOwnProduct: ErrCannotBuyOwnProduct,
	CodeIllegalTransition:   ErrIllegalTransition,
	CodeAlreadyTerminal:     ErrAlreadyTerminal,
	CodeNotFound:            ErrNotFound,
	CodeForbidden:           ErrForbidden,
	CodeEmptyCart:           ErrEmptyCart,
	CodeCheckoutInProgress:  ErrCheckoutInProgress,
}

// ErrorCode returns the API code for err. Order matters: the typed errors are
// checked through their sentinels before the generic not-found.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrInvalidQuantity):
		return CodeInvalidQuantity
	case errors.Is(err, ErrInsufficientStock):
		return CodeInsufficientStock
	case errors.Is(err, ErrCannotBuyOwnProduct):
		return CodeCannotBuyOwnProduct
	case errors.Is(err, ErrAlreadyTerminal):
		return CodeAlreadyTerminal
	case errors.Is(err, ErrIllegalTransition):
		return CodeIllegalTransition
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrEmptyCart):
		return CodeEmptyCart
	case errors.Is(err, ErrCheckoutInProgress):
		return CodeCheckoutInProgress
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}

// ErrorForCode is the sentinel for an API code, or nil if the code is unknown.
func ErrorForCode(code string) error {
	return codeErrors[code]
}
