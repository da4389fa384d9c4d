// Package apperr defines the error taxonomy shared by the storefront and the
// catalog service: every domain failure carries a Kind that decides how the
// caller reacts (reject, report missing, abort, retry) and a stable Code for
// clients.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
)

// Kind classifies an error by how callers must react to it.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindInfrastructure Kind = "infrastructure"
)

// Code is the client-facing error identifier.
type Code string

const (
	CodeValidationFailed     Code = "VALIDATION_FAILED"
	CodeLineItemInvalid      Code = "LINE_ITEM_INVALID"
	CodeInsufficientStock    Code = "INSUFFICIENT_STOCK"
	CodeEmptyCart            Code = "EMPTY_CART"
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
	CodeDiscountNotFound     Code = "DISCOUNT_NOT_FOUND"
	CodeDiscountInactive     Code = "DISCOUNT_INACTIVE"
	CodeDiscountExpired      Code = "DISCOUNT_EXPIRED"
	CodeDiscountUsageLimit   Code = "DISCOUNT_USAGE_LIMIT"
	CodeDiscountBelowMinimum Code = "DISCOUNT_BELOW_MINIMUM"
	CodeDiscountCodeTaken    Code = "DISCOUNT_CODE_TAKEN"
	CodeOrderNotFound        Code = "ORDER_NOT_FOUND"
	CodeProductNotFound      Code = "PRODUCT_NOT_FOUND"
	CodeVariantNotFound      Code = "VARIANT_NOT_FOUND"
	CodeCartItemNotFound     Code = "CART_ITEM_NOT_FOUND"
	CodeUserNotFound         Code = "USER_NOT_FOUND"
	CodeUserExists           Code = "USER_EXISTS"
	CodeUnavailable          Code = "UNAVAILABLE"
)

// Error is a classified domain error.
type Error struct {
	Kind    Kind           `json:"-"`
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches another *Error by code so sentinel-style checks work:
// errors.Is(err, apperr.New(apperr.KindConflict, apperr.CodeEmptyCart, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy of e carrying an extra detail.
func (e *Error) With(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// New builds a classified error.
func New(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validation reports bad input rejected before any state change.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, CodeValidationFailed, format, args...)
}

// NotFound reports a missing entity.
func NotFound(code Code, format string, args ...any) *Error {
	return New(KindNotFound, code, format, args...)
}

// Conflict reports a business rule violation that aborts the operation.
func Conflict(code Code, format string, args ...any) *Error {
	return New(KindConflict, code, format, args...)
}

// Infrastructure wraps a store / bus / network failure. Callers may retry.
func Infrastructure(err error, format string, args ...any) *Error {
	e := New(KindInfrastructure, CodeUnavailable, format, args...)
	e.cause = err
	return e
}

// InsufficientStock names the offending line and how much is left.
func InsufficientStock(productID, variantID string, requested, available int) *Error {
	return Conflict(CodeInsufficientStock,
		"insufficient stock for product %s variant %s: requested %d, available %d",
		productID, variantID, requested, available).
		With("product_id", productID).
		With("variant_id", variantID).
		With("requested", requested).
		With("available", available)
}

// As extracts the *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err; unclassified errors count as infrastructure.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInfrastructure
}

// CodeOf returns the code of err or "" when unclassified.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// Wrap annotates err with msg, keeping its classification.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Public returns the client-facing form of err. Unclassified errors are
// reported as UNAVAILABLE without their cause.
func Public(err error) *Error {
	if e, ok := As(err); ok {
		return e
	}
	return New(KindInfrastructure, CodeUnavailable, "service unavailable")
}

// FromHTTP rebuilds an error decoded from a response body, deriving its kind
// from the status code.
func FromHTTP(status int, body Error) *Error {
	kind := KindInfrastructure
	switch status {
	case http.StatusBadRequest:
		kind = KindValidation
	case http.StatusNotFound:
		kind = KindNotFound
	case http.StatusConflict:
		kind = KindConflict
	}
	if body.Code == "" {
		body.Code = CodeUnavailable
	}
	if body.Message == "" {
		body.Message = http.StatusText(status)
	}
	return &Error{Kind: kind, Code: body.Code, Message: body.Message, Details: body.Details}
}
