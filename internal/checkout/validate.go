package checkout

import (
	"fmt"
	"regexp"
	"strings"
)

// Payment carries the raw payment form fields.
type Payment struct {
	CardNumber string
	Expiry     string
	CVV        string
}

// Payment form fields.
const (
	FieldCardNumber = "cardNumber"
	FieldExpiry     = "expiry"
	FieldCVV        = "cvv"
)

// Validation codes, also used as i18n message keys.
const (
	CodeInvalidCardNumber = "checkout.invalid_card_number"
	CodeInvalidExpiry     = "checkout.invalid_expiry"
	CodeInvalidCVV        = "checkout.invalid_cvv"
)

var (
	cardNumberPattern = regexp.MustCompile(`^[0-9]{16}$`)
	expiryPattern     = regexp.MustCompile(`^(0[1-9]|1[0-2])/[0-9]{2}$`)
	cvvPattern        = regexp.MustCompile(`^[0-9]{3,4}$`)
)

var defaultMessages = map[string]string{
	CodeInvalidCardNumber: "Please enter a valid 16-digit card number.",
	CodeInvalidExpiry:     "Please enter a valid expiry date (MM/YY).",
	CodeInvalidCVV:        "Please enter a valid CVV (3 or 4 digits).",
}

// ValidationError names the first payment field that failed.
type ValidationError struct {
	Field string
	Code  string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("checkout: invalid %s", e.Field)
}

// Message returns the English alert text for the failure.
func (e *ValidationError) Message() string {
	return defaultMessages[e.Code]
}

// Validate checks card number, expiry and CVV in that order and reports the first failure.
// Only the shape of the values is checked; the expiry date is not compared with today.
func Validate(p Payment) error {
	if !cardNumberPattern.MatchString(strings.ReplaceAll(p.CardNumber, " ", "")) {
		return &ValidationError{Field: FieldCardNumber, Code: CodeInvalidCardNumber}
	}
	if !expiryPattern.MatchString(p.Expiry) {
		return &ValidationError{Field: FieldExpiry, Code: CodeInvalidExpiry}
	}
	if !cvvPattern.MatchString(p.CVV) {
		return &ValidationError{Field: FieldCVV, Code: CodeInvalidCVV}
	}
	return nil
}
