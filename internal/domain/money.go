package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits kept for amounts and balances.
const MoneyScale = 2

var (
	// Regex pattern for validating decimal amounts with up to 2 decimal places
	amountPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
)

// ParseAmount parses a decimal string such as "100.50".
// Returns an error if the value is not a non-negative decimal with up to 2 decimal places.
func ParseAmount(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, fmt.Errorf("amount value cannot be empty")
	}

	if !amountPattern.MatchString(value) {
		return decimal.Zero, fmt.Errorf("invalid amount format: must be a positive decimal with up to 2 decimal places")
	}

	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount: %w", err)
	}

	return amount, nil
}

// ValidateAmount checks that amount is positive, has at most two fractional digits
// and does not exceed maxAmount. A zero maxAmount disables the upper bound.
func ValidateAmount(amount, maxAmount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}

	if !amount.Equal(amount.Truncate(MoneyScale)) {
		return fmt.Errorf("amount must have at most %d decimal places", MoneyScale)
	}

	if maxAmount.IsPositive() && amount.GreaterThan(maxAmount) {
		return fmt.Errorf("amount %s exceeds maximum transfer amount %s", amount.StringFixed(MoneyScale), maxAmount.StringFixed(MoneyScale))
	}

	return nil
}

// FormatAmount renders an amount with exactly two decimal places.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(MoneyScale)
}

// NewReferenceNumber generates a reference of the form TXN + 12 upper-case hex characters.
func NewReferenceNumber() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "TXN" + strings.ToUpper(raw[:12])
}

// DayWindow computes the start of the calendar day used by daily-limit checks.
// The day boundary is midnight in a fixed location, never the host's local zone.
type DayWindow struct {
	Location *time.Location
	Now      func() time.Time
}

// NewDayWindow creates a DayWindow for the given location (UTC when nil).
func NewDayWindow(loc *time.Location) DayWindow {
	if loc == nil {
		loc = time.UTC
	}
	return DayWindow{Location: loc, Now: time.Now}
}

// Start returns midnight of the current day in the window's location.
func (w DayWindow) Start() time.Time {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}

	t := now().In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
