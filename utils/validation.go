package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidateAmount checks if an amount string is a valid decimal
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

// FormatAmount renders a planck amount in token units, e.g. "0.001 ROC".
func FormatAmount(amount decimal.Decimal, decimals int32, symbol string) string {
	human := amount.Shift(-decimals).String()
	if symbol == "" {
		return human
	}
	return strings.TrimSpace(human + " " + symbol)
}
