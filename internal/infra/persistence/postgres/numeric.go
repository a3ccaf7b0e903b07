package postgres

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// parseNumeric converts a NUMERIC column scanned as text into a decimal value.
func parseNumeric(value string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Decimal{}, fmt.Errorf("numeric value required")
	}
	out, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse numeric %q: %w", trimmed, err)
	}
	return out, nil
}
