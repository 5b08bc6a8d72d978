package types

import (
	"fmt"
)

// Pence is an amount in the smallest GBP unit. Ledger arithmetic is
// integer-only; Pence exists for display in errors, events and reports.
type Pence int64

// Major returns the major-unit string without symbol: Pence(1300) → "13.00".
func (p Pence) Major() string {
	abs := int64(p)
	sign := ""
	if abs < 0 {
		sign = "-"
		abs = -abs
	}
	return fmt.Sprintf("%s%d.%02d", sign, abs/100, abs%100)
}

// String returns the amount with its currency symbol: "£13.00", "-£0.50".
func (p Pence) String() string {
	if p < 0 {
		return "-£" + (-p).Major()
	}
	return "£" + p.Major()
}

// IsPositive reports whether the amount is strictly greater than zero.
func (p Pence) IsPositive() bool { return p > 0 }

// Sum adds raw minor-unit amounts.
func Sum(values ...int64) Pence {
	var total int64
	for _, v := range values {
		total += v
	}
	return Pence(total)
}
