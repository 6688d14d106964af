package shared

import (
	"fmt"
	"time"
)

// FinancialYear returns the Indian financial year (April to March) containing
// t as "YYNN", e.g. 15 July 2024 -> "2425" and 10 Feb 2025 -> "2425".
func FinancialYear(t time.Time) string {
	start := t.Year()
	if t.Month() < time.April {
		start--
	}
	return fmt.Sprintf("%02d%02d", start%100, (start+1)%100)
}
