package ap

import (
	"regexp"
	"strconv"
	"time"
)

// DefaultTermsDays applies when the PO terms carry no day count.
const DefaultTermsDays = 30

var termsDaysPattern = regexp.MustCompile(`(?i)(\d+)\s*DAY`)

// TermsDays extracts the day count from free-text payment terms such as "Net 45 days".
func TermsDays(terms string, fallback int) int {
	if fallback <= 0 {
		fallback = DefaultTermsDays
	}
	m := termsDaysPattern.FindStringSubmatch(terms)
	if m == nil {
		return fallback
	}
	days, err := strconv.Atoi(m[1])
	if err != nil {
		return fallback
	}
	return days
}

// DueDate adds the terms to the invoice date, falling back to now for undated invoices.
func DueDate(invoiceDate time.Time, terms string, fallback int, now time.Time) time.Time {
	base := invoiceDate
	if base.IsZero() {
		base = now
	}
	y, m, d := base.Date()
	return time.Date(y, m, d+TermsDays(terms, fallback), 0, 0, 0, 0, time.UTC)
}
