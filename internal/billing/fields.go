package billing

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Field candidates in priority order. ClubOS names the same concept
// differently depending on the endpoint.
var (
	DueAmountFields      = []string{"pastDueAmount", "amountPastDue", "past_due_amount", "balanceDue", "balance", "amount_due"}
	PastDueFlagFields    = []string{"isPastDue", "pastDue"}
	CurrentFlagFields    = []string{"isCurrent", "current"}
	StatusFields         = []string{"status", "paymentStatus"}
	InvoiceListFields    = []string{"invoices", "Invoices"}
	InvoiceBalanceFields = []string{"outstandingBalance", "remainingBalance", "totalDue", "amountDue"}
)

var pastDueStatuses = []string{"past due", "pastdue", "past_due", "delinquent"}
var currentStatuses = []string{"current", "paid", "up to date"}

var nonNumeric = regexp.MustCompile(`[^0-9.\-]`)

// Coerce turns a JSON value into an amount. Strings are stripped of everything
// but digits, '.' and '-' first, so "$1,234.50" is 1234.50.
func Coerce(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case string:
		cleaned := nonNumeric.ReplaceAllString(v, "")
		if cleaned == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(cleaned)
		return d, err == nil
	}
	return decimal.Zero, false
}

// maxAmount returns the largest amount among `fields` of obj, never below zero,
// and whether any field held an amount.
func maxAmount(obj map[string]any, fields []string) (decimal.Decimal, bool) {
	amount := decimal.Zero
	found := false
	for _, field := range fields {
		d, ok := Coerce(obj[field])
		if !ok {
			continue
		}
		found = true
		if d.GreaterThan(amount) {
			amount = d
		}
	}
	return amount, found
}

func flagSet(obj map[string]any, fields []string) bool {
	for _, field := range fields {
		if b, ok := obj[field].(bool); ok && b {
			return true
		}
	}
	return false
}

func statusString(obj map[string]any) Status {
	for _, field := range StatusFields {
		s, ok := obj[field].(string)
		if !ok {
			continue
		}
		s = strings.ToLower(strings.TrimSpace(s))
		for _, candidate := range pastDueStatuses {
			if s == candidate {
				return PastDue
			}
		}
		for _, candidate := range currentStatuses {
			if s == candidate {
				return Current
			}
		}
	}
	return Unknown
}

// signaledStatus is the status the flags and status strings of obj declare,
// past due signals win over current ones.
func signaledStatus(obj map[string]any) Status {
	str := statusString(obj)
	if flagSet(obj, PastDueFlagFields) || str == PastDue {
		return PastDue
	}
	if flagSet(obj, CurrentFlagFields) || str == Current {
		return Current
	}
	return Unknown
}
