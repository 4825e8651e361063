package agreements

import (
	"slices"
	"strconv"

	"gymbot-backend/lib/textutil"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("gymbot.lib.scrapers.clubos.agreements")

// Agreement is one package agreement with the billing sub-resources that could be
// fetched for it. Each sub-resource is the decoded JSON payload, nil if absent.
type Agreement struct {
	Id            string
	BillingStatus any
	Ledger        any
	Salespeople   any
	TotalValue    any
}

// ValidAgreementId returns true if candidate looks like an agreement id of the
// member: 5 to 9 digits and not the member's own id.
func ValidAgreementId(candidate, memberId string) bool {
	if !textutil.IsDigits(candidate) {
		return false
	}
	if len(candidate) < 5 || len(candidate) > 9 {
		return false
	}
	return candidate != textutil.Digits(memberId)
}

// normalizeIds filters candidates through ValidAgreementId, removes duplicates
// and sorts them numerically.
func normalizeIds(candidates []string, memberId string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, c := range candidates {
		if seen[c] || !ValidAgreementId(c, memberId) {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b string) int {
		// at most 9 digits, always fits
		na, _ := strconv.ParseUint(a, 10, 64)
		nb, _ := strconv.ParseUint(b, 10, 64)
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
	return out
}
