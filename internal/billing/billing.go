// Package billing reconciles the loosely typed billing payloads of ClubOS into
// one payment status. It does no I/O.
package billing

import (
	"slices"

	"github.com/shopspring/decimal"
)

type Status int

const (
	Unknown Status = iota
	Current
	PastDue
)

func (s Status) String() string {
	switch s {
	case Current:
		return "Current"
	case PastDue:
		return "Past Due"
	default:
		return "Unknown"
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "Current":
		return Current, true
	case "Past Due":
		return PastDue, true
	case "Unknown":
		return Unknown, true
	}
	return Unknown, false
}

const (
	SourceMemberBilling  = "member-billing"
	SourceAgreements     = "agreement-level"
	SourceNoAgreements   = "no-agreements"
	SourceMemberNotFound = "member-not-found"
)

// Snapshot is the reconciled payment status of one agreement or one member.
// AmountOwed is the largest amount seen, amounts are never summed.
type Snapshot struct {
	Status             Status
	AmountOwed         decimal.Decimal
	SourceAgreementIds []string
	Source             string
}

// Reduce combines per agreement snapshots into the member's snapshot: the
// largest amount, PastDue if any agreement is past due, Current otherwise. The
// result does not depend on the order of snapshots.
//
// Agreements that could not be resolved count as Current, no agreements at all
// yields Current with nothing owed.
func Reduce(snapshots []Snapshot) Snapshot {
	if len(snapshots) == 0 {
		return Snapshot{
			Status:             Current,
			AmountOwed:         decimal.Zero,
			SourceAgreementIds: []string{},
			Source:             SourceNoAgreements,
		}
	}

	out := Snapshot{
		Status:             Current,
		AmountOwed:         decimal.Zero,
		SourceAgreementIds: []string{},
		Source:             SourceAgreements,
	}
	for _, s := range snapshots {
		if s.Status == PastDue {
			out.Status = PastDue
		}
		if s.AmountOwed.GreaterThan(out.AmountOwed) {
			out.AmountOwed = s.AmountOwed
		}
		for _, id := range s.SourceAgreementIds {
			if !slices.Contains(out.SourceAgreementIds, id) {
				out.SourceAgreementIds = append(out.SourceAgreementIds, id)
			}
		}
	}
	slices.SortFunc(out.SourceAgreementIds, compareIds)
	return out
}

// compareIds orders digit strings numerically.
func compareIds(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
