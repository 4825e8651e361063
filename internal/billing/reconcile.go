package billing

import (
	"gymbot-backend/lib/scrapers/clubos/agreements"

	"github.com/shopspring/decimal"
)

// fromBillingStatus applies the billing status payload: PastDue if it signals
// past due or owes anything, Current if it signals current, Unknown otherwise.
func fromBillingStatus(payload any) (Status, decimal.Decimal) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return Unknown, decimal.Zero
	}
	amount, _ := maxAmount(obj, DueAmountFields)
	signaled := signaledStatus(obj)
	if signaled == PastDue || amount.IsPositive() {
		return PastDue, amount
	}
	if signaled == Current {
		return Current, amount
	}
	return Unknown, decimal.Zero
}

// fromLedger takes the largest outstanding balance across the ledger's invoices.
// A ledger without an invoice list does not resolve anything.
func fromLedger(payload any) (Status, decimal.Decimal) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return Unknown, decimal.Zero
	}

	var invoices []any
	found := false
	for _, field := range InvoiceListFields {
		list, ok := obj[field].([]any)
		if ok {
			invoices = list
			found = true
			break
		}
	}
	if !found {
		return Unknown, decimal.Zero
	}

	amount := decimal.Zero
	for _, item := range invoices {
		invoice, ok := item.(map[string]any)
		if !ok {
			continue
		}
		balance, _ := maxAmount(invoice, InvoiceBalanceFields)
		if balance.GreaterThan(amount) {
			amount = balance
		}
	}
	if amount.IsPositive() {
		return PastDue, amount
	}
	return Current, decimal.Zero
}

// ReconcileAgreement determines the status of one agreement from its billing
// status, falling back to its ledger. The amount comes from whichever of the two
// resolved the status.
func ReconcileAgreement(agreement agreements.Agreement) Snapshot {
	status, amount := fromBillingStatus(agreement.BillingStatus)
	if status == Unknown {
		status, amount = fromLedger(agreement.Ledger)
	}
	return Snapshot{
		Status:             status,
		AmountOwed:         amount,
		SourceAgreementIds: []string{agreement.Id},
		Source:             SourceAgreements,
	}
}

// ReconcileMemberLevel applies the member level billing status payload, the
// result is decisive unless its status is Unknown.
func ReconcileMemberLevel(payload any) Snapshot {
	status, amount := fromBillingStatus(payload)
	return Snapshot{
		Status:             status,
		AmountOwed:         amount,
		SourceAgreementIds: []string{},
		Source:             SourceMemberBilling,
	}
}
