package agreements

import (
	"context"
	"fmt"
	"net/url"

	"gymbot-backend/internal/components/telemetry"
	"gymbot-backend/lib/scrapers/clubos/core"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const report_fetch = "fetch"

// Fetcher reads the billing sub-resources of a member and its agreements. Every
// endpoint is attempted once, a failure leaves the value absent.
type Fetcher struct {
	client *core.Client
	tel    telemetry.API
}

func NewFetcher(client *core.Client) *Fetcher {
	return &Fetcher{
		client: client,
		tel:    telemetry.NewScopedAPI("clubos_agreements", client.Telemetry()),
	}
}

func (f *Fetcher) fetch(ctx context.Context, path string, query url.Values) any {
	value, err := f.client.GetJSON(ctx, path, query)
	if err != nil {
		f.tel.ReportWarning(report_fetch, path, err)
		return nil
	}
	return value
}

// MemberBilling returns the member level billing status payload, nil if absent.
func (f *Fetcher) MemberBilling(ctx context.Context, memberId string) any {
	ctx, span := tracer.Start(ctx, "fetcher:MemberBilling")
	defer span.End()

	return f.fetch(ctx, fmt.Sprintf("/api/billing/member/%s/billing_status", url.PathEscape(memberId)), nil)
}

// Agreement fetches the billing status, ledger, salespeople and total value of
// agreementId concurrently.
func (f *Fetcher) Agreement(ctx context.Context, agreementId string) Agreement {
	ctx, span := tracer.Start(ctx, "fetcher:Agreement")
	defer span.End()
	span.SetAttributes(attribute.String("agreement_id", agreementId))

	base := fmt.Sprintf("/api/agreements/package_agreements/%s", url.PathEscape(agreementId))
	agreement := Agreement{Id: agreementId}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		agreement.BillingStatus = f.fetch(groupCtx, base+"/billing_status", nil)
		return nil
	})
	group.Go(func() error {
		agreement.Ledger = f.fetch(
			groupCtx,
			fmt.Sprintf("/api/agreements/package_agreements/V2/%s", url.PathEscape(agreementId)),
			url.Values{"include": {"invoices", "scheduledPayments", "prohibitChangeTypes"}},
		)
		return nil
	})
	group.Go(func() error {
		agreement.Salespeople = f.fetch(groupCtx, base+"/salespeople", nil)
		return nil
	})
	group.Go(func() error {
		agreement.TotalValue = f.fetch(groupCtx, base+"/agreementTotalValue", url.Values{
			"agreementId": {agreementId},
		})
		return nil
	})
	// the goroutines never fail, a missing resource is an absent value
	_ = group.Wait()

	return agreement
}
