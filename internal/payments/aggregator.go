package payments

import (
	"context"

	"gymbot-backend/internal/billing"
	"gymbot-backend/internal/components/telemetry"
	"gymbot-backend/lib/scrapers/clubos/agreements"

	"go.opentelemetry.io/otel/attribute"
)

const DefaultMaxAgreements = 5

const (
	report_aggregate_capped    = "aggregate-capped"
	report_aggregate_fast_path = "aggregate-fast-path"
)

// Aggregator computes the payment status of the member the client is delegated
// to.
type Aggregator struct {
	fetcher       *agreements.Fetcher
	discovery     *agreements.Discovery
	maxAgreements int
	tel           telemetry.API
}

func NewAggregator(fetcher *agreements.Fetcher, discovery *agreements.Discovery, maxAgreements int, tel telemetry.API) *Aggregator {
	if maxAgreements <= 0 {
		maxAgreements = DefaultMaxAgreements
	}
	return &Aggregator{
		fetcher:       fetcher,
		discovery:     discovery,
		maxAgreements: maxAgreements,
		tel:           telemetry.NewScopedAPI("payments", telemetry.OrDefault(tel)),
	}
}

// Aggregate tries the member level billing status first and returns it if it
// is decisive. Otherwise it discovers the member's agreements, reconciles at
// most maxAgreements of them and reduces the results.
//
// The only error returned is ctx's.
func (a *Aggregator) Aggregate(ctx context.Context, memberId string) (billing.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "aggregator:Aggregate")
	defer span.End()

	member := billing.ReconcileMemberLevel(a.fetcher.MemberBilling(ctx, memberId))
	if member.Status != billing.Unknown {
		a.tel.ReportDebug(report_aggregate_fast_path, memberId, member.Status.String())
		span.SetAttributes(attribute.String("source", member.Source))
		return member, nil
	}

	ids, err := a.discovery.Discover(ctx, memberId)
	if err != nil {
		return billing.Snapshot{}, err
	}
	if len(ids) > a.maxAgreements {
		a.tel.ReportWarning(report_aggregate_capped, memberId, len(ids), a.maxAgreements)
		ids = ids[:a.maxAgreements]
	}
	span.SetAttributes(attribute.StringSlice("agreement_ids", ids))

	snapshots := make([]billing.Snapshot, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			return billing.Snapshot{}, ctx.Err()
		}
		snapshots = append(snapshots, billing.ReconcileAgreement(a.fetcher.Agreement(ctx, id)))
	}
	return billing.Reduce(snapshots), nil
}
