package agreements

import (
	"context"
	"net/url"
	"strconv"

	"gymbot-backend/internal/components/telemetry"
	"gymbot-backend/lib/scrapers/clubos/core"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_discover_strategy = "discover-strategy"
	report_discover_setup    = "discover-setup"
	report_discover_empty    = "discover-empty"
)

// Strategy is one way of finding the agreement ids of a member. Fetch retrieves
// a document, Extract pulls raw candidates out of it; validation is done by
// Discovery.
type Strategy struct {
	Name    string
	Fetch   func(ctx context.Context, client *core.Client, memberId string) ([]byte, error)
	Extract func(body []byte, memberId string) ([]string, error)
}

func fetchPackageAgreementList(ctx context.Context, client *core.Client, memberId string) ([]byte, error) {
	// the list endpoint only answers once the services page initialized the
	// member context
	_, err := client.GetPage(ctx, "/action/ClubServicesNew", nil)
	if err != nil {
		client.Telemetry().ReportDebug(report_discover_setup, memberId, err)
	}

	res, err := client.Get(ctx, core.Light, "/api/agreements/package_agreements/list", url.Values{
		"memberId": {memberId},
		"_":        {strconv.FormatInt(client.Clock().Now().UnixMilli(), 10)},
	})
	if err != nil {
		return nil, err
	}
	return res.Body(), nil
}

// PageStrategy fetches a ClubOS page and runs ExtractFromDocument on it. When
// withMember is true the member id is passed as the memberId query parameter.
func PageStrategy(name, path string, withMember bool) Strategy {
	return Strategy{
		Name: name,
		Fetch: func(ctx context.Context, client *core.Client, memberId string) ([]byte, error) {
			var query url.Values
			if withMember {
				query = url.Values{"memberId": {memberId}}
			}
			return client.GetPage(ctx, path, query)
		},
		Extract: func(body []byte, _ string) ([]string, error) {
			return ExtractFromDocument(body)
		},
	}
}

// DefaultStrategies returns the package agreements list endpoint followed by the
// pages that embed agreement ids, in the order they are tried.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Name:    "package-agreements-list",
			Fetch:   fetchPackageAgreementList,
			Extract: ExtractFromList,
		},
		PageStrategy("agreements-page-member", "/action/Agreements", true),
		PageStrategy("agreements-page-delegated", "/action/Agreements", false),
		PageStrategy("club-services-page", "/action/ClubServices", true),
		PageStrategy("club-services-new-page", "/action/ClubServicesNew", true),
	}
}

type Discovery struct {
	client     *core.Client
	strategies []Strategy
	tel        telemetry.API
}

// NewDiscovery creates a Discovery running `strategies`, DefaultStrategies when
// none are given.
func NewDiscovery(client *core.Client, strategies ...Strategy) *Discovery {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Discovery{
		client:     client,
		strategies: strategies,
		tel:        telemetry.NewScopedAPI("clubos_agreements", client.Telemetry()),
	}
}

// Discover returns the sorted, deduplicated agreement ids of memberId from the
// first strategy that yields any valid id. Finding nothing is not an error, the
// error is only set when ctx is done.
//
// Pages are read as whoever the client is delegated to, callers should delegate
// to memberId first.
func (d *Discovery) Discover(ctx context.Context, memberId string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "discovery:Discover")
	defer span.End()
	span.SetAttributes(attribute.String("member_id", memberId))

	for _, strategy := range d.strategies {
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
			return []string{}, ctx.Err()
		}

		body, err := strategy.Fetch(ctx, d.client, memberId)
		if err != nil {
			d.tel.ReportWarning(report_discover_strategy, strategy.Name, err)
			continue
		}
		candidates, err := strategy.Extract(body, memberId)
		if err != nil {
			// extractors may still return what they found before failing
			d.tel.ReportWarning(report_discover_strategy, strategy.Name, err)
		}

		ids := normalizeIds(candidates, memberId)
		if len(ids) == 0 {
			continue
		}
		span.SetAttributes(
			attribute.String("strategy", strategy.Name),
			attribute.StringSlice("agreement_ids", ids),
		)
		return ids, nil
	}

	d.tel.ReportDebug(report_discover_empty, memberId)
	return []string{}, ctx.Err()
}
