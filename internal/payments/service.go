package payments

import (
	"context"
	"sync"
	"time"

	"gymbot-backend/internal/billing"
	"gymbot-backend/internal/components/telemetry"
	"gymbot-backend/lib/scrapers/clubos/agreements"
	"gymbot-backend/lib/scrapers/clubos/core"
	"gymbot-backend/lib/scrapers/clubos/members"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("gymbot.internal.payments")

const report_session_lost = "session-lost"

type Option func(s *Service)

// WithSerializedDelegation makes "delegate then read" a critical section, so
// that concurrent calls sharing one client never read each other's member.
func WithSerializedDelegation() Option {
	return func(s *Service) {
		s.delegation = &sync.Mutex{}
	}
}

func WithMaxAgreements(n int) Option {
	return func(s *Service) {
		s.maxAgreements = n
	}
}

// WithRosterTTL sets how long the assignee roster used to resolve members is
// cached.
func WithRosterTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.rosterTTL = ttl
	}
}

func WithStrategies(strategies ...agreements.Strategy) Option {
	return func(s *Service) {
		s.strategies = strategies
	}
}

// Service answers what a member owes. It owns nothing but the components it is
// made of, persisting results is up to the caller.
type Service struct {
	client     *core.Client
	gate       *core.Gate
	resolver   *members.Resolver
	aggregator *Aggregator
	tel        telemetry.API

	delegation    sync.Locker
	maxAgreements int
	rosterTTL     time.Duration
	strategies    []agreements.Strategy
}

func NewService(client *core.Client, gate *core.Gate, options ...Option) *Service {
	s := &Service{
		client: client,
		gate:   gate,
		tel:    telemetry.NewScopedAPI("payments", client.Telemetry()),
	}
	for _, opt := range options {
		opt(s)
	}

	s.resolver = members.NewResolver(client, members.NewRoster(client, s.rosterTTL))
	s.aggregator = NewAggregator(
		agreements.NewFetcher(client),
		agreements.NewDiscovery(client, s.strategies...),
		s.maxAgreements,
		client.Telemetry(),
	)
	return s
}

func notFound() billing.Snapshot {
	return billing.Snapshot{
		Status:             billing.Unknown,
		AmountOwed:         decimal.Zero,
		SourceAgreementIds: []string{},
		Source:             billing.SourceMemberNotFound,
	}
}

// GetMemberPaymentStatus resolves ref, delegates to the member and aggregates its
// billing. A member that cannot be found yields an Unknown snapshot, not an
// error. Errors wrap core.ErrAuthentication or come from ctx.
func (s *Service) GetMemberPaymentStatus(ctx context.Context, ref members.Ref) (billing.Snapshot, error) {
	_, snapshot, err := s.lookup(ctx, ref)
	return snapshot, err
}

// lookup is GetMemberPaymentStatus that also returns the resolved member id, empty
// when the member was not found.
func (s *Service) lookup(ctx context.Context, ref members.Ref) (string, billing.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "service:GetMemberPaymentStatus")
	defer span.End()

	if ref.IsZero() {
		return "", notFound(), nil
	}

	// the suggestion search needs a session, an explicit id does not
	if ref.Id == "" {
		err := s.gate.EnsureAuthenticated(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "authentication failed")
			return "", billing.Snapshot{}, err
		}
	}
	memberId, found, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		return "", billing.Snapshot{}, err
	}
	if !found {
		span.SetAttributes(attribute.Bool("found", false))
		return "", notFound(), nil
	}
	span.SetAttributes(attribute.String("member_id", memberId))

	snapshot, err := s.statusOf(ctx, memberId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get payment status")
		return memberId, billing.Snapshot{}, err
	}

	// ClubOS dropped the session midway, whatever was read is incomplete
	if !s.client.Session.Authenticated() {
		s.tel.ReportWarning(report_session_lost, memberId)
		snapshot, err = s.statusOf(ctx, memberId)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to get payment status after relogin")
			return memberId, billing.Snapshot{}, err
		}
	}
	return memberId, snapshot, nil
}

func (s *Service) statusOf(ctx context.Context, memberId string) (billing.Snapshot, error) {
	err := s.gate.EnsureAuthenticated(ctx)
	if err != nil {
		return billing.Snapshot{}, err
	}

	if s.delegation != nil {
		s.delegation.Lock()
		defer s.delegation.Unlock()
	}

	// reported by the client, discovery still works on pages that take the
	// member id as a parameter
	_ = s.client.DelegateTo(ctx, memberId)

	return s.aggregator.Aggregate(ctx, memberId)
}
