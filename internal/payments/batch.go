package payments

import (
	"context"

	"gymbot-backend/internal/billing"
	"gymbot-backend/lib/scrapers/clubos/members"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const SourceError = "error"

const (
	report_batch_unserialized = "batch-unserialized-delegation"
	report_batch_past_due     = "batch-past-due"
	report_batch_failed       = "batch-failed"
)

type Result struct {
	Ref members.Ref
	// MemberId is the ClubOS id ref resolved to, empty if it was not found.
	MemberId string
	Snapshot billing.Snapshot
	// Err is set when the member could not be processed, Snapshot is then Unknown.
	Err error
}

// GetPaymentStatuses runs GetMemberPaymentStatus for every ref with at most
// `workers` in flight. Results are in the order of refs, a failing member does
// not stop the others.
func (s *Service) GetPaymentStatuses(ctx context.Context, refs []members.Ref, workers int) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "service:GetPaymentStatuses")
	defer span.End()

	if workers <= 0 {
		workers = 1
	}
	if workers > 1 && s.delegation == nil {
		s.tel.ReportWarning(report_batch_unserialized, workers)
	}

	results := make([]Result, len(refs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for i, ref := range refs {
		group.Go(func() error {
			memberId, snapshot, err := s.lookup(groupCtx, ref)
			if err != nil {
				snapshot = billing.Snapshot{
					Status:             billing.Unknown,
					AmountOwed:         decimal.Zero,
					SourceAgreementIds: []string{},
					Source:             SourceError,
				}
			}
			results[i] = Result{Ref: ref, MemberId: memberId, Snapshot: snapshot, Err: err}
			return nil
		})
	}
	// results carry the per member errors
	_ = group.Wait()

	var pastDue, failed int64
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
		if r.Snapshot.Status == billing.PastDue {
			pastDue++
		}
	}
	s.tel.ReportCount(report_batch_past_due, pastDue)
	s.tel.ReportCount(report_batch_failed, failed)

	return results, ctx.Err()
}
