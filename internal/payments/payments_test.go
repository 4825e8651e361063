package payments

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gymbot-backend/internal/billing"
	"gymbot-backend/internal/components/chrono"
	"gymbot-backend/internal/components/telemetry/telemetrytest"
	"gymbot-backend/lib/scrapers/clubos/clubostest"
	"gymbot-backend/lib/scrapers/clubos/core"
	"gymbot-backend/lib/scrapers/clubos/members"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type member struct {
	id         string
	name       string
	billing    string
	agreements []string
}

var dataset = []member{
	{id: "1111111", name: "Alice Past", agreements: []string{"2000002", "2000001"}},
	{id: "2222222", name: "Bob Fast", billing: `{"isCurrent": true, "balance": "0.00"}`},
	{id: "3333333", name: "Cara None"},
	{id: "4444444", name: "Dan Blank", agreements: []string{"4000001", "4000002"}},
	{id: "5555555", name: "Eve Many", agreements: []string{
		"5000007", "5000006", "5000005", "5000004", "5000003", "5000002", "5000001",
	}},
	{id: "6666666", name: "Finn Flaky", agreements: []string{"6000001"}},
}

var resources = map[string]string{
	"2000001/billing_status": `{"pastDueAmount": "125.50", "isPastDue": true}`,
	"V2/2000002":             `{"invoices": [{"outstandingBalance": 0}, {"outstandingBalance": "40.00"}]}`,
	"6000001/billing_status": `{"amountPastDue": 10}`,
}

func findMember(id string) (member, bool) {
	for _, m := range dataset {
		if m.id == id {
			return m, true
		}
	}
	return member{}, false
}

type fixture struct {
	server *clubostest.Server
	client *core.Client
	gate   *core.Gate
	tel    *telemetrytest.Recorder

	listCalls          atomic.Int64
	agreementStatusHit atomic.Int64
	// set to expire the session on the next list call for Finn
	flaky atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		server: clubostest.NewServer(t),
		tel:    &telemetrytest.Recorder{},
	}
	f.flaky.Store(true)

	f.server.HandleAuthorized("GET /action/UserSuggest/attendee-search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<ul>")
		for _, m := range dataset {
			fmt.Fprintf(
				w,
				`<li class="person" id="%s"><input class="data" type="hidden" value='{"id": %s, "name": "%s"}'><span>%s</span></li>`,
				m.id, m.id, m.name, m.name,
			)
		}
		fmt.Fprint(w, "</ul>")
	})
	f.server.HandleAuthorized("GET /api/billing/member/{id}/billing_status", func(w http.ResponseWriter, r *http.Request) {
		m, ok := findMember(r.PathValue("id"))
		if !ok || m.billing == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, m.billing)
	})
	f.server.HandleAuthorized("GET /action/ClubServicesNew", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>services</body></html>")
	})
	f.server.HandleAuthorized("GET /api/agreements/package_agreements/{rest...}", func(w http.ResponseWriter, r *http.Request) {
		rest := r.PathValue("rest")
		if rest == "list" {
			f.listCalls.Add(1)
			f.handleList(w, r)
			return
		}
		if strings.HasSuffix(rest, "/billing_status") {
			f.agreementStatusHit.Add(1)
		}
		body, ok := resources[rest]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, body)
	})

	f.client = newClient(t, f.server, f.tel, clubostest.Password)
	f.gate = core.NewGate(f.client, core.DefaultGatePolicy())
	return f
}

func (f *fixture) handleList(w http.ResponseWriter, r *http.Request) {
	memberId := r.URL.Query().Get("memberId")
	// ClubOS lists the agreements of the delegated member
	if memberId != clubostest.DelegatedMember(r) {
		fmt.Fprint(w, "[]")
		return
	}
	if memberId == "6666666" && f.flaky.CompareAndSwap(true, false) {
		f.server.ExpireSessions()
		http.Redirect(w, r, "/action/Login/view", http.StatusFound)
		return
	}
	m, _ := findMember(memberId)
	items := make([]string, 0, len(m.agreements))
	for _, id := range m.agreements {
		items = append(items, fmt.Sprintf(`{"packageAgreement": {"id": %s, "memberId": %s}}`, id, memberId))
	}
	fmt.Fprintf(w, "[%s]", strings.Join(items, ","))
}

func newClient(t *testing.T, server *clubostest.Server, tel *telemetrytest.Recorder, password string) *core.Client {
	client, err := core.NewClient(core.ClientOptions{
		BaseUrl:  server.URL,
		Username: clubostest.Username,
		Password: password,
	},
		core.WithTelemetry(tel),
		core.WithClock(chrono.NewFakeImpl(time.Date(2024, time.October, 1, 6, 0, 0, 0, time.UTC))),
	)
	require.NoError(t, err)
	return client
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestGetMemberPaymentStatus(t *testing.T) {
	cases := []struct {
		name     string
		ref      members.Ref
		expected billing.Snapshot
	}{
		{
			name: "past due across agreements",
			ref:  members.Ref{Name: "alice  past"},
			expected: billing.Snapshot{
				Status:             billing.PastDue,
				AmountOwed:         amount("125.50"),
				SourceAgreementIds: []string{"2000001", "2000002"},
				Source:             billing.SourceAgreements,
			},
		},
		{
			name: "member level status is decisive",
			ref:  members.Ref{Id: "2222222"},
			expected: billing.Snapshot{
				Status:             billing.Current,
				AmountOwed:         decimal.Zero,
				SourceAgreementIds: []string{},
				Source:             billing.SourceMemberBilling,
			},
		},
		{
			name: "no agreements",
			ref:  members.Ref{Id: "3333333"},
			expected: billing.Snapshot{
				Status:             billing.Current,
				AmountOwed:         decimal.Zero,
				SourceAgreementIds: []string{},
				Source:             billing.SourceNoAgreements,
			},
		},
		{
			name: "unresolved agreements fail open",
			ref:  members.Ref{Name: "Dan Blank"},
			expected: billing.Snapshot{
				Status:             billing.Current,
				AmountOwed:         decimal.Zero,
				SourceAgreementIds: []string{"4000001", "4000002"},
				Source:             billing.SourceAgreements,
			},
		},
		{
			name: "member not found",
			ref:  members.Ref{Name: "Nobody Here"},
			expected: billing.Snapshot{
				Status:             billing.Unknown,
				AmountOwed:         decimal.Zero,
				SourceAgreementIds: []string{},
				Source:             billing.SourceMemberNotFound,
			},
		},
		{
			name: "empty reference",
			ref:  members.Ref{},
			expected: billing.Snapshot{
				Status:             billing.Unknown,
				AmountOwed:         decimal.Zero,
				SourceAgreementIds: []string{},
				Source:             billing.SourceMemberNotFound,
			},
		},
	}

	f := newFixture(t)
	service := NewService(f.client, f.gate)

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			snapshot, err := service.GetMemberPaymentStatus(context.Background(), test.ref)
			require.NoError(t, err)
			if diff := cmp.Diff(test.expected, snapshot); diff != "" {
				t.Fatal(diff)
			}
		})
	}

	require.Equal(t, int64(1), f.server.LoginPosts.Load())
}

func TestFastPathSkipsDiscovery(t *testing.T) {
	f := newFixture(t)
	service := NewService(f.client, f.gate)

	_, err := service.GetMemberPaymentStatus(context.Background(), members.Ref{Id: "2222222"})
	require.NoError(t, err)
	require.Equal(t, int64(0), f.listCalls.Load())
	require.Equal(t, []string{"2222222"}, f.server.Delegations())
}

func TestAgreementsCapped(t *testing.T) {
	f := newFixture(t)
	service := NewService(f.client, f.gate)

	snapshot, err := service.GetMemberPaymentStatus(context.Background(), members.Ref{Id: "5555555"})
	require.NoError(t, err)
	require.Equal(t, []string{"5000001", "5000002", "5000003", "5000004", "5000005"}, snapshot.SourceAgreementIds)
	require.Equal(t, int64(DefaultMaxAgreements), f.agreementStatusHit.Load())
	require.True(t, f.tel.Has(telemetrytest.KindWarning, report_aggregate_capped))

	limited := NewService(f.client, f.gate, WithMaxAgreements(2))
	snapshot, err = limited.GetMemberPaymentStatus(context.Background(), members.Ref{Id: "5555555"})
	require.NoError(t, err)
	require.Equal(t, []string{"5000001", "5000002"}, snapshot.SourceAgreementIds)
}

func TestSessionLostMidway(t *testing.T) {
	f := newFixture(t)
	service := NewService(f.client, f.gate)

	snapshot, err := service.GetMemberPaymentStatus(context.Background(), members.Ref{Id: "6666666"})
	require.NoError(t, err)
	if diff := cmp.Diff(billing.Snapshot{
		Status:             billing.PastDue,
		AmountOwed:         amount("10"),
		SourceAgreementIds: []string{"6000001"},
		Source:             billing.SourceAgreements,
	}, snapshot); diff != "" {
		t.Fatal(diff)
	}
	require.Equal(t, int64(2), f.server.LoginPosts.Load())
	require.Equal(t, []string{"6666666", "6666666"}, f.server.Delegations())
	require.True(t, f.tel.Has(telemetrytest.KindWarning, report_session_lost))
}

func TestAuthenticationFailure(t *testing.T) {
	f := newFixture(t)
	client := newClient(t, f.server, f.tel, "wrong")
	service := NewService(client, core.NewGate(client, core.DefaultGatePolicy()))

	for _, ref := range []members.Ref{{Id: "1111111"}, {Name: "Alice Past"}} {
		_, err := service.GetMemberPaymentStatus(context.Background(), ref)
		require.ErrorIs(t, err, core.ErrAuthentication)
	}
	require.Equal(t, int64(0), f.listCalls.Load())
}

func TestGetPaymentStatuses(t *testing.T) {
	f := newFixture(t)
	service := NewService(f.client, f.gate, WithSerializedDelegation())

	refs := []members.Ref{
		{Name: "Alice Past"},
		{Id: "2222222"},
		{Name: "Nobody Here"},
		{Id: "3333333"},
		{Email: "nobody@example.com"},
		{Id: "4444444"},
	}
	results, err := service.GetPaymentStatuses(context.Background(), refs, 3)
	require.NoError(t, err)
	require.Len(t, results, len(refs))

	expected := []struct {
		status billing.Status
		source string
	}{
		{billing.PastDue, billing.SourceAgreements},
		{billing.Current, billing.SourceMemberBilling},
		{billing.Unknown, billing.SourceMemberNotFound},
		{billing.Current, billing.SourceNoAgreements},
		{billing.Unknown, billing.SourceMemberNotFound},
		{billing.Current, billing.SourceAgreements},
	}
	for i, result := range results {
		require.NoError(t, result.Err, refs[i].String())
		require.Equal(t, refs[i], result.Ref)
		require.Equal(t, expected[i].status, result.Snapshot.Status, refs[i].String())
		require.Equal(t, expected[i].source, result.Snapshot.Source, refs[i].String())
	}
	require.True(t, results[0].Snapshot.AmountOwed.Equal(amount("125.50")))
	require.Equal(t, "1111111", results[0].MemberId)
	require.Equal(t, "", results[2].MemberId)
	require.Equal(t, int64(1), f.server.LoginPosts.Load())
	require.False(t, f.tel.Has(telemetrytest.KindWarning, report_batch_unserialized))
}

func TestGetPaymentStatusesKeepsGoing(t *testing.T) {
	f := newFixture(t)
	client := newClient(t, f.server, f.tel, "wrong")
	service := NewService(client, core.NewGate(client, core.DefaultGatePolicy()))

	refs := []members.Ref{{Id: "1111111"}, {}, {Id: "2222222"}}
	results, err := service.GetPaymentStatuses(context.Background(), refs, 2)
	require.NoError(t, err)

	require.ErrorIs(t, results[0].Err, core.ErrAuthentication)
	require.Equal(t, SourceError, results[0].Snapshot.Source)
	require.Equal(t, billing.Unknown, results[0].Snapshot.Status)

	require.NoError(t, results[1].Err)
	require.Equal(t, billing.SourceMemberNotFound, results[1].Snapshot.Source)

	require.ErrorIs(t, results[2].Err, core.ErrAuthentication)
	require.True(t, f.tel.Has(telemetrytest.KindWarning, report_batch_unserialized))
	require.True(t, f.tel.Has(telemetrytest.KindCount, report_batch_failed))
}

func TestGetPaymentStatusesCancelled(t *testing.T) {
	f := newFixture(t)
	service := NewService(f.client, f.gate)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := service.GetPaymentStatuses(ctx, []members.Ref{{Id: "1111111"}}, 1)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
}
