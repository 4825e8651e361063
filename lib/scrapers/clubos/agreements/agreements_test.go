package agreements

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"gymbot-backend/internal/components/telemetry/telemetrytest"
	"gymbot-backend/lib/scrapers/clubos/clubostest"
	"gymbot-backend/lib/scrapers/clubos/core"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const memberId = "5551234"

func newClient(t *testing.T, server *clubostest.Server, tel *telemetrytest.Recorder) *core.Client {
	client, err := core.NewClient(core.ClientOptions{
		BaseUrl:  server.URL,
		Username: clubostest.Username,
		Password: clubostest.Password,
	}, core.WithTelemetry(tel))
	require.NoError(t, err)
	require.NoError(t, client.Login(context.Background()))
	return client
}

func TestValidAgreementId(t *testing.T) {
	cases := []struct {
		candidate string
		valid     bool
	}{
		{"12345", true},
		{"123456789", true},
		{"1234", false},
		{"1234567890", false},
		{"12a45", false},
		{"", false},
		{memberId, false},
		{"0012345", true},
	}
	for _, test := range cases {
		require.Equal(t, test.valid, ValidAgreementId(test.candidate, memberId), test.candidate)
	}
	// the member id is compared on its digits
	require.False(t, ValidAgreementId("5551234", "M-5551234"))
}

func TestNormalizeIds(t *testing.T) {
	ids := normalizeIds([]string{"1000000", "99999", "99999", "123", "1726000000000", memberId, "200000"}, memberId)
	require.Equal(t, []string{"99999", "200000", "1000000"}, ids)
	require.Equal(t, []string{}, normalizeIds(nil, memberId))
}

func TestExtractFromDocument(t *testing.T) {
	body := []byte(`<html><body>
		<script>
			var agreementId = '1111111';
			var config = {agreementID: 2222222, createdAt: 1726000000000};
			fetch("/api/agreements/package_agreements/V2/3333333?include=invoices");
			fetch("/api/agreements/package_agreements/4444444/billing_status");
		</script>
		<a href="/action/AgreementView?id=5555555">View</a>
		<a href="/action/Agreements?memberId=5551234">Agreements</a>
		<div data-agreement-id=" 6666666 "></div>
		<input type="hidden" name="agreementId" value="7777777">
		<input type="hidden" name="other" value="8888888">
	</body></html>`)

	candidates, err := ExtractFromDocument(body)
	require.NoError(t, err)
	require.Equal(t,
		[]string{"1111111", "2222222", "3333333", "4444444", "5555555", "6666666", "7777777"},
		normalizeIds(candidates, memberId),
	)
}

func TestExtractFromList(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		expected []string
	}{
		{
			name: "package agreements",
			body: `[
				{"packageAgreement": {"id": 1000001, "memberId": 5551234}},
				{"packageAgreement": {"id": 1000002, "memberId": 9999999}},
				{"packageAgreement": {"id": "1000003"}}
			]`,
			expected: []string{"1000001", "1000003"},
		},
		{
			name:     "flat list",
			body:     `[{"agreementId": 2000001, "id": 1}, {"id": "2000002"}, 2000003, "x"]`,
			expected: []string{"2000001", "2000002", "2000003"},
		},
		{
			name:     "wrapped",
			body:     `{"packageAgreements": [{"id": 3000001}], "total": 1}`,
			expected: []string{"3000001"},
		},
		{
			name:     "single object",
			body:     `{"packageAgreementId": 4000001, "status": "active"}`,
			expected: []string{"4000001"},
		},
		{
			name:     "empty",
			body:     `{"data": []}`,
			expected: nil,
		},
	}
	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			ids, err := ExtractFromList([]byte(test.body), memberId)
			require.NoError(t, err)
			require.Equal(t, test.expected, ids)
		})
	}

	_, err := ExtractFromList([]byte(`<html>`), memberId)
	require.Error(t, err)
}

type discoveryServer struct {
	*clubostest.Server
	listStatus atomic.Int64
	setupCalls atomic.Int64
	pageHits   atomic.Int64
	listBody   string
	pageBody   string
}

func newDiscoveryServer(t *testing.T, listBody, pageBody string) *discoveryServer {
	s := &discoveryServer{Server: clubostest.NewServer(t), listBody: listBody, pageBody: pageBody}
	s.HandleAuthorized("GET /action/ClubServicesNew", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("memberId") == "" {
			s.setupCalls.Add(1)
			fmt.Fprint(w, "<html></html>")
			return
		}
		s.pageHits.Add(1)
		fmt.Fprint(w, "<html></html>")
	})
	s.HandleAuthorized("GET /api/agreements/package_agreements/list", func(w http.ResponseWriter, r *http.Request) {
		if status := s.listStatus.Load(); status != 0 {
			w.WriteHeader(int(status))
			return
		}
		if r.URL.Query().Get("memberId") != memberId || r.URL.Query().Get("_") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, s.listBody)
	})
	s.HandleAuthorized("GET /action/Agreements", func(w http.ResponseWriter, r *http.Request) {
		s.pageHits.Add(1)
		if r.URL.Query().Get("memberId") == memberId {
			fmt.Fprint(w, s.pageBody)
			return
		}
		fmt.Fprint(w, "<html>nothing here</html>")
	})
	s.HandleAuthorized("GET /action/ClubServices", func(w http.ResponseWriter, r *http.Request) {
		s.pageHits.Add(1)
		fmt.Fprint(w, "<html></html>")
	})
	return s
}

func TestDiscoverPrimary(t *testing.T) {
	server := newDiscoveryServer(t, `[{"packageAgreement": {"id": 2000002}}, {"packageAgreement": {"id": 1000001}}, {"id": 5551234}]`, "")
	client := newClient(t, server.Server, &telemetrytest.Recorder{})

	ids, err := NewDiscovery(client).Discover(context.Background(), memberId)
	require.NoError(t, err)
	require.Equal(t, []string{"1000001", "2000002"}, ids)
	require.Equal(t, int64(1), server.setupCalls.Load())
	require.Equal(t, int64(0), server.pageHits.Load())
}

func TestDiscoverFallsBack(t *testing.T) {
	server := newDiscoveryServer(t, "", `<div data-agreement-id="3000003"></div><script>agreementId: "3000003"</script>`)
	server.listStatus.Store(http.StatusNotFound)
	tel := &telemetrytest.Recorder{}
	client := newClient(t, server.Server, tel)

	ids, err := NewDiscovery(client).Discover(context.Background(), memberId)
	require.NoError(t, err)
	require.Equal(t, []string{"3000003"}, ids)
	require.Equal(t, int64(1), server.pageHits.Load())
	require.True(t, tel.Has(telemetrytest.KindWarning, report_discover_strategy))
}

func TestDiscoverEmpty(t *testing.T) {
	server := newDiscoveryServer(t, `[]`, "<html>member 5551234 has nothing</html>")
	client := newClient(t, server.Server, &telemetrytest.Recorder{})

	ids, err := NewDiscovery(client).Discover(context.Background(), memberId)
	require.NoError(t, err)
	require.NotNil(t, ids)
	require.Empty(t, ids)
	// every fallback page was tried
	require.Equal(t, int64(4), server.pageHits.Load())
}

func TestDiscoverStrategyOrder(t *testing.T) {
	server := clubostest.NewServer(t)
	client := newClient(t, server, &telemetrytest.Recorder{})

	var calls []string
	strategy := func(name string, body string, fetchErr error) Strategy {
		return Strategy{
			Name: name,
			Fetch: func(context.Context, *core.Client, string) ([]byte, error) {
				calls = append(calls, name)
				return []byte(body), fetchErr
			},
			Extract: func(body []byte, memberId string) ([]string, error) {
				var ids []string
				err := json.Unmarshal(body, &ids)
				return ids, err
			},
		}
	}

	discovery := NewDiscovery(
		client,
		strategy("broken", "", errors.New("boom")),
		strategy("only-invalid", `["123", "5551234"]`, nil),
		strategy("winner", `["20000", "10000"]`, nil),
		strategy("never", `["30000"]`, nil),
	)
	ids, err := discovery.Discover(context.Background(), memberId)
	require.NoError(t, err)
	require.Equal(t, []string{"10000", "20000"}, ids)
	if diff := cmp.Diff([]string{"broken", "only-invalid", "winner"}, calls); diff != "" {
		t.Fatal(diff)
	}
}

func TestFetcher(t *testing.T) {
	server := clubostest.NewServer(t)
	server.HandleAuthorized("GET /api/billing/member/{id}/billing_status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"memberId": %s, "isPastDue": false}`, r.PathValue("id"))
	})
	// one pattern, "{id}/billing_status" and "V2/{id}" would conflict in the mux
	server.HandleAuthorized("GET /api/agreements/package_agreements/{rest...}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("rest") {
		case "1000001/billing_status":
			fmt.Fprint(w, `{"pastDueAmount": "25.00"}`)
		case "V2/1000001":
			if len(r.URL.Query()["include"]) != 3 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			fmt.Fprint(w, `{"invoices": []}`)
		case "1000001/agreementTotalValue":
			if r.URL.Query().Get("agreementId") != "1000001" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			fmt.Fprint(w, `150.5`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})

	tel := &telemetrytest.Recorder{}
	fetcher := NewFetcher(newClient(t, server, tel))
	ctx := context.Background()

	require.Equal(t,
		map[string]any{"memberId": json.Number(memberId), "isPastDue": false},
		fetcher.MemberBilling(ctx, memberId),
	)

	agreement := fetcher.Agreement(ctx, "1000001")
	expected := Agreement{
		Id:            "1000001",
		BillingStatus: map[string]any{"pastDueAmount": "25.00"},
		Ledger:        map[string]any{"invoices": []any{}},
		Salespeople:   nil,
		TotalValue:    json.Number("150.5"),
	}
	if diff := cmp.Diff(expected, agreement); diff != "" {
		t.Fatal(diff)
	}
	require.True(t, tel.Has(telemetrytest.KindWarning, report_fetch))
}
