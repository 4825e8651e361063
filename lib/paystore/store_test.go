package paystore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"gymbot-backend/internal/billing"
	"gymbot-backend/lib/paystore/db"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newStore(t *testing.T) Store {
	sqlite, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlite.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlite.Close() })

	_, err = sqlite.Exec(db.Schema)
	require.NoError(t, err)
	return NewStore(sqlite)
}

func TestStore(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	{
		res, err := store.History(ctx, "unknown-member")
		require.NoError(t, err)
		require.Len(t, res, 0)
	}

	morning := time.Date(2024, time.May, 6, 8, 0, 0, 0, time.UTC)
	pastDue := billing.Snapshot{
		Status:             billing.PastDue,
		AmountOwed:         decimal.RequireFromString("125.50"),
		SourceAgreementIds: []string{"2000001", "2000002"},
		Source:             billing.SourceAgreements,
	}
	current := billing.Snapshot{
		Status:             billing.Current,
		AmountOwed:         decimal.Zero,
		SourceAgreementIds: []string{},
		Source:             billing.SourceMemberBilling,
	}

	require.NoError(t, store.Push(ctx, PushRequest{
		Time: morning,
		Entries: []Entry{
			{MemberKey: "1111111", MemberName: "Alice Past", Snapshot: pastDue},
			{MemberKey: "2222222", MemberName: "Bob Fast", Snapshot: current},
		},
	}))
	// later the same day replaces the morning run
	require.NoError(t, store.Push(ctx, PushRequest{
		Time: morning.Add(4 * time.Hour),
		Entries: []Entry{
			{MemberKey: "1111111", MemberName: "Alice Past", Snapshot: current},
		},
	}))
	require.NoError(t, store.Push(ctx, PushRequest{
		Time: morning.Add(24 * time.Hour),
		Entries: []Entry{
			{MemberKey: "1111111", MemberName: "Alice Past", Snapshot: pastDue, Error: "partial"},
		},
	}))

	history, err := store.History(ctx, "1111111")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, morning.Add(24*time.Hour).Unix(), history[0].Time.Unix())
	require.Equal(t, "partial", history[0].Error)
	if diff := cmp.Diff(pastDue, history[0].Snapshot); diff != "" {
		t.Fatal(diff)
	}
	require.Equal(t, morning.Add(4*time.Hour).Unix(), history[1].Time.Unix())
	if diff := cmp.Diff(current, history[1].Snapshot); diff != "" {
		t.Fatal(diff)
	}

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, "1111111", latest[0].MemberKey)
	require.Equal(t, billing.PastDue, latest[0].Snapshot.Status)
	require.Equal(t, "2222222", latest[1].MemberKey)
	require.Equal(t, "Bob Fast", latest[1].MemberName)
}

func TestPushUsesRequestTime(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	run := time.Date(2024, time.May, 6, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.Push(ctx, PushRequest{
		Time: run,
		Entries: []Entry{{
			MemberKey: "1111111",
			Time:      run.Add(-72 * time.Hour),
			Snapshot:  billing.Snapshot{Status: billing.Current, AmountOwed: decimal.Zero},
		}},
	}))

	history, err := store.History(ctx, "1111111")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, run.Unix(), history[0].Time.Unix())
}

func TestStoreSkipsCorruptRows(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.db.Exec(`insert into payment_snapshot (member_key, time, status, amount_owed, source)
		values ('1', 0, 'Sideways', '0', 'x'), ('1', 1, 'Current', 'lots', 'x'), ('1', 2, 'Current', '3', 'x')`)
	require.NoError(t, err)

	history, err := store.History(ctx, "1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.True(t, history[0].Snapshot.AmountOwed.Equal(decimal.NewFromInt(3)))
	require.Equal(t, []string{}, history[0].Snapshot.SourceAgreementIds)
}
