// Package paystore keeps a daily history of member payment statuses.
package paystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"gymbot-backend/internal/billing"
	"gymbot-backend/lib/paystore/db"

	"github.com/shopspring/decimal"
)

type Store struct {
	db  *sql.DB
	qry *db.Queries
}

func NewStore(database *sql.DB) Store {
	return Store{
		db:  database,
		qry: db.New(database),
	}
}

type Entry struct {
	// MemberKey identifies the member across runs, usually the ClubOS member id.
	MemberKey  string
	MemberName string
	// Time is set on reads. Push ignores it and stores every entry at
	// PushRequest.Time.
	Time     time.Time
	Snapshot billing.Snapshot
	// Error is set when the status could not be determined.
	Error string
}

type PushRequest struct {
	Time    time.Time
	Entries []Entry
}

// Push stores the entries at req.Time, replacing what was stored for the same
// members earlier on the same day (in req.Time's location).
func (s Store) Push(ctx context.Context, req PushRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	loc := req.Time.Location()
	startOfToday := time.Date(req.Time.Year(), req.Time.Month(), req.Time.Day(), 0, 0, 0, 0, loc).Unix()
	startOfTomorrow := time.Date(req.Time.Year(), req.Time.Month(), req.Time.Day()+1, 0, 0, 0, 0, loc).Unix()

	for _, entry := range req.Entries {
		err := txqry.DeletePaymentSnapshotsIn(ctx, db.DeletePaymentSnapshotsInParams{
			MemberKey: entry.MemberKey,
			After:     startOfToday,
			Before:    startOfTomorrow,
		})
		if err != nil {
			return err
		}

		ids := entry.Snapshot.SourceAgreementIds
		if ids == nil {
			ids = []string{}
		}
		agreementIds, err := json.Marshal(ids)
		if err != nil {
			return err
		}

		err = txqry.CreatePaymentSnapshot(ctx, db.CreatePaymentSnapshotParams{
			MemberKey:    entry.MemberKey,
			MemberName:   entry.MemberName,
			Time:         req.Time.Unix(),
			Status:       entry.Snapshot.Status.String(),
			AmountOwed:   entry.Snapshot.AmountOwed.String(),
			Source:       entry.Snapshot.Source,
			AgreementIds: string(agreementIds),
			Error:        entry.Error,
		})
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func entryFromRow(ctx context.Context, row db.PaymentSnapshot) (Entry, bool) {
	status, ok := billing.ParseStatus(row.Status)
	if !ok {
		slog.WarnContext(ctx, "unknown payment status in db", "id", row.ID, "status", row.Status)
		return Entry{}, false
	}
	amount, err := decimal.NewFromString(row.AmountOwed)
	if err != nil {
		slog.WarnContext(ctx, "failed to parse db amount", "id", row.ID, "err", err)
		return Entry{}, false
	}
	var ids []string
	err = json.Unmarshal([]byte(row.AgreementIds), &ids)
	if err != nil {
		slog.WarnContext(ctx, "failed to unmarshal db agreement ids", "id", row.ID, "err", err)
		return Entry{}, false
	}
	if ids == nil {
		ids = []string{}
	}

	return Entry{
		MemberKey:  row.MemberKey,
		MemberName: row.MemberName,
		Time:       time.Unix(row.Time, 0),
		Snapshot: billing.Snapshot{
			Status:             status,
			AmountOwed:         amount,
			SourceAgreementIds: ids,
			Source:             row.Source,
		},
		Error: row.Error,
	}, true
}

func (s Store) entries(ctx context.Context, rows []db.PaymentSnapshot) []Entry {
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entry, ok := entryFromRow(ctx, row)
		if ok {
			out = append(out, entry)
		}
	}
	return out
}

// History returns every stored entry of a member, newest first.
func (s Store) History(ctx context.Context, memberKey string) ([]Entry, error) {
	rows, err := s.qry.GetPaymentSnapshots(ctx, memberKey)
	if err != nil {
		return nil, err
	}
	return s.entries(ctx, rows), nil
}

// Latest returns the newest entry of every member, ordered by member key.
func (s Store) Latest(ctx context.Context) ([]Entry, error) {
	rows, err := s.qry.GetLatestPaymentSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	return s.entries(ctx, rows), nil
}
