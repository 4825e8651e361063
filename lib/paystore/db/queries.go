package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type PaymentSnapshot struct {
	ID           int64
	MemberKey    string
	MemberName   string
	Time         int64
	Status       string
	AmountOwed   string
	Source       string
	AgreementIds string
	Error        string
}

const paymentSnapshotColumns = `id, member_key, member_name, time, status, amount_owed, source, agreement_ids, error`

func scanPaymentSnapshots(rows *sql.Rows) ([]PaymentSnapshot, error) {
	defer rows.Close()
	var items []PaymentSnapshot
	for rows.Next() {
		var i PaymentSnapshot
		err := rows.Scan(
			&i.ID,
			&i.MemberKey,
			&i.MemberName,
			&i.Time,
			&i.Status,
			&i.AmountOwed,
			&i.Source,
			&i.AgreementIds,
			&i.Error,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deletePaymentSnapshotsIn = `
delete from payment_snapshot
where member_key = ? and time >= ? and time < ?
`

type DeletePaymentSnapshotsInParams struct {
	MemberKey string
	After     int64
	Before    int64
}

func (q *Queries) DeletePaymentSnapshotsIn(ctx context.Context, arg DeletePaymentSnapshotsInParams) error {
	_, err := q.db.ExecContext(ctx, deletePaymentSnapshotsIn, arg.MemberKey, arg.After, arg.Before)
	return err
}

const createPaymentSnapshot = `
insert into payment_snapshot (member_key, member_name, time, status, amount_owed, source, agreement_ids, error)
values (?, ?, ?, ?, ?, ?, ?, ?)
`

type CreatePaymentSnapshotParams struct {
	MemberKey    string
	MemberName   string
	Time         int64
	Status       string
	AmountOwed   string
	Source       string
	AgreementIds string
	Error        string
}

func (q *Queries) CreatePaymentSnapshot(ctx context.Context, arg CreatePaymentSnapshotParams) error {
	_, err := q.db.ExecContext(ctx, createPaymentSnapshot,
		arg.MemberKey,
		arg.MemberName,
		arg.Time,
		arg.Status,
		arg.AmountOwed,
		arg.Source,
		arg.AgreementIds,
		arg.Error,
	)
	return err
}

const getPaymentSnapshots = `
select ` + paymentSnapshotColumns + ` from payment_snapshot
where member_key = ?
order by time desc, id desc
`

func (q *Queries) GetPaymentSnapshots(ctx context.Context, memberKey string) ([]PaymentSnapshot, error) {
	rows, err := q.db.QueryContext(ctx, getPaymentSnapshots, memberKey)
	if err != nil {
		return nil, err
	}
	return scanPaymentSnapshots(rows)
}

const getLatestPaymentSnapshots = `
select ` + paymentSnapshotColumns + ` from payment_snapshot p
where p.id = (
    select latest.id from payment_snapshot latest
    where latest.member_key = p.member_key
    order by latest.time desc, latest.id desc
    limit 1
)
order by p.member_key
`

func (q *Queries) GetLatestPaymentSnapshots(ctx context.Context) ([]PaymentSnapshot, error) {
	rows, err := q.db.QueryContext(ctx, getLatestPaymentSnapshots)
	if err != nil {
		return nil, err
	}
	return scanPaymentSnapshots(rows)
}
