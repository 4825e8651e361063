package commands

import (
	"context"
	"database/sql"
	"fmt"

	"gymbot-backend/internal/components/chrono"
	"gymbot-backend/internal/components/telemetry"
	"gymbot-backend/internal/payments"
	"gymbot-backend/lib/paystore"
	"gymbot-backend/lib/paystore/db"
	"gymbot-backend/lib/scrapers/clubos/core"
	"gymbot-backend/lib/scrapers/clubos/members"
)

// app is what every command needs to talk to ClubOS.
type app struct {
	cfg     Config
	clock   chrono.API
	client  *core.Client
	gate    *core.Gate
	service *payments.Service
	roster  *members.Roster
}

func newApp() (*app, error) {
	cfg, err := readConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("username and password must be set in %s", configPath)
	}

	clock, err := chrono.NewStandardImpl(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	options := []core.Option{core.WithClock(clock)}
	if dumpHttp != "" {
		out, err := telemetry.NewFilesystemOutput(dumpHttp)
		if err != nil {
			return nil, fmt.Errorf("create http dump directory: %w", err)
		}
		options = append(options, core.WithHttpOutput(out))
	}

	client, err := core.NewClient(cfg.clientOptions(), options...)
	if err != nil {
		return nil, err
	}
	gate := core.NewGate(client, cfg.gatePolicy())

	return &app{
		cfg:    cfg,
		clock:  clock,
		client: client,
		gate:   gate,
		service: payments.NewService(
			client,
			gate,
			payments.WithSerializedDelegation(),
			payments.WithMaxAgreements(cfg.MaxAgreements),
			payments.WithRosterTTL(cfg.rosterTtl()),
		),
		roster: members.NewRoster(client, cfg.rosterTtl()),
	}, nil
}

// openStore returns nil when no store is configured.
func (a *app) openStore(ctx context.Context) (*paystore.Store, *sql.DB, error) {
	if !a.cfg.Store.Enabled() {
		return nil, nil, nil
	}
	database, err := a.cfg.Store.OpenDB(ctx, db.Schema)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	store := paystore.NewStore(database)
	return &store, database, nil
}

func memberKey(result payments.Result) string {
	if result.MemberId != "" {
		return result.MemberId
	}
	return "ref:" + result.Ref.String()
}

// save pushes results into the configured store, if any.
func (a *app) save(ctx context.Context, results []payments.Result) error {
	store, database, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return nil
	}
	defer database.Close()

	entries := make([]paystore.Entry, len(results))
	for i, r := range results {
		entries[i] = paystore.Entry{
			MemberKey:  memberKey(r),
			MemberName: r.Ref.Name,
			Snapshot:   r.Snapshot,
		}
		if r.Err != nil {
			entries[i].Error = r.Err.Error()
		}
	}
	return store.Push(ctx, paystore.PushRequest{
		Time:    a.clock.Now(),
		Entries: entries,
	})
}
