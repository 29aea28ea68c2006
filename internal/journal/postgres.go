package journal

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/bankclient/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS transfer_journal (
	id              BIGSERIAL PRIMARY KEY,
	idempotency_key TEXT        NOT NULL,
	from_account    TEXT        NOT NULL,
	to_account      TEXT        NOT NULL,
	amount          NUMERIC     NOT NULL,
	transaction_id  TEXT,
	status          TEXT        NOT NULL,
	error           TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS transfer_journal_created_at_idx ON transfer_journal (created_at DESC);
`

// Pool defaults, unless the dsn sets its own.
const (
	poolMaxConns    = 4
	applicationName = "bankclient-journal"
)

type Postgres struct {
	Db *pgxpool.Pool
}

// poolConfig parses dsn and applies the journal's pool limits. A dsn that
// already sets pool_max_conns or application_name keeps its own values.
func poolConfig(dsn string) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: bad DB_SOURCE: %w", err)
	}
	if !strings.Contains(dsn, "pool_max_conns") {
		cfg.MaxConns = poolMaxConns
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	return cfg, nil
}

// NewPostgres connects and pings the database.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := poolConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: database unreachable at %s: %w", cfg.ConnConfig.Host, err)
	}
	return &Postgres{Db: pool}, nil
}

func (p *Postgres) Close() {
	p.Db.Close()
}

// Migrate creates the journal table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.Db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("journal migration failed: %w", err)
	}
	return nil
}

func (p *Postgres) Record(ctx context.Context, e domain.JournalEntry) error {
	_, err := p.Db.Exec(ctx,
		`INSERT INTO transfer_journal (idempotency_key, from_account, to_account, amount, transaction_id, status, error)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''))`,
		e.IdempotencyKey, e.FromAccount, e.ToAccount, e.Amount, e.TransactionID, e.Status, e.Error,
	)
	if err != nil {
		return fmt.Errorf("journal insert failed: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.Db.Query(ctx,
		`SELECT id, idempotency_key, from_account, to_account, amount::float8,
		        COALESCE(transaction_id, ''), status, COALESCE(error, ''), created_at
		 FROM transfer_journal ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query failed: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.JournalEntry, error) {
		var e domain.JournalEntry
		err := row.Scan(&e.ID, &e.IdempotencyKey, &e.FromAccount, &e.ToAccount, &e.Amount,
			&e.TransactionID, &e.Status, &e.Error, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("journal scan failed: %w", err)
	}
	return entries, nil
}

// Import bulk-loads entries with COPY. Used to flush an in-memory journal
// after a load run.
func (p *Postgres) Import(ctx context.Context, entries []domain.JournalEntry) (int64, error) {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{e.IdempotencyKey, e.FromAccount, e.ToAccount, e.Amount,
			nullable(e.TransactionID), e.Status, nullable(e.Error), e.CreatedAt})
	}

	n, err := p.Db.CopyFrom(ctx,
		pgx.Identifier{"transfer_journal"},
		[]string{"idempotency_key", "from_account", "to_account", "amount", "transaction_id", "status", "error", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("journal bulk insert failed: %w", err)
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
